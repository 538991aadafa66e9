package account

import (
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-accounts/core"
)

var (
	roleTag  = "role"
	roleText = "invalid role"

	uniqueTag  = "unique_definition"
	uniqueText = "{0} is used by another definition"
)

// register custom validators
func init() {
	_ = core.Validate.RegisterValidation(roleTag, roleValidation)
	core.RegisterCustomTranslation(roleTag, roleText)
	core.RegisterCustomTranslation(uniqueTag, uniqueText)
}

// Validate cleans and validates the definition.
func (d *Definition) Validate() error {
	d.Clean()
	if err := core.Validate.Struct(d); err != nil {
		return core.ToValidationError(err)
	}
	return nil
}

// ValidateDefinitions validates every definition and checks that emails and usernames are not shared.
// The returned slice holds one entry per definition; nil means valid.
func ValidateDefinitions(defs []Definition) []error {
	errs := make([]error, len(defs))
	emails := make(map[string]int, len(defs))
	unames := make(map[string]int, len(defs))

	for i := range defs {
		if err := defs[i].Validate(); err != nil {
			errs[i] = err
			continue
		}
		if _, ok := emails[defs[i].Email]; ok {
			errs[i] = duplicateErr("email")
			continue
		}
		if _, ok := unames[defs[i].Username]; ok {
			errs[i] = duplicateErr("username")
			continue
		}
		emails[defs[i].Email] = i
		unames[defs[i].Username] = i
	}
	return errs
}

func duplicateErr(field string) error {
	msg, _ := core.Translator.T(uniqueTag, field)
	return core.NewValidationError(nil, core.FieldError{Field: field, Error: msg})
}

// Custom Validators

// roleValidation checks that the role is one of AllRoles.
func roleValidation(fl validator.FieldLevel) bool {
	return Role(fl.Field().String()).IsValid()
}
