package echoapi

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-accounts/core"
	"github.com/trezcool/masomo-accounts/core/drift"
)

type diagnosticsApi struct {
	detector *drift.Detector
}

func registerDiagnosticsAPI(g *echo.Group, detector *drift.Detector) {
	api := diagnosticsApi{detector: detector}

	g.GET("/diagnostics", api.inspect)
}

// bindQuery reads the drift.Query from the query string:
// ?counts=1&sample=10&email=jane@test.cd&usernames=1&missing=1
func bindQuery(ctx echo.Context) (drift.Query, error) {
	var (
		q    drift.Query
		err  error
		flds []core.FieldError
	)

	parseBool := func(name string) bool {
		val := ctx.QueryParam(name)
		if val == "" {
			return false
		}
		b, pErr := strconv.ParseBool(val)
		if pErr != nil {
			flds = append(flds, core.FieldError{Field: name, Error: "must be a boolean"})
		}
		return b
	}

	q.Counts = parseBool("counts")
	q.Usernames = parseBool("usernames")
	q.Missing = parseBool("missing")
	q.Email = ctx.QueryParam("email")
	if val := ctx.QueryParam("sample"); val != "" {
		if q.SampleLimit, err = strconv.Atoi(val); err != nil || q.SampleLimit < 0 {
			flds = append(flds, core.FieldError{Field: "sample", Error: "must be a positive integer"})
		}
	}

	if len(flds) > 0 {
		return drift.Query{}, core.NewValidationError(nil, flds...)
	}
	return q, nil
}

func (api *diagnosticsApi) inspect(ctx echo.Context) error {
	q, err := bindQuery(ctx)
	if err != nil {
		return err
	}

	report, err := api.detector.Inspect(ctx.Request().Context(), q)
	if err != nil {
		if isDBClosed(err) {
			return core.NewShutdownError("database connection closed")
		}
		return err
	}
	return ctx.JSON(http.StatusOK, report)
}

// errDBClosedMsg is the message of the unexported error database/sql returns once the *sql.DB is closed.
const errDBClosedMsg = "sql: database is closed"

func isDBClosed(err error) bool {
	cause := errors.Cause(err)
	return cause == sql.ErrConnDone || cause.Error() == errDBClosedMsg
}
