package main

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/trezcool/masomo-accounts/core/account"
)

// definitionsFile is the seed file format:
//
//	accounts:
//	  - role: teacher
//	    display_name: Jane Teacher
//	    email: jane@school.cd
//	    username: jane
//	    password: Secret#123
type definitionsFile struct {
	Accounts []account.Definition `yaml:"accounts"`
}

// loadDefinitions reads the definitions from path, or returns the canonical ones when path is empty.
func loadDefinitions(path string) ([]account.Definition, error) {
	if path == "" {
		return account.CanonicalDefinitions(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading definitions file")
	}
	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	if len(file.Accounts) == 0 {
		return nil, errors.Errorf("%s defines no accounts", path)
	}
	return file.Accounts, nil
}
