package logsvc

import (
	"bytes"
	"errors"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/masomo-accounts/core"
	"github.com/trezcool/masomo-accounts/core/account"
)

func newTestLogger(buf *bytes.Buffer) RollbarLogger {
	l := NewRollbarLogger(log.New(buf, "", 0), &core.Config{Env: "test", TestMode: true})
	l.Enable(false)
	return *l
}

func TestRollbarLogger_prepare(t *testing.T) {
	l := newTestLogger(new(bytes.Buffer))

	jane := account.Identity{ID: "1", Name: "Jane", Email: "jane@test.cd"}
	john := account.Identity{ID: "2", Name: "John", Email: "john@test.cd"}
	err := errors.New("boom")
	extras := map[string]interface{}{"table": "teachers"}

	tests := []struct {
		name string
		args []interface{}
		want []interface{}
	}{
		{name: "message only", want: []interface{}{"msg"}},
		{name: "error and extras", args: []interface{}{err, extras}, want: []interface{}{"msg", err, extras}},
		{name: "identities are not forwarded", args: []interface{}{jane, err, john}, want: []interface{}{"msg", err}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, l.prepare("msg", tt.args))
		})
	}
}

func TestRollbarLogger_print(t *testing.T) {
	buf := new(bytes.Buffer)
	l := newTestLogger(buf)

	l.Warn("upserting profile", errors.New("boom"), map[string]interface{}{"email": "jane@test.cd"})
	assert.Equal(t, "upserting profile\nboom\nmap[email:jane@test.cd]\n", buf.String())
}
