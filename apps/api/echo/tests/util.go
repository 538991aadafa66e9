package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/jmoiron/sqlx"

	echoapi "github.com/trezcool/masomo-accounts/apps/api/echo"
	"github.com/trezcool/masomo-accounts/core"
	"github.com/trezcool/masomo-accounts/core/account"
	"github.com/trezcool/masomo-accounts/core/drift"
	"github.com/trezcool/masomo-accounts/services/idp/memidp"
	sqlxrepos "github.com/trezcool/masomo-accounts/storage/database/sqlx"
	testutil "github.com/trezcool/masomo-accounts/tests"
)

type fixture struct {
	db       *sqlx.DB
	registry account.Registry
	profiles account.ProfileStore
	creds    account.CredentialStore
	provider *memidp.Provider
	app      *echoapi.Server
}

func setup(t *testing.T) *fixture {
	db := testutil.PrepareDB(t)
	f := &fixture{
		db:       db,
		registry: sqlxrepos.NewRegistry(db),
		profiles: sqlxrepos.NewProfileStore(db),
		creds:    sqlxrepos.NewCredentialStore(db),
		provider: memidp.New(),
	}
	detector := drift.NewDetector(f.registry, f.profiles, f.creds, f.provider, testutil.NopLogger{})
	f.app = echoapi.NewServer(echoapi.ServerDeps{
		Conf:     &core.Config{TestMode: true},
		Logger:   testutil.NopLogger{},
		Detector: detector,
	})
	return f
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	path     string
	wantCode int
	wantData []byte
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	return req, rec
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
