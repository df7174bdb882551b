package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	. "github.com/gruppenschlau/gruppenschlau/apps/api/echo"
	"github.com/gruppenschlau/gruppenschlau/core"
	"github.com/gruppenschlau/gruppenschlau/core/availability"
	"github.com/gruppenschlau/gruppenschlau/core/group"
	"github.com/gruppenschlau/gruppenschlau/core/matching"
	"github.com/gruppenschlau/gruppenschlau/core/notification"
	"github.com/gruppenschlau/gruppenschlau/core/profile"
	cachesvc "github.com/gruppenschlau/gruppenschlau/services/cache"
	emailsvc "github.com/gruppenschlau/gruppenschlau/services/email"
	logsvc "github.com/gruppenschlau/gruppenschlau/services/logger"
	metricsvc "github.com/gruppenschlau/gruppenschlau/services/metrics"
	"github.com/gruppenschlau/gruppenschlau/storage"
	inmemdb "github.com/gruppenschlau/gruppenschlau/storage/database/inmem"
	"github.com/gruppenschlau/gruppenschlau/tests"
)

var (
	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errForbidden    = httpErr{Error: "permission denied"}
)

type testEnv struct {
	app     *Server
	db      *inmemdb.DB
	repos   *storage.Repositories
	mailSvc *emailsvc.ConsoleServiceMock
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	conf := core.NewTestConfig()
	logger := logsvc.NewRollbarLogger(zap.NewNop(), conf)

	// set up DB & repos
	db := inmemdb.NewDB()
	repos := storage.NewInmem(db)

	// set up services
	validate, translator := testutil.NewValidator()
	core.ParseEmailTemplates(conf, logger)
	recorder := metricsvc.NewRecorder()
	readCache := core.NewReadCache(cachesvc.NewInmemCache(), conf.Cache.TTL, logger, recorder)
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	dispatcher := notification.NewDispatcher(repos.Notifications, mailSvc, conf, logger, recorder)

	// set up server
	app := NewServer(ServerDeps{
		Conf:            conf,
		Logger:          logger,
		Validate:        validate,
		Translator:      translator,
		Metrics:         recorder.Handler(),
		ProfileSvc:      profile.NewService(repos.Profiles, validate, readCache, logger),
		AvailabilitySvc: availability.NewService(repos.Availabilities, validate, readCache),
		GroupSvc: group.NewService(group.ServiceDeps{
			Repo:           repos.Groups,
			Profiles:       repos.Profiles,
			Availabilities: repos.Availabilities,
			Dispatcher:     dispatcher,
			Cache:          readCache,
			Logger:         logger,
			Metrics:        recorder,
		}),
		MatchingSvc: matching.NewService(matching.ServiceDeps{
			Repo:           repos.Matching,
			Profiles:       repos.Profiles,
			Availabilities: repos.Availabilities,
			Engine:         matching.Engine{MinGroupSize: conf.Matching.MinGroupSize, MaxGroupSize: conf.Matching.MaxGroupSize},
			Cache:          readCache,
			Logger:         logger,
		}),
		NotificationSvc: notification.NewService(repos.Notifications, dispatcher),
		DisableReqLogs:  true,
	})

	return &testEnv{app: app, db: db, repos: repos, mailSvc: mailSvc}
}

func (env *testEnv) do(req *http.Request, rec *httptest.ResponseRecorder) *httptest.ResponseRecorder {
	env.app.ServeHTTP(rec, req)
	return rec
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, app *Server, p profile.Profile) string {
	token, err := app.Auth().TokenFor(p)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
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
	t.Helper()
	assert.Equal(t, tt.wantCode, rec.Code, "code")
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

func decode(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}
