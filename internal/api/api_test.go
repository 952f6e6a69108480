package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/MJE43/keyscan/internal/checkpoint"
	"github.com/MJE43/keyscan/internal/keyspace"
	"github.com/MJE43/keyscan/internal/runner"
	"github.com/MJE43/keyscan/internal/scan"
	"github.com/MJE43/keyscan/internal/store"
)

// fakeEngine records calls and returns canned errors.
type fakeEngine struct {
	startErr   error
	controlErr error
	checkpoint *checkpoint.Record
	cpErr      error
	started    []runner.StartRequest
	cleared    int
	resets     int
}

func (f *fakeEngine) Start(_ context.Context, req runner.StartRequest) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, req)
	return "run-1", nil
}

func (f *fakeEngine) Pause() error  { return f.controlErr }
func (f *fakeEngine) Resume() error { return f.controlErr }
func (f *fakeEngine) Stop() error   { return f.controlErr }

func (f *fakeEngine) Status() runner.Status {
	return runner.Status{
		Result:   []string{"Search started in parallel mode"},
		State:    runner.StateRunning,
		Examined: 42,
		Percent:  "12.50",
	}
}

func (f *fakeEngine) ClearLog() error {
	f.cleared++
	return nil
}

func (f *fakeEngine) Checkpoint(context.Context) (*checkpoint.Record, error) {
	if f.cpErr != nil {
		return nil, f.cpErr
	}
	if f.checkpoint == nil {
		return nil, checkpoint.ErrNotFound
	}
	return f.checkpoint, nil
}

func (f *fakeEngine) ResetCheckpoint(context.Context) error {
	if f.cpErr != nil {
		return f.cpErr
	}
	f.resets++
	return nil
}

func newTestServer(t *testing.T, engine Engine, withDB bool) (*Server, *store.SQLiteDB) {
	t.Helper()
	if !withDB {
		return NewServer(engine, nil, zaptest.NewLogger(t)), nil
	}
	db, err := store.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { db.Close() })
	return NewServer(engine, db, zaptest.NewLogger(t)), db
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) EngineError {
	t.Helper()
	var e EngineError
	require.NoError(t, json.NewDecoder(w.Body).Decode(&e))
	return e
}

var validStart = runner.StartRequest{
	Target:       "1BoatSLRHtKNngkdXEeobR76b53LETtpyT",
	Start:        "0000000000000000000000000000000000000000000000000000000000000001",
	End:          "00000000000000000000000000000000000000000000000000000000000000ff",
	PrefixLength: 3,
	Workers:      2,
}

func TestStartAccepted(t *testing.T) {
	engine := &fakeEngine{}
	srv, _ := newTestServer(t, engine, false)

	w := do(t, srv.Routes(), http.MethodPost, "/start", validStart)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, GetVersionInfo().EngineVersion, w.Header().Get("X-Engine-Version"))

	var resp StatusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, StatusResponse{Status: "started", RunID: "run-1"}, resp)
	require.Len(t, engine.started, 1)
	assert.Equal(t, validStart, engine.started[0])
}

func TestStartErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		errType  string
		category ErrorCategory
	}{
		{"running", runner.ErrScanRunning, http.StatusConflict, ErrTypeScanRunning, CategoryConflict},
		{"bad key", fmt.Errorf("start: %w", keyspace.ErrInvalidKeyFormat), http.StatusBadRequest, ErrTypeInvalidKey, CategoryValidation},
		{"bad interval", keyspace.ErrInvalidInterval, http.StatusBadRequest, ErrTypeInvalidInterval, CategoryValidation},
		{"bad mode", fmt.Errorf("%w: %q", scan.ErrUnknownMode, "spiral"), http.StatusBadRequest, ErrTypeUnknownMode, CategoryValidation},
		{"bad request", scan.ErrInvalidRequest, http.StatusBadRequest, ErrTypeValidation, CategoryValidation},
		{"no checkpoint", runner.ErrNoCheckpoint, http.StatusNotFound, ErrTypeNotFound, CategoryConflict},
		{"other", assert.AnError, http.StatusInternalServerError, ErrTypeInternal, CategorySystem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &fakeEngine{startErr: tt.err}, false)
			w := do(t, srv.Routes(), http.MethodPost, "/start", validStart)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.errType, w.Header().Get("X-Error-Type"))
			assert.Equal(t, string(tt.category), w.Header().Get("X-Error-Category"))
			assert.Equal(t, tt.errType, decodeError(t, w).Type)
		})
	}
}

func TestStartValidation(t *testing.T) {
	engine := &fakeEngine{}
	srv, _ := newTestServer(t, engine, false)
	h := srv.Routes()

	req := httptest.NewRequest(http.MethodPost, "/start", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	missing := validStart
	missing.Target = " "
	w = do(t, h, http.MethodPost, "/start", missing)
	require.Equal(t, http.StatusBadRequest, w.Code)
	e := decodeError(t, w)
	assert.Equal(t, ErrTypeValidation, e.Type)
	assert.Equal(t, "target_address", e.Context["field"])

	tooMany := validStart
	tooMany.Workers = maxWorkers + 1
	w = do(t, h, http.MethodPost, "/start", tooMany)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// resume ignores every other field
	w = do(t, h, http.MethodPost, "/start", runner.StartRequest{Resume: true})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, engine.started, 1)
}

func TestControlEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{}, false)
	h := srv.Routes()
	for path, status := range map[string]string{"/pause": "paused", "/resume": "resumed", "/stop": "stopping"} {
		w := do(t, h, http.MethodPost, path, nil)
		require.Equal(t, http.StatusOK, w.Code, path)
		var resp StatusResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, status, resp.Status)
	}

	idle, _ := newTestServer(t, &fakeEngine{controlErr: runner.ErrNotRunning}, false)
	for _, path := range []string{"/pause", "/resume", "/stop"} {
		w := do(t, idle.Routes(), http.MethodPost, path, nil)
		assert.Equal(t, http.StatusConflict, w.Code, path)
		assert.Equal(t, ErrTypeNotRunning, w.Header().Get("X-Error-Type"))
	}
}

func TestProgress(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{}, false)
	w := do(t, srv.Routes(), http.MethodGet, "/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, false, body["finished"])
	assert.Equal(t, "running", body["state"])
	assert.EqualValues(t, 42, body["examined"])
	assert.Equal(t, "12.50", body["percent"])
	assert.Equal(t, []interface{}{"Search started in parallel mode"}, body["result"])
}

func TestClearLogBothMethods(t *testing.T) {
	engine := &fakeEngine{}
	srv, _ := newTestServer(t, engine, false)
	h := srv.Routes()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/clear_log", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/clear_log", nil).Code)
	assert.Equal(t, 2, engine.cleared)
}

func TestCheckpointEndpoints(t *testing.T) {
	engine := &fakeEngine{}
	srv, _ := newTestServer(t, engine, false)
	h := srv.Routes()

	w := do(t, h, http.MethodGet, "/checkpoint", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	engine.checkpoint = &checkpoint.Record{Target: "1Axx", WorkerCount: 2}
	w = do(t, h, http.MethodGet, "/checkpoint", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rec checkpoint.Record
	require.NoError(t, json.NewDecoder(w.Body).Decode(&rec))
	assert.Equal(t, "1Axx", rec.Target)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodDelete, "/checkpoint", nil).Code)
	assert.Equal(t, 1, engine.resets)

	engine.cpErr = runner.ErrScanRunning
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodDelete, "/checkpoint", nil).Code)
}

func TestRunsEndpoints(t *testing.T) {
	srv, db := newTestServer(t, &fakeEngine{}, true)
	h := srv.Routes()
	ctx := context.Background()

	run := &store.Run{Target: "1Axx", Start: "01", End: "ff", Mode: "sequential", Workers: 2}
	require.NoError(t, db.SaveRun(ctx, run))
	require.NoError(t, db.SaveMatch(ctx, &store.Match{RunID: run.ID, Key: "2a", Address: "1Axx", Prefix: "1A"}))

	w := do(t, h, http.MethodGet, "/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list store.RunsList
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.Equal(t, 1, list.TotalCount)
	require.Len(t, list.Runs, 1)
	assert.Equal(t, run.ID, list.Runs[0].ID)

	w = do(t, h, http.MethodGet, "/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/runs/"+run.ID+"/matches", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var matches []store.Match
	require.NoError(t, json.NewDecoder(w.Body).Decode(&matches))
	require.Len(t, matches, 1)
	assert.Equal(t, "1A", matches[0].Prefix)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/runs/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/runs/nope/matches", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/runs?page=0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/runs?perPage=100000", nil).Code)
}

func TestRunsWithoutHistory(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{}, false)
	w := do(t, srv.Routes(), http.MethodGet, "/runs", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, ErrTypeServiceUnavailable, w.Header().Get("X-Error-Type"))
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{}, true)
	h := srv.Routes()

	w := do(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthCheckResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, HealthStatusHealthy, resp.Status)
	assert.Contains(t, resp.Checks, "database")
	assert.Equal(t, "scanner running", resp.Checks["scanner"].Message)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health/live", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health/ready", nil).Code)

	noDB, _ := newTestServer(t, &fakeEngine{}, false)
	w = do(t, noDB.Routes(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, HealthStatusDegraded, resp.Status)
}

func TestVersion(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{}, false)

	w := do(t, srv.Routes(), http.MethodGet, "/version", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var v VersionInfo
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	assert.Equal(t, GetVersionInfo(), v)
	assert.NotEmpty(t, v.GoVersion)
}

func withOrigin(method, path, origin string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString("{}"))
	req.Header.Set("Origin", origin)
	return req
}

func TestCrossOriginRequestsRefusedByDefault(t *testing.T) {
	engine := &fakeEngine{}
	srv, _ := newTestServer(t, engine, false)
	h := srv.Routes()

	for _, path := range []string{"/start", "/stop", "/pause", "/resume", "/clear_log"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, withOrigin(http.MethodPost, path, "https://evil.example"))
		assert.Equal(t, http.StatusForbidden, w.Code, path)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"), path)
		assert.Equal(t, ErrTypeForbidden, decodeError(t, w).Type, path)
	}
	assert.Empty(t, engine.started)
	assert.Zero(t, engine.cleared)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, withOrigin(http.MethodOptions, "/start", "https://evil.example"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	// Reads still answer, but without CORS headers the browser hides them.
	w = httptest.NewRecorder()
	h.ServeHTTP(w, withOrigin(http.MethodGet, "/progress", "https://evil.example"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAllowedOriginIsEchoed(t *testing.T) {
	engine := &fakeEngine{}
	srv := NewServer(engine, nil, zaptest.NewLogger(t), WithAllowedOrigins("http://localhost:3000"))
	h := srv.Routes()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, withOrigin(http.MethodOptions, "/start", "http://localhost:3000"))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Values("Vary"), "Origin")

	w = httptest.NewRecorder()
	h.ServeHTTP(w, withOrigin(http.MethodPost, "/stop", "http://localhost:3000"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, withOrigin(http.MethodPost, "/stop", "http://localhost:4000"))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSameOriginAndNonBrowserRequestsPass(t *testing.T) {
	engine := &fakeEngine{}
	srv, _ := newTestServer(t, engine, false)
	h := srv.Routes()

	// httptest requests are addressed to example.com.
	w := httptest.NewRecorder()
	h.ServeHTTP(w, withOrigin(http.MethodPost, "/stop", "http://example.com"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = do(t, h, http.MethodPost, "/stop", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecoveryHandler(t *testing.T) {
	eh := NewErrorHandler(zaptest.NewLogger(t))
	h := eh.RecoveryHandler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, ErrTypeInternal, decodeError(t, w).Type)
}

func TestStampFromBuild(t *testing.T) {
	bi := &debug.BuildInfo{
		GoVersion: "go1.24.3",
		Main:      debug.Module{Path: "github.com/MJE43/keyscan", Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "4f1c2e9"},
			{Key: "vcs.time", Value: "2026-10-01T12:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	v := stampFromBuild(VersionInfo{EngineVersion: "dev", GitCommit: "unknown", BuildTime: "unknown"}, bi)
	assert.Equal(t, VersionInfo{
		EngineVersion: "v0.3.1",
		GitCommit:     "4f1c2e9",
		BuildTime:     "2026-10-01T12:00:00Z",
		GoVersion:     "go1.24.3",
		Modified:      true,
	}, v)

	// Linker stamps win over build info.
	v = stampFromBuild(VersionInfo{EngineVersion: "1.0.0", GitCommit: "abc", BuildTime: "today"}, bi)
	assert.Equal(t, "1.0.0", v.EngineVersion)
	assert.Equal(t, "abc", v.GitCommit)
	assert.Equal(t, "today", v.BuildTime)

	bi.Main.Version = "(devel)"
	v = stampFromBuild(VersionInfo{EngineVersion: "dev"}, bi)
	assert.Equal(t, "dev", v.EngineVersion)
}
