package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"log-guard/api/internal/storage"
	"log-guard/internal/blocklist"
	"log-guard/internal/detection"
	"log-guard/internal/model"
	"log-guard/internal/monitor"
	"log-guard/internal/rules"
	recordstore "log-guard/internal/storage"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	router  http.Handler
	ctl     *monitor.Controller
	hub     *storage.Storage
	records *recordstore.MemoryStore
}

func newTestAPI(t *testing.T, withRecords bool) *testAPI {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	records := recordstore.NewMemoryStore(1000, 1000, logger)
	st := monitor.NewState(100, 100, 100, nil)
	bl := blocklist.NewManager(0, logger)
	dispatcher := rules.NewDispatcher(bl, records, st, logger)
	engine := rules.NewEngine(rules.StaticStore{{
		ID: 1, Name: "Critical block", Priority: 1, Enabled: true,
		Condition: model.SeverityCondition{Min: model.SeverityCritical},
		Action:    model.BlockAction{Duration: 10 * time.Minute},
	}}, dispatcher, rules.NewHitTracker(0), logger)

	cfg := monitor.DefaultConfig()
	cfg.Synthetic.MinDelay = time.Millisecond
	cfg.Synthetic.MaxDelay = 2 * time.Millisecond
	ctl := monitor.NewController(monitor.Deps{
		State:      st,
		Scorer:     detection.NewScorer(logger),
		Blocklist:  bl,
		Engine:     engine,
		Dispatcher: dispatcher,
		Store:      records,
	}, cfg, logger)
	require.NoError(t, ctl.ReloadRules())
	t.Cleanup(func() { ctl.Stop() })

	hub := storage.NewStorage(100, 100, logger)
	api := &testAPI{ctl: ctl, hub: hub}
	if withRecords {
		api.records = records
	}
	api.router = NewRouter(NewHandlers(ctl, hub, api.records, logger))
	return api
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, true)
	rec := api.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestGetStatus_Idle(t *testing.T) {
	api := newTestAPI(t, true)
	rec := api.do(t, "GET", "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]interface{}
	decode(t, rec, &status)
	assert.Equal(t, "idle", status["state"])
	assert.Equal(t, "none", status["model_status"])
	assert.Equal(t, 1.0, status["active_rules"])
}

func TestStartAndStopMonitor(t *testing.T) {
	api := newTestAPI(t, true)

	rec := api.do(t, "POST", "/api/v1/monitor/start", map[string]string{"mode": "simulate"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	waitFor(t, "simulated lines", func() bool { return len(api.hub.GetLines(10, "(SIM)")) >= 5 })

	rec = api.do(t, "POST", "/api/v1/monitor/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, true, body["stopped_in_time"])
	assert.Equal(t, "idle", body["state"])

	waitFor(t, "stop notice", func() bool { return len(api.hub.GetLines(1, monitor.StatusLineStopped)) == 1 })

	rec = api.do(t, "GET", "/api/v1/lines?limit=3", nil)
	var lines []storage.Line
	decode(t, rec, &lines)
	assert.Len(t, lines, 3)
	assert.True(t, lines[0].Seq > lines[1].Seq)

	rec = api.do(t, "GET", "/api/v1/logs?limit=2", nil)
	var events []model.LogEvent
	decode(t, rec, &events)
	assert.Len(t, events, 2)
}

func TestStartMonitor_BadRequests(t *testing.T) {
	api := newTestAPI(t, true)

	rec := api.do(t, "POST", "/api/v1/monitor/start", map[string]string{"mode": "carrier-pigeon"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, "POST", "/api/v1/monitor/start", map[string]string{"mode": "file"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest("POST", "/api/v1/monitor/start", strings.NewReader("{"))
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRules(t *testing.T) {
	api := newTestAPI(t, true)
	rec := api.do(t, "GET", "/api/v1/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rules []ruleView
	decode(t, rec, &rules)
	require.Len(t, rules, 1)
	assert.Equal(t, "Critical block", rules[0].Name)
	assert.Equal(t, string(model.ConditionSeverity), rules[0].Condition)
	assert.Equal(t, string(model.ActionBlockAddress), rules[0].Action)

	rec = api.do(t, "POST", "/api/v1/rules/reload", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBlocklistEndpoints(t *testing.T) {
	api := newTestAPI(t, true)

	rec := api.do(t, "POST", "/api/v1/blocklist", map[string][]string{"addresses": {"198.51.100.7", "203.0.113.9"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, "GET", "/api/v1/blocklist", nil)
	var entries []blocklist.Entry
	decode(t, rec, &entries)
	assert.Len(t, entries, 2)
}

func TestModelEndpoints(t *testing.T) {
	api := newTestAPI(t, true)

	rec := api.do(t, "POST", "/api/v1/model", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, "POST", "/api/v1/model", map[string]string{"path": "/does/not/exist.yaml"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = api.do(t, "DELETE", "/api/v1/model", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, "none", body["model_status"])
}

func TestRuleAlertEndpoints(t *testing.T) {
	api := newTestAPI(t, true)
	api.hub.AddAlert(model.Alert{ID: "a-1", Severity: model.SeverityCritical, Address: "10.0.0.1", Description: "root shell"})
	api.hub.AddAlert(model.Alert{ID: "a-2", Severity: model.SeverityWarn, Address: "10.0.0.2", Description: "login failed"})

	rec := api.do(t, "GET", "/api/v1/alerts/rules?severity=critical", nil)
	var alerts []model.Alert
	decode(t, rec, &alerts)
	require.Len(t, alerts, 1)
	assert.Equal(t, "a-1", alerts[0].ID)

	rec = api.do(t, "GET", "/api/v1/alerts/rules/a-2", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, "GET", "/api/v1/alerts/rules/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordEndpoints_NeedMemoryBackend(t *testing.T) {
	api := newTestAPI(t, false)
	assert.Equal(t, http.StatusNotImplemented, api.do(t, "GET", "/api/v1/traffic", nil).Code)
	assert.Equal(t, http.StatusNotImplemented, api.do(t, "GET", "/api/v1/audit", nil).Code)

	api = newTestAPI(t, true)
	assert.Equal(t, http.StatusOK, api.do(t, "GET", "/api/v1/traffic?limit=5", nil).Code)
	assert.Equal(t, http.StatusOK, api.do(t, "GET", "/api/v1/audit", nil).Code)
}

func TestSetUser(t *testing.T) {
	api := newTestAPI(t, true)
	rec := api.do(t, "PUT", "/api/v1/user", map[string]int{"user_id": 42})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	api := newTestAPI(t, true)
	req := httptest.NewRequest("OPTIONS", "/api/v1/status", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestStreamAlerts(t *testing.T) {
	api := newTestAPI(t, true)
	srv := httptest.NewServer(api.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream/alerts?severity=Critical"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello map[string]string
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "connected", hello["type"])

	api.hub.AddAlert(model.Alert{ID: "skip", Severity: model.SeverityInfo})
	api.hub.AddAlert(model.Alert{ID: "keep", Severity: model.SeverityCritical})

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var got model.Alert
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "keep", got.ID)
}

func TestStreamLines(t *testing.T) {
	api := newTestAPI(t, true)
	srv := httptest.NewServer(api.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream/lines"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello map[string]string
	require.NoError(t, conn.ReadJSON(&hello))

	require.NoError(t, api.hub.ProcessLine("[INFO] hello"))

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var got storage.Line
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "[INFO] hello", got.Text)
}
