package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"log-guard/api/internal/storage"
	"log-guard/internal/monitor"
	recordstore "log-guard/internal/storage"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Handlers struct {
	ctl      *monitor.Controller
	hub      *storage.Storage
	records  *recordstore.MemoryStore
	logger   *logrus.Logger
	upgrader websocket.Upgrader
}

// NewHandlers builds the API handlers. records may be nil when persistence
// is not in memory; the traffic and audit endpoints then answer 501.
func NewHandlers(ctl *monitor.Controller, hub *storage.Storage, records *recordstore.MemoryStore, logger *logrus.Logger) *Handlers {
	return &Handlers{
		ctl:     ctl,
		hub:     hub,
		records: records,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				logger.Debugf("WebSocket origin check: %s", r.Header.Get("Origin"))
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// NewRouter registers every route under /api/v1 plus /health.
func NewRouter(h *Handlers) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	api := router.PathPrefix("/api/v1").Subrouter()

	// Engine
	api.HandleFunc("/status", h.GetStatus).Methods("GET")
	api.HandleFunc("/stats", h.GetStats).Methods("GET")
	api.HandleFunc("/trend", h.GetTrend).Methods("GET")
	api.HandleFunc("/monitor/start", h.StartMonitor).Methods("POST")
	api.HandleFunc("/monitor/stop", h.StopMonitor).Methods("POST")
	api.HandleFunc("/user", h.SetUser).Methods("PUT")

	// Lines and events
	api.HandleFunc("/logs", h.GetLogs).Methods("GET")
	api.HandleFunc("/lines", h.GetLines).Methods("GET")
	api.HandleFunc("/stream/lines", h.StreamLines).Methods("GET")

	// Alerts
	api.HandleFunc("/alerts", h.GetAlerts).Methods("GET")
	api.HandleFunc("/alerts/drain", h.DrainAlerts).Methods("POST")
	api.HandleFunc("/alerts/rules", h.GetRuleAlerts).Methods("GET")
	api.HandleFunc("/alerts/rules/{id}", h.GetRuleAlert).Methods("GET")
	api.HandleFunc("/stream/alerts", h.StreamAlerts).Methods("GET")

	// Response
	api.HandleFunc("/rules", h.GetRules).Methods("GET")
	api.HandleFunc("/rules/reload", h.ReloadRules).Methods("POST")
	api.HandleFunc("/blocklist", h.GetBlocklist).Methods("GET")
	api.HandleFunc("/blocklist", h.SetBlocklist).Methods("POST")
	api.HandleFunc("/model", h.LoadModel).Methods("POST")
	api.HandleFunc("/model", h.ClearModel).Methods("DELETE")

	// Records
	api.HandleFunc("/traffic", h.GetTraffic).Methods("GET")
	api.HandleFunc("/audit", h.GetAudit).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")

	return router
}

func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.EngineStatus())
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Stats())
}

func (h *Handlers) GetTrend(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Trend())
}

type startRequest struct {
	Mode   string `json:"mode"`
	Target string `json:"target"`
}

// StartMonitor starts a worker whose lines go to the stream hub.
func (h *Handlers) StartMonitor(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	mode, err := monitor.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.ctl.Start(req.Target, mode, h.hub); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, h.ctl.EngineStatus())
}

func (h *Handlers) StopMonitor(w http.ResponseWriter, r *http.Request) {
	stopped := h.ctl.Stop()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stopped_in_time": stopped,
		"state":           h.ctl.State(),
	})
}

func (h *Handlers) SetUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.ctl.SetUserID(req.UserID)
	writeJSON(w, http.StatusOK, req)
}

func (h *Handlers) GetLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Logs(queryLimit(r, 100, 1000)))
}

func (h *Handlers) GetLines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.hub.GetLines(queryLimit(r, 100, 1000), r.URL.Query().Get("search")))
}

func (h *Handlers) GetAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Alerts())
}

func (h *Handlers) DrainAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.DrainAlerts())
}

func (h *Handlers) GetRuleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	alerts := h.hub.GetAlerts(queryLimit(r, 100, 1000), q.Get("severity"), q.Get("address"), q.Get("search"))
	writeJSON(w, http.StatusOK, alerts)
}

func (h *Handlers) GetRuleAlert(w http.ResponseWriter, r *http.Request) {
	alert := h.hub.GetAlertByID(mux.Vars(r)["id"])
	if alert == nil {
		writeError(w, http.StatusNotFound, "Alert not found")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// ruleView is the JSON shape of a rule.
type ruleView struct {
	ID        int         `json:"id"`
	Name      string      `json:"name"`
	Priority  int         `json:"priority"`
	Condition string      `json:"condition"`
	Action    string      `json:"action"`
	Details   interface{} `json:"details"`
}

func (h *Handlers) GetRules(w http.ResponseWriter, r *http.Request) {
	rules := h.ctl.Rules()
	out := make([]ruleView, 0, len(rules))
	for _, rule := range rules {
		out = append(out, ruleView{
			ID:        rule.ID,
			Name:      rule.Name,
			Priority:  rule.Priority,
			Condition: string(rule.Condition.Kind()),
			Action:    string(rule.Action.Kind()),
			Details: map[string]interface{}{
				"condition": rule.Condition,
				"action":    rule.Action,
			},
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.ReloadRules(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"active_rules": len(h.ctl.Rules())})
}

func (h *Handlers) GetBlocklist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Blocklist())
}

func (h *Handlers) SetBlocklist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Addresses []string `json:"addresses"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.ctl.SetBlocklist(req.Addresses)
	writeJSON(w, http.StatusOK, h.ctl.Blocklist())
}

func (h *Handlers) LoadModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "A model path is required")
		return
	}
	ok, msg := h.ctl.LoadModel(req.Path)
	status := http.StatusOK
	if !ok {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]interface{}{"ok": ok, "message": msg})
}

func (h *Handlers) ClearModel(w http.ResponseWriter, r *http.Request) {
	h.ctl.ClearModel()
	writeJSON(w, http.StatusOK, map[string]string{"model_status": h.ctl.EngineStatus().ModelStatus})
}

func (h *Handlers) GetTraffic(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		writeError(w, http.StatusNotImplemented, "Traffic queries need the memory storage backend")
		return
	}
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, h.records.GetTraffic(queryLimit(r, 100, 1000), q.Get("address"), q.Get("category"), q.Get("search")))
}

func (h *Handlers) GetAudit(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		writeError(w, http.StatusNotImplemented, "Audit queries need the memory storage backend")
		return
	}
	writeJSON(w, http.StatusOK, h.records.GetAudit(queryLimit(r, 100, 1000), r.URL.Query().Get("action")))
}

func (h *Handlers) StreamLines(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	sub := h.hub.SubscribeLines()
	defer h.hub.UnsubscribeLines(sub)

	h.stream(conn, func(send func(interface{}) error) bool {
		line, ok := <-sub.Channel
		if !ok {
			return false
		}
		return send(line) == nil
	})
}

func (h *Handlers) StreamAlerts(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	q := r.URL.Query()
	sub := h.hub.SubscribeAlerts(storage.AlertFilter{Severity: q.Get("severity"), Address: q.Get("address")})
	defer h.hub.UnsubscribeAlerts(sub)

	h.stream(conn, func(send func(interface{}) error) bool {
		alert, ok := <-sub.Channel
		if !ok {
			return false
		}
		return send(alert) == nil
	})
}

// stream sends a greeting, keeps the connection alive with pings and calls
// next until it returns false or the client goes away.
func (h *Handlers) stream(conn *websocket.Conn, next func(send func(interface{}) error) bool) {
	var writeMu sync.Mutex
	send := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}

	if err := send(map[string]string{"type": "connected", "message": "WebSocket connection established"}); err != nil {
		h.logger.Errorf("Failed to send initial message: %v", err)
		return
	}

	done := make(chan struct{})
	once := &sync.Once{}
	closeDone := func() { once.Do(func() { close(done) }) }

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	go func() {
		defer closeDone()
		for {
			select {
			case <-pingTicker.C:
				writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				err := conn.WriteMessage(websocket.PingMessage, []byte{})
				writeMu.Unlock()
				if err != nil {
					h.logger.Debugf("Ping failed: %v", err)
					return
				}
			case <-done:
				return
			}
		}
	}()

	// Reads only detect the client closing.
	go func() {
		defer closeDone()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	items := make(chan bool)
	go func() {
		for {
			ok := next(send)
			select {
			case items <- ok:
			case <-done:
				return
			}
			if !ok {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ok := <-items:
			if !ok {
				return
			}
		}
	}
}

func queryLimit(r *http.Request, def, max int) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowedOrigins := []string{
			"http://localhost:5000",
			"http://localhost:3000",
			"http://127.0.0.1:5000",
			"http://127.0.0.1:3000",
		}

		allowOrigin := "*"
		if origin != "" {
			for _, allowed := range allowedOrigins {
				if origin == allowed {
					allowOrigin = origin
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if allowOrigin != "*" {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
