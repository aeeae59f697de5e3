package components

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nebulaforge/forge/internal/config"
	"github.com/nebulaforge/forge/internal/daemon"
	"github.com/nebulaforge/forge/internal/engine"
	errs "github.com/nebulaforge/forge/internal/errors"
	"github.com/nebulaforge/forge/internal/eventlog"
	"github.com/nebulaforge/forge/internal/export"
	"github.com/nebulaforge/forge/internal/logger"

	"github.com/oklog/ulid/v2"
)

type HTTPServerComponent struct {
	daemon       *daemon.Daemon
	cfg          *config.ServerConfig
	sessionComp  *SessionComponent
	registryComp *RegistryComponent
	engineComp   *EngineComponent
	exporterComp *ExporterComponent
	eventsComp   *EventLogComponent
	server       *http.Server
	shutdownTTL  time.Duration
	initialized  bool
	started      bool
	mu           sync.RWMutex
	startTime    time.Time
}

func NewHTTPServerComponent(
	d *daemon.Daemon,
	cfg *config.ServerConfig,
	sessionComp *SessionComponent,
	registryComp *RegistryComponent,
	engineComp *EngineComponent,
	exporterComp *ExporterComponent,
	eventsComp *EventLogComponent,
) *HTTPServerComponent {
	return &HTTPServerComponent{
		daemon:       d,
		cfg:          cfg,
		sessionComp:  sessionComp,
		registryComp: registryComp,
		engineComp:   engineComp,
		exporterComp: exporterComp,
		eventsComp:   eventsComp,
	}
}

func (h *HTTPServerComponent) Name() string {
	return "HTTPServer"
}

func (h *HTTPServerComponent) Dependencies() []string {
	return []string{"SessionStore", "CapabilityRegistry", "RequestEngine", "Exporter", "EventLog"}
}

func (h *HTTPServerComponent) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
	mux.HandleFunc("POST /api/auth/register", h.handleRegister)
	mux.HandleFunc("POST /api/auth/logout", h.handleLogout)
	mux.HandleFunc("GET /api/auth/me", h.handleMe)
	mux.HandleFunc("GET /api/modules", h.handleListModules)
	mux.HandleFunc("POST /api/modules/{id}/toggle", h.handleToggleModule)
	mux.HandleFunc("POST /api/requests", h.handleSubmitRequest)
	mux.HandleFunc("GET /api/requests", h.handleListRequests)
	mux.HandleFunc("GET /api/requests/{id}", h.handleGetRequest)
	mux.HandleFunc("POST /api/export", h.handleExport)
	mux.HandleFunc("GET /api/events", h.handleListEvents)
	mux.HandleFunc("DELETE /api/events", h.handleClearEvents)

	readTimeout, err := config.DurationOrDefault(h.cfg.ReadTimeout, config.DefaultServerReadTimeout)
	if err != nil {
		return fmt.Errorf("parse server read timeout: %w", err)
	}
	writeTimeout, err := config.DurationOrDefault(h.cfg.WriteTimeout, config.DefaultServerWriteTimeout)
	if err != nil {
		return fmt.Errorf("parse server write timeout: %w", err)
	}
	idleTimeout, err := config.DurationOrDefault(h.cfg.IdleTimeout, config.DefaultServerIdleTimeout)
	if err != nil {
		return fmt.Errorf("parse server idle timeout: %w", err)
	}
	shutdownTimeout, err := config.DurationOrDefault(h.cfg.ShutdownTimeout, config.DefaultServerShutdownTimeout)
	if err != nil {
		return fmt.Errorf("parse server shutdown timeout: %w", err)
	}

	h.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", h.cfg.Port),
		Handler:      h.traceRequests(mux),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	h.shutdownTTL = shutdownTimeout

	h.initialized = true
	slog.Info("HTTPServer initialized", "component", h.Name(), "port", h.cfg.Port)
	return nil
}

func (h *HTTPServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return fmt.Errorf("HTTPServer not initialized")
	}

	go func() {
		slog.Info("HTTP server listening", "component", h.Name(), "addr", h.server.Addr)
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "component", h.Name(), "error", err)
		}
	}()

	h.started = true
	h.startTime = time.Now()
	slog.Info("HTTPServer started", "component", h.Name())
	return nil
}

func (h *HTTPServerComponent) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		slog.Info("HTTPServer not started, skipping stop", "component", h.Name())
		return nil
	}

	slog.Info("Stopping HTTPServer...", "component", h.Name())
	shutdownCtx, cancel := context.WithTimeout(ctx, h.shutdownTTL)
	defer cancel()

	if err := h.server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTPServer shutdown error", "component", h.Name(), "error", err)
		return err
	}

	h.started = false
	slog.Info("HTTPServer stopped", "component", h.Name())
	return nil
}

func (h *HTTPServerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.initialized {
		return &daemon.ComponentHealth{Name: h.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	if !h.started {
		return &daemon.ComponentHealth{Name: h.Name(), Healthy: false, Error: fmt.Errorf("not started")}, nil
	}

	return &daemon.ComponentHealth{Name: h.Name(), Healthy: true}, nil
}

// traceRequests stamps each request context with a trace ID and, when a
// session is active, the session ID.
func (h *HTTPServerComponent) traceRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logger.WithTraceID(r.Context(), ulid.Make().String())
		if state := h.sessionComp.GetStore().Get(); state.Authenticated {
			ctx = logger.WithSessionID(ctx, state.Session.ID)
		}
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		slog.Debug("Request handled",
			"trace_id", logger.GetTraceID(ctx),
			"session_id", logger.GetSessionID(ctx),
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

// --- handlers ---

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errs.Category(err) {
	case "ValidationError":
		status = http.StatusBadRequest
	case "NotFoundError":
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  errs.Category(err),
	})
}

func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errs.Validation("malformed request body: " + err.Error())
	}
	return nil
}

func (h *HTTPServerComponent) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthResponse := map[string]interface{}{
		"status":  "ok",
		"version": "1.0.0",
	}

	componentHealths := h.daemon.ComponentHealth()
	componentHealthMap := make(map[string]interface{})
	for name, ch := range componentHealths {
		entry := map[string]interface{}{"healthy": ch.Healthy}
		if ch.Error != nil {
			entry["error"] = ch.Error.Error()
		}
		componentHealthMap[name] = entry
	}
	healthResponse["components"] = componentHealthMap

	writeJSON(w, http.StatusOK, healthResponse)
}

func (h *HTTPServerComponent) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Identifier string `json:"identifier"`
		Secret     string `json:"secret"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	if err := h.sessionComp.GetStore().Login(r.Context(), body.Identifier, body.Secret); err != nil {
		writeError(w, err)
		return
	}

	state := h.sessionComp.GetStore().Get()
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": state.Session})
}

func (h *HTTPServerComponent) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Identifier string `json:"identifier"`
		Contact    string `json:"contact"`
		Secret     string `json:"secret"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	if err := h.sessionComp.GetStore().Register(r.Context(), body.Identifier, body.Contact, body.Secret); err != nil {
		writeError(w, err)
		return
	}

	state := h.sessionComp.GetStore().Get()
	writeJSON(w, http.StatusCreated, map[string]interface{}{"session": state.Session})
}

func (h *HTTPServerComponent) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessionComp.GetStore().Logout(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *HTTPServerComponent) handleMe(w http.ResponseWriter, r *http.Request) {
	state := h.sessionComp.GetStore().Get()
	if !state.Authenticated {
		writeError(w, errs.NotFound("no active session"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": state.Session})
}

func (h *HTTPServerComponent) handleListModules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"modules": h.registryComp.GetRegistry().List(),
	})
}

func (h *HTTPServerComponent) handleToggleModule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	id := r.PathValue("id")
	previous, err := h.registryComp.GetRegistry().SetEnabled(id, body.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}

	current, err := h.registryComp.GetRegistry().Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"module":          current,
		"previous_status": previous,
	})
}

func (h *HTTPServerComponent) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CapabilityID string                 `json:"capability_id"`
		Action       string                 `json:"action"`
		Payload      map[string]interface{} `json:"payload"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	id, err := h.engineComp.GetEngine().Submit(body.CapabilityID, body.Action, body.Payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"request_id": id})
}

func (h *HTTPServerComponent) handleListRequests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests": h.engineComp.GetEngine().List(),
	})
}

func (h *HTTPServerComponent) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	eng := h.engineComp.GetEngine()

	if r.URL.Query().Get("wait") == "true" {
		result, err := h.awaitRequest(r.Context(), eng, id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"result": result})
		return
	}

	req, ok := eng.Get(id)
	if !ok {
		writeError(w, errs.NotFound("request not found: "+id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"request": req})
}

func (h *HTTPServerComponent) awaitRequest(ctx context.Context, eng *engine.Engine, id string) (engine.Result, error) {
	ch, err := eng.OnSettled(id)
	if err != nil {
		return engine.Result{}, err
	}
	select {
	case result := <-ch:
		return result, nil
	case <-ctx.Done():
		return engine.Result{}, errs.Wrap(ctx.Err(), "wait abandoned")
	}
}

func (h *HTTPServerComponent) handleExport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Format export.Format `json:"format"`
		Stages []string      `json:"stages"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.exporterComp.GetOrchestrator().Run(r.Context(), body.Format, body.Stages)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"run": result})
}

func (h *HTTPServerComponent) handleListEvents(w http.ResponseWriter, r *http.Request) {
	entries := h.eventsComp.GetLog().Snapshot()
	if entries == nil {
		entries = []eventlog.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": entries})
}

func (h *HTTPServerComponent) handleClearEvents(w http.ResponseWriter, r *http.Request) {
	h.eventsComp.GetLog().Clear()
	writeJSON(w, http.StatusOK, map[string]string{"message": "event log cleared"})
}
