package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/engine"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/logging"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/orchestrator"
)

// RouterOption configures the HTTP feed.
type RouterOption func(*routerConfig)

type routerConfig struct {
	middlewares []func(http.Handler) http.Handler
}

// WithMiddlewares adds middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) RouterOption {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status  string            `json:"status"`
	Targets map[string]string `json:"targets"`
}

type routes struct {
	engine *engine.Engine
}

// NewRouter builds the HTTP status, control and metrics feed:
//
//	GET  /healthz                    200 when every target is healthy, 503 otherwise
//	GET  /status[?target=name]       orchestrator statuses
//	GET  /history/{target}[?limit=n] stored cycle results
//	GET  /manifest/{target}          last planned manifest
//	GET  /metrics                    Prometheus metrics
//	POST /targets/{target}/{action}  trigger, enable, disable, start, stop
//
// The target "all" addresses every target in control requests.
func NewRouter(e *engine.Engine, opts ...RouterOption) http.Handler {
	cfg := &routerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	rt := &routes{engine: e}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Get("/healthz", rt.health)
	r.Get("/status", rt.status)
	r.Get("/history/{target}", rt.history)
	r.Get("/manifest/{target}", rt.manifest)
	r.Method(http.MethodGet, "/metrics", e.Metrics().Handler())
	r.Post("/targets/{target}/{action}", rt.control)
	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logging.Get("http").Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Get("http").Warn("writing response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrUnknownTarget),
		errors.Is(err, orchestrator.ErrNoManifest):
		code = http.StatusNotFound
	case errors.Is(err, errBadRequest):
		code = http.StatusBadRequest
	}
	writeJSON(w, code, ErrorResponse{Error: err.Error()})
}

var errBadRequest = errors.New("bad request")

func (rt *routes) health(w http.ResponseWriter, _ *http.Request) {
	st, _ := rt.engine.Statuses("")
	resp := HealthResponse{Status: "healthy", Targets: make(map[string]string, len(st))}
	code := http.StatusOK
	for _, s := range st {
		if s.Healthy() {
			resp.Targets[s.Target] = "ok"
			continue
		}
		resp.Targets[s.Target] = "unhealthy"
		if s.LastError != "" {
			resp.Targets[s.Target] = s.LastError
		}
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (rt *routes) status(w http.ResponseWriter, r *http.Request) {
	st, err := rt.engine.Statuses(r.URL.Query().Get("target"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (rt *routes) history(w http.ResponseWriter, r *http.Request) {
	t, err := rt.engine.Target(chi.URLParam(r, "target"))
	if err != nil {
		writeError(w, err)
		return
	}
	limit := DefaultHistoryLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, errors.Join(errBadRequest, errors.New("limit must be a positive integer")))
			return
		}
		limit = n
	}
	results, err := t.Orchestrator.History(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (rt *routes) manifest(w http.ResponseWriter, r *http.Request) {
	t, err := rt.engine.Target(chi.URLParam(r, "target"))
	if err != nil {
		writeError(w, err)
		return
	}
	m, err := t.Orchestrator.LastManifest()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (rt *routes) control(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "target")
	if name == "all" {
		name = ""
	}

	var names []string
	var err error
	switch action := chi.URLParam(r, "action"); action {
	case "trigger":
		names, err = rt.engine.Trigger(name)
	case "enable":
		names, err = rt.engine.SetEnabled(name, true)
	case "disable":
		names, err = rt.engine.SetEnabled(name, false)
	case "start":
		names, err = rt.engine.Start(name)
	case "stop":
		names, err = rt.engine.Stop(r.Context(), name)
	default:
		writeError(w, errors.Join(errBadRequest, errors.New("unknown action "+action)))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusAccepted, map[string][]string{"targets": names})
}
