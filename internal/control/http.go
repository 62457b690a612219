package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MrWong99/luna/internal/capture"
	"github.com/MrWong99/luna/internal/health"
	"github.com/MrWong99/luna/internal/observe"
	"github.com/MrWong99/luna/internal/queue"
)

// maxBody limits JSON request bodies.
const maxBody = 64 << 10

// shutdownGrace bounds graceful HTTP shutdown.
const shutdownGrace = 5 * time.Second

// HTTPOption configures [Controller.Handler].
type HTTPOption func(*httpConfig)

type httpConfig struct {
	health  *health.Handler
	metrics http.Handler
	mw      func(http.Handler) http.Handler
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) HTTPOption {
	return func(c *httpConfig) { c.health = h }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) HTTPOption {
	return func(c *httpConfig) { c.metrics = h }
}

// WithMiddleware wraps the API routes, e.g. with [observe.Middleware].
func WithMiddleware(mw func(http.Handler) http.Handler) HTTPOption {
	return func(c *httpConfig) { c.mw = mw }
}

// Handler returns the HTTP API:
//
//	GET  /api/status          listening state and queue depth
//	POST /api/text            {"text": "..."} enqueue a typed command
//	POST /api/mute            mute
//	POST /api/unmute          unmute
//	POST /api/mute/toggle     toggle mute
//	POST /api/listen          one-shot manual capture
//	GET  /api/settings        stored settings, API key redacted
//	PUT  /api/names           {"user_name", "assistant_name"}
//	PUT  /api/provider        validate then persist a backend
//	GET  /api/events          websocket stream of notifications
func (c *Controller) Handler(opts ...HTTPOption) http.Handler {
	var cfg httpConfig
	for _, o := range opts {
		o(&cfg)
	}

	api := http.NewServeMux()
	api.HandleFunc("GET /api/status", c.handleStatus)
	api.HandleFunc("POST /api/text", c.handleText)
	api.HandleFunc("POST /api/mute", c.handleMute(true))
	api.HandleFunc("POST /api/unmute", c.handleMute(false))
	api.HandleFunc("POST /api/mute/toggle", c.handleToggle)
	api.HandleFunc("POST /api/listen", c.handleListen)
	api.HandleFunc("GET /api/settings", c.handleSettings)
	api.HandleFunc("PUT /api/names", c.handleNames)
	api.HandleFunc("PUT /api/provider", c.handleProvider)
	api.HandleFunc("GET /api/events", c.handleEvents)

	var apiHandler http.Handler = api
	if cfg.mw != nil {
		apiHandler = cfg.mw(api)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	if cfg.health != nil {
		cfg.health.Register(mux)
	}
	if cfg.metrics != nil {
		mux.Handle("GET /metrics", cfg.metrics)
	}
	return mux
}

// ListenAndServe serves h on addr until ctx is cancelled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("control: listen %s: %w", addr, err)
	}
	return serve(ctx, ln, h)
}

func serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	slog.Info("control: http api listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return fmt.Errorf("control: serve: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control: shutdown: %w", err)
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("control: write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return false
	}
	return true
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrEmptyText):
		return http.StatusBadRequest
	case errors.Is(err, capture.ErrBackgroundActive), errors.Is(err, capture.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, queue.ErrFull), errors.Is(err, queue.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (c *Controller) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.Status(r.Context()))
}

func (c *Controller) handleText(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if !decode(w, r, &body) {
		return
	}
	id, err := c.Text(body.Text)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id.String()})
}

func (c *Controller) handleMute(muted bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got, err := c.SetMuted(r.Context(), muted)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"muted": got})
	}
}

func (c *Controller) handleToggle(w http.ResponseWriter, r *http.Request) {
	muted, err := c.ToggleMute(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"muted": muted})
}

func (c *Controller) handleListen(w http.ResponseWriter, r *http.Request) {
	if err := c.Listen(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (c *Controller) handleSettings(w http.ResponseWriter, r *http.Request) {
	all, err := c.Settings(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Error("control: settings snapshot failed", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (c *Controller) handleNames(w http.ResponseWriter, r *http.Request) {
	var body Names
	if !decode(w, r, &body) {
		return
	}
	if err := c.SetNames(r.Context(), body); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Controller) handleProvider(w http.ResponseWriter, r *http.Request) {
	var body ProviderRequest
	if !decode(w, r, &body) {
		return
	}
	v, err := c.SetProvider(r.Context(), body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	status := http.StatusOK
	if !v.OK {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, v)
}
