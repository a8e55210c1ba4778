// Package server exposes the daemon's status surface over HTTP.
package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/mithrel/upbridge/internal/bridge"
	"github.com/mithrel/upbridge/internal/logging"
	"github.com/mithrel/upbridge/internal/registry"
	"github.com/mithrel/upbridge/pkg/api"
)

// Bridge is the part of *bridge.Bridge the status server reads.
type Bridge interface {
	Stats() bridge.Stats
	Registry() *registry.Registry
	Send(ctx context.Context, msg api.Message) error
	HostVersion(ctx context.Context) (int32, error)
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	Bridge bridge.Stats   `json:"bridge"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// Registration is one row of GET /v1/registrations.
type Registration struct {
	Topic  string `json:"topic"`
	Handle string `json:"handle"`
}

// HostInfo is the body of GET /v1/host.
type HostInfo struct {
	Version int32 `json:"version"`
}

// PublishRequest is the body of POST /v1/publish.
type PublishRequest struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
	Format  string `json:"format,omitempty"` // raw, text, json
	Token   string `json:"token,omitempty"`
}

// PublishResponse reports the id assigned to a published message.
type PublishResponse struct {
	ID string `json:"id"`
}

// ErrorResponse carries a failed call's status.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Server serves the status endpoints for one bridge.
type Server struct {
	br      Bridge
	log     *slog.Logger
	extras  map[string]func() any
	timeout time.Duration
}

type Option func(*Server)

// WithStats adds a named section to GET /v1/stats.
func WithStats(name string, fn func() any) Option {
	return func(s *Server) { s.extras[name] = fn }
}

// WithCallTimeout bounds calls that reach the host.
func WithCallTimeout(d time.Duration) Option { return func(s *Server) { s.timeout = d } }

func New(br Bridge, log *slog.Logger, opts ...Option) *Server {
	s := &Server{br: br, log: logging.OrDiscard(log), extras: map[string]func() any{}, timeout: 5 * time.Second}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router returns an http.Handler with registered routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/registrations", s.handleRegistrations)
		r.Get("/host", s.handleHost)
		r.Post("/publish", s.handlePublish)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("took", time.Since(start)))
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := StatsResponse{Bridge: s.br.Stats()}
	if len(s.extras) > 0 {
		resp.Extra = make(map[string]any, len(s.extras))
		for name, fn := range s.extras {
			resp.Extra[name] = fn()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegistrations(w http.ResponseWriter, _ *http.Request) {
	regs := s.br.Registry().Registrations()
	out := make([]Registration, 0, len(regs))
	for _, r := range regs {
		out = append(out, Registration{Topic: r.Topic.String(), Handle: r.Handle.String()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHost(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	v, err := s.br.HostVersion(ctx)
	if err != nil {
		writeStatus(w, bridge.StatusOf(err))
		return
	}
	writeJSON(w, http.StatusOK, HostInfo{Version: v})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		writeStatus(w, api.NewStatus(api.CodeInvalidArgument, "read body: %v", err))
		return
	}
	var req PublishRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeStatus(w, api.NewStatus(api.CodeInvalidArgument, "bad json: %v", err))
		return
	}
	topic, err := api.ParseURI(req.Topic)
	if err != nil {
		writeStatus(w, api.NewStatus(api.CodeInvalidArgument, "%v", err))
		return
	}
	format, err := ParseFormat(req.Format)
	if err != nil {
		writeStatus(w, api.NewStatus(api.CodeInvalidArgument, "%v", err))
		return
	}
	msg := api.NewPublish(topic, req.Payload, format)
	msg.Attributes.Token = req.Token

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	if err := s.br.Send(ctx, msg); err != nil {
		writeStatus(w, bridge.StatusOf(err))
		return
	}
	writeJSON(w, http.StatusAccepted, PublishResponse{ID: msg.Attributes.ID.String()})
}

// ParseFormat maps a payload format name to its value; empty means raw.
func ParseFormat(s string) (api.PayloadFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "raw":
		return api.PayloadFormatRaw, nil
	case "text":
		return api.PayloadFormatText, nil
	case "json":
		return api.PayloadFormatJSON, nil
	case "protobuf":
		return api.PayloadFormatProtobuf, nil
	}
	return api.PayloadFormatUnspecified, api.NewStatus(api.CodeInvalidArgument, "unknown payload format %q", s).Err()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}

func writeStatus(w http.ResponseWriter, st api.Status) {
	writeJSON(w, httpCode(st.Code), ErrorResponse{Code: st.Code.String(), Message: st.Message})
}

func httpCode(c api.Code) int {
	switch c {
	case api.CodeOK:
		return http.StatusOK
	case api.CodeInvalidArgument, api.CodeFailedPrecondition, api.CodeOutOfRange:
		return http.StatusBadRequest
	case api.CodeNotFound:
		return http.StatusNotFound
	case api.CodeAlreadyExists, api.CodeAborted:
		return http.StatusConflict
	case api.CodePermissionDenied:
		return http.StatusForbidden
	case api.CodeUnauthenticated:
		return http.StatusUnauthorized
	case api.CodeResourceExhausted:
		return http.StatusTooManyRequests
	case api.CodeUnimplemented:
		return http.StatusNotImplemented
	case api.CodeUnavailable:
		return http.StatusServiceUnavailable
	case api.CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}
