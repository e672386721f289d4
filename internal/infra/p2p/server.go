package p2p

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/txrecover/internal/core/domain"
	"github.com/vietddude/txrecover/internal/infra/storage"
	"github.com/vietddude/txrecover/internal/resync/recovery"
)

// maxBodyBytes bounds a single push batch.
const maxBodyBytes = 64 << 20

// StagingReader exposes the staging area to operators.
type StagingReader interface {
	Count(ctx context.Context) (int64, error)
	Get(ctx context.Context, hash domain.ContentHash) (*domain.StagingRecord, error)
}

// HealthCheck reports a dependency failure.
type HealthCheck func(ctx context.Context) error

// Server exposes the recovery API over HTTP.
type Server struct {
	handler Handler
	staging StagingReader
	checks  map[string]HealthCheck
	server  *http.Server
}

// NewServer creates a server on port. tlsConfig may be nil.
func NewServer(h Handler, staging StagingReader, port int, tlsConfig *tls.Config) *Server {
	s := &Server{
		handler: h,
		staging: staging,
		checks:  make(map[string]HealthCheck),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// AddHealthCheck registers a dependency for GET /health.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.checks[name] = check
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Post("/resendBatch", s.handleResendBatch)
	r.Post("/pushBatch", s.handlePushBatch)
	r.Get("/health", s.handleHealth)
	r.Get("/staging/count", s.handleStagingCount)
	r.Get("/staging/{hash}", s.handleStagingGet)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	if s.server.TLSConfig != nil {
		return s.server.ListenAndServeTLS("", "")
	}
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleResendBatch(w http.ResponseWriter, r *http.Request) {
	var req recovery.ResendBatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	resp, err := s.handler.ResendBatch(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePushBatch(w http.ResponseWriter, r *http.Request) {
	var req recovery.PushBatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	if err := s.handler.StoreBatch(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	failures := make(map[string]string)
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			failures[name] = err.Error()
		}
	}

	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"checks": failures,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStagingCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.staging.Count(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

type stagedRecord struct {
	Hash       domain.ContentHash `json:"hash"`
	ArrivedAt  time.Time          `json:"arrivedAt"`
	Sender     domain.PublicKey   `json:"sender"`
	Recipients []domain.PublicKey `json:"recipients"`
	Payload    []byte             `json:"payload"`
}

// handleStagingGet looks up a staged record by its base64url hash.
func (s *Server) handleStagingGet(w http.ResponseWriter, r *http.Request) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(chi.URLParam(r, "hash"), "="))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid hash: " + err.Error()})
		return
	}
	hash, err := domain.HashFromBytes(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	rec, err := s.staging.Get(r.Context(), hash)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not staged"})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stagedRecord{
		Hash:       rec.Hash,
		ArrivedAt:  rec.ArrivedAt,
		Sender:     rec.Envelope.SenderKey,
		Recipients: rec.Envelope.RecipientKeys,
		Payload:    rec.Payload,
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// statusFor maps recovery errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, recovery.ErrValidation), errors.Is(err, recovery.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, recovery.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= 500 {
		slog.Error("Request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
