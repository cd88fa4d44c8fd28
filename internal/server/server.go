// Package server exposes the HTTP ingest API: session lifecycle endpoints,
// frame ingestion (PCM or Opus), the WebSocket live monitor, progress reads,
// and the operational endpoints (health, readiness, metrics).
//
// Routes use the Go 1.22 method+pattern mux. JSON in, JSON out; state errors
// map to 409, unknown ids to 404, device failures to 503.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxmetra/voxmetra/internal/app"
	"github.com/voxmetra/voxmetra/internal/capture"
	"github.com/voxmetra/voxmetra/internal/config"
	"github.com/voxmetra/voxmetra/internal/health"
	"github.com/voxmetra/voxmetra/internal/observe"
	"github.com/voxmetra/voxmetra/pkg/audio"
	"github.com/voxmetra/voxmetra/pkg/store"
)

// shutdownGrace is how long in-flight requests get to finish after the serve
// context is cancelled.
const shutdownGrace = 10 * time.Second

// defaultRecentLimit caps /sessions listings when the client sends no limit.
const defaultRecentLimit = 10

// Server serves the voxmetra ingest API.
type Server struct {
	cfg     *config.Config
	app     *app.App
	metrics *observe.Metrics
	mux     *http.ServeMux
}

// New creates a Server wired to the given application.
func New(cfg *config.Config, a *app.App, metrics *observe.Metrics) *Server {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	s := &Server{
		cfg:     cfg,
		app:     a,
		metrics: metrics,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /v1/sessions", s.handleOpenSession)
	s.mux.HandleFunc("GET /v1/sessions/{sessionID}", s.handleSessionState)
	s.mux.HandleFunc("POST /v1/sessions/{sessionID}/frames", s.handleFrames)
	s.mux.HandleFunc("POST /v1/sessions/{sessionID}/pause", s.handlePause)
	s.mux.HandleFunc("POST /v1/sessions/{sessionID}/resume", s.handleResume)
	s.mux.HandleFunc("POST /v1/sessions/{sessionID}/stop", s.handleStop)
	s.mux.HandleFunc("DELETE /v1/sessions/{sessionID}", s.handleCancel)
	s.mux.HandleFunc("GET /v1/sessions/{sessionID}/live", s.handleLive)
	s.mux.HandleFunc("GET /v1/users/{userID}/progress", s.handleProgress)
	s.mux.HandleFunc("GET /v1/users/{userID}/sessions", s.handleRecentSessions)
	s.mux.HandleFunc("GET /v1/users/{userID}/sessions/similar", s.handleSimilarSessions)

	checker := health.New(health.Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			_, err := s.app.Store().LoadProgress(ctx, "_readyz")
			return err
		},
	})
	checker.Register(s.mux)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return observe.Middleware(s.metrics)(s.mux)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.cfg.Server.ListenAddr,
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", srv.Addr, "tls", s.cfg.Server.TLS != nil)
		if tls := s.cfg.Server.TLS; tls != nil {
			errCh <- srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// --- Session lifecycle -------------------------------------------------------

type openSessionRequest struct {
	UserID   string `json:"userId"`
	Language string `json:"language"`
}

type openSessionResponse struct {
	SessionID          string    `json:"sessionId"`
	UserID             string    `json:"userId"`
	Language           string    `json:"language"`
	StartedAt          time.Time `json:"startedAt"`
	MaxDurationSeconds float64   `json:"maxDurationSeconds"`
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	ms, err := s.app.Sessions().Open(r.Context(), req.UserID, req.Language)
	if err != nil {
		s.writeErrorFor(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, openSessionResponse{
		SessionID:          ms.ID,
		UserID:             ms.UserID,
		Language:           ms.Language,
		StartedAt:          ms.StartedAt,
		MaxDurationSeconds: s.cfg.Capture.MaxDurationSeconds,
	})
}

type sessionStateResponse struct {
	SessionID      string  `json:"sessionId"`
	Status         string  `json:"status"`
	ElapsedSeconds float64 `json:"elapsedSeconds"`
	Interruptions  int     `json:"interruptions"`
	Frames         int64   `json:"frames"`
}

func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	ms, err := s.app.Sessions().Get(r.PathValue("sessionID"))
	if err != nil {
		s.writeErrorFor(w, err)
		return
	}
	stats := ms.Capture.Stats()
	writeJSON(w, http.StatusOK, sessionStateResponse{
		SessionID:      ms.ID,
		Status:         string(ms.Capture.Status()),
		ElapsedSeconds: ms.Capture.Elapsed().Seconds(),
		Interruptions:  ms.Capture.Interruptions(),
		Frames:         stats.Frames,
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Sessions().Pause(r.PathValue("sessionID")); err != nil {
		s.writeErrorFor(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Sessions().Resume(r.PathValue("sessionID")); err != nil {
		s.writeErrorFor(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	record, err := s.app.Sessions().Stop(r.Context(), sessionID)
	if err != nil {
		s.writeErrorFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	if err := s.app.Sessions().Cancel(r.Context(), sessionID); err != nil {
		s.writeErrorFor(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Frame ingestion ---------------------------------------------------------

// frameBatch is one POST of audio data. PCM frames carry raw little-endian
// 16-bit samples; Opus frames carry one packet each, decoded server-side.
// Frame payloads are base64 strings in JSON.
type frameBatch struct {
	Encoding    string   `json:"encoding"` // "pcm" (default) or "opus"
	SampleRate  int      `json:"sampleRate"`
	Channels    int      `json:"channels"`
	TimestampMs int64    `json:"timestampMs"`
	Frames      [][]byte `json:"frames"`
}

type frameBatchResponse struct {
	Accepted int `json:"accepted"`
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	ms, err := s.app.Sessions().Get(sessionID)
	if err != nil {
		s.writeErrorFor(w, err)
		return
	}

	var batch frameBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(batch.Frames) == 0 {
		writeJSON(w, http.StatusAccepted, frameBatchResponse{})
		return
	}

	switch batch.Encoding {
	case "", "pcm":
		err = s.pushPCM(ms, batch)
	case "opus":
		err = s.pushOpus(ms, batch)
	default:
		writeError(w, http.StatusBadRequest, "unknown encoding "+strconv.Quote(batch.Encoding))
		return
	}
	if err != nil {
		s.writeErrorFor(w, err)
		return
	}

	s.metrics.FramesIngested.Add(r.Context(), int64(len(batch.Frames)))
	writeJSON(w, http.StatusAccepted, frameBatchResponse{Accepted: len(batch.Frames)})
}

func (s *Server) pushPCM(ms *app.ManagedSession, batch frameBatch) error {
	if batch.SampleRate <= 0 || batch.Channels <= 0 {
		return errBadBatch("pcm batches need sampleRate and channels")
	}
	ts := time.Duration(batch.TimestampMs) * time.Millisecond
	for _, data := range batch.Frames {
		f := audio.Frame{
			Data:       data,
			SampleRate: batch.SampleRate,
			Channels:   batch.Channels,
			Timestamp:  ts,
		}
		if err := ms.Source.Push(f); err != nil {
			return err
		}
		ts += f.Duration()
	}
	return nil
}

// pushOpus decodes each packet with the session's own decoder, so decoder
// state lives and dies with the session rather than in a server-side map.
func (s *Server) pushOpus(ms *app.ManagedSession, batch frameBatch) error {
	ts := time.Duration(batch.TimestampMs) * time.Millisecond
	for _, packet := range batch.Frames {
		pcm, format, err := ms.DecodeOpus(packet)
		if err != nil {
			return errBadBatch("opus decode: " + err.Error())
		}
		f := audio.Frame{
			Data:       pcm,
			SampleRate: format.SampleRate,
			Channels:   format.Channels,
			Timestamp:  ts,
		}
		if err := ms.Source.Push(f); err != nil {
			return err
		}
		ts += f.Duration()
	}
	return nil
}

// --- Progress reads ----------------------------------------------------------

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	prog, err := s.app.Progress().Load(r.Context(), userID)
	if err != nil {
		s.writeErrorFor(w, err)
		return
	}
	if s.app.Progress().IsDegraded() {
		w.Header().Set("X-Degraded", "true")
	}
	writeJSON(w, http.StatusOK, prog)
}

func (s *Server) handleRecentSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	records, err := s.app.Store().RecentSessions(r.Context(), userID, limit)
	if err != nil {
		s.writeErrorFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleSimilarSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	topK := 0
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "k must be a positive integer")
			return
		}
		topK = n
	}
	hits, err := s.app.SimilarSessions(r.Context(), userID, query, topK)
	if err != nil {
		s.writeErrorFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

// --- Error mapping -----------------------------------------------------------

// badBatchError marks client-side frame batch problems so they map to 400
// instead of 500.
type badBatchError string

func errBadBatch(msg string) error { return badBatchError(msg) }

func (e badBatchError) Error() string { return string(e) }

// writeErrorFor maps domain errors to HTTP status codes.
func (s *Server) writeErrorFor(w http.ResponseWriter, err error) {
	var bad badBatchError
	switch {
	case errors.As(err, &bad):
		writeError(w, http.StatusBadRequest, bad.Error())
	case errors.Is(err, app.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, capture.ErrInvalidStateTransition), errors.Is(err, audio.ErrSourceClosed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, capture.ErrDeviceUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, app.ErrFeatureDisabled):
		writeError(w, http.StatusNotImplemented, err.Error())
	default:
		slog.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encoding failed", "err", err)
	}
}
