// Package api provides the HTTP server and handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mediatree/mediatree/internal/auth"
	"github.com/mediatree/mediatree/internal/events"
	"github.com/mediatree/mediatree/internal/ingest"
	"github.com/mediatree/mediatree/internal/logging"
	"github.com/mediatree/mediatree/internal/vfs"
)

type contextKey string

const principalKey contextKey = "principal"

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// Server is the HTTP server.
type Server struct {
	store       *vfs.Store
	worker      *ingest.Worker
	gate        auth.Gate
	broadcaster *events.Broadcaster
}

// NewServer creates a new server.
func NewServer(store *vfs.Store, worker *ingest.Worker, gate auth.Gate, broadcaster *events.Broadcaster) *Server {
	return &Server{
		store:       store,
		worker:      worker,
		gate:        gate,
		broadcaster: broadcaster,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	protected := http.NewServeMux()
	protected.HandleFunc("GET /api/v1/nodes", s.handleListNodes)
	protected.HandleFunc("GET /api/v1/nodes/{path...}", s.handleListNodes)
	protected.HandleFunc("POST /api/v1/nodes", s.handleCreateNode)
	protected.HandleFunc("POST /api/v1/nodes/{path...}", s.handleCreateNode)
	protected.HandleFunc("POST /api/v1/move", s.handleMove)
	protected.HandleFunc("POST /api/v1/downloads", s.handleDownload)
	protected.HandleFunc("GET /api/v1/content/{node}", s.handleContent)
	protected.HandleFunc("GET /api/v1/thumbnails/{node}", s.handleThumbnail)
	protected.HandleFunc("GET /api/v1/events", s.handleEvents)

	mux.Handle("/api/v1/", s.authMiddleware(protected))

	return logging.Middleware(mux)
}

// authMiddleware authenticates every request and stores the principal in the
// request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.gate.Authenticate(r)
		if err != nil {
			s.sendError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(ctx context.Context) auth.Principal {
	p, _ := ctx.Value(principalKey).(auth.Principal)
	return p
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": "1.0"})
}

// ─── Namespace ──────────────────────────────────────────────────────────────

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	target := vfs.PathTarget(r.PathValue("path"))

	children, err := s.store.ListChildren(r.Context(), target, principal.Admin)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	if children == nil {
		children = []vfs.NodeSummary{}
	}
	s.sendJSON(w, http.StatusOK, children)
}

func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	summary, err := s.store.CreateNode(r.Context(), vfs.PathTarget(r.PathValue("path")), req.Name)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NodeID     string `json:"node_id"`
		TargetPath string `json:"target_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	nodeID, err := uuid.Parse(req.NodeID)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid node id")
		return
	}

	if err := s.store.Move(r.Context(), nodeID, vfs.PathTarget(req.TargetPath)); err != nil {
		s.sendStoreError(w, err)
		return
	}

	summary, err := s.store.Summary(r.Context(), nodeID)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, summary)
}

// ─── Ingestion ──────────────────────────────────────────────────────────────

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL        string `json:"url"`
		AudioOnly  bool   `json:"audio_only"`
		TargetPath string `json:"target_path"`
		Wait       bool   `json:"wait"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var target *vfs.Target
	if req.TargetPath != "" {
		t := vfs.PathTarget(req.TargetPath)
		target = &t
	}

	var reply chan ingest.Result
	if req.Wait {
		reply = make(chan ingest.Result, 1)
	}
	if !s.worker.Enqueue(r.Context(), ingest.Request{
		URL:       req.URL,
		AudioOnly: req.AudioOnly,
		Target:    target,
		Reply:     reply,
	}) {
		s.sendError(w, http.StatusServiceUnavailable, "ingestion unavailable")
		return
	}

	if !req.Wait {
		s.sendJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}

	select {
	case result := <-reply:
		if result.Err != nil {
			s.sendError(w, http.StatusBadGateway, result.Err.Error())
			return
		}
		s.sendJSON(w, http.StatusOK, map[string]string{
			"file_id": result.FileID.String(),
			"node_id": result.NodeID.String(),
		})
	case <-r.Context().Done():
		logging.Warn("download caller gave up waiting",
			zap.String("url", req.URL))
	}
}

// ─── Content ────────────────────────────────────────────────────────────────

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	nodeID, err := uuid.Parse(r.PathValue("node"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid node id")
		return
	}

	_, storedPath, _, err := s.store.FileOfNode(r.Context(), nodeID)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	abs, err := s.store.OpenFile(storedPath)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "cannot resolve file")
		return
	}
	http.ServeFile(w, r, abs)
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	nodeID, err := uuid.Parse(r.PathValue("node"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid node id")
		return
	}

	storedPath, ok, err := s.store.GetThumbnail(r.Context(), nodeID)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	if !ok {
		s.sendError(w, http.StatusNotFound, "no thumbnail")
		return
	}
	abs, err := s.store.OpenFile(storedPath)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "cannot resolve file")
		return
	}
	http.ServeFile(w, r, abs)
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// ─── Responses ──────────────────────────────────────────────────────────────

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// sendStoreError maps store errors to HTTP status codes.
func (s *Server) sendStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, vfs.ErrNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, vfs.ErrInvalidPath):
		s.sendError(w, http.StatusBadRequest, err.Error())
	default:
		logging.Error("request failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "internal error")
	}
}

// ListenAndServe runs the server until ctx is cancelled, then drains with a
// short grace period.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE and synchronous downloads hold connections open
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
