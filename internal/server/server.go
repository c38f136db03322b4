package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"research-rag/internal/ingest"
	"research-rag/internal/models"
	"research-rag/internal/rag"
)

type Ingester interface {
	Run(ctx context.Context, req ingest.Request) <-chan models.ProgressEvent
}

type Retriever interface {
	AssembleContext(ctx context.Context, query string) (rag.Context, error)
}

// Server exposes ingestion and retrieval over HTTP.
type Server struct {
	ingester  Ingester
	retriever Retriever
}

func New(ingester Ingester, retriever Retriever) *Server {
	return &Server{ingester: ingester, retriever: retriever}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/documents/{id}/ingest", s.handleIngest)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleIngest streams the pipeline's progress as NDJSON until a terminal
// event. A client disconnect cancels the pipeline.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	var req ingest.Request
	if r.Body != nil && r.Body != http.NoBody {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	req.DocumentID = id
	if v := r.URL.Query().Get("force"); v != "" {
		force, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid force flag")
			return
		}
		req.Force = force
	}
	if v := r.URL.Query().Get("tier"); v != "" {
		req.Tier = v
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	last, err := ingest.WriteNDJSON(w, s.ingester.Run(ctx, req))
	if err != nil {
		log.Warn().Err(err).Int64("document_id", id).Msg("Progress stream closed by client")
		cancel()
		return
	}
	log.Info().Int64("document_id", id).Str("step", last.Step).Msg("Ingestion request finished")
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	rc, err := s.retriever.AssembleContext(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		var vErr *models.ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Msg("Search failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
