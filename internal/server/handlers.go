package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/dispict/internal/models"
	"github.com/hyperjump/dispict/internal/search"
	"github.com/hyperjump/dispict/internal/storage"
	"go.uber.org/zap"
)

// suggestionQuery reads text and n from the query string, or from a JSON
// body on POST.
func (s *Server) suggestionQuery(r *http.Request) (*models.SuggestionQuery, error) {
	var query models.SuggestionQuery
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
			return nil, errors.New("invalid request body")
		}
		return &query, nil
	}
	query.Text = r.URL.Query().Get("text")
	if n := r.URL.Query().Get("n"); n != "" {
		limit, err := strconv.Atoi(n)
		if err != nil || limit < 0 {
			return nil, errors.New("n must be a non-negative integer")
		}
		query.Limit = limit
	}
	return &query, nil
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	query, err := s.suggestionQuery(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("suggestions request", zap.String("text", query.Text), zap.Int("n", query.Limit))
	response, err := s.engine.Suggest(r.Context(), query)
	if err != nil {
		s.respondQueryError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

type compatSuggestion struct {
	Score   float64         `json:"score"`
	Artwork *models.Artwork `json:"artwork"`
}

// handleSuggestionsCompat returns a bare array of {score, artwork} objects.
func (s *Server) handleSuggestionsCompat(w http.ResponseWriter, r *http.Request) {
	query, err := s.suggestionQuery(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	response, err := s.engine.Suggest(r.Context(), query)
	if err != nil {
		s.respondQueryError(w, err)
		return
	}
	out := make([]compatSuggestion, len(response.Results))
	for i, res := range response.Results {
		out[i] = compatSuggestion{Score: res.Score, Artwork: res.Artwork}
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetArtwork(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid artwork id")
		return
	}
	art, ok := s.engine.Lookup(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, "artwork not found")
		return
	}
	s.respondJSON(w, http.StatusOK, art)
}

func (s *Server) handleFindArtworks(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("q")
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	s.logger.Debug("find request", zap.String("q", text), zap.Int("limit", limit))
	results, err := s.engine.Find(r.Context(), text, limit)
	if err != nil {
		s.respondQueryError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"total":   len(results),
		"query":   text,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"engine": s.engine.Status(),
	}
	if s.ledger != nil {
		run, err := s.ledger.LastRun(r.Context())
		switch {
		case err == nil:
			resp["last_run"] = run
		case !errors.Is(err, storage.ErrRunNotFound):
			s.logger.Warn("status: last run lookup failed", zap.Error(err))
		}
	}
	diskBytes, err := storage.DiskUsageBytes(
		s.config.Storage.VectorStorePath,
		s.config.Storage.LedgerPath,
		s.config.Storage.KeywordIndexPath,
	)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	resp["config"] = map[string]interface{}{
		"vector_index_type":    s.config.Vector.IndexType,
		"embedding_dimensions": s.config.Embedding.Dimensions,
		"vector_store_path":    s.config.Storage.VectorStorePath,
		"catalog_path":         s.config.Catalog.Path,
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.respondError(w, http.StatusNotImplemented, "run ledger not configured")
		return
	}
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.ledger.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (s *Server) handleListFailures(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.respondError(w, http.StatusNotImplemented, "run ledger not configured")
		return
	}
	runID := chi.URLParam(r, "id")
	failures, err := s.ledger.ListFailures(r.Context(), runID)
	if err != nil {
		s.logger.Error("list failures failed", zap.String("run_id", runID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"run_id": runID, "failures": failures})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Reload(r.Context(), s.config.Storage.VectorStorePath); err != nil {
		s.logger.Error("reload failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, s.engine.Status())
}

// respondQueryError maps query errors to status codes. An unloaded store is
// reported as 503 rather than an empty result.
func (s *Server) respondQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrEmptyQuery):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrStoreNotLoaded):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, search.ErrNoKeywordIndex):
		s.respondError(w, http.StatusNotImplemented, err.Error())
	default:
		s.logger.Error("query failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
