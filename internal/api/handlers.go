package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"unlocker/internal/domain"
	"unlocker/internal/storage"
)

// resolveRequest is the payload for POST /api/resolve.
type resolveRequest struct {
	URLs []string `json:"urls"`
}

type resolveResponse struct {
	Accepted []acceptedTask `json:"accepted"`
}

type acceptedTask struct {
	ID        string `json:"id"`
	SourceURL string `json:"source_url"`
}

func (s *Server) handleResolveRequest(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if len(req.URLs) == 0 {
		s.respondWithError(w, http.StatusBadRequest, "URLs list cannot be empty")
		return
	}

	accepted := make([]acceptedTask, 0, len(req.URLs))
	for _, u := range req.URLs {
		if _, err := url.ParseRequestURI(u); err != nil {
			s.respondWithError(w, http.StatusBadRequest, "Invalid URL in list: "+u)
			return
		}
		task := s.orchestrator.Submit(domain.LinkInput{URL: u})
		accepted = append(accepted, acceptedTask{ID: task.ID, SourceURL: task.SourceURL})
	}

	s.respondWithJSON(w, http.StatusAccepted, resolveResponse{Accepted: accepted})
}

func (s *Server) handleStatusRequest(w http.ResponseWriter, r *http.Request) {
	urlParam := r.URL.Query().Get("url")
	if urlParam == "" {
		s.respondWithError(w, http.StatusBadRequest, "URL query parameter is required")
		return
	}
	if s.pgStore == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "Result store is not configured")
		return
	}

	result, err := s.pgStore.GetResult(r.Context(), urlParam)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondWithError(w, http.StatusNotFound, "No result for URL")
			return
		}
		s.logger.Error("failed to get resolution result", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not retrieve result")
		return
	}

	s.respondWithJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	healthStatus := make(map[string]string)
	healthy := true

	if s.pgStore != nil {
		if err := s.pgStore.Ping(ctx); err != nil {
			healthStatus["postgres"] = "unhealthy"
			healthy = false
			s.logger.Error("health check failed for postgres", zap.Error(err))
		} else {
			healthStatus["postgres"] = "healthy"
		}
	} else {
		healthStatus["postgres"] = "disabled"
	}

	if s.redisStore != nil {
		if err := s.redisStore.Ping(ctx); err != nil {
			healthStatus["redis"] = "unhealthy"
			healthy = false
			s.logger.Error("health check failed for redis", zap.Error(err))
		} else {
			healthStatus["redis"] = "healthy"
		}
	} else {
		healthStatus["redis"] = "disabled"
	}

	if !healthy {
		s.respondWithJSON(w, http.StatusServiceUnavailable, healthStatus)
		return
	}
	s.respondWithJSON(w, http.StatusOK, healthStatus)
}

// --- Helper Functions ---

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
