package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/user/sitemap-crawler/internal/delivery/http/request"
	"github.com/user/sitemap-crawler/internal/delivery/http/response"
	"github.com/user/sitemap-crawler/internal/repository"
	"github.com/user/sitemap-crawler/internal/sitemap"
	"github.com/user/sitemap-crawler/internal/usecase"
)

type Handler struct {
	jobManager usecase.JobManager
	logger     *zap.Logger
}

func NewHandler(jobManager usecase.JobManager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		jobManager: jobManager,
		logger:     logger,
	}
}

func (h *Handler) HandleSubmitCrawl(w http.ResponseWriter, r *http.Request) {
	var req request.SubmitCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.MaxPages < 0 {
		h.writeJSONError(w, "max_pages must not be negative", http.StatusBadRequest)
		return
	}

	job, err := h.jobManager.Submit(r.Context(), usecase.SubmitRequest{
		URL:        req.URL,
		ForceCrawl: req.ForceCrawl,
		MaxPages:   req.MaxPages,
	})
	switch {
	case errors.Is(err, usecase.ErrURLRecentlyCrawled):
		h.writeJSON(w, http.StatusConflict, response.SubmitCrawlResponse{
			Status:         "conflict",
			Message:        err.Error(),
			CrawlRequestID: job.ID,
		})
		return
	case errors.Is(err, usecase.ErrInvalidSeed):
		h.writeJSONError(w, "Invalid URL format", http.StatusBadRequest)
		return
	case err != nil:
		h.logger.Error("Failed to submit URL", zap.String("url", req.URL), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := response.SubmitCrawlResponse{
		Status:         "success",
		Message:        "URL submitted for crawling",
		CrawlRequestID: job.ID,
	}
	h.writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) HandleGetCrawlStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeJSONError(w, "id query parameter is required", http.StatusBadRequest)
		return
	}

	job, err := h.jobManager.GetStatus(r.Context(), id)
	if errors.Is(err, repository.ErrJobNotFound) {
		h.writeJSONError(w, "Crawl job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("Failed to get crawl status", zap.String("id", id), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, response.NewCrawlStatusResponse(job))
}

func (h *Handler) HandleGetSitemap(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeJSONError(w, "id query parameter is required", http.StatusBadRequest)
		return
	}
	format, err := sitemap.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Buffered so a failure can still produce a JSON error.
	var buf bytes.Buffer
	err = h.jobManager.Sitemap(r.Context(), id, &buf, format)
	switch {
	case errors.Is(err, repository.ErrJobNotFound):
		h.writeJSONError(w, "Crawl job not found", http.StatusNotFound)
		return
	case errors.Is(err, usecase.ErrJobNotFinished):
		h.writeJSONError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		h.logger.Error("Failed to render sitemap", zap.String("id", id), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Warn("Failed to write sitemap response", zap.Error(err))
	}
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
