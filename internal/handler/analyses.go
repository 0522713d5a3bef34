package handler

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"streetvision/internal/export"
	"streetvision/internal/logger"
	"streetvision/internal/pipeline"
	"streetvision/internal/repository"
)

type analysesResponse struct {
	Analyses    []repository.AnalysisSummary `json:"analyses"`
	Length      int                          `json:"length"`
	TotalPages  int                          `json:"total_pages"`
	CurrentPage int                          `json:"current_page"`
	Limit       int                          `json:"limit"`
}

type savedResponse struct {
	ID     string `json:"id,omitempty"`
	Path   string `json:"path,omitempty"`
	Frames int    `json:"frames"`
}

// SaveAnalysisHandler stores the current history in the analysis repository.
func SaveAnalysisHandler(runner *pipeline.Runner, repo repository.AnalysisRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc := runner.Document()
		id, err := repo.Save(r.Context(), repository.Analysis{
			Source:    runner.Status().Source,
			CreatedAt: time.Now(),
			Document:  doc,
		})
		if err != nil {
			writeError(w, logger, err)
			return
		}

		logger.Info("Saved analysis %s with %d frames", id, len(doc.FrameResults))
		writeJSON(w, http.StatusCreated, savedResponse{ID: id, Frames: len(doc.FrameResults)})
	}
}

// ListAnalysesHandler returns saved analyses, newest first, paginated with
// ?page= and ?limit=.
func ListAnalysesHandler(repo repository.AnalysisRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), 24)

		all, err := repo.List(r.Context())
		if err != nil {
			writeError(w, logger, err)
			return
		}

		start := min((page-1)*limit, len(all))
		end := min(start+limit, len(all))
		items := all[start:end]
		if items == nil {
			items = []repository.AnalysisSummary{}
		}

		writeJSON(w, http.StatusOK, analysesResponse{
			Analyses:    items,
			Length:      len(all),
			TotalPages:  (len(all) + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		})
	}
}

// GetAnalysisHandler returns a saved analysis in export form.
func GetAnalysisHandler(repo repository.AnalysisRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := repo.Load(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
			return
		}
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func DeleteAnalysisHandler(repo repository.AnalysisRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := repo.Delete(r.Context(), id)
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
			return
		}
		if err != nil {
			writeError(w, logger, err)
			return
		}

		logger.Info("Deleted analysis: %s", id)
		w.WriteHeader(http.StatusNoContent)
	}
}

// SaveExportHandler writes the current history into exportDir
// (?format=json|gzip) and returns the file path.
func SaveExportHandler(runner *pipeline.Runner, exportDir string, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exporter, err := export.ForFormat(r.URL.Query().Get("format"))
		if err != nil {
			badRequest(w, err.Error())
			return
		}

		doc := runner.Document()
		name := fmt.Sprintf("analysis_%s%s", time.Now().Format("20060102_150405"), exporter.Extension())
		path := filepath.Join(exportDir, name)
		if err := export.WriteFile(path, doc); err != nil {
			writeError(w, logger, err)
			return
		}

		logger.Info("Results exported to %s", path)
		writeJSON(w, http.StatusCreated, savedResponse{Path: path, Frames: len(doc.FrameResults)})
	}
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}
