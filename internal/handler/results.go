package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"streetvision/internal/export"
	"streetvision/internal/logger"
	"streetvision/internal/pipeline"
)

type resultsResponse struct {
	Count   int                  `json:"count"`
	Results []export.FrameRecord `json:"results"`
}

// ResultsHandler returns the newest results, oldest first. ?limit=N bounds
// the count; without it the whole history is returned.
func ResultsHandler(runner *pipeline.Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := -1
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				badRequest(w, "limit must be a non-negative integer")
				return
			}
			limit = n
		}

		results := runner.Snapshot()
		if limit >= 0 {
			results = runner.Recent(limit)
		}

		records := make([]export.FrameRecord, 0, len(results))
		for _, res := range results {
			records = append(records, export.Record(res))
		}
		writeJSON(w, http.StatusOK, resultsResponse{Count: len(records), Results: records})
	}
}

// ClearResultsHandler empties the history. Refused while a run is active.
func ClearResultsHandler(runner *pipeline.Runner, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := runner.Reset(); err != nil {
			writeError(w, logger, err)
			return
		}
		logger.Info("Result history cleared")
		w.WriteHeader(http.StatusNoContent)
	}
}

func StatisticsHandler(runner *pipeline.Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, runner.Statistics())
	}
}

// ExportHandler downloads the history as JSON or gzip (?format=json|gzip).
func ExportHandler(runner *pipeline.Runner, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exporter, err := export.ForFormat(r.URL.Query().Get("format"))
		if err != nil {
			badRequest(w, err.Error())
			return
		}

		var buf bytes.Buffer
		if err := runner.Export(&buf, exporter); err != nil {
			writeError(w, logger, err)
			return
		}

		filename := fmt.Sprintf("analysis_%s%s", time.Now().Format("20060102_150405"), exporter.Extension())
		w.Header().Set("Content-Type", exporter.ContentType())
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		w.WriteHeader(http.StatusOK)
		buf.WriteTo(w)
	}
}
