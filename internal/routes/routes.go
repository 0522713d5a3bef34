package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streetvision/internal/handler"
	"streetvision/internal/logger"
	"streetvision/internal/middleware"
	"streetvision/internal/pipeline"
	"streetvision/internal/repository"
	livews "streetvision/internal/service/websocket"
)

// Deps are the services the HTTP API is built on. Repository is optional;
// without it the /api/analyses routes are not mounted.
type Deps struct {
	Runner     *pipeline.Runner
	Observer   pipeline.Observer
	Hub        *livews.HubService
	Repository repository.AnalysisRepository
	Logger     *logger.Logger
	Gatherer   prometheus.Gatherer
	APIToken   string
	ExportDir  string
}

// SetupRoutes registers the API, log and metrics endpoints behind the
// token middleware.
func SetupRoutes(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.TokenAuth(d.APIToken))

	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/pipeline/start", handler.StartPipelineHandler(d.Runner, d.Observer, d.Logger))
		r.Post("/pipeline/stop", handler.StopPipelineHandler(d.Runner))
		r.Get("/pipeline/status", handler.StatusHandler(d.Runner))
		r.Put("/pipeline/settings", handler.SettingsHandler(d.Runner, d.Logger))

		r.Get("/results", handler.ResultsHandler(d.Runner))
		r.Delete("/results", handler.ClearResultsHandler(d.Runner, d.Logger))
		r.Get("/statistics", handler.StatisticsHandler(d.Runner))
		r.Get("/export", handler.ExportHandler(d.Runner, d.Logger))
		if d.ExportDir != "" {
			r.Post("/export", handler.SaveExportHandler(d.Runner, d.ExportDir, d.Logger))
		}

		if d.Repository != nil {
			r.Post("/analyses", handler.SaveAnalysisHandler(d.Runner, d.Repository, d.Logger))
			r.Get("/analyses", handler.ListAnalysesHandler(d.Repository, d.Logger))
			r.Get("/analyses/{id}", handler.GetAnalysisHandler(d.Repository, d.Logger))
			r.Delete("/analyses/{id}", handler.DeleteAnalysisHandler(d.Repository, d.Logger))
		}

		if d.Hub != nil {
			r.Get("/view", handler.ViewWebsocketHandler(d.Hub, d.Logger))
		}
	})

	r.Get("/logs/{level}", handler.ShowLogsHandler(d.Logger))
	r.Post("/logs/{level}/clear", handler.ClearLogsHandler(d.Logger))

	return r
}
