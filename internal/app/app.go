package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"streetvision/internal/capture"
	"streetvision/internal/config"
	"streetvision/internal/detector"
	"streetvision/internal/detector/remote"
	"streetvision/internal/detector/ssd"
	"streetvision/internal/logger"
	"streetvision/internal/metrics"
	"streetvision/internal/pipeline"
	"streetvision/internal/repository/sqlite"
	"streetvision/internal/routes"
	"streetvision/internal/service/storage"
	livews "streetvision/internal/service/websocket"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config   *config.Config
	logger   *logger.Logger
	registry *prometheus.Registry
	detector detector.Detector
	runner   *pipeline.Runner
	hub      *livews.HubService
	live     *livews.LiveObserver
	snaps    *storage.SnapshotService
	db       *sqlite.DB
	repo     *sqlite.AnalysisRepository
}

// NewApp wires the pipeline, its detector and the HTTP services from cfg.
func NewApp(cfg *config.Config) (*App, error) {
	log, err := logger.New(cfg.Logging())
	if err != nil {
		return nil, err
	}

	a := &App{config: cfg, logger: log}
	if err := a.init(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) init() error {
	cfg := a.config

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	det, err := NewDetector(cfg, a.logger)
	if err != nil {
		return err
	}
	a.detector = det

	opener := &capture.Opener{
		DeviceWidth:  cfg.DeviceWidth,
		DeviceHeight: cfg.DeviceHeight,
		DeviceFPS:    cfg.DeviceFPS,
	}

	a.runner, err = pipeline.NewRunner(cfg.Pipeline(), opener, det,
		pipeline.WithLogger(a.logger),
		pipeline.WithMetrics(metrics.New(a.registry)),
	)
	if err != nil {
		return err
	}

	a.hub = livews.NewHubService(a.logger)
	a.live = livews.NewLiveObserver(a.hub, cfg.PreviewFPS, a.logger)
	if cfg.SnapshotDir != "" {
		a.snaps = storage.NewSnapshotService(cfg.SnapshotDir, cfg.SnapshotLimit, a.logger)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	a.db, err = sqlite.New(cfg.DBPath)
	if err != nil {
		return err
	}
	a.repo = sqlite.NewAnalysisRepository(a.db)
	return nil
}

// NewDetector returns the remote detector when DETECTOR_URL is set and the
// local SSD model otherwise.
func NewDetector(cfg *config.Config, log *logger.Logger) (detector.Detector, error) {
	if cfg.DetectorURL != "" {
		log.Info("Using remote detector at %s", cfg.DetectorURL)
		return remote.New(cfg.RemoteDetector())
	}

	log.Info("Loading detection model %s", cfg.ModelPath)
	return ssd.New(cfg.ModelPath, cfg.ModelConfigPath, log)
}

// Run serves the API until ctx is cancelled, then stops the pipeline and
// shuts the server down.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()
	go a.hub.Run(bgCtx)

	observers := pipeline.Observers{a.live}
	snapsDone := make(chan struct{})
	if a.snaps != nil {
		go func() {
			a.snaps.Run(bgCtx, a.config.SnapshotInterval)
			close(snapsDone)
		}()
		observers = append(observers, a.snaps)
	} else {
		close(snapsDone)
	}

	router := routes.SetupRoutes(routes.Deps{
		Runner:     a.runner,
		Observer:   observers,
		Hub:        a.hub,
		Repository: a.repo,
		Logger:     a.logger,
		Gatherer:   a.registry,
		APIToken:   a.config.APIToken,
		ExportDir:  a.config.ExportDir,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.Info("Street analysis server listening on :%d", a.config.Port)
	if a.config.APIToken == "" {
		a.logger.Warning("API_TOKEN is empty, the API is unauthenticated")
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	a.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.runner.Stop()
	select {
	case <-a.runner.Done():
	case <-shutdownCtx.Done():
		a.logger.Warning("Pipeline did not stop within %s", shutdownTimeout)
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Server shutdown failed: %v", err)
	}

	stopBackground()
	<-snapsDone
	return serveErr
}

func (a *App) close() {
	if c, ok := a.detector.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Warning("Failed to close detector: %v", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warning("Failed to close database: %v", err)
		}
	}
	a.logger.Close()
}
