package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"streetvision/internal/app"
	"streetvision/internal/capture"
	"streetvision/internal/config"
	"streetvision/internal/export"
	"streetvision/internal/logger"
	"streetvision/internal/pipeline"
	"streetvision/internal/repository"
	"streetvision/internal/repository/sqlite"
	"streetvision/internal/source"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// run executes one analysis and returns the process exit code. Every path
// returns through the deferred cleanup so the log files are flushed.
func run(args []string, stdout io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}

	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	src := fs.String("source", "0", "Device index, video file or stream URL")
	out := fs.String("out", "", "Export file (.json or .json.gz)")
	dbPath := fs.String("db", "", "Also save the analysis into this SQLite database")
	fs.IntVar(&cfg.TargetRate, "rate", cfg.TargetRate, "Detections per second")
	fs.IntVar(&cfg.FrameStride, "stride", cfg.FrameStride, "Process every Nth frame")
	fs.IntVar(&cfg.MaxHistory, "history", cfg.MaxHistory, "Results kept in memory")
	fs.Float64Var(&cfg.ConfidenceThreshold, "threshold", cfg.ConfidenceThreshold, "Minimum detection confidence")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		log.Printf("Invalid settings: %v", err)
		return 2
	}

	desc, err := source.ParseDescriptor(*src)
	if err != nil {
		log.Printf("Invalid source: %v", err)
		return 2
	}

	logs, err := logger.New(cfg.Logging())
	if err != nil {
		log.Printf("Failed to create logger: %v", err)
		return 1
	}
	defer logs.Close()

	det, err := app.NewDetector(cfg, logs)
	if err != nil {
		logs.Error("Failed to create detector: %v", err)
		return 1
	}
	if c, ok := det.(io.Closer); ok {
		defer c.Close()
	}

	opener := &capture.Opener{DeviceWidth: cfg.DeviceWidth, DeviceHeight: cfg.DeviceHeight, DeviceFPS: cfg.DeviceFPS}
	runner, err := pipeline.NewRunner(cfg.Pipeline(), opener, det, pipeline.WithLogger(logs))
	if err != nil {
		logs.Error("Failed to create pipeline: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(stdout, "Analyzing %s (press Ctrl+C to stop)\n", desc)
	runErr := runner.Run(ctx, desc, nil)

	doc := runner.Document()
	printSummary(stdout, doc)

	code := 0
	if *out != "" {
		if err := export.WriteFile(*out, doc); err != nil {
			logs.Error("Failed to export results: %v", err)
			code = 1
		} else {
			fmt.Fprintf(stdout, "Results exported to %s\n", *out)
		}
	}

	if *dbPath != "" {
		id, err := saveAnalysis(*dbPath, desc, doc)
		if err != nil {
			logs.Error("Failed to save analysis: %v", err)
			code = 1
		} else {
			fmt.Fprintf(stdout, "Analysis saved as %s in %s\n", id, *dbPath)
		}
	}

	if runErr != nil {
		logs.Error("Analysis ended with error: %v", runErr)
		code = 1
	}
	return code
}

func saveAnalysis(dbPath string, desc source.Descriptor, doc export.Document) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sqlite.New(dbPath)
	if err != nil {
		return "", err
	}
	defer db.Close()

	return sqlite.NewAnalysisRepository(db).Save(context.Background(), repository.Analysis{
		Source:    desc.String(),
		CreatedAt: time.Now(),
		Document:  doc,
	})
}

func printSummary(w io.Writer, doc export.Document) {
	s := doc.AnalysisInfo.Statistics
	fmt.Fprintf(w, "\nAnalysis summary\n")
	fmt.Fprintf(w, "   Frames processed:     %d\n", s.FrameCount)
	fmt.Fprintf(w, "   Average people:       %.2f (max %d)\n", s.MeanPeople, s.MaxPeople)
	fmt.Fprintf(w, "   Average vehicles:     %.2f (max %d)\n", s.MeanVehicles, s.MaxVehicles)
	fmt.Fprintf(w, "   Avg processing time:  %.3fs\n", s.MeanProcessingDuration)
	fmt.Fprintf(w, "   Effective FPS:        %.2f\n", s.EffectiveFPS)
}
