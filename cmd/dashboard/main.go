package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fraud-detector/internal/cfg"
	"fraud-detector/internal/dashboard"
	"fraud-detector/internal/detect"
	"fraud-detector/internal/features"
	"fraud-detector/internal/metrics"
	"fraud-detector/internal/ml"
	"fraud-detector/internal/storage"
	"fraud-detector/internal/transaction"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		inputPath = flag.String("input", "", "Labelled transactions CSV to analyse (default: DATASET_PATH)")
		port      = flag.Int("port", 0, "Dashboard port (default: DASHBOARD_PORT)")
		logLevel  = flag.String("log-level", "", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(*logLevel, c.LogLevel)

	if *inputPath == "" {
		*inputPath = c.DatasetPath
	}
	if *port == 0 {
		*port = c.DashboardPort
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mw := metrics.NewWrapper(metrics.New())

	store := initializeStorage(c)
	if store != nil {
		defer store.Close()
	}

	var (
		detector dashboard.Detector
		runs     dashboard.RunLister
		runStore detect.RunStore
	)
	if store != nil {
		runs, runStore = store, store
	}
	svc := detect.NewService(features.NewPipeline(mw), mw, runStore, c.InferenceTimeout)

	if store != nil {
		if registry, err := ml.NewModelManager(c.ModelsDir); err != nil {
			log.Warn().Err(err).Msg("model registry unavailable, predictions disabled")
		} else {
			loader := &detect.Loader{
				Store:            store,
				Registry:         registry,
				Metrics:          mw,
				InferenceTimeout: c.InferenceTimeout,
				RemoteTimeout:    c.RemoteTimeout,
			}
			if err := loader.LoadAll(ctx, svc, c.ModelServerURL); err != nil {
				log.Warn().Err(err).Msg("no model loaded, predictions disabled")
			} else {
				detector = svc
			}
		}
	}

	table, err := transaction.LoadCSV(*inputPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read dataset")
	}

	dash, err := dashboard.NewDashboard(table, detector, runs, c.DefaultModel, *port)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build dashboard")
	}
	svc.OnRun(dash.NotifyRun)

	startMetricsServer(ctx, c.MetricsPort)

	if err := dash.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start dashboard")
	}

	<-ctx.Done()
	log.Info().Msg("shutting down gracefully...")
	if err := dash.Stop(); err != nil {
		log.Error().Err(err).Msg("dashboard shutdown failed")
	}
}

// initializeStorage opens the store, or returns nil when it cannot be opened.
func initializeStorage(c cfg.Settings) *storage.Store {
	if err := os.MkdirAll(c.DataPath, 0o755); err != nil {
		log.Warn().Err(err).Msg("failed to create data directory, continuing without persistence")
		return nil
	}
	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("storage initialization failed, continuing without persistence")
		return nil
	}
	return store
}

func startMetricsServer(ctx context.Context, port int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		if err := server.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to shutdown metrics server")
		}
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func setupLogging(flagLevel, configLevel string) {
	name := flagLevel
	if name == "" {
		name = configLevel
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
