package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fraud-detector/internal/cfg"
	"fraud-detector/internal/detect"
	"fraud-detector/internal/metrics"
	"fraud-detector/internal/ml"
	"fraud-detector/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		modelName = flag.String("model", "", "Model to serve (default: DEFAULT_MODEL)")
		port      = flag.Int("port", 0, "Listen port (default: MODEL_SERVER_PORT)")
		logLevel  = flag.String("log-level", "", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(*logLevel, c.LogLevel)

	if *modelName == "" {
		*modelName = c.DefaultModel
	}
	if *port == 0 {
		*port = c.ModelServerPort
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mw := metrics.NewWrapper(metrics.New())

	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Fatal().Err(err).Msg("storage initialization failed")
	}
	defer store.Close()

	registry, err := ml.NewModelManager(c.ModelsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("model registry initialization failed")
	}

	loader := &detect.Loader{
		Store:            store,
		Registry:         registry,
		Metrics:          mw,
		InferenceTimeout: c.InferenceTimeout,
		RemoteTimeout:    c.RemoteTimeout,
	}
	d, err := loader.Load(ctx, *modelName)
	if err != nil {
		log.Fatal().Err(err).Str("model", *modelName).Msg("failed to load model")
	}

	startMetricsServer(ctx, c.MetricsPort)

	server := ml.NewModelServer(d.Model, *port, c.InferenceTimeout)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("model server failed")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shutdown model server")
	}
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
