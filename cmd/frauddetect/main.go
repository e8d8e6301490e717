package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fraud-detector/internal/cfg"
	"fraud-detector/internal/detect"
	"fraud-detector/internal/evaluation"
	"fraud-detector/internal/features"
	"fraud-detector/internal/metrics"
	"fraud-detector/internal/ml"
	"fraud-detector/internal/storage"
	"fraud-detector/internal/transaction"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		inputPath  = flag.String("input", "", "Transactions CSV to score (default: DATASET_PATH)")
		outputPath = flag.String("output", "predictions.csv", "Where to write the scored CSV")
		modelName  = flag.String("model", "", "Model to use: isolation_forest or xgboost (default: DEFAULT_MODEL)")
		remoteURL  = flag.String("remote", "", "Score with a model server instead of a local model (default: MODEL_SERVER_URL)")
		reportDir  = flag.String("report", "", "Write an evaluation report here when the input is labelled")
		logLevel   = flag.String("log-level", "", "Log level: debug, info, warn, error")
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
	if *remoteURL == "" {
		*remoteURL = c.ModelServerURL
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	if err := os.MkdirAll(c.DataPath, 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create data directory")
	}
	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Fatal().Err(err).Msg("storage initialization failed")
	}
	defer store.Close()

	registry, err := ml.NewModelManager(c.ModelsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("model registry initialization failed")
	}

	svc := detect.NewService(features.NewPipeline(mw), mw, store, c.InferenceTimeout)
	loader := &detect.Loader{
		Store:            store,
		Registry:         registry,
		Metrics:          mw,
		InferenceTimeout: c.InferenceTimeout,
		RemoteTimeout:    c.RemoteTimeout,
	}

	model := *modelName
	if *remoteURL != "" {
		d, err := loader.LoadRemote(ctx, *remoteURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to model server")
		}
		if err := svc.Register(d); err != nil {
			log.Fatal().Err(err).Msg("failed to register remote model")
		}
		model = d.Model.Name
	} else {
		if model == "" {
			model = c.DefaultModel
		}
		d, err := loader.Load(ctx, model)
		if err != nil {
			log.Fatal().Err(err).Str("model", model).Msg("failed to load model, train it first")
		}
		if err := svc.Register(d); err != nil {
			log.Fatal().Err(err).Msg("failed to register model")
		}
	}

	table, err := transaction.LoadCSV(*inputPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read transactions")
	}

	res, err := svc.Detect(ctx, table, model)
	if err != nil {
		log.Fatal().Err(err).Msg("detection failed")
	}

	if err := res.Output.SaveCSV(*outputPath); err != nil {
		log.Fatal().Err(err).Msg("failed to write predictions")
	}

	fmt.Printf("Scored %d transactions with %s (%s): %d flagged as fraud (%.2f%%)\n",
		res.Run.Rows, res.Run.Model, res.Run.Version, res.Run.Frauds, res.Run.FraudRate*100)
	fmt.Printf("Predictions written to %s\n", *outputPath)

	if res.Drift != nil && len(res.Drift.Drifted) > 0 {
		log.Warn().Strs("features", res.Drift.Drifted).Msg("input distribution differs from training data")
	}

	if res.Evaluation != nil {
		reporter := evaluation.NewReporter(res.Evaluation, *reportDir)
		reporter.PrintSummary()
		if *reportDir != "" {
			if err := reporter.GenerateReport(); err != nil {
				log.Fatal().Err(err).Msg("failed to write evaluation report")
			}
			fmt.Printf("Evaluation report written to %s\n", *reportDir)
		}
	}
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
