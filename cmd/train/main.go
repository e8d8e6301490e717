package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fraud-detector/internal/cfg"
	"fraud-detector/internal/common"
	"fraud-detector/internal/features"
	"fraud-detector/internal/metrics"
	"fraud-detector/internal/ml"
	"fraud-detector/internal/storage"
	"fraud-detector/internal/train"
	"fraud-detector/internal/transaction"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		inputPath = flag.String("input", "", "Labelled transactions CSV (default: DATASET_PATH)")
		modelName = flag.String("model", "all", "Model to train: isolation_forest, xgboost or all")
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

	var models []string
	switch *modelName {
	case "all":
		models = []string{common.ModelIsolationForest, common.ModelXGBoost}
	case common.ModelIsolationForest, common.ModelXGBoost:
		models = []string{*modelName}
	default:
		log.Fatal().Str("model", *modelName).Msg("unknown model")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mw := metrics.NewWrapper(metrics.New())

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

	tc := train.DefaultConfig()
	tc.Forest = ml.IForestConfig{
		NumTrees:      c.IForestTrees,
		SampleSize:    c.IForestSampleSize,
		Contamination: c.IForestContamination,
		Seed:          c.RandomSeed,
	}
	tc.Classifier.Seed = c.RandomSeed
	tc.Seed = c.RandomSeed
	tc.InferenceTimeout = c.InferenceTimeout

	trainer := train.NewTrainer(features.NewPipeline(mw), store, registry, mw, tc)

	table, err := transaction.LoadCSV(*inputPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read training data")
	}
	log.Info().Str("path", *inputPath).Int("rows", table.Len()).Msg("training data loaded")

	failed := 0
	for _, name := range models {
		res, err := trainer.Train(ctx, table, name)
		if err != nil {
			log.Error().Err(err).Str("model", name).Msg("training failed")
			failed++
			continue
		}

		fmt.Printf("%s version %s trained on %d rows\n", name, res.Version.Version, res.Version.Metrics.TrainingSamples)
		if ev := res.Evaluation; ev != nil {
			fmt.Printf("  accuracy %.4f  precision %.4f  recall %.4f  f1 %.4f\n",
				ev.Accuracy, ev.Precision, ev.Recall, ev.F1Score)
		}
	}

	if failed == len(models) {
		os.Exit(1)
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
