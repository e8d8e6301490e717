package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"fraud-detector/internal/synth"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		output    = flag.String("output", "fake_transactions.csv", "Output CSV path")
		count     = flag.Int("n", 100, "Number of transactions to generate")
		seed      = flag.Uint64("seed", uint64(time.Now().UnixNano()), "Random seed")
		fraudRate = flag.Float64("fraud-rate", synth.DefaultFraudRate, "Share of transactions labelled as fraud")
		logLevel  = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *fraudRate < 0 || *fraudRate > 1 {
		log.Fatal().Float64("fraud_rate", *fraudRate).Msg("fraud rate must be between 0 and 1")
	}

	g := synth.NewGenerator(*seed, time.Now())
	g.FraudRate = *fraudRate
	if err := g.WriteCSV(*output, *count); err != nil {
		log.Fatal().Err(err).Msg("failed to generate transactions")
	}

	fmt.Printf("%d fake transactions saved to %s\n", *count, *output)
}
