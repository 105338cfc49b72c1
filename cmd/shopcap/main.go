package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"shopcap/internal/app"
	"shopcap/internal/config"
	"shopcap/internal/logger"
)

var logLevel string

func main() {
	root := &cobra.Command{
		Use:           "shopcap",
		Short:         "CDP-driven e-commerce capture pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "console log level")

	root.AddCommand(
		newCaptureCmd(),
		newSearchCmd(),
		newBatchCmd(),
		newEnrichCmd(),
		newQueueCmd(),
		newMetricsCmd(),
		newHistoryCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// buildApp loads config and assembles the pipeline for one command run.
func buildApp() (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logLevel)
	return app.New(cfg, log)
}
