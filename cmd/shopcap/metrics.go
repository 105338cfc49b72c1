package main

import (
	"fmt"
	"os"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"shopcap/internal/metrics"
)

func newMetricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Aggregate the structured event log",
	}
	cmd.AddCommand(newMetricsReportCmd(), newMetricsExportCmd())
	return cmd
}

func metricsOptions(hours int, profile, proxy string) metrics.Options {
	opts := metrics.Options{Profile: profile, Proxy: proxy}
	if hours > 0 {
		opts.SinceTS = time.Now().Add(-time.Duration(hours) * time.Hour).Unix()
	}
	return opts
}

func newMetricsReportCmd() *cobra.Command {
	var (
		hours   int
		profile string
		proxy   string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the per-profile capture summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			buckets, overall, err := metrics.Aggregate(a.Cfg.EventLogPath(), metricsOptions(hours, profile, proxy))
			if err != nil {
				return err
			}
			return metrics.Report(os.Stdout, buckets, overall)
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 0, "only include the last N hours")
	cmd.Flags().StringVar(&profile, "profile", "", "filter by profile")
	cmd.Flags().StringVar(&proxy, "proxy", "", "filter by proxy")
	return cmd
}

func newMetricsExportCmd() *cobra.Command {
	var (
		hours   int
		profile string
		proxy   string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write metrics_summary.csv/.json",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			buckets, overall, err := metrics.Aggregate(a.Cfg.EventLogPath(), metricsOptions(hours, profile, proxy))
			if err != nil {
				return err
			}
			csvPath, jsonPath, err := metrics.Export(buckets, overall, a.Cfg.DataDir)
			if err != nil {
				return err
			}
			fmt.Printf("wrote %s and %s\n", csvPath, jsonPath)
			return nil
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 0, "only include the last N hours")
	cmd.Flags().StringVar(&profile, "profile", "", "filter by profile")
	cmd.Flags().StringVar(&proxy, "proxy", "", "filter by proxy")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent capture runs from the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Catalog == nil {
				return fmt.Errorf("capture catalog unavailable")
			}
			runs, err := a.Catalog.Recent(limit)
			if err != nil {
				return err
			}
			table := uitable.New()
			table.MaxColWidth = 60
			table.AddRow("WHEN", "KIND", "CAPTURED", "DURATION (S)", "OUTPUT")
			for _, r := range runs {
				table.AddRow(r.CreatedAt.Format(time.DateTime), r.Kind, r.Captured,
					fmt.Sprintf("%.2f", r.DurationS), r.Output)
			}
			fmt.Println(table)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}
