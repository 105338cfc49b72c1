package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"shopcap/internal/capture"
	"shopcap/pkg/model"
)

func secsFlag(v float64) time.Duration { return time.Duration(v * float64(time.Second)) }

func newCaptureCmd() *cobra.Command {
	var (
		timeoutS float64
		doExport bool
	)
	cmd := &cobra.Command{
		Use:   "capture <pdp-url>",
		Short: "Capture matching API responses from one product page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			jsonl, n, err := a.PDPCapture(cmd.Context(), args[0], secsFlag(timeoutS))
			if jsonl != "" {
				fmt.Printf("captured %d records → %s\n", n, jsonl)
			}
			if err != nil {
				return err
			}
			if doExport {
				jsonOut, csvOut, rows, err := a.Exp.PDPFromJSONL(jsonl)
				if err != nil {
					return err
				}
				fmt.Printf("exported %d rows → %s, %s\n", len(rows), jsonOut, csvOut)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&timeoutS, "timeout", 20, "dwell timeout in seconds")
	cmd.Flags().BoolVar(&doExport, "export", true, "normalize the capture after dumping")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var (
		timeoutS  float64
		pages     int
		startPage int
		doExport  bool
	)
	cmd := &cobra.Command{
		Use:   "search <keyword>",
		Short: "Capture search listing API responses for a keyword",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			jsonl, n, err := a.SearchCapture(cmd.Context(), args[0], startPage, pages, secsFlag(timeoutS))
			if jsonl != "" {
				fmt.Printf("captured %d records → %s\n", n, jsonl)
			}
			if err != nil {
				return err
			}
			if doExport {
				jsonOut, csvOut, rows, err := a.Exp.SearchFromJSONL(jsonl)
				if err != nil {
					return err
				}
				fmt.Printf("exported %d rows → %s, %s\n", len(rows), jsonOut, csvOut)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&timeoutS, "timeout", 20, "dwell timeout in seconds per page")
	cmd.Flags().IntVar(&pages, "pages", 1, "number of result pages to sweep")
	cmd.Flags().IntVar(&startPage, "start-page", 0, "first result page")
	cmd.Flags().BoolVar(&doExport, "export", true, "normalize the capture after dumping")
	return cmd
}

func newBatchCmd() *cobra.Command {
	var (
		timeoutS    float64
		pauseS      float64
		staggerS    float64
		concurrency int
		urlsFile    string
	)
	cmd := &cobra.Command{
		Use:   "batch [url...]",
		Short: "Capture many product pages, serially or across tabs",
		RunE: func(cmd *cobra.Command, args []string) error {
			urls := args
			if urlsFile != "" {
				fromFile, err := readURLs(urlsFile)
				if err != nil {
					return err
				}
				urls = append(urls, fromFile...)
			}
			if len(urls) == 0 {
				return fmt.Errorf("no URLs given (pass them as args or via --file)")
			}
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			jsonl, n, err := a.PDPBatch(cmd.Context(), urls, secsFlag(timeoutS),
				concurrency, secsFlag(staggerS), secsFlag(pauseS), consoleProgress{})
			if jsonl != "" {
				fmt.Printf("captured %d records → %s\n", n, jsonl)
			}
			return err
		},
	}
	cmd.Flags().Float64Var(&timeoutS, "timeout", 8, "dwell timeout in seconds per navigation")
	cmd.Flags().Float64Var(&pauseS, "pause", 0.5, "pause between URLs (serial mode)")
	cmd.Flags().Float64Var(&staggerS, "stagger", 1, "stagger between tab dispatches (concurrent mode)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "tab count; >1 enables concurrent mode")
	cmd.Flags().StringVar(&urlsFile, "file", "", "file with one URL per line")
	return cmd
}

func newEnrichCmd() *cobra.Command {
	var (
		input       string
		timeoutS    float64
		pauseS      float64
		staggerS    float64
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Enrich a search export with PDP captures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			params := map[string]any{
				"timeout_s":   timeoutS,
				"pause_s":     pauseS,
				"stagger_s":   staggerS,
				"concurrency": concurrency,
			}
			if input != "" {
				params["input_path"] = input
			}
			t := &model.Task{Kind: model.KindEnrich, Params: params, Result: map[string]any{}}
			if err := a.Runner.Execute(cmd.Context(), t); err != nil {
				return err
			}
			fmt.Printf("enriched %v rows → %v\n", t.Result["enriched_count"], t.Result["enriched_json"])
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "search export to enrich (default: newest)")
	cmd.Flags().Float64Var(&timeoutS, "timeout", 8, "dwell timeout in seconds per product")
	cmd.Flags().Float64Var(&pauseS, "pause", 0.5, "pause between URLs (serial mode)")
	cmd.Flags().Float64Var(&staggerS, "stagger", 1, "stagger between tab dispatches")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "tab count; >1 enables concurrent mode")
	return cmd
}

func readURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}

// consoleProgress prints batch progress to stdout.
type consoleProgress struct{}

func (consoleProgress) Progress(ev model.ProgressEvent) {
	switch ev.Stage {
	case "start":
		fmt.Printf("[%d/%d] %s\n", ev.Index+1, ev.Total, ev.URL)
	case "batch_done":
		fmt.Printf("batch %d done\n", ev.Batch+1)
	}
}

var _ capture.ProgressObserver = consoleProgress{}
