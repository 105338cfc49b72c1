package main

import (
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"shopcap/pkg/model"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Manage the durable capture task queue",
	}
	cmd.AddCommand(newQueueAddCmd(), newQueueRunCmd(), newQueueListCmd())
	return cmd
}

func newQueueAddCmd() *cobra.Command {
	var (
		timeoutS    float64
		pages       int
		startPage   int
		maxPages    int
		input       string
		concurrency int
		maxAttempts int
	)
	cmd := &cobra.Command{
		Use:   "add <kind> [keyword]",
		Short: "Enqueue a capture task (cdp_search | cdp_search_all | cdp_enrich)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := args[0]
			params := map[string]any{}
			switch kind {
			case model.KindSearch:
				if len(args) < 2 {
					return fmt.Errorf("%s requires a keyword", kind)
				}
				params["keyword"] = args[1]
				params["pages"] = pages
				params["start_page"] = startPage
				params["timeout_s"] = timeoutS
			case model.KindSearchAll:
				if len(args) < 2 {
					return fmt.Errorf("%s requires a keyword", kind)
				}
				params["keyword"] = args[1]
				params["start_page"] = startPage
				params["max_pages"] = maxPages
				params["timeout_s"] = timeoutS
			case model.KindEnrich:
				if input != "" {
					params["input_path"] = input
				}
				params["concurrency"] = concurrency
				params["timeout_s"] = timeoutS
			default:
				return fmt.Errorf("unknown task kind: %s", kind)
			}

			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.Store.Add(kind, params, maxAttempts)
			if err != nil {
				return err
			}
			fmt.Printf("enqueued %s id=%s\n", t.Kind, t.ID)
			return nil
		},
	}
	cmd.Flags().Float64Var(&timeoutS, "timeout", 20, "dwell timeout in seconds")
	cmd.Flags().IntVar(&pages, "pages", 1, "pages to sweep (cdp_search)")
	cmd.Flags().IntVar(&startPage, "start-page", 0, "first page")
	cmd.Flags().IntVar(&maxPages, "max-pages", 100, "page cap (cdp_search_all)")
	cmd.Flags().StringVar(&input, "input", "", "search export to enrich (cdp_enrich)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "tab count (cdp_enrich)")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 2, "retry budget")
	return cmd
}

func newQueueRunCmd() *cobra.Command {
	var maxTasks int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run pending tasks sequentially, once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Runner.RunOnce(cmd.Context(), maxTasks)
			if err != nil {
				return err
			}
			fmt.Printf("attempted %d task(s)\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxTasks, "max", 0, "cap on tasks per sweep (0 = all)")
	return cmd
}

func newQueueListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			tasks, err := a.Store.Load(model.TaskStatus(status))
			if err != nil {
				return err
			}
			table := uitable.New()
			table.MaxColWidth = 50
			table.AddRow("ID", "KIND", "STATUS", "ATTEMPTS", "ERROR")
			for _, t := range tasks {
				errMsg := ""
				if t.Error != nil {
					errMsg = *t.Error
				}
				table.AddRow(t.ID, t.Kind, string(t.Status), fmt.Sprintf("%d/%d", t.Attempts, t.MaxAttempts), errMsg)
			}
			fmt.Println(table)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}
