package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"crucible/internal/storage"
)

// NewHistoryCmd creates the history command group.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect run history",
	}

	cmd.AddCommand(newHistoryListCmd())
	cmd.AddCommand(newHistoryShowCmd())
	cmd.AddCommand(newHistoryOutputCmd())

	return cmd
}

func newHistoryListCmd() *cobra.Command {
	var (
		limit       int
		sessionName string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := runStore(cmd)
			if err != nil {
				return err
			}

			var runs []*storage.Run
			if sessionName != "" {
				runs, err = store.ListBySession(sessionName, limit)
			} else {
				runs, err = store.List(limit)
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tEXIT\tDRAINED\tBYTES\tSTARTED\tCOMMAND")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%d\t%s\t%s\n",
					shortID(run.ID), run.Status, run.ExitCode, run.DrainComplete,
					run.OutputBytes, run.StartedAt.Local().Format(time.DateTime),
					truncate(run.Command, 48))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list")
	cmd.Flags().StringVarP(&sessionName, "session", "s", "", "filter by session")

	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := lookupRun(cmd, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("ID:             %s\n", run.ID)
			fmt.Printf("Command:        %s\n", run.Command)
			if run.Session != "" {
				fmt.Printf("Session:        %s\n", run.Session)
			}
			fmt.Printf("Mode:           %s\n", run.Mode)
			fmt.Printf("Status:         %s\n", run.Status)
			fmt.Printf("Exit code:      %d\n", run.ExitCode)
			fmt.Printf("Drain complete: %t\n", run.DrainComplete)
			fmt.Printf("Output bytes:   %d\n", run.OutputBytes)
			fmt.Printf("Output path:    %s\n", run.OutputPath)
			fmt.Printf("Started:        %s\n", run.StartedAt.Local().Format(time.RFC3339))
			if run.FinishedAt != nil {
				fmt.Printf("Finished:       %s\n", run.FinishedAt.Local().Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newHistoryOutputCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "output <run-id>",
		Short: "Print a run's captured output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := lookupRun(cmd, args[0])
			if err != nil {
				return err
			}
			if run.OutputPath == "" {
				return fmt.Errorf("run %s has no recorded output", args[0])
			}
			data, err := os.ReadFile(run.OutputPath)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
}

func runStore(cmd *cobra.Command) (*storage.RunStore, error) {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return nil, fmt.Errorf("CLI context not initialized")
	}
	db, err := cliCtx.GetStorage()
	if err != nil {
		return nil, err
	}
	return storage.NewRunStore(db), nil
}

func lookupRun(cmd *cobra.Command, id string) (*storage.Run, error) {
	store, err := runStore(cmd)
	if err != nil {
		return nil, err
	}
	run, err := store.Get(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("run %q not found", id)
		}
		return nil, err
	}
	return run, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
