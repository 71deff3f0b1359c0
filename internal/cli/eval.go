package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"crucible/internal/config"
	"crucible/internal/evaluation"
	"crucible/internal/executor"
	"crucible/internal/sandbox"
	"crucible/internal/session"
)

// NewEvalCmd creates the eval command.
func NewEvalCmd() *cobra.Command {
	var (
		parallel    int
		testTimeout time.Duration
		agentConfig string
		resultFile  string
	)

	cmd := &cobra.Command{
		Use:   "eval <tasks-dir>",
		Short: "Evaluate benchmark tasks in sandboxes",
		Long: `Run every task under tasks-dir in its own sandbox.

Each task directory holds a task.yaml, a tests/ tree, and a run-tests.sh
script. The script's output is captured through the drain-confirmed
channel and its marker block decides the verdict; a truncated capture is
reported as incomplete, never as a failure. Results are aggregated into
a JSON report.`,
		Example: `  # Evaluate all tasks with four workers
  crucible eval ./tasks --parallel 4

  # Install an agent into each sandbox first
  crucible eval ./tasks --agent-config iflow.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return fmt.Errorf("CLI context not initialized")
			}

			cfg := cliCtx.Config
			if parallel <= 0 {
				parallel = cfg.Eval.Parallel
			}
			if testTimeout <= 0 {
				testTimeout = cfg.Eval.TestTimeout
			}
			if agentConfig == "" {
				agentConfig = cfg.Eval.AgentConfig
			}
			if resultFile == "" {
				resultFile = cfg.Eval.ResultFile
			}

			exec, err := cliCtx.NewExecutor()
			if err != nil {
				return err
			}
			sessions, err := cliCtx.NewSessionManager()
			if err != nil {
				return err
			}
			root, err := config.ExpandPath(cfg.Sandbox.Root)
			if err != nil {
				return err
			}

			factory := localSandboxFactory(root, exec, sessions, cliCtx)
			harness := evaluation.NewHarness(evaluation.Config{
				Parallel:    parallel,
				TestTimeout: testTimeout,
				AgentConfig: agentConfig,
			}, factory, *cliCtx.Logger)

			results, err := harness.Run(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			summary := evaluation.Summarize(results)
			if err := evaluation.WriteReport(resultFile, summary); err != nil {
				return err
			}

			fmt.Printf("evaluated %d tasks: %d passed, %d failed, %d incomplete\n",
				summary.Total, summary.Passed, summary.Failed, summary.Incomplete)
			fmt.Printf("report written to %s\n", resultFile)
			if summary.Failed > 0 || summary.Incomplete > 0 {
				return fmt.Errorf("%d tasks did not pass", summary.Failed+summary.Incomplete)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&parallel, "parallel", "j", 0, "concurrent task evaluations (0 = config default)")
	cmd.Flags().DurationVar(&testTimeout, "test-timeout", 0, "per-task test timeout (0 = config default)")
	cmd.Flags().StringVar(&agentConfig, "agent-config", "", "agent install config YAML")
	cmd.Flags().StringVarP(&resultFile, "output", "o", "", "result JSON file (default from config)")

	return cmd
}

func localSandboxFactory(root string, exec *executor.Executor, sessions *session.Manager, cliCtx *CLIContext) evaluation.SandboxFactory {
	return func(ctx context.Context, task *evaluation.Task) (sandbox.Sandbox, error) {
		return sandbox.NewLocal(root, exec, sessions, *cliCtx.Logger)
	}
}
