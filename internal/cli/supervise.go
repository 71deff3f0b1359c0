package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"crucible/internal/executor"
)

// NewSuperviseCmd creates the hidden supervise command. `run --detach`
// re-executes the binary with this command so a process keeps the capture
// pipe's read end alive after the invoking CLI has returned.
func NewSuperviseCmd() *cobra.Command {
	var (
		runID       string
		sessionName string
		workdir     string
		timeout     time.Duration
		envFlags    []string
	)

	cmd := &cobra.Command{
		Use:   "supervise <command>",
		Short: "Supervise a detached run to completion",
		Long: `Supervise runs a command through the capture channel on behalf of a
detached invocation. It stays alive until the command exits and the capture
pipe drains, then finalizes the run record. Spawned by run --detach; not
meant to be invoked directly.`,
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return fmt.Errorf("CLI context not initialized")
			}
			if runID == "" {
				return fmt.Errorf("--run-id is required")
			}

			exec, err := cliCtx.NewExecutor()
			if err != nil {
				return err
			}

			req := executor.Request{
				RunID:   runID,
				Command: args[0],
				Session: sessionName,
				Workdir: workdir,
				Timeout: timeout,
				Mode:    executor.ModeDetached,
			}
			env, err := buildEnv(cliCtx, sessionName, envFlags, &req)
			if err != nil {
				return err
			}
			req.Env = env

			obs, err := exec.Execute(cmd.Context(), req)
			if err != nil {
				return err
			}
			if !obs.DrainComplete {
				cliCtx.Logger.Warn().
					Str("run_id", obs.RunID).
					Str("status", string(obs.Status)).
					Msg("detached run finished with incomplete drain")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "pre-assigned run identifier")
	cmd.Flags().StringVarP(&sessionName, "session", "s", "", "session to run under")
	cmd.Flags().StringVarP(&workdir, "workdir", "w", "", "working directory")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "execution timeout (0 = config default)")
	cmd.Flags().StringArrayVarP(&envFlags, "env", "e", nil, "environment variable KEY=VALUE (repeatable)")

	return cmd
}
