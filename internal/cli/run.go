package cli

import (
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"crucible/internal/executor"
	"crucible/internal/session"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var (
		sessionName string
		workdir     string
		timeout     time.Duration
		detach      bool
		envFlags    []string
	)

	cmd := &cobra.Command{
		Use:   "run <command>",
		Short: "Run a command and capture its complete output",
		Long: `Run a shell command through the capture channel.

The command's stdout and stderr are teed to a durable log. The run only
completes once every writer, including background children the command
left behind, has closed the capture pipe or the drain grace period
elapsed. The printed output always comes from the durable log.

With --detach the run is handed to a background supervisor process that
keeps the capture pipe open until it drains, so the run record and its log
are completed even though this invocation returns immediately.`,
		Example: `  # Run a command and print its full output
  crucible run 'make test'

  # Run under a session with extra environment
  crucible run --session build --env CC=clang 'make'

  # Start detached and poll later via run history
  crucible run --detach 'sleep 60; echo done'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return fmt.Errorf("CLI context not initialized")
			}

			req := executor.Request{
				Command: args[0],
				Session: sessionName,
				Workdir: workdir,
				Timeout: timeout,
				Mode:    executor.ModeSync,
			}
			if detach {
				req.Mode = executor.ModeDetached
			}

			env, err := buildEnv(cliCtx, sessionName, envFlags, &req)
			if err != nil {
				return err
			}
			req.Env = env

			if detach {
				// The capture pipe must outlive this process, so the run is
				// handed to a detached supervisor that waits for drainage
				// and finalizes the record.
				runID := uuid.New().String()
				pid, err := spawnSupervisor(cliCtx.ConfigPath, runID, req, envFlags)
				if err != nil {
					return err
				}
				fmt.Printf("run %s started (supervisor pid %d)\n", runID, pid)
				return nil
			}

			exec, err := cliCtx.NewExecutor()
			if err != nil {
				return err
			}

			obs, err := exec.Execute(cmd.Context(), req)
			if err != nil {
				return err
			}

			os.Stdout.Write(obs.Output)
			if !obs.DrainComplete {
				fmt.Fprintf(os.Stderr, "warning: output may be incomplete (status %s)\n", obs.Status)
			}
			if obs.ExitCode != 0 {
				return fmt.Errorf("command exited %d", obs.ExitCode)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionName, "session", "s", "", "session to run under")
	cmd.Flags().StringVarP(&workdir, "workdir", "w", "", "working directory")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "execution timeout (0 = config default)")
	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "start detached and return immediately")
	cmd.Flags().StringArrayVarP(&envFlags, "env", "e", nil, "environment variable KEY=VALUE (repeatable)")

	return cmd
}

// spawnSupervisor re-executes this binary as a detached supervisor for the
// run. The supervisor owns the capture pipe: output keeps draining into the
// run's sink after this process exits, and the run record is finalized once
// every writer has closed the pipe.
func spawnSupervisor(configPath, runID string, req executor.Request, envFlags []string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("locate executable: %w", err)
	}

	cmd := osexec.Command(exe, superviseArgs(configPath, runID, req, envFlags)...)
	detachProcess(cmd)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start supervisor: %w", err)
	}
	pid := cmd.Process.Pid
	cmd.Process.Release()
	return pid, nil
}

// superviseArgs builds the argument vector for the supervisor invocation,
// forwarding the config path and the user's run flags so the supervisor
// resolves the session environment the same way this process would.
func superviseArgs(configPath, runID string, req executor.Request, envFlags []string) []string {
	args := []string{"supervise", "--run-id", runID}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if req.Session != "" {
		args = append(args, "--session", req.Session)
	}
	if req.Workdir != "" {
		args = append(args, "--workdir", req.Workdir)
	}
	if req.Timeout > 0 {
		args = append(args, "--timeout", req.Timeout.String())
	}
	for _, kv := range envFlags {
		args = append(args, "--env", kv)
	}
	return append(args, "--", req.Command)
}

// buildEnv merges session environment with --env flags; flags win. The
// session's workdir applies when --workdir was not given.
func buildEnv(cliCtx *CLIContext, sessionName string, envFlags []string, req *executor.Request) ([]string, error) {
	merged := map[string]string{}

	if sessionName != "" {
		sessions, err := cliCtx.NewSessionManager()
		if err != nil {
			return nil, err
		}
		sess, err := sessions.Get(sessionName)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				return nil, fmt.Errorf("session %q not found", sessionName)
			}
			return nil, err
		}
		for k, v := range sess.Env {
			merged[k] = v
		}
		if req.Workdir == "" {
			req.Workdir = sess.Workdir
		}
	}

	for _, kv := range envFlags {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --env %q, want KEY=VALUE", kv)
		}
		merged[k] = v
	}

	if len(merged) == 0 {
		return nil, nil
	}
	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env, nil
}
