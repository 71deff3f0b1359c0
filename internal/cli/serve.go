package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"crucible/internal/config"
	"crucible/internal/gateway"
	"crucible/internal/retention"
	"crucible/internal/storage"
	"crucible/pkg/logger"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the crucible gateway server",
		Long: `Start the HTTP gateway server.

The gateway exposes command execution, run history, and session management
under /api/v1, streams live capture output over /ws, hot-reloads its
config file, and sweeps expired run history on a schedule.`,
		Example: `  # Start server with default configuration
  crucible serve

  # Start server on a custom port
  crucible serve --port 8080`,
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 0, "port to listen on (overrides config)")
	cmd.Flags().String("host", "", "host to bind to (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return fmt.Errorf("CLI context not initialized")
	}

	cfg := cliCtx.Config
	log := cliCtx.Logger

	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Gateway.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Gateway.Host = host
	}

	exec, err := cliCtx.NewExecutor()
	if err != nil {
		return err
	}
	sessions, err := cliCtx.NewSessionManager()
	if err != nil {
		return err
	}
	db, err := cliCtx.GetStorage()
	if err != nil {
		return err
	}
	runs := storage.NewRunStore(db)

	srv := gateway.NewServer(cfg, gateway.Deps{
		Executor: exec,
		Sessions: sessions,
		Runs:     runs,
		DB:       db,
	})

	if cliCtx.ConfigPath != "" {
		if _, err := os.Stat(cliCtx.ConfigPath); err == nil {
			watcher, werr := gateway.NewWatcher(srv.Hub(), reloadConfig(cliCtx), cliCtx.ConfigPath)
			if werr != nil {
				log.Warn().Err(werr).Msg("config watcher unavailable")
			} else {
				if err := watcher.Start(); err != nil {
					return err
				}
				srv.SetWatcher(watcher)
			}
		}
	}

	var sweeper *retention.Sweeper
	if cfg.Retention.Enabled {
		sweeper, err = retention.NewSweeper(runs, cfg.Retention.Schedule, cfg.Retention.MaxAgeDuration(), *log)
		if err != nil {
			return err
		}
		if err := sweeper.Start(); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if sweeper != nil {
			sweeper.Stop()
		}
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	if sweeper != nil {
		sweeper.Stop()
	}
	return srv.Shutdown(context.Background())
}

// reloadConfig re-reads the config file and reapplies logging settings.
// Settings wired into already-running components keep their old values
// until restart.
func reloadConfig(cliCtx *CLIContext) gateway.ReloadFunc {
	return func(path string) error {
		cfg, err := config.Reload()
		if err != nil {
			return err
		}
		if err := logger.Init(logger.Config{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			File:   cfg.Log.File,
		}); err != nil {
			return err
		}
		cliCtx.Config.Log = cfg.Log
		cliCtx.Logger.Info().Str("path", path).Msg("Config reloaded")
		return nil
	}
}
