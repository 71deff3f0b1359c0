package cli

import (
	"sync"

	"github.com/rs/zerolog"

	"crucible/internal/config"
	"crucible/internal/executor"
	"crucible/internal/session"
	"crucible/internal/storage"
)

// CLIContext carries shared CLI state built in the root command's
// PersistentPreRunE.
type CLIContext struct {
	Config     *config.Config
	ConfigPath string
	Logger     *zerolog.Logger
	Verbose    bool
	Quiet      bool

	storageOnce sync.Once
	storage     *storage.DB
	storageErr  error
}

// NewCLIContext creates a CLI context.
func NewCLIContext(cfg *config.Config, configPath string, log *zerolog.Logger, verbose, quiet bool) *CLIContext {
	return &CLIContext{
		Config:     cfg,
		ConfigPath: configPath,
		Logger:     log,
		Verbose:    verbose,
		Quiet:      quiet,
	}
}

// GetStorage opens the database lazily.
func (c *CLIContext) GetStorage() (*storage.DB, error) {
	c.storageOnce.Do(func() {
		c.storage, c.storageErr = storage.Open(c.Config.Storage.Path)
	})
	return c.storage, c.storageErr
}

// NewExecutor builds an executor from the loaded config, recording runs
// when the database opens.
func (c *CLIContext) NewExecutor() (*executor.Executor, error) {
	db, err := c.GetStorage()
	if err != nil {
		return nil, err
	}
	dir, err := config.ExpandPath(c.Config.Capture.Dir)
	if err != nil {
		return nil, err
	}
	return executor.New(executor.Config{
		Shell:          c.Config.Executor.Shell,
		DefaultTimeout: c.Config.Executor.DefaultTimeout,
		PollInterval:   c.Config.Executor.PollInterval,
		CaptureDir:     dir,
		DrainGrace:     c.Config.Capture.DrainGrace,
	}, storage.NewRunStore(db), *c.Logger), nil
}

// NewSessionManager builds the session manager over the database.
func (c *CLIContext) NewSessionManager() (*session.Manager, error) {
	db, err := c.GetStorage()
	if err != nil {
		return nil, err
	}
	return session.NewManager(db, 100), nil
}

// Close releases resources.
func (c *CLIContext) Close() error {
	if c.storage != nil {
		return c.storage.Close()
	}
	return nil
}
