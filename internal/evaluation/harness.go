package evaluation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crucible/internal/agent"
	"crucible/internal/executor"
	"crucible/internal/sandbox"
)

// sessionName is the bash session every task's commands run under.
const sessionName = "evaluation"

// testsTarget is where a task's tests land inside the sandbox.
const testsTarget = "/tests"

// SandboxFactory provisions a sandbox for one task.
type SandboxFactory func(ctx context.Context, task *Task) (sandbox.Sandbox, error)

// Config tunes the harness.
type Config struct {
	// Parallel bounds concurrent task evaluations; minimum 1.
	Parallel int
	// TestTimeout bounds each task's test script unless the task overrides.
	TestTimeout time.Duration
	// AgentConfig points at an agent install config; empty skips the
	// agent step and runs tests directly.
	AgentConfig string
}

// TaskResult records the outcome of one task.
type TaskResult struct {
	Task      string        `json:"task"`
	SandboxID string        `json:"sandbox_id,omitempty"`
	Verdict   Verdict       `json:"verdict"`
	ExitCode  int           `json:"exit_code"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Harness evaluates tasks with bounded parallelism.
type Harness struct {
	cfg       Config
	factory   SandboxFactory
	installer *agent.Installer
	logger    zerolog.Logger
}

// NewHarness creates a harness. factory provisions one sandbox per task.
func NewHarness(cfg Config, factory SandboxFactory, logger zerolog.Logger) *Harness {
	if cfg.Parallel < 1 {
		cfg.Parallel = 1
	}
	return &Harness{
		cfg:       cfg,
		factory:   factory,
		installer: agent.NewInstaller(logger),
		logger:    logger,
	}
}

// Run evaluates every task directory under tasksDir. Results come back in
// task order; an individual task's error never aborts the batch.
func (h *Harness) Run(ctx context.Context, tasksDir string) ([]TaskResult, error) {
	dirs, err := DiscoverTasks(tasksDir)
	if err != nil {
		return nil, err
	}
	if len(dirs) == 0 {
		return nil, fmt.Errorf("no task directories under %s", tasksDir)
	}

	h.logger.Info().
		Int("tasks", len(dirs)).
		Int("parallel", h.cfg.Parallel).
		Msg("starting evaluation")

	results := make([]TaskResult, len(dirs))
	sem := make(chan struct{}, h.cfg.Parallel)
	var wg sync.WaitGroup
	for i, dir := range dirs {
		wg.Add(1)
		go func(i int, dir string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = h.runTask(ctx, dir)
		}(i, dir)
	}
	wg.Wait()
	return results, nil
}

func (h *Harness) runTask(ctx context.Context, dir string) TaskResult {
	start := time.Now()
	task, err := LoadTask(dir)
	if err != nil {
		return TaskResult{
			Task:     dir,
			Verdict:  VerdictIncomplete,
			Error:    err.Error(),
			Duration: time.Since(start),
		}
	}

	logger := h.logger.With().Str("task", task.Name).Logger()
	logger.Info().Msg("task starting")

	res := TaskResult{Task: task.Name}
	sb, err := h.factory(ctx, task)
	if err != nil {
		res.Verdict = VerdictIncomplete
		res.Error = fmt.Sprintf("start sandbox: %v", err)
		res.Duration = time.Since(start)
		return res
	}
	defer sb.Close()
	res.SandboxID = sb.ID()

	obs, err := h.evaluate(ctx, sb, task)
	res.Duration = time.Since(start)
	if err != nil {
		res.Verdict = VerdictIncomplete
		res.Error = err.Error()
		logger.Error().Err(err).Msg("task errored")
		return res
	}

	res.ExitCode = obs.ExitCode
	res.Verdict = Judge(obs)
	logger.Info().
		Str("verdict", string(res.Verdict)).
		Int("exit_code", obs.ExitCode).
		Dur("duration", res.Duration).
		Msg("task finished")
	return res
}

// evaluate prepares the sandbox and runs the task's test script, returning
// the script's final observation.
func (h *Harness) evaluate(ctx context.Context, sb sandbox.Sandbox, task *Task) (*executor.Observation, error) {
	if err := sb.CreateSession(sessionName, task.Env, ""); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if h.cfg.AgentConfig != "" {
		agentCfg, err := agent.LoadConfig(h.cfg.AgentConfig)
		if err != nil {
			return nil, err
		}
		agentCfg.Session = sessionName
		if err := h.installer.Install(ctx, sb, agentCfg); err != nil {
			return nil, fmt.Errorf("install agent: %w", err)
		}
	}

	if err := sb.UploadDir(task.TestsDir(), testsTarget); err != nil {
		return nil, fmt.Errorf("upload tests: %w", err)
	}
	if err := sb.UploadFile(task.RunScript(), testsTarget+"/"+runScriptName); err != nil {
		return nil, fmt.Errorf("upload run script: %w", err)
	}

	timeout := h.cfg.TestTimeout
	if task.Timeout > 0 {
		timeout = task.Timeout
	}

	h.logger.Info().Str("task", task.Name).Str("sandbox_id", sb.ID()).Msg("running tests")
	handle, err := sb.Detach(ctx, fmt.Sprintf("sh %s/%s", testsTarget, runScriptName),
		sandbox.RunOpts{Session: sessionName, Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("run tests: %w", err)
	}
	return handle.Wait(ctx)
}
