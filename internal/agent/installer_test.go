package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crucible/internal/executor"
	"crucible/internal/sandbox"
)

func setupSandbox(t *testing.T) *sandbox.Local {
	t.Helper()
	exec := executor.New(executor.Config{
		Shell:        "sh",
		PollInterval: 20 * time.Millisecond,
		CaptureDir:   t.TempDir(),
		DrainGrace:   5 * time.Second,
	}, nil, zerolog.Nop())
	sb, err := sandbox.NewLocal(t.TempDir(), exec, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { sb.Close() })
	return sb
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte("{}"), 0644))

	path := writeConfig(t, dir, `
name: iflow
version: ">= 0.10.0"
version_command: iflow --version
commands:
  - echo installing
files:
  - local: settings.json
    sandbox: /agent/settings.json
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "iflow", cfg.Name)
	assert.Equal(t, ">= 0.10.0", cfg.Version)
	require.Len(t, cfg.Files, 1)
	// Relative local paths resolve against the config directory.
	assert.Equal(t, filepath.Join(dir, "settings.json"), cfg.Files[0].Local)
}

func TestLoadConfigValidation(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadConfig(writeConfig(t, dir, "version: '1.0'"))
	assert.Error(t, err, "missing name")

	_, err = LoadConfig(writeConfig(t, dir, "name: a\nversion: 'not a constraint ==='"))
	assert.Error(t, err, "bad constraint")
}

func TestInstallRunsCommandsAndUploads(t *testing.T) {
	sb := setupSandbox(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(`{"k":"v"}`), 0644))

	cfg, err := LoadConfig(writeConfig(t, dir, `
name: demo
commands:
  - echo step1 > install.log
  - echo step2 >> install.log
files:
  - local: settings.json
    sandbox: /agent/settings.json
`))
	require.NoError(t, err)

	in := NewInstaller(zerolog.Nop())
	require.NoError(t, in.Install(context.Background(), sb, cfg))

	data, err := os.ReadFile(filepath.Join(sb.Root(), "install.log"))
	require.NoError(t, err)
	assert.Equal(t, "step1\nstep2\n", string(data))

	uploaded, err := os.ReadFile(filepath.Join(sb.Root(), "agent", "settings.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"k":"v"}`, string(uploaded))
}

func TestInstallFailingCommand(t *testing.T) {
	sb := setupSandbox(t)
	cfg := &Config{Name: "broken", Commands: []string{"exit 7"}}

	in := NewInstaller(zerolog.Nop())
	err := in.Install(context.Background(), sb, cfg)
	assert.ErrorContains(t, err, "exited 7")
}

func TestInstallSkipsWhenVersionSatisfied(t *testing.T) {
	sb := setupSandbox(t)
	cfg := &Config{
		Name:           "present",
		Version:        ">= 1.0.0",
		VersionCommand: "echo 1.2.3",
		// Would fail if executed; satisfaction must short-circuit.
		Commands: []string{"exit 1"},
	}

	in := NewInstaller(zerolog.Nop())
	assert.NoError(t, in.Install(context.Background(), sb, cfg))
}

func TestInstallVerifiesAfterInstall(t *testing.T) {
	sb := setupSandbox(t)
	cfg := &Config{
		Name:           "stale",
		Version:        ">= 2.0.0",
		VersionCommand: "echo 1.0.0",
		Commands:       []string{"true"},
	}

	in := NewInstaller(zerolog.Nop())
	err := in.Install(context.Background(), sb, cfg)
	assert.ErrorContains(t, err, "does not satisfy")
}
