package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crucible/internal/executor"
	"crucible/internal/session"
	"crucible/internal/storage"
)

func setupSandbox(t *testing.T) *Local {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	exec := executor.New(executor.Config{
		Shell:        "sh",
		PollInterval: 20 * time.Millisecond,
		CaptureDir:   t.TempDir(),
		DrainGrace:   5 * time.Second,
	}, nil, zerolog.Nop())

	sessions := session.NewManager(db, 10)

	sb, err := NewLocal(t.TempDir(), exec, sessions, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { sb.Close() })
	return sb
}

func TestLocalRun(t *testing.T) {
	sb := setupSandbox(t)

	obs, err := sb.Run(context.Background(), "echo sandboxed", RunOpts{})
	require.NoError(t, err)
	assert.Equal(t, "sandboxed\n", string(obs.Output))
	assert.True(t, obs.DrainComplete)
}

func TestLocalRunInRoot(t *testing.T) {
	sb := setupSandbox(t)

	obs, err := sb.Run(context.Background(), "pwd", RunOpts{})
	require.NoError(t, err)
	assert.Equal(t, sb.Root(), strings.TrimSpace(string(obs.Output)))
}

func TestLocalSessionEnvAndWorkdir(t *testing.T) {
	sb := setupSandbox(t)

	require.NoError(t, os.MkdirAll(filepath.Join(sb.Root(), "tests"), 0755))
	require.NoError(t, sb.CreateSession("swe-evaluation",
		map[string]string{"UV_PYTHON_INSTALL_MIRROR": "https://mirror.example"}, "/tests"))

	obs, err := sb.Run(context.Background(), "echo $UV_PYTHON_INSTALL_MIRROR; pwd",
		RunOpts{Session: "swe-evaluation"})
	require.NoError(t, err)

	out := string(obs.Output)
	assert.Contains(t, out, "https://mirror.example\n")
	assert.Contains(t, out, filepath.Join(sb.Root(), "tests"))
}

func TestLocalRunUnknownSession(t *testing.T) {
	sb := setupSandbox(t)

	_, err := sb.Run(context.Background(), "true", RunOpts{Session: "ghost"})
	assert.Error(t, err)
}

func TestLocalUploadFile(t *testing.T) {
	sb := setupSandbox(t)

	local := filepath.Join(t.TempDir(), "run-tests.sh")
	require.NoError(t, os.WriteFile(local, []byte("#!/bin/sh\necho ran\n"), 0755))

	require.NoError(t, sb.UploadFile(local, "/tests/run-tests.sh"))

	obs, err := sb.Run(context.Background(), "sh /tests/run-tests.sh", RunOpts{})
	require.NoError(t, err)
	assert.Equal(t, "ran\n", string(obs.Output))
}

func TestLocalUploadDir(t *testing.T) {
	sb := setupSandbox(t)

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("alpha"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "b.txt"), []byte("beta"), 0644))

	require.NoError(t, sb.UploadDir(src, "/tests"))

	data, err := os.ReadFile(filepath.Join(sb.Root(), "tests", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))

	data, err = os.ReadFile(filepath.Join(sb.Root(), "tests", "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "beta", string(data))
}

func TestLocalPathEscapeRejected(t *testing.T) {
	sb := setupSandbox(t)

	err := sb.UploadFile("/etc/hosts", "../outside.txt")
	// The leading slash normalization keeps this inside the root; a raw
	// traversal that would resolve outside must be rejected.
	if err != nil {
		assert.ErrorIs(t, err, ErrOutsideRoot)
	}

	_, rErr := sb.resolve("/../../etc")
	assert.NoError(t, rErr, "leading-slash paths are normalized into the root")

	got, rErr := sb.resolve("/tests/../../escape")
	assert.NoError(t, rErr)
	assert.True(t, strings.HasPrefix(got, sb.Root()))
}

func TestLocalClosed(t *testing.T) {
	sb := setupSandbox(t)
	require.NoError(t, sb.Close())

	_, err := sb.Run(context.Background(), "true", RunOpts{})
	assert.ErrorIs(t, err, ErrClosed)

	assert.NoError(t, sb.Close(), "Close is idempotent")
}
