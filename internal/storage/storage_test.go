package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunStoreLifecycle(t *testing.T) {
	db := setupTestDB(t)
	store := NewRunStore(db)

	run := &Run{
		ID:      "run-1",
		Command: "echo hello",
		Session: "default",
		Mode:    "sync",
	}
	require.NoError(t, store.Start(run))
	assert.Equal(t, "running", run.Status)

	got, err := store.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, "echo hello", got.Command)
	assert.Nil(t, got.FinishedAt)

	run.Status = "ok"
	run.ExitCode = 0
	run.DrainComplete = true
	run.OutputPath = "/tmp/run-1.log"
	run.OutputBytes = 6
	require.NoError(t, store.Finish(run))

	got, err = store.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Status)
	assert.True(t, got.DrainComplete)
	assert.Equal(t, int64(6), got.OutputBytes)
	assert.NotNil(t, got.FinishedAt)
}

func TestRunStoreGetMissing(t *testing.T) {
	db := setupTestDB(t)
	store := NewRunStore(db)

	_, err := store.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunStoreList(t *testing.T) {
	db := setupTestDB(t)
	store := NewRunStore(db)

	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		run := &Run{
			ID:        id,
			Command:   "true",
			Session:   "s1",
			Mode:      "sync",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.Start(run))
	}

	runs, err := store.List(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)

	bySession, err := store.ListBySession("s1", 10)
	require.NoError(t, err)
	assert.Len(t, bySession, 3)
}

func TestRunStoreDeleteOlderThan(t *testing.T) {
	db := setupTestDB(t)
	store := NewRunStore(db)

	old := &Run{ID: "old", Command: "true", Mode: "sync"}
	require.NoError(t, store.Start(old))
	finished := time.Now().UTC().Add(-48 * time.Hour)
	old.FinishedAt = &finished
	old.Status = "ok"
	old.OutputPath = "/tmp/old.log"
	require.NoError(t, store.Finish(old))

	recent := &Run{ID: "recent", Command: "true", Mode: "sync"}
	require.NoError(t, store.Start(recent))
	recent.Status = "ok"
	require.NoError(t, store.Finish(recent))

	paths, err := store.DeleteOlderThan(time.Now().UTC().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/old.log"}, paths)

	_, err = store.Get("old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get("recent")
	assert.NoError(t, err)
}

func TestSessions(t *testing.T) {
	db := setupTestDB(t)

	rec := &SessionRecord{
		Name:    "swe-evaluation",
		Env:     map[string]string{"UV_PYTHON_INSTALL_MIRROR": "https://example.com"},
		Workdir: "/tests",
	}
	require.NoError(t, db.CreateSession(rec))

	got, err := db.GetSession("swe-evaluation")
	require.NoError(t, err)
	assert.Equal(t, rec.Env, got.Env)
	assert.Equal(t, "/tests", got.Workdir)

	require.NoError(t, db.TouchSession("swe-evaluation"))

	sessions, err := db.ListSessions()
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	require.NoError(t, db.DeleteSession("swe-evaluation"))
	_, err = db.GetSession("swe-evaluation")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, db.TouchSession("missing"), ErrNotFound)
}
