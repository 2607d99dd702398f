package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestOpenCreatesDirectory(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "sub", "nested", "history.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestOpenMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.InsertDetection(&Detection{Sequence: "ABCDE", Target: "body#", Source: "script"}))
	n, err := s.CountDetections()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPing(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Ping(context.Background()))
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{}
	assert.NoError(t, s.Close())
}

func TestMigrationsApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopening must not reapply migrations.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := SchemaVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, LatestVersion(), v)
}

func TestMigrateDBIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite3", "file::memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	require.NoError(t, MigrateDB(db))
	require.NoError(t, MigrateDB(db))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestInsertAndGetDetection(t *testing.T) {
	s := openTestStore(t)

	d := &Detection{
		Sequence:   "4006381333931",
		Target:     "device#/dev/input/event7",
		Source:     "evdev",
		DetectedAt: base,
	}
	require.NoError(t, s.InsertDetection(d))

	_, err := uuid.Parse(d.ID)
	require.NoError(t, err, "insert assigns a UUID")
	assert.Equal(t, 13, d.Length)

	got, err := s.GetDetection(d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Sequence, got.Sequence)
	assert.Equal(t, d.Target, got.Target)
	assert.Equal(t, d.Source, got.Source)
	assert.Equal(t, 13, got.Length)
	assert.True(t, base.Equal(got.DetectedAt))
	assert.Empty(t, got.RunID)
}

func TestInsertDetectionDefaultsTime(t *testing.T) {
	s := openTestStore(t)

	before := time.Now()
	d := &Detection{Sequence: "abcde"}
	require.NoError(t, s.InsertDetection(d))
	assert.False(t, d.DetectedAt.Before(before))
}

func TestInsertDetectionUnicodeLength(t *testing.T) {
	s := openTestStore(t)

	d := &Detection{Sequence: "äöüßé"}
	require.NoError(t, s.InsertDetection(d))
	assert.Equal(t, 5, d.Length)
}

func TestInsertDuplicateID(t *testing.T) {
	s := openTestStore(t)

	d := &Detection{ID: "fixed", Sequence: "abcde"}
	require.NoError(t, s.InsertDetection(d))
	assert.Error(t, s.InsertDetection(&Detection{ID: "fixed", Sequence: "fghij"}))
}

func TestGetDetectionNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetDetection("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func seed(t *testing.T, s *Store, seqs ...string) {
	t.Helper()
	for i, seq := range seqs {
		require.NoError(t, s.InsertDetection(&Detection{
			Sequence:   seq,
			Target:     "body#",
			Source:     "script",
			DetectedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
}

func TestListDetections(t *testing.T) {
	s := openTestStore(t)
	seed(t, s, "AAAAA", "BBBBB", "AAAAA", "CCCCC")

	all, err := s.ListDetections(ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "CCCCC", all[0].Sequence, "newest first")
	assert.Equal(t, "AAAAA", all[3].Sequence)

	limited, err := s.ListDetections(ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	same, err := s.ListDetections(ListOptions{Sequence: "AAAAA"})
	require.NoError(t, err)
	assert.Len(t, same, 2)

	since, err := s.DetectionsSince(base.Add(2 * time.Minute))
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, "AAAAA", since[1].Sequence)
}

func TestCountDetections(t *testing.T) {
	s := openTestStore(t)

	n, err := s.CountDetections()
	require.NoError(t, err)
	assert.Zero(t, n)

	seed(t, s, "AAAAA", "BBBBB")
	n, err = s.CountDetections()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	seed(t, s, "AAAAA", "BBBBB", "CCCCC")

	removed, err := s.Prune(base.Add(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	left, err := s.ListDetections(ListOptions{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "CCCCC", left[0].Sequence)
}

func TestRuns(t *testing.T) {
	s := openTestStore(t)

	run, err := s.StartRun("evdev", `{"min_length":5}`)
	require.NoError(t, err)

	require.NoError(t, s.InsertDetection(&Detection{RunID: run.ID, Sequence: "ABCDE"}))
	require.NoError(t, s.InsertDetection(&Detection{Sequence: "FGHIJ"}))

	inRun, err := s.ListDetections(ListOptions{RunID: run.ID})
	require.NoError(t, err)
	require.Len(t, inRun, 1)
	assert.Equal(t, run.ID, inRun[0].RunID)

	stoppedAt := time.Now()
	require.NoError(t, s.StopRun(run.ID, stoppedAt))
	assert.ErrorIs(t, s.StopRun("missing", stoppedAt), ErrNotFound)

	runs, err := s.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "evdev", runs[0].Source)
	require.NotNil(t, runs[0].StoppedAt)
	assert.True(t, stoppedAt.Equal(*runs[0].StoppedAt))
}

func TestPruneRemovesEmptyRuns(t *testing.T) {
	s := openTestStore(t)

	old, err := s.StartRun("script", "")
	require.NoError(t, err)
	require.NoError(t, s.InsertDetection(&Detection{RunID: old.ID, Sequence: "ABCDE", DetectedAt: base}))
	require.NoError(t, s.StopRun(old.ID, base.Add(time.Minute)))

	current, err := s.StartRun("evdev", "")
	require.NoError(t, err)

	_, err = s.Prune(time.Now().Add(time.Hour))
	require.NoError(t, err)

	runs, err := s.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, current.ID, runs[0].ID, "running runs are kept")
}

func TestInsertDetectionUnknownRun(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.InsertDetection(&Detection{RunID: "nope", Sequence: "ABCDE"}))
}
