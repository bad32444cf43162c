package incident_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/guard/core/incident"
)

var baseTime = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func newID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

func TestFileStore_SaveGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "incidents")
	store := incident.NewFileStore(dir)

	inc := incident.Incident{
		ID:        newID(baseTime),
		Timestamp: baseTime,
		Message:   "database unreachable",
		Context:   map[string]any{"host": "db1"},
		Status:    incident.StatusOpen,
		Severity:  "CRITICAL",
		Channel:   "app",
		RequestID: "req-1",
	}
	require.NoError(t, store.Save(ctx, inc))

	got, err := store.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, inc.Message, got.Message)
	assert.Equal(t, "db1", got.Context["host"])
	assert.True(t, got.Timestamp.Equal(baseTime))
	assert.True(t, got.IsOpen())

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	fileInfo, err := os.Stat(filepath.Join(dir, inc.ID+".json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fileInfo.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestFileStore_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := incident.NewFileStore(t.TempDir())

	_, err := store.Get(ctx, newID(baseTime))
	assert.ErrorIs(t, err, incident.ErrNotFound)

	_, err = store.Get(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, incident.ErrInvalidID)

	err = store.Save(ctx, incident.Incident{ID: "not-a-ulid"})
	assert.ErrorIs(t, err, incident.ErrInvalidID)

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	err = incident.NewFileStore(blocker).Save(ctx, incident.Incident{ID: newID(baseTime)})
	assert.ErrorIs(t, err, incident.ErrSaveIncident)
}

func TestFileStore_List(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	store := incident.NewFileStore(dir)

	for i, sev := range []string{"CRITICAL", "ALERT", "CRITICAL", "EMERGENCY"} {
		ts := baseTime.Add(time.Duration(i) * time.Minute)
		status := incident.StatusOpen
		if i == 0 {
			status = incident.StatusClosed
		}
		require.NoError(t, store.Save(ctx, incident.Incident{
			ID:        newID(ts),
			Timestamp: ts,
			Message:   sev,
			Status:    status,
			Severity:  sev,
			Channel:   "app",
		}))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, newID(baseTime)+".json"), []byte("{broken"), 0o600))

	all, err := store.List(ctx, incident.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "EMERGENCY", all[0].Severity)
	assert.True(t, all[3].Timestamp.Equal(baseTime))

	open, err := store.List(ctx, incident.Filter{Status: incident.StatusOpen})
	require.NoError(t, err)
	assert.Len(t, open, 3)

	critical, err := store.List(ctx, incident.Filter{Severity: "CRITICAL"})
	require.NoError(t, err)
	assert.Len(t, critical, 2)

	ranged, err := store.List(ctx, incident.Filter{Since: baseTime.Add(time.Minute), Until: baseTime.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, ranged, 2)

	limited, err := store.List(ctx, incident.Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "EMERGENCY", limited[0].Severity)

	none, err := incident.NewFileStore(filepath.Join(dir, "missing")).List(ctx, incident.Filter{})
	require.NoError(t, err)
	assert.Empty(t, none)
}
