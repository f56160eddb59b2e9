package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/ledgersync/internal/crdt"
	"github.com/iudanet/ledgersync/internal/models"
)

func TestBatch(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, newMemoryRelay(), clockwork.NewFakeClockAt(testEpoch), WithMode(ModeOffline))
	e := c.engine

	var applied int
	e.AddApplyListener(func(_ context.Context, change Change) {
		applied++
	})

	err := e.Batch(ctx, func(ctx context.Context) error {
		require.NoError(t, e.Set(ctx, models.DatasetAccounts, "acct-1", "name", models.String("Cash")))

		// вложенный пакет присоединяется к внешнему
		require.NoError(t, e.Batch(ctx, func(ctx context.Context) error {
			return e.Set(ctx, models.DatasetAccounts, "acct-1", "closed", models.Number(1))
		}))

		assert.Nil(t, fetchRow(t, c, models.DatasetAccounts, "acct-1"))
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, applied)
	row := fetchRow(t, c, models.DatasetAccounts, "acct-1")
	name, _ := row["name"].Str()
	closed, _ := row["closed"].Float()
	assert.Equal(t, "Cash", name)
	assert.Equal(t, float64(1), closed)
}

func TestBatch_ErrorDiscardsMessages(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, newMemoryRelay(), clockwork.NewFakeClockAt(testEpoch), WithMode(ModeOffline))
	e := c.engine

	errBoom := errors.New("boom")
	err := e.Batch(ctx, func(ctx context.Context) error {
		require.NoError(t, e.Set(ctx, models.DatasetAccounts, "acct-1", "name", models.String("Cash")))
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	assert.Nil(t, fetchRow(t, c, models.DatasetAccounts, "acct-1"))
	timestamps, err := c.store.AllTimestamps(ctx)
	require.NoError(t, err)
	assert.Empty(t, timestamps)
}

func TestSet_Validation(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, newMemoryRelay(), clockwork.NewFakeClockAt(testEpoch), WithMode(ModeOffline))

	tests := []struct {
		name    string
		dataset models.Dataset
		row     string
		column  string
		wantErr string
	}{
		{name: "empty row", dataset: models.DatasetNotes, row: "", column: "note", wantErr: "row id cannot be empty"},
		{name: "bad column", dataset: models.DatasetNotes, row: "n1", column: "note; DROP", wantErr: "invalid column name"},
		{name: "prefs key is not a column", dataset: models.DatasetPrefs, row: "n1", column: "", wantErr: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.engine.Set(ctx, tt.dataset, tt.row, tt.column, models.String("x"))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
			assert.Nil(t, fetchRow(t, c, tt.dataset, tt.row))
		})
	}
}

func TestSet_ApplyFailureEvent(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, newMemoryRelay(), clockwork.NewFakeClockAt(testEpoch), WithMode(ModeOffline))
	events := recordEvents(c.engine)

	err := c.engine.Set(ctx, models.DatasetNotes, "n1", "missing_column", models.String("x"))
	require.Error(t, err)

	ev, ok := events.Last(EventError)
	require.True(t, ok)
	assert.Equal(t, SubtypeApplyFailure, ev.Subtype)
}

func TestSyncAndReceiveMessages(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, newMemoryRelay(), clockwork.NewFakeClockAt(testEpoch), WithMode(ModeOffline))
	e := c.engine

	require.NoError(t, e.Set(ctx, models.DatasetNotes, "local", "note", models.String("mine")))

	remote := crdt.NewTimestamp(testEpoch.UnixMilli()+10, 0, "bbbbbbbbbbbbbbbb")
	local, err := e.SyncAndReceiveMessages(ctx, []RawMessage{{
		Timestamp: remote.String(),
		Dataset:   "notes",
		Row:       "remote",
		Column:    "note",
		Value:     "S:theirs",
	}}, crdt.Since(testEpoch.Add(-time.Minute).UnixMilli()))
	require.NoError(t, err)

	require.Len(t, local, 1)
	assert.Equal(t, "local", local[0].Row)

	note, _ := fetchRow(t, c, models.DatasetNotes, "remote")["note"].Str()
	assert.Equal(t, "theirs", note)
	assert.False(t, crdt.Compare(e.Clock().Now(), remote) < 0)
}

func TestSyncAndReceiveMessages_InvalidInput(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, newMemoryRelay(), clockwork.NewFakeClockAt(testEpoch), WithMode(ModeOffline))

	valid := crdt.NewTimestamp(testEpoch.UnixMilli(), 0, "bbbbbbbbbbbbbbbb").String()
	tests := []struct {
		name string
		msg  RawMessage
	}{
		{name: "bad timestamp", msg: RawMessage{Timestamp: "nope", Dataset: "notes", Row: "r", Column: "note", Value: "0:"}},
		{name: "unknown dataset", msg: RawMessage{Timestamp: valid, Dataset: "widgets", Row: "r", Column: "note", Value: "0:"}},
		{name: "bad value", msg: RawMessage{Timestamp: valid, Dataset: "notes", Row: "r", Column: "note", Value: "X:1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.engine.SyncAndReceiveMessages(ctx, []RawMessage{tt.msg}, crdt.Zero())
			assert.Error(t, err)
		})
	}
}
