package sync

import (
	"context"
	"encoding/json"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clientapi "github.com/iudanet/ledgersync/internal/client/api"
	"github.com/iudanet/ledgersync/internal/crdt"
	"github.com/iudanet/ledgersync/internal/models"
	"github.com/iudanet/ledgersync/pkg/api"
)

func TestFullSync_TwoClientsConverge(t *testing.T) {
	ctx := context.Background()
	fake := clockwork.NewFakeClockAt(testEpoch)
	relay := newMemoryRelay()

	a := newTestClient(t, relay, fake)
	b := newTestClient(t, relay, fake)

	require.NoError(t, a.engine.Update(ctx, models.DatasetAccounts, "acct-1", models.Row{
		"name":      models.String("Checking"),
		"offbudget": models.Number(0),
	}))

	result, err := a.engine.FullSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rounds)
	assert.Empty(t, result.Messages)
	assert.Equal(t, relay.Hash(), a.engine.Merkle().Hash)

	result, err = b.engine.FullSync(ctx)
	require.NoError(t, err)
	assert.Len(t, result.Messages, 2)
	assert.Equal(t, []string{"accounts"}, result.Tables)
	assert.Equal(t, relay.Hash(), b.engine.Merkle().Hash)
	assert.Equal(t, StateConverged, b.engine.State())

	name, _ := fetchRow(t, b, models.DatasetAccounts, "acct-1")["name"].Str()
	assert.Equal(t, "Checking", name)

	cp, err := b.prefs.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.engine.Clock().Now().String(), cp.LastSyncedTimestamp)
}

func TestFullSync_ConvergesFromReorderedSubsets(t *testing.T) {
	ctx := context.Background()
	fake := clockwork.NewFakeClockAt(testEpoch)
	relay := newMemoryRelay()

	a := newTestClient(t, relay, fake)
	b := newTestClient(t, relay, fake)

	all := make([]models.Message, 8)
	for i := range all {
		ts := crdt.NewTimestamp(testEpoch.Add(time.Duration(i)*time.Second).UnixMilli(), 0, "aaaaaaaaaaaaaaaa")
		all[i] = models.NewMessage(models.DatasetNotes, "n1", "note", models.Number(float64(i)), ts)
	}

	// A получает первые пять в обратном порядке с повтором, B - последние пять
	_, err := a.engine.ReceiveMessages(ctx, []models.Message{all[4], all[2], all[2], all[0], all[3], all[1]})
	require.NoError(t, err)
	_, err = b.engine.ReceiveMessages(ctx, []models.Message{all[7], all[3], all[5], all[6], all[4]})
	require.NoError(t, err)

	for _, c := range []*testClient{a, b, a} {
		_, err := c.engine.FullSync(ctx)
		require.NoError(t, err)
	}

	timestamps := make([]crdt.Timestamp, len(all))
	for i, m := range all {
		timestamps[i] = m.Timestamp
	}
	expected := crdt.Build(timestamps).Hash

	assert.Equal(t, expected, relay.Hash())
	assert.Equal(t, expected, a.engine.Merkle().Hash)
	assert.Equal(t, expected, b.engine.Merkle().Hash)

	for _, c := range []*testClient{a, b} {
		note, _ := fetchRow(t, c, models.DatasetNotes, "n1")["note"].Float()
		assert.Equal(t, float64(7), note)
	}
}

func TestFullSync_BoundedRetry(t *testing.T) {
	tests := []struct {
		name         string
		shift        bool
		cfg          func(*Config)
		wantCalls    int
		wantAttempts int
		wantSameDiff bool
	}{
		{
			name:         "identical diff",
			shift:        false,
			wantCalls:    11,
			wantAttempts: 10,
			wantSameDiff: true,
		},
		{
			name:         "shifting diff",
			shift:        true,
			cfg:          func(c *Config) { c.MaxAttempts = 30 },
			wantCalls:    31,
			wantAttempts: 30,
			wantSameDiff: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			fake := clockwork.NewFakeClockAt(testEpoch)
			relay := newMemoryRelay()

			// сервер каждый раз сообщает о расхождении, которое клиент не может устранить
			relay.beforeRespond = func(round int, resp *api.SyncResponse) {
				at := testEpoch.Add(-time.Hour)
				if tt.shift {
					at = at.Add(-time.Duration(round) * time.Minute)
				}
				bogus := crdt.Insert(crdt.EmptyTrie(), crdt.NewTimestamp(at.UnixMilli(), 0, "ffffffffffffffff"))
				data, err := json.Marshal(bogus)
				require.NoError(t, err)
				resp.Merkle = string(data)
			}

			cfg := DefaultConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			c := newTestClient(t, relay, fake, WithConfig(cfg))
			events := recordEvents(c.engine)

			_, err := c.engine.FullSync(ctx)
			require.Error(t, err)

			var outOfSync *OutOfSyncError
			require.True(t, errors.As(err, &outOfSync))
			assert.Equal(t, tt.wantAttempts, outOfSync.Attempts)
			assert.Equal(t, tt.wantSameDiff, outOfSync.SameDiff)
			assert.Equal(t, tt.wantCalls, relay.Calls())
			assert.Equal(t, StateFailed, c.engine.State())

			ev, ok := events.Last(EventError)
			require.True(t, ok)
			assert.Equal(t, SubtypeOutOfSync, ev.Subtype)

			cp, err := c.prefs.GetCheckpoint(ctx)
			require.NoError(t, err)
			assert.Empty(t, cp.LastSyncedTimestamp)
		})
	}
}

func TestFullSync_PostErrors(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantEvent    EventType
		wantSubtype  string
		wantReadOnly bool
	}{
		{
			name:         "unauthorized switches to read-only",
			err:          &clientapi.PostError{Reason: api.ReasonUnauthorized, Status: 401},
			wantEvent:    EventUnauthorized,
			wantReadOnly: true,
		},
		{
			name:        "network failure",
			err:         &clientapi.PostError{Reason: api.ReasonNetworkFailure},
			wantEvent:   EventError,
			wantSubtype: SubtypeNetwork,
		},
		{
			name:        "file reset",
			err:         &clientapi.PostError{Reason: api.ReasonFileHasReset, Status: 400},
			wantEvent:   EventError,
			wantSubtype: api.ReasonFileHasReset,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			relay := newMemoryRelay()
			relay.err = tt.err

			c := newTestClient(t, relay, clockwork.NewFakeClockAt(testEpoch))
			events := recordEvents(c.engine)

			_, err := c.engine.FullSync(ctx)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)

			ev, ok := events.Last(tt.wantEvent)
			require.True(t, ok)
			assert.Equal(t, tt.wantSubtype, ev.Subtype)
			assert.Equal(t, []EventType{EventStart, tt.wantEvent}, events.Types())

			readOnly, err := c.prefs.IsReadOnly(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.wantReadOnly, readOnly)

			cp, err := c.prefs.GetCheckpoint(ctx)
			require.NoError(t, err)
			assert.Empty(t, cp.LastSyncedTimestamp)
		})
	}
}

func TestFullSync_GroupChangedDuringRequest(t *testing.T) {
	ctx := context.Background()
	fake := clockwork.NewFakeClockAt(testEpoch)
	relay := newMemoryRelay()

	other := newTestClient(t, relay, fake)
	require.NoError(t, other.engine.Set(ctx, models.DatasetPayees, "p1", "name", models.String("Shop")))
	_, err := other.engine.FullSync(ctx)
	require.NoError(t, err)

	c := newTestClient(t, relay, fake)
	relay.beforeRespond = func(int, *api.SyncResponse) {
		cp, err := c.prefs.GetCheckpoint(ctx)
		require.NoError(t, err)
		cp.GroupID = "group-2"
		require.NoError(t, c.prefs.SaveCheckpoint(ctx, cp))
	}

	result, err := c.engine.FullSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rounds)
	assert.Empty(t, result.Messages)
	assert.Nil(t, fetchRow(t, c, models.DatasetPayees, "p1"))

	cp, err := c.prefs.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, "group-2", cp.GroupID)
	assert.Empty(t, cp.LastSyncedTimestamp)
}

func TestFullSync_ModeWithoutRelay(t *testing.T) {
	tests := []struct {
		name         string
		mode         Mode
		wantDisabled bool
	}{
		{name: "offline", mode: ModeOffline},
		{name: "disabled", mode: ModeDisabled, wantDisabled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay := newMemoryRelay()
			c := newTestClient(t, relay, clockwork.NewFakeClockAt(testEpoch), WithMode(tt.mode))
			events := recordEvents(c.engine)

			result, err := c.engine.FullSync(context.Background())
			require.NoError(t, err)
			assert.Zero(t, result.Rounds)
			assert.Zero(t, relay.Calls())

			ev, ok := events.Last(EventSuccess)
			require.True(t, ok)
			assert.Equal(t, tt.wantDisabled, ev.SyncDisabled)
		})
	}
}

func TestFullSync_Closed(t *testing.T) {
	c := newTestClient(t, newMemoryRelay(), clockwork.NewFakeClockAt(testEpoch))
	c.engine.Close()

	_, err := c.engine.FullSync(context.Background())
	assert.ErrorIs(t, err, ErrEngineClosed)
}

func TestScheduleFullSync_Debounce(t *testing.T) {
	ctx := context.Background()
	fake := clockwork.NewFakeClockAt(testEpoch)
	relay := newMemoryRelay()
	c := newTestClient(t, relay, fake)

	for i := range 3 {
		require.NoError(t, c.engine.Set(ctx, models.DatasetNotes, "n1", "note", models.Number(float64(i))))
		fake.Advance(500 * time.Millisecond)
	}
	assert.Zero(t, relay.Calls())

	fake.Advance(500 * time.Millisecond)

	require.Eventually(t, func() bool {
		return c.engine.State() == StateConverged
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, relay.Calls())
	assert.Equal(t, relay.Hash(), c.engine.Merkle().Hash)
}

func TestScheduleFullSync_ConcurrentCallsFireOnce(t *testing.T) {
	fake := clockwork.NewFakeClockAt(testEpoch)
	relay := newMemoryRelay()
	c := newTestClient(t, relay, fake)

	var wg gosync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.engine.ScheduleFullSync()
		}()
	}
	wg.Wait()

	fake.Advance(time.Second)

	require.Eventually(t, func() bool {
		return relay.Calls() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool {
		return relay.Calls() > 1
	}, 200*time.Millisecond, 10*time.Millisecond)
}

func TestScheduleFullSync_Cancel(t *testing.T) {
	ctx := context.Background()
	fake := clockwork.NewFakeClockAt(testEpoch)
	relay := newMemoryRelay()
	c := newTestClient(t, relay, fake)

	require.NoError(t, c.engine.Set(ctx, models.DatasetNotes, "n1", "note", models.String("x")))
	c.engine.CancelScheduledSync()

	fake.Advance(5 * time.Second)
	assert.Never(t, func() bool {
		return relay.Calls() > 0
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestScheduleFullSync_NotScheduledOffline(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, newMemoryRelay(), clockwork.NewFakeClockAt(testEpoch), WithMode(ModeOffline))

	require.NoError(t, c.engine.Set(ctx, models.DatasetNotes, "n1", "note", models.String("x")))

	c.engine.timerMu.Lock()
	defer c.engine.timerMu.Unlock()
	assert.Nil(t, c.engine.timer)
}
