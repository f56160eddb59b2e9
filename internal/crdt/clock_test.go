package crdt

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock оборачивает Clock и позволяет выставлять физическое время
// произвольно, в том числе назад.
type testClock struct {
	clock *Clock
}

func newTestClock(node string) *testClock {
	return &testClock{clock: NewClock(node, WithWallClock(clockwork.NewFakeClockAt(time.UnixMilli(0))))}
}

func (tc *testClock) setNow(ms int64) {
	tc.clock = Restore(tc.clock.Now(), WithWallClock(clockwork.NewFakeClockAt(time.UnixMilli(ms))))
}

func (tc *testClock) send(t *testing.T) string {
	t.Helper()
	ts, err := tc.clock.Send()
	require.NoError(t, err)
	return ts.String()
}

func (tc *testClock) recv(t *testing.T, remote string) string {
	t.Helper()
	ts, err := tc.clock.Recv(MustParseTimestamp(remote))
	require.NoError(t, err)
	return ts.String()
}

func TestNewClock(t *testing.T) {
	clock := NewClock("1")

	require.NotNil(t, clock)
	assert.Equal(t, "0000000000000001", clock.Node())
	assert.Equal(t, int64(0), clock.Now().Millis())
	assert.Equal(t, uint16(0), clock.Now().Counter())
}

func TestClock_Send(t *testing.T) {
	tests := []struct {
		name  string
		steps []struct {
			now  int64
			want string
		}
	}{
		{
			name: "monotonic wall clock",
			steps: []struct {
				now  int64
				want string
			}{
				{10, "1970-01-01T00:00:00.010Z-0000-0000000000000001"},
				{11, "1970-01-01T00:00:00.011Z-0000-0000000000000001"},
				{12, "1970-01-01T00:00:00.012Z-0000-0000000000000001"},
			},
		},
		{
			name: "stuttering wall clock",
			steps: []struct {
				now  int64
				want string
			}{
				{20, "1970-01-01T00:00:00.020Z-0000-0000000000000001"},
				{20, "1970-01-01T00:00:00.020Z-0001-0000000000000001"},
				{20, "1970-01-01T00:00:00.020Z-0002-0000000000000001"},
				{21, "1970-01-01T00:00:00.021Z-0000-0000000000000001"},
			},
		},
		{
			name: "regressing wall clock",
			steps: []struct {
				now  int64
				want string
			}{
				{30, "1970-01-01T00:00:00.030Z-0000-0000000000000001"},
				{29, "1970-01-01T00:00:00.030Z-0001-0000000000000001"},
				{29, "1970-01-01T00:00:00.030Z-0002-0000000000000001"},
				{31, "1970-01-01T00:00:00.031Z-0000-0000000000000001"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestClock("1")
			for _, step := range tt.steps {
				tc.setNow(step.now)
				assert.Equal(t, step.want, tc.send(t))
			}
		})
	}
}

func TestClock_Send_Monotonicity(t *testing.T) {
	// Реальные часы: в плотном цикле метки должны строго возрастать
	clock := NewClock(MakeClientID())

	prev, err := clock.Send()
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		current, err := clock.Send()
		require.NoError(t, err)
		assert.True(t, prev.Before(current), "send must be strictly increasing: %s >= %s", prev, current)
		assert.Less(t, prev.String(), current.String())
		prev = current
	}
}

func TestClock_Send_Overflow(t *testing.T) {
	tc := newTestClock("1")
	tc.setNow(40)

	for i := 0; i <= MaxCounter; i++ {
		_, err := tc.clock.Send()
		require.NoError(t, err)
	}

	_, err := tc.clock.Send()
	var overflow *OverflowError
	require.ErrorAs(t, err, &overflow)
}

func TestClock_Send_ClockDrift(t *testing.T) {
	tc := newTestClock("1")
	tc.setNow(-(5*60*1000 + 1))

	_, err := tc.clock.Send()
	var drift *ClockDriftError
	require.ErrorAs(t, err, &drift)
	assert.Equal(t, DefaultMaxDrift, drift.MaxDrift)
}

func TestClock_Recv(t *testing.T) {
	type step struct {
		now    int64
		remote string
		want   string
	}

	tests := []struct {
		name  string
		steps []step
	}{
		{
			name: "global monotonic clock",
			steps: []step{
				{52, "1970-01-01T00:00:00.051Z-0000-0000000000000002", "1970-01-01T00:00:00.052Z-0000-0000000000000001"},
				{54, "1970-01-01T00:00:00.053Z-0000-0000000000000002", "1970-01-01T00:00:00.054Z-0000-0000000000000001"},
				{56, "1970-01-01T00:00:00.055Z-0000-0000000000000002", "1970-01-01T00:00:00.056Z-0000-0000000000000001"},
			},
		},
		{
			name: "global stuttering clock",
			steps: []step{
				{61, "1970-01-01T00:00:00.062Z-0000-0000000000000002", "1970-01-01T00:00:00.062Z-0001-0000000000000001"},
				{62, "1970-01-01T00:00:00.062Z-0001-0000000000000002", "1970-01-01T00:00:00.062Z-0002-0000000000000001"},
				{62, "1970-01-01T00:00:00.062Z-0002-0000000000000002", "1970-01-01T00:00:00.062Z-0003-0000000000000001"},
				{63, "1970-01-01T00:00:00.062Z-0004-0000000000000002", "1970-01-01T00:00:00.063Z-0000-0000000000000001"},
			},
		},
		{
			name: "local stuttering clock",
			steps: []step{
				{73, "1970-01-01T00:00:00.071Z-0000-0000000000000002", "1970-01-01T00:00:00.073Z-0000-0000000000000001"},
				{73, "1970-01-01T00:00:00.072Z-0000-0000000000000002", "1970-01-01T00:00:00.073Z-0001-0000000000000001"},
				{74, "1970-01-01T00:00:00.073Z-0000-0000000000000002", "1970-01-01T00:00:00.074Z-0000-0000000000000001"},
			},
		},
		{
			name: "remote stuttering clock",
			steps: []step{
				{81, "1970-01-01T00:00:00.083Z-0000-0000000000000002", "1970-01-01T00:00:00.083Z-0001-0000000000000001"},
				{82, "1970-01-01T00:00:00.083Z-0001-0000000000000002", "1970-01-01T00:00:00.083Z-0002-0000000000000001"},
				{83, "1970-01-01T00:00:00.083Z-0002-0000000000000002", "1970-01-01T00:00:00.083Z-0003-0000000000000001"},
				{84, "1970-01-01T00:00:00.083Z-0003-0000000000000002", "1970-01-01T00:00:00.084Z-0000-0000000000000001"},
			},
		},
		{
			name: "local regressing clock",
			steps: []step{
				{93, "1970-01-01T00:00:00.091Z-0000-0000000000000002", "1970-01-01T00:00:00.093Z-0000-0000000000000001"},
				{92, "1970-01-01T00:00:00.092Z-0000-0000000000000002", "1970-01-01T00:00:00.093Z-0001-0000000000000001"},
				{91, "1970-01-01T00:00:00.093Z-0000-0000000000000002", "1970-01-01T00:00:00.093Z-0002-0000000000000001"},
			},
		},
		{
			name: "remote regressing clock",
			steps: []step{
				{101, "1970-01-01T00:00:00.103Z-0000-0000000000000002", "1970-01-01T00:00:00.103Z-0001-0000000000000001"},
				{102, "1970-01-01T00:00:00.102Z-0000-0000000000000002", "1970-01-01T00:00:00.103Z-0002-0000000000000001"},
				{103, "1970-01-01T00:00:00.101Z-0000-0000000000000002", "1970-01-01T00:00:00.103Z-0003-0000000000000001"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestClock("1")
			for _, s := range tt.steps {
				tc.setNow(s.now)
				assert.Equal(t, s.want, tc.recv(t, s.remote))
			}
		})
	}
}

func TestClock_Recv_NeverRegresses(t *testing.T) {
	tc := newTestClock("1")
	tc.setNow(1000)
	before := tc.send(t)

	after := tc.recv(t, "1970-01-01T00:00:00.001Z-0000-0000000000000002")
	assert.Greater(t, after, before)
}

func TestClock_Recv_ClockDrift(t *testing.T) {
	tc := newTestClock("1")

	_, err := tc.clock.Recv(MustParseTimestamp("1980-01-01T00:00:00.101Z-0000-0000000000000002"))

	var drift *ClockDriftError
	require.True(t, errors.As(err, &drift))
	assert.Contains(t, err.Error(), "clock drift")
	// Состояние часов не меняется
	assert.Equal(t, int64(0), tc.clock.Now().Millis())
}

func TestClock_WithMaxDrift(t *testing.T) {
	wall := clockwork.NewFakeClockAt(time.UnixMilli(1_000_000))
	clock := NewClock("1", WithWallClock(wall), WithMaxDrift(24*time.Hour))

	remote := NewTimestamp(1_000_000+int64(time.Hour/time.Millisecond), 0, "2")
	got, err := clock.Recv(remote)
	require.NoError(t, err)
	assert.Equal(t, remote.Millis(), got.Millis())
	assert.Equal(t, uint16(1), got.Counter())
}

func TestClock_SetNode(t *testing.T) {
	tc := newTestClock("1")
	tc.setNow(10)
	tc.send(t)

	tc.clock.SetNode("ABCDEF")
	now := tc.clock.Now()
	assert.Equal(t, "0000000000ABCDEF", now.Node())
	assert.Equal(t, int64(10), now.Millis())
}
