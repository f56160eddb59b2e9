package crdt

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestamp_Ordering(t *testing.T) {
	assert.Equal(t, Zero(), Zero())
	assert.True(t, Zero().Before(Max()))
	assert.Equal(t, 0, Compare(Zero(), Zero()))

	tests := []struct {
		name string
		a, b Timestamp
		want int
	}{
		{"millis decide", NewTimestamp(1, 9, "B"), NewTimestamp(2, 0, "A"), -1},
		{"counter decides", NewTimestamp(5, 2, "A"), NewTimestamp(5, 1, "B"), 1},
		{"node breaks tie", NewTimestamp(5, 1, "A"), NewTimestamp(5, 1, "B"), -1},
		{"equal", NewTimestamp(5, 1, "A"), NewTimestamp(5, 1, "A"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
			// Строковый порядок совпадает с Compare
			switch tt.want {
			case -1:
				assert.Less(t, tt.a.String(), tt.b.String())
			case 1:
				assert.Greater(t, tt.a.String(), tt.b.String())
			default:
				assert.Equal(t, tt.a.String(), tt.b.String())
			}
		})
	}
}

func TestParseTimestamp_Invalid(t *testing.T) {
	invalid := []string{
		"",
		" ",
		"0",
		"invalid",
		"1969-1-1T0:0:0.0Z-0-0-0",
		"1969-01-01T00:00:00.000Z-0000-0000000000000000",
		"10000-01-01T00:00:00.000Z-FFFF-FFFFFFFFFFFFFFFF",
		"9999-12-31T23:59:59.999Z-10000-FFFFFFFFFFFFFFFF",
		"9999-12-31T23:59:59.999Z-FFFF-10000000000000000",
		"2015-04-24T22:23:42.123Z-GGGG-0123456789ABCDEF",
		"1970-01-02T05:17:36.789Z-0000-0000testinguuid2",
		"2015-04-24T22:23:42.123Z-0000-zzzzzzzzzzzzzzzz",
		"2015-04-24T22:23:42.123Z-0000-0123456789ABCDE-",
		"2015-04-24T22:23:42.123Z-0000-0123456789ABCDE ",
	}

	for _, input := range invalid {
		t.Run(input, func(t *testing.T) {
			_, err := ParseTimestamp(input)
			assert.Error(t, err)
		})
	}
}

func TestParseTimestamp_Valid(t *testing.T) {
	valid := []string{
		"1970-01-01T00:00:00.000Z-0000-0000000000000000",
		"2015-04-24T22:23:42.123Z-1000-0123456789ABCDEF",
		"9999-12-31T23:59:59.999Z-FFFF-FFFFFFFFFFFFFFFF",
		"2024-03-01T12:00:00.000Z-0000-0123456789abcdef",
	}

	for _, input := range valid {
		t.Run(input, func(t *testing.T) {
			ts, err := ParseTimestamp(input)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, ts.Millis(), int64(0))
			assert.Less(t, ts.Millis(), int64(253402300800000))
			assert.Len(t, ts.Node(), NodeLen)
			assert.Equal(t, input, ts.String())
		})
	}
}

func TestNewTimestamp_PadsNode(t *testing.T) {
	ts := NewTimestamp(0, 0, "0")
	assert.Equal(t, "1970-01-01T00:00:00.000Z-0000-0000000000000000", ts.String())
	assert.True(t, ts.IsZero())

	since := Since(60_000)
	assert.Equal(t, "1970-01-01T00:01:00.000Z-0000-0000000000000000", since.String())
}

func TestTimestamp_Hash(t *testing.T) {
	a := MustParseTimestamp("2018-11-13T13:20:40.122Z-0000-0123456789ABCDEF")
	b := MustParseTimestamp("2018-11-13T13:20:40.122Z-0001-0123456789ABCDEF")

	assert.Equal(t, a.Hash(), MustParseTimestamp(a.String()).Hash())
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestMakeClientID(t *testing.T) {
	id := MakeClientID()
	assert.Regexp(t, regexp.MustCompile(`^[0-9A-F]{16}$`), id)
	assert.NotEqual(t, id, MakeClientID())
}
