package hlc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNowAdvancesCounterWithinSameMillis(t *testing.T) {
	c := New("node-a")
	frozen := time.UnixMilli(1000)
	c.wall = func() time.Time { return frozen }

	a := c.Now()
	b := c.Now()

	assert.Equal(t, int64(1000), a.Millis)
	assert.Equal(t, uint32(0), a.Counter)
	assert.Equal(t, uint32(1), b.Counter)
	assert.True(t, a.Less(b))
}

func TestNowResetsCounterOnWallAdvance(t *testing.T) {
	c := New("node-a")
	millis := int64(1000)
	c.wall = func() time.Time { return time.UnixMilli(millis) }

	_ = c.Now()
	_ = c.Now()
	millis = 1001
	third := c.Now()

	assert.Equal(t, int64(1001), third.Millis)
	assert.Equal(t, uint32(0), third.Counter)
}

func TestObserveAdvancesMonotonicity(t *testing.T) {
	c := New("node-a")
	c.wall = func() time.Time { return time.UnixMilli(1000) }

	remote := Timestamp{Millis: 5000, Counter: 3, NodeID: "other"}
	c.Observe(remote)

	next := c.Now()
	assert.True(t, next.Compare(remote) > 0)
}

func TestParseRoundTrip(t *testing.T) {
	ts := Timestamp{Millis: 1700000000123, Counter: 42, NodeID: "node-a"}
	parsed, err := Parse(ts.String())
	require.NoError(t, err)
	assert.Equal(t, ts, parsed)
}

func TestParseRejectsMalformed(t *testing.T) {
	_, err := Parse("not-a-timestamp")
	assert.Error(t, err)

	_, err = Parse("123:abc:node")
	assert.Error(t, err)

	_, err = Parse("123:456:")
	assert.Error(t, err)
}

func TestStringSortOrderMatchesNumericOrder(t *testing.T) {
	a := Timestamp{Millis: 1, Counter: 5, NodeID: "a"}
	b := Timestamp{Millis: 1, Counter: 6, NodeID: "a"}
	assert.True(t, a.String() < b.String())

	c := Timestamp{Millis: 2, Counter: 0, NodeID: "a"}
	assert.True(t, b.String() < c.String())
}
