package state

import (
	"fmt"
	"testing"
	"time"

	track "github.com/ethan0sc4r/codmar001"
	"github.com/stretchr/testify/assert"
)

func TestDedupStore_CollapsesNearIdenticalReports(t *testing.T) {
	current := time.Unix(2000, 0)
	d := NewDedupStore(DedupConfig{Window: 30 * time.Second, Now: func() time.Time { return current }})

	first := track.Message{MMSI: "111", Timestamp: track.UnixTimestamp(1000), Lat: track.Float(10.0), Lon: track.Float(20.0)}
	second := track.Message{MMSI: "111", Timestamp: track.UnixTimestamp(1019), Lat: track.Float(10.00001), Lon: track.Float(20.00001)}

	assert.False(t, d.Seen(first), "first report must be unique")
	assert.True(t, d.Seen(second), "near-identical report in the same bucket must be a duplicate")

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Unique)
	assert.Equal(t, uint64(1), stats.Duplicates)
}

func TestDedupStore_DistinctReportsPass(t *testing.T) {
	d := NewDedupStore(DedupConfig{Window: 30 * time.Second})

	var testCases = []struct {
		name string
		a, b track.Message
	}{
		{
			name: "different vessels",
			a:    track.Message{MMSI: "111", Timestamp: track.UnixTimestamp(1000), Lat: track.Float(10), Lon: track.Float(20)},
			b:    track.Message{MMSI: "222", Timestamp: track.UnixTimestamp(1000), Lat: track.Float(10), Lon: track.Float(20)},
		},
		{
			name: "different time buckets",
			a:    track.Message{MMSI: "333", Timestamp: track.UnixTimestamp(1000), Lat: track.Float(10), Lon: track.Float(20)},
			b:    track.Message{MMSI: "333", Timestamp: track.UnixTimestamp(1030), Lat: track.Float(10), Lon: track.Float(20)},
		},
		{
			name: "position moved beyond rounding",
			a:    track.Message{MMSI: "444", Timestamp: track.UnixTimestamp(1000), Lat: track.Float(10.0), Lon: track.Float(20.0)},
			b:    track.Message{MMSI: "444", Timestamp: track.UnixTimestamp(1001), Lat: track.Float(10.001), Lon: track.Float(20.0)},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.False(t, d.Seen(tc.a))
			assert.False(t, d.Seen(tc.b))
		})
	}
}

// Static messages have no position and collapse at 0.0 within one bucket.
func TestDedupStore_StaticMessagesCollapse(t *testing.T) {
	d := NewDedupStore(DedupConfig{Window: 30 * time.Second})

	first := track.Message{MMSI: "555", Timestamp: track.UnixTimestamp(1000), Name: "ALPHA"}
	second := track.Message{MMSI: "555", Timestamp: track.UnixTimestamp(1010), Name: "ALPHA"}

	assert.False(t, d.Seen(first))
	assert.True(t, d.Seen(second))
}

func TestDedupStore_MissingTimestampUsesWallClock(t *testing.T) {
	current := time.Unix(1000, 0)
	d := NewDedupStore(DedupConfig{Window: 30 * time.Second, Now: func() time.Time { return current }})

	msg := track.Message{MMSI: "666", Lat: track.Float(1), Lon: track.Float(2)}
	assert.False(t, d.Seen(msg))
	assert.True(t, d.Seen(msg))
}

func TestDedupStore_KeysExpireAfterRetention(t *testing.T) {
	current := time.Unix(1000, 0)
	d := NewDedupStore(DedupConfig{Window: 30 * time.Second, TTLMultiplier: 2, Now: func() time.Time { return current }})

	msg := track.Message{MMSI: "777", Timestamp: track.UnixTimestamp(1000), Lat: track.Float(1), Lon: track.Float(2)}
	assert.False(t, d.Seen(msg))

	// Same key, but its retention of window times multiplier has elapsed.
	current = current.Add(61 * time.Second)
	assert.False(t, d.Seen(msg))
}

func TestDedupStore_Sweep(t *testing.T) {
	current := time.Unix(1000, 0)
	d := NewDedupStore(DedupConfig{Window: 30 * time.Second, Now: func() time.Time { return current }})

	for i := 0; i < 5; i++ {
		d.Seen(track.Message{MMSI: fmt.Sprintf("%d", i), Timestamp: track.UnixTimestamp(1000)})
	}
	assert.Equal(t, 5, d.Stats().Keys)

	assert.Equal(t, 0, d.Sweep())

	current = current.Add(2 * time.Minute)
	assert.Equal(t, 5, d.Sweep())
	assert.Equal(t, 0, d.Stats().Keys)
}
