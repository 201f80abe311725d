package track

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTrackEvent(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	msg := Message{
		MMSI:    "111000111",
		IMO:     "9000001",
		Type:    1,
		Lat:     Float(45.0),
		Lon:     Float(-5.0),
		Speed:   Float(11.2),
		Name:    "ALPHA",
		Heading: Int(270),
	}
	match := &Match{MMSI: "111000111", ListID: "L1", ListName: "sanctioned", Color: "#ff0000", MatchedBy: "mmsi"}

	ev := NewTrackEvent(msg, match, now)

	assert.Equal(t, EventTrackUpdate, ev.Type)
	assert.Equal(t, "2023-11-14T22:13:20Z", ev.Timestamp)
	assert.Equal(t, "111000111", ev.MMSI)
	assert.Equal(t, Float(45.0), ev.Lat)
	assert.Equal(t, "ALPHA", ev.Name)
	assert.Equal(t, match, ev.Watchlist)
	assert.Empty(t, ev.ListID)
}

// Serializing then parsing a track event must preserve every present field
// and omit every absent one.
func TestTrackEvent_SerializationPreservesFields(t *testing.T) {
	ev := TrackEvent{
		Type:      EventTrackUpdate,
		Timestamp: "2023-11-14T22:13:20Z",
		MMSI:      "111000111",
		Lat:       Float(45.0),
		Lon:       Float(-5.0),
		Heading:   Int(12),
		Watchlist: &Match{IMO: "9000001", ListID: "L1", MatchedBy: "imo"},
		ListID:    "L1",
	}

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var back TrackEvent
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, ev, back)

	var w map[string]any
	require.NoError(t, json.Unmarshal(raw, &w))
	assert.NotContains(t, w, "speed")
	assert.NotContains(t, w, "name")
	assert.NotContains(t, w, "callsign")
}
