package track

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_JSONRoundTrip(t *testing.T) {
	var testCases = []struct {
		name  string
		given Message
	}{
		{
			name: "position report",
			given: Message{
				MMSI:      "111000111",
				Type:      1,
				Lat:       Float(10.5),
				Lon:       Float(20.25),
				Speed:     Float(12.3),
				Course:    Float(87.5),
				Heading:   Int(90),
				Status:    Int(0),
				Source:    "sat-1",
				Timestamp: UnixTimestamp(1700000000),
			},
		},
		{
			name: "static report",
			given: Message{
				MMSI:     "222000222",
				IMO:      "9000001",
				Type:     5,
				Name:     "ALPHA",
				Callsign: "AB1CD",
				ShipType: Int(70),
				Length:   Int(120),
				Width:    Int(20),
			},
		},
		{
			name: "own ship with extras",
			given: Message{
				MMSI:    "333000333",
				Type:    18,
				Lat:     Float(-5.0),
				Lon:     Float(3.0),
				OwnShip: true,
				Extras:  map[string]any{"receiver_class": "B"},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := json.Marshal(tc.given)
			require.NoError(t, err)

			var back Message
			require.NoError(t, json.Unmarshal(raw, &back))

			assert.Equal(t, tc.given, back)
		})
	}
}

func TestMessage_UnmarshalOmitsAbsentFields(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"type":1,"mmsi":"123"}`), &m))

	assert.Nil(t, m.Lat)
	assert.Nil(t, m.Lon)
	assert.Nil(t, m.Speed)
	assert.False(t, m.Timestamp.Valid)
	assert.False(t, m.HasPosition())
}

func TestMessage_UnmarshalNumericMMSI(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"type":3,"mmsi":247039300}`), &m))
	assert.Equal(t, "247039300", m.MMSI)
}

func TestMessage_MarshalNeverEmitsNull(t *testing.T) {
	raw, err := json.Marshal(Message{MMSI: "123", Type: 5, Name: "X"})
	require.NoError(t, err)

	var w map[string]any
	require.NoError(t, json.Unmarshal(raw, &w))
	for k, v := range w {
		assert.NotNil(t, v, "field %q must not be null", k)
	}
	assert.NotContains(t, w, "lat")
	assert.NotContains(t, w, "speed")
}

func TestParseTimestamp(t *testing.T) {
	var testCases = []struct {
		name        string
		given       any
		expect      Timestamp
		expectError bool
	}{
		{name: "unix seconds", given: float64(1700000000), expect: Timestamp{Seconds: 1700000000, Valid: true}},
		{name: "iso 8601", given: "2023-11-14T22:13:20Z", expect: Timestamp{Seconds: 1700000000, Raw: "2023-11-14T22:13:20Z", Valid: true}},
		{name: "absent", given: nil, expect: Timestamp{}},
		{name: "garbage string", given: "not-a-time", expectError: true},
		{name: "unsupported type", given: []int{1}, expectError: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ts, err := ParseTimestamp(tc.given)
			if tc.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expect, ts)
		})
	}
}

func TestTimestamp_OrNow(t *testing.T) {
	now := time.Unix(1600000000, 0).UTC()

	assert.Equal(t, float64(1700000000), UnixTimestamp(1700000000).OrNow(now))
	assert.Equal(t, float64(1600000000), Timestamp{}.OrNow(now))
}

func TestTimestamp_ValueKeepsRawForm(t *testing.T) {
	ts, err := ParseTimestamp("2023-11-14T22:13:20Z")
	require.NoError(t, err)
	assert.Equal(t, "2023-11-14T22:13:20Z", ts.Value())

	assert.Equal(t, float64(12), UnixTimestamp(12).Value())
	assert.Nil(t, Timestamp{}.Value())
}
