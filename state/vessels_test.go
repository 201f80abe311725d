package state

import (
	"testing"
	"time"

	track "github.com/ethan0sc4r/codmar001"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVesselStore_MergesStaticAndPositionMessages(t *testing.T) {
	v := NewVesselStore(VesselConfig{})

	v.Update(track.Message{MMSI: "222", Name: "ALPHA", IMO: "9000001", Source: "sat-1"})
	v.Update(track.Message{MMSI: "222", Lat: track.Float(45.0), Lon: track.Float(-5.0), Source: "coastal"})

	state, ok := v.Get("222")
	require.True(t, ok)

	assert.Equal(t, "ALPHA", state.Name)
	assert.Equal(t, "9000001", state.IMO)
	assert.Equal(t, track.Float(45.0), state.Lat)
	assert.Equal(t, track.Float(-5.0), state.Lon)
	assert.Equal(t, 2, state.MessageCount)
	assert.Equal(t, []string{"coastal", "sat-1"}, state.Sources)
}

// Identity attributes survive later messages that omit them; position fields
// follow the latest message that carries them.
func TestVesselStore_StaticAttributesStick(t *testing.T) {
	v := NewVesselStore(VesselConfig{})

	v.Update(track.Message{MMSI: "111", Name: "ALPHA", Callsign: "AB1CD", ShipType: track.Int(70)})
	v.Update(track.Message{MMSI: "111", Lat: track.Float(1.0), Lon: track.Float(2.0), Speed: track.Float(9.5)})
	v.Update(track.Message{MMSI: "111", Lat: track.Float(1.5), Lon: track.Float(2.5)})

	state, ok := v.Get("111")
	require.True(t, ok)

	assert.Equal(t, "ALPHA", state.Name)
	assert.Equal(t, "AB1CD", state.Callsign)
	assert.Equal(t, track.Int(70), state.ShipType)
	assert.Equal(t, track.Float(1.5), state.Lat)
	assert.Equal(t, track.Float(2.5), state.Lon)
	assert.Equal(t, track.Float(9.5), state.Speed, "speed keeps the last message that carried it")
}

func TestVesselStore_LastUpdateKeepsUpstreamForm(t *testing.T) {
	now := time.Unix(1600000000, 0)
	v := NewVesselStore(VesselConfig{Now: func() time.Time { return now }})

	v.Update(track.Message{MMSI: "111", Timestamp: track.UnixTimestamp(1700000000)})
	state, _ := v.Get("111")
	assert.Equal(t, float64(1700000000), state.LastUpdate)

	v.Update(track.Message{MMSI: "222"})
	state, _ = v.Get("222")
	assert.Equal(t, float64(1600000000), state.LastUpdate, "missing timestamp falls back to wall clock")
}

func TestVesselStore_ExpiryAndCleanup(t *testing.T) {
	current := time.Unix(1000, 0)
	v := NewVesselStore(VesselConfig{TTL: time.Hour, Now: func() time.Time { return current }})

	v.Update(track.Message{MMSI: "111", Lat: track.Float(1), Lon: track.Float(2)})
	v.Update(track.Message{MMSI: "222", Lat: track.Float(3), Lon: track.Float(4)})

	assert.Equal(t, []string{"111", "222"}, v.ActiveVessels())

	// Keep one vessel alive past the other's expiry.
	current = current.Add(30 * time.Minute)
	v.Update(track.Message{MMSI: "222", Lat: track.Float(3.1), Lon: track.Float(4.1)})

	current = current.Add(31 * time.Minute)

	_, ok := v.Get("111")
	assert.False(t, ok, "expired record must read as absent before cleanup")
	_, ok = v.Get("222")
	assert.True(t, ok)

	assert.Equal(t, 1, v.Cleanup())
	assert.Equal(t, []string{"222"}, v.ActiveVessels())
	assert.Equal(t, 1, v.Count())
}

func TestVesselStore_All(t *testing.T) {
	v := NewVesselStore(VesselConfig{})

	v.Update(track.Message{MMSI: "333", Name: "CHARLIE"})
	v.Update(track.Message{MMSI: "111", Name: "ALPHA"})

	all := v.All()
	require.Len(t, all, 2)
	assert.Equal(t, "111", all[0].MMSI)
	assert.Equal(t, "333", all[1].MMSI)
}

func TestVesselStore_IgnoresMessagesWithoutMMSI(t *testing.T) {
	v := NewVesselStore(VesselConfig{})
	v.Update(track.Message{Name: "GHOST"})
	assert.Equal(t, 0, v.Count())
}

func TestVesselStore_OwnShipFlagSticks(t *testing.T) {
	v := NewVesselStore(VesselConfig{})

	v.Update(track.Message{MMSI: "444", OwnShip: true})
	v.Update(track.Message{MMSI: "444", Lat: track.Float(1), Lon: track.Float(2)})

	state, _ := v.Get("444")
	assert.True(t, state.OwnShip)
}
