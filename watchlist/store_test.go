package watchlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuntStore_RoundTrip(t *testing.T) {
	store, err := OpenBuntStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	lists := []ListInfo{
		{ListID: "L1", ListName: "sanctioned", Color: "#ff0000"},
		{ListID: "L2", ListName: "monitored"},
	}
	vessels := []Entry{
		{MMSI: "111", ListID: "L1"},
		{IMO: "9000001", ListID: "L2"},
	}

	require.NoError(t, store.UpsertLists(lists))
	require.NoError(t, store.UpsertVessels(vessels))

	gotLists, err := store.LoadLists()
	require.NoError(t, err)
	assert.ElementsMatch(t, lists, gotLists)

	gotVessels, err := store.LoadVessels()
	require.NoError(t, err)
	assert.ElementsMatch(t, vessels, gotVessels)
}

func TestBuntStore_UpsertReplacesExisting(t *testing.T) {
	store, err := OpenBuntStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, store.UpsertVessels([]Entry{{MMSI: "111", ListID: "L1"}}))
	require.NoError(t, store.UpsertVessels([]Entry{{MMSI: "111", ListID: "L2"}}))

	vessels, err := store.LoadVessels()
	require.NoError(t, err)
	require.Len(t, vessels, 1)
	assert.Equal(t, "L2", vessels[0].ListID)
}

func TestBuntStore_SkipsEntriesWithoutIdentifier(t *testing.T) {
	store, err := OpenBuntStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, store.UpsertVessels([]Entry{{ListID: "L1"}}))
	require.NoError(t, store.UpsertLists([]ListInfo{{ListName: "nameless"}}))

	vessels, err := store.LoadVessels()
	require.NoError(t, err)
	assert.Empty(t, vessels)

	lists, err := store.LoadLists()
	require.NoError(t, err)
	assert.Empty(t, lists)
}

func TestBuntStore_Detections(t *testing.T) {
	store, err := OpenBuntStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	err = store.UpsertDetection(Detection{MMSI: "111", ListID: "L1", MatchedBy: "mmsi"})
	assert.NoError(t, err)
}

func TestMemoryStore_Detections(t *testing.T) {
	store := NewMemoryStore()

	require.NoError(t, store.UpsertDetection(Detection{MMSI: "111", ListID: "L1", MatchedBy: "mmsi"}))
	require.NoError(t, store.UpsertDetection(Detection{IMO: "9000001", ListID: "L2", MatchedBy: "imo"}))

	detections := store.Detections()
	require.Len(t, detections, 2)
	assert.Equal(t, "mmsi", detections[0].MatchedBy)
}
