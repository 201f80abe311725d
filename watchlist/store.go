// Package watchlist tracks vessels of interest: durable storage of list and
// vessel entries, an HTTP client for the upstream provider, and an in-memory
// registry used for per-message matching.
package watchlist

import (
	"sort"
	"sync"
)

// Entry links a vessel identifier to a list. At least one of MMSI or IMO is
// set.
type Entry struct {
	MMSI   string `json:"mmsi,omitempty"`
	IMO    string `json:"imo,omitempty"`
	ListID string `json:"list_id"`
}

// ListInfo is the metadata of one list.
type ListInfo struct {
	ListID   string `json:"list_id"`
	ListName string `json:"list_name,omitempty"`
	Color    string `json:"color,omitempty"`
}

// Detection records one sighting of a watchlisted vessel. Raw carries the
// normalized message that triggered it, serialized as JSON.
type Detection struct {
	MMSI      string   `json:"mmsi,omitempty"`
	IMO       string   `json:"imo,omitempty"`
	ListID    string   `json:"list_id"`
	MatchedBy string   `json:"matched_by"`
	Lat       *float64 `json:"lat,omitempty"`
	Lon       *float64 `json:"lon,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
	Raw       string   `json:"raw_data,omitempty"`
}

// Store persists watchlist data between syncs so the registry can start
// serving matches before the first successful fetch.
type Store interface {
	UpsertLists(lists []ListInfo) error
	UpsertVessels(vessels []Entry) error
	LoadLists() ([]ListInfo, error)
	LoadVessels() ([]Entry, error)
	UpsertDetection(d Detection) error
	Close() error
}

// MemoryStore is a Store for tests and storage-less deployments.
type MemoryStore struct {
	mu         sync.Mutex
	lists      map[string]ListInfo
	vessels    map[string]Entry
	detections []Detection
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lists:   make(map[string]ListInfo),
		vessels: make(map[string]Entry),
	}
}

func (m *MemoryStore) UpsertLists(lists []ListInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range lists {
		if l.ListID == "" {
			continue
		}
		m.lists[l.ListID] = l
	}
	return nil
}

func (m *MemoryStore) UpsertVessels(vessels []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range vessels {
		if key := vesselKey(v); key != "" {
			m.vessels[key] = v
		}
	}
	return nil
}

func (m *MemoryStore) LoadLists() ([]ListInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ListInfo, 0, len(m.lists))
	for _, l := range m.lists {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ListID < out[j].ListID })
	return out, nil
}

func (m *MemoryStore) LoadVessels() ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.vessels))
	for _, v := range m.vessels {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return vesselKey(out[i]) < vesselKey(out[j]) })
	return out, nil
}

func (m *MemoryStore) UpsertDetection(d Detection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detections = append(m.detections, d)
	return nil
}

// Detections returns everything recorded so far.
func (m *MemoryStore) Detections() []Detection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Detection, len(m.detections))
	copy(out, m.detections)
	return out
}

func (m *MemoryStore) Close() error { return nil }

func vesselKey(v Entry) string {
	if v.MMSI != "" {
		return "mmsi:" + v.MMSI
	}
	if v.IMO != "" {
		return "imo:" + v.IMO
	}
	return ""
}
