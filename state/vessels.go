package state

import (
	"sort"
	"sync"
	"time"

	track "github.com/ethan0sc4r/codmar001"
)

const (
	// DefaultVesselTTL is how long a vessel record lives without updates.
	DefaultVesselTTL = 3600 * time.Second

	// DefaultCleanupInterval is how often expired records are swept.
	DefaultCleanupInterval = 300 * time.Second
)

// VesselConfig tunes a VesselStore. Zero values select defaults.
type VesselConfig struct {
	TTL time.Duration
	Now func() time.Time
}

// VesselState is the merged view of everything received about one vessel.
// Static attributes stick across position-only updates; dynamic attributes
// reflect the latest message that carried them.
type VesselState struct {
	MMSI     string   `json:"mmsi"`
	IMO      string   `json:"imo,omitempty"`
	Name     string   `json:"name,omitempty"`
	Callsign string   `json:"callsign,omitempty"`
	ShipType *int     `json:"shiptype,omitempty"`
	Length   *int     `json:"length,omitempty"`
	Width    *int     `json:"width,omitempty"`
	Lat      *float64 `json:"lat,omitempty"`
	Lon      *float64 `json:"lon,omitempty"`
	Speed    *float64 `json:"speed,omitempty"`
	Course   *float64 `json:"course,omitempty"`
	Heading  *int     `json:"heading,omitempty"`
	Status   *int     `json:"status,omitempty"`
	OwnShip  bool     `json:"isOwnShip,omitempty"`

	// LastUpdate keeps the upstream timestamp in the form it arrived in,
	// a unix float or an ISO 8601 string.
	LastUpdate   any      `json:"last_update,omitempty"`
	MessageCount int      `json:"message_count"`
	Sources      []string `json:"sources,omitempty"`
}

type vesselRecord struct {
	state     VesselState
	sources   map[string]struct{}
	expiresAt time.Time
}

// VesselStore is the in-memory vessel-state table keyed by MMSI. All methods
// are safe for concurrent use.
type VesselStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	records map[string]*vesselRecord
	active  map[string]struct{}
}

// NewVesselStore creates a VesselStore with the given settings.
func NewVesselStore(cfg VesselConfig) *VesselStore {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultVesselTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &VesselStore{
		ttl:     cfg.TTL,
		now:     cfg.Now,
		records: make(map[string]*vesselRecord),
		active:  make(map[string]struct{}),
	}
}

// Update merges a message into the vessel's record and extends its TTL.
func (v *VesselStore) Update(msg track.Message) {
	if msg.MMSI == "" {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	rec, ok := v.records[msg.MMSI]
	if !ok {
		rec = &vesselRecord{
			state:   VesselState{MMSI: msg.MMSI},
			sources: make(map[string]struct{}),
		}
		v.records[msg.MMSI] = rec
	}

	mergeStatics(&rec.state, msg)
	mergeDynamics(&rec.state, msg)
	if msg.OwnShip {
		rec.state.OwnShip = true
	}

	if ts := msg.Timestamp.Value(); ts != nil {
		rec.state.LastUpdate = ts
	} else {
		rec.state.LastUpdate = float64(now.Unix())
	}
	rec.state.MessageCount++
	if msg.Source != "" {
		rec.sources[msg.Source] = struct{}{}
	}
	rec.expiresAt = now.Add(v.ttl)
	v.active[msg.MMSI] = struct{}{}
}

// mergeStatics keeps the last non-empty value for identity attributes: a
// position-only message must never blank out a known name or IMO.
func mergeStatics(state *VesselState, msg track.Message) {
	if msg.IMO != "" {
		state.IMO = msg.IMO
	}
	if msg.Name != "" {
		state.Name = msg.Name
	}
	if msg.Callsign != "" {
		state.Callsign = msg.Callsign
	}
	if msg.ShipType != nil {
		state.ShipType = msg.ShipType
	}
	if msg.Length != nil {
		state.Length = msg.Length
	}
	if msg.Width != nil {
		state.Width = msg.Width
	}
}

func mergeDynamics(state *VesselState, msg track.Message) {
	if msg.Lat != nil {
		state.Lat = msg.Lat
	}
	if msg.Lon != nil {
		state.Lon = msg.Lon
	}
	if msg.Speed != nil {
		state.Speed = msg.Speed
	}
	if msg.Course != nil {
		state.Course = msg.Course
	}
	if msg.Heading != nil {
		state.Heading = msg.Heading
	}
	if msg.Status != nil {
		state.Status = msg.Status
	}
}

// Get returns a copy of the vessel's state. Expired records are treated as
// absent; removal is left to Cleanup.
func (v *VesselStore) Get(mmsi string) (VesselState, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	rec, ok := v.records[mmsi]
	if !ok || !v.now().Before(rec.expiresAt) {
		return VesselState{}, false
	}
	return snapshotRecord(rec), true
}

// All returns a copy of every live vessel record.
func (v *VesselStore) All() []VesselState {
	v.mu.RLock()
	defer v.mu.RUnlock()

	now := v.now()
	out := make([]VesselState, 0, len(v.records))
	for _, rec := range v.records {
		if now.Before(rec.expiresAt) {
			out = append(out, snapshotRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MMSI < out[j].MMSI })
	return out
}

// ActiveVessels returns the MMSIs with a live record, sorted.
func (v *VesselStore) ActiveVessels() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]string, 0, len(v.active))
	for mmsi := range v.active {
		out = append(out, mmsi)
	}
	sort.Strings(out)
	return out
}

// Count returns how many records are held, expired ones included.
func (v *VesselStore) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.records)
}

// Cleanup removes expired records and their active-set entries, returning
// how many vessels were dropped.
func (v *VesselStore) Cleanup() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	removed := 0
	for mmsi, rec := range v.records {
		if !now.Before(rec.expiresAt) {
			delete(v.records, mmsi)
			delete(v.active, mmsi)
			removed++
		}
	}
	return removed
}

func snapshotRecord(rec *vesselRecord) VesselState {
	state := rec.state
	if len(rec.sources) > 0 {
		state.Sources = make([]string, 0, len(rec.sources))
		for src := range rec.sources {
			state.Sources = append(state.Sources, src)
		}
		sort.Strings(state.Sources)
	}
	return state
}
