package watchlist

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	track "github.com/ethan0sc4r/codmar001"
	"github.com/ethan0sc4r/codmar001/internal/metrics"
	"go.uber.org/zap"
)

// snapshot is an immutable view of the indexes. Lookups read whichever
// snapshot is current; Sync builds a new one and swaps the pointer, so no
// lookup ever mixes vessels from one sync with list metadata from another.
type snapshot struct {
	mmsi  map[string]string
	imo   map[string]string
	lists map[string]ListInfo
}

var errNoClient = errors.New("watchlist: no provider client configured")

var emptySnapshot = &snapshot{
	mmsi:  map[string]string{},
	imo:   map[string]string{},
	lists: map[string]ListInfo{},
}

// SyncReport describes the outcome of one sync attempt.
type SyncReport struct {
	Vessels int
	Lists   int
	Success bool
	Err     error
}

// RegistryStats is a point-in-time view of the registry.
type RegistryStats struct {
	MMSIEntries int       `json:"mmsi_entries"`
	IMOEntries  int       `json:"imo_entries"`
	Lists       int       `json:"lists_count"`
	LastSync    time.Time `json:"last_sync_time"`
}

// RegistryConfig tunes a Registry.
type RegistryConfig struct {
	// PushUpdates enables the best-effort side-effect that reports
	// last-known attributes back to the provider after an IMO match.
	PushUpdates bool
	Now         func() time.Time

	// Metrics counts push outcomes when set.
	Metrics *metrics.Metrics
}

// Registry answers "is this vessel on a watchlist" for every message in the
// pipeline. Lookups are lock-free against an atomically swapped snapshot.
type Registry struct {
	client  *Client
	store   Store
	logger  *zap.Logger
	now     func() time.Time
	metrics *metrics.Metrics

	pushUpdates bool
	current     atomic.Pointer[snapshot]
	lastSync    atomic.Pointer[time.Time]
}

// NewRegistry creates a Registry. Client and store may be nil for
// lookup-only use; Sync and push updates then become no-ops.
func NewRegistry(client *Client, store Store, logger *zap.Logger, cfg RegistryConfig) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	r := &Registry{
		client:      client,
		store:       store,
		logger:      logger.With(zap.String("component", "watchlist-registry")),
		now:         cfg.Now,
		metrics:     cfg.Metrics,
		pushUpdates: cfg.PushUpdates,
	}
	r.current.Store(emptySnapshot)
	return r
}

// LoadFromStore rebuilds the indexes from the durable store, so matching
// works before the first successful provider sync.
func (r *Registry) LoadFromStore() error {
	if r.store == nil {
		return nil
	}
	vessels, err := r.store.LoadVessels()
	if err != nil {
		return err
	}
	lists, err := r.store.LoadLists()
	if err != nil {
		return err
	}
	r.current.Store(buildSnapshot(vessels, lists))
	r.logger.Info("watchlist loaded from store",
		zap.Int("vessels", len(vessels)),
		zap.Int("lists", len(lists)))
	return nil
}

// Sync fetches from the provider, persists the result and swaps the
// in-memory indexes. On failure the current indexes are left untouched.
func (r *Registry) Sync(ctx context.Context) SyncReport {
	if r.client == nil {
		return SyncReport{Err: errNoClient}
	}

	vessels, lists, err := r.client.FetchAll(ctx)
	if err != nil {
		r.logger.Error("watchlist sync failed", zap.Error(err))
		return SyncReport{Err: err}
	}

	if r.store != nil {
		if err := r.store.UpsertLists(lists); err != nil {
			r.logger.Error("persist lists failed", zap.Error(err))
			return SyncReport{Err: err}
		}
		if err := r.store.UpsertVessels(vessels); err != nil {
			r.logger.Error("persist vessels failed", zap.Error(err))
			return SyncReport{Err: err}
		}
	}

	r.current.Store(buildSnapshot(vessels, lists))
	now := r.now()
	r.lastSync.Store(&now)

	r.logger.Info("watchlist synced",
		zap.Int("vessels", len(vessels)),
		zap.Int("lists", len(lists)))
	return SyncReport{Vessels: len(vessels), Lists: len(lists), Success: true}
}

// RunScheduled syncs every interval until the context is cancelled.
func (r *Registry) RunScheduled(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sync(ctx)
		}
	}
}

// Match looks up a vessel. MMSI has precedence; IMO is consulted only when
// the MMSI does not match. An IMO match echoes the caller's MMSI so the
// consumer can correlate.
func (r *Registry) Match(mmsi, imo string) *track.Match {
	snap := r.current.Load()

	if mmsi != "" {
		if listID, ok := snap.mmsi[mmsi]; ok {
			return r.buildMatch(snap, listID, mmsi, "", "mmsi")
		}
	}
	if imo != "" {
		if listID, ok := snap.imo[imo]; ok {
			match := r.buildMatch(snap, listID, "", imo, "imo")
			match.MMSI = mmsi
			return match
		}
	}
	return nil
}

// CheckMessage matches a message and, after an IMO-only match, schedules the
// best-effort provider update.
func (r *Registry) CheckMessage(msg track.Message) *track.Match {
	match := r.Match(msg.MMSI, msg.IMO)
	if match == nil {
		return nil
	}
	if match.MatchedBy == "imo" && r.pushUpdates && r.client != nil {
		go r.pushVesselUpdate(msg.IMO, msg)
	}
	return match
}

// Stats returns current index sizes and the last successful sync time.
func (r *Registry) Stats() RegistryStats {
	snap := r.current.Load()
	stats := RegistryStats{
		MMSIEntries: len(snap.mmsi),
		IMOEntries:  len(snap.imo),
		Lists:       len(snap.lists),
	}
	if t := r.lastSync.Load(); t != nil {
		stats.LastSync = *t
	}
	return stats
}

func (r *Registry) buildMatch(snap *snapshot, listID, mmsi, imo, matchedBy string) *track.Match {
	info := snap.lists[listID]
	return &track.Match{
		MMSI:      mmsi,
		IMO:       imo,
		ListID:    listID,
		ListName:  info.ListName,
		Color:     info.Color,
		MatchedBy: matchedBy,
	}
}

// pushVesselUpdate reports last-known attributes for a vessel the provider
// tracks by IMO only. Failures are logged and swallowed.
func (r *Registry) pushVesselUpdate(imo string, msg track.Message) {
	data := map[string]any{}
	if msg.MMSI != "" {
		data["mmsi"] = msg.MMSI
	}
	if msg.Name != "" {
		data["name"] = msg.Name
	}
	if msg.Callsign != "" {
		data["callsign"] = msg.Callsign
	}
	if msg.HasPosition() {
		position := map[string]any{
			"lat":       *msg.Lat,
			"lon":       *msg.Lon,
			"timestamp": msg.Timestamp.Value(),
		}
		if msg.Speed != nil {
			position["speed"] = *msg.Speed
		}
		if msg.Course != nil {
			position["course"] = *msg.Course
		}
		if msg.Heading != nil {
			position["heading"] = *msg.Heading
		}
		if msg.ShipType != nil {
			position["shiptype"] = *msg.ShipType
		}
		raw, err := json.Marshal(position)
		if err == nil {
			data["lastposition"] = string(raw)
		}
	}
	if len(data) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.client.UpdateVesselByIMO(ctx, imo, data); err != nil {
		if r.metrics != nil {
			r.metrics.WatchlistPushes.WithLabelValues("failure").Inc()
		}
		r.logger.Warn("vessel update push failed", zap.String("imo", imo), zap.Error(err))
		return
	}
	if r.metrics != nil {
		r.metrics.WatchlistPushes.WithLabelValues("success").Inc()
	}
}

func buildSnapshot(vessels []Entry, lists []ListInfo) *snapshot {
	snap := &snapshot{
		mmsi:  make(map[string]string),
		imo:   make(map[string]string),
		lists: make(map[string]ListInfo, len(lists)),
	}
	for _, v := range vessels {
		if v.ListID == "" {
			continue
		}
		if v.MMSI != "" {
			snap.mmsi[v.MMSI] = v.ListID
		}
		if v.IMO != "" {
			snap.imo[v.IMO] = v.ListID
		}
	}
	for _, l := range lists {
		if l.ListID != "" {
			snap.lists[l.ListID] = l
		}
	}
	return snap
}
