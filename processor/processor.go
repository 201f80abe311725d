// Package processor is the pipeline core: it serializes messages from every
// source through deduplication, state merging and watchlist matching, then
// hands the resulting events to the fan-out side.
package processor

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	track "github.com/ethan0sc4r/codmar001"
	"github.com/ethan0sc4r/codmar001/internal/metrics"
	"github.com/ethan0sc4r/codmar001/state"
	"github.com/ethan0sc4r/codmar001/watchlist"
	"go.uber.org/zap"
)

const (
	// DefaultQueueSize bounds the fan-in queue between source adapters and
	// the processing loop.
	DefaultQueueSize = 1024

	// DefaultCleanupInterval is how often expired state is swept.
	DefaultCleanupInterval = 300 * time.Second
)

// EventSink receives the processor's output. The fan-out server implements
// it; tests substitute a recorder.
type EventSink interface {
	BroadcastRaw(msg track.Message)
	Broadcast(ev track.TrackEvent)
}

// Config tunes a Processor. Zero values select defaults.
type Config struct {
	QueueSize       int
	CleanupInterval time.Duration

	// BroadcastRaw forwards every message to the raw pool before any
	// processing, duplicates included.
	BroadcastRaw bool

	Now func() time.Time
}

// Stats is the processor's contribution to the stats API.
type Stats struct {
	Received     uint64 `json:"messages_received"`
	Unique       uint64 `json:"messages_unique"`
	Duplicates   uint64 `json:"messages_duplicate"`
	RawBroadcast uint64 `json:"broadcast_raw"`
	Matches      uint64 `json:"watchlist_matches"`
	Dropped      uint64 `json:"messages_dropped"`
	QueueDepth   int    `json:"queue_depth"`
	Vessels      int    `json:"vessels_tracked"`
}

// Processor owns the single processing goroutine. HandleMessage may be
// called from any number of source goroutines; everything downstream of the
// queue runs on one goroutine, so per-source ordering is preserved and the
// stores never see concurrent writers from the pipeline.
type Processor struct {
	cfg      Config
	dedup    *state.DedupStore
	vessels  *state.VesselStore
	registry *watchlist.Registry
	store    watchlist.Store
	sink     EventSink
	logger   *zap.Logger
	metrics  *metrics.Metrics

	queue chan track.Message

	received     atomic.Uint64
	matches      atomic.Uint64
	dropped      atomic.Uint64
	rawBroadcast atomic.Uint64
}

// New creates a Processor. Registry and store may be nil; matching and
// detection recording are then skipped.
func New(cfg Config, dedup *state.DedupStore, vessels *state.VesselStore,
	registry *watchlist.Registry, store watchlist.Store,
	sink EventSink, logger *zap.Logger, m *metrics.Metrics) *Processor {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		cfg:      cfg,
		dedup:    dedup,
		vessels:  vessels,
		registry: registry,
		store:    store,
		sink:     sink,
		logger:   logger.With(zap.String("component", "processor")),
		metrics:  m,
		queue:    make(chan track.Message, cfg.QueueSize),
	}
}

// HandleMessage enqueues a message for processing. When the queue is full
// the message is dropped and counted; a stalled pipeline must not push
// backpressure into the source read loops.
func (p *Processor) HandleMessage(msg track.Message) {
	p.received.Add(1)
	select {
	case p.queue <- msg:
	default:
		p.dropped.Add(1)
		p.logger.Warn("queue full, message dropped",
			zap.String("mmsi", msg.MMSI),
			zap.String("source", msg.Source))
	}
}

// Run processes queued messages until the context ends, then drains what is
// already buffered before returning.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case msg := <-p.queue:
			p.process(msg)
		case <-ticker.C:
			p.cleanup()
		}
	}
}

func (p *Processor) drain() {
	for {
		select {
		case msg := <-p.queue:
			p.process(msg)
		default:
			return
		}
	}
}

// process runs one message through the pipeline stages in order: raw
// broadcast, dedup, state merge, watchlist match, event broadcast. Messages
// without an MMSI still dedup and broadcast; only the vessel store skips
// them.
func (p *Processor) process(msg track.Message) {
	if p.metrics != nil {
		p.metrics.MessagesIngested.WithLabelValues(sourceLabel(msg)).Inc()
	}

	if p.cfg.BroadcastRaw {
		p.rawBroadcast.Add(1)
		p.sink.BroadcastRaw(msg)
	}

	if p.dedup.Seen(msg) {
		if p.metrics != nil {
			p.metrics.MessagesDuplicate.Inc()
		}
		return
	}
	if p.metrics != nil {
		p.metrics.MessagesUnique.Inc()
	}

	p.vessels.Update(msg)

	var match *track.Match
	if p.registry != nil {
		match = p.registry.CheckMessage(msg)
	}
	if match != nil {
		p.matches.Add(1)
		if p.metrics != nil {
			p.metrics.WatchlistMatches.Inc()
		}
		p.recordDetection(msg, match)
	}

	p.sink.Broadcast(track.NewTrackEvent(msg, match, p.cfg.Now()))
}

// recordDetection persists the sighting. Storage failures are logged and do
// not hold up the event.
func (p *Processor) recordDetection(msg track.Message, match *track.Match) {
	if p.store == nil {
		return
	}
	d := watchlist.Detection{
		MMSI:      msg.MMSI,
		IMO:       msg.IMO,
		ListID:    match.ListID,
		MatchedBy: match.MatchedBy,
		Lat:       msg.Lat,
		Lon:       msg.Lon,
		Timestamp: p.cfg.Now().UTC().Format(time.RFC3339),
	}
	if raw, err := json.Marshal(msg); err == nil {
		d.Raw = string(raw)
	}
	if err := p.store.UpsertDetection(d); err != nil {
		p.logger.Warn("detection not recorded",
			zap.String("mmsi", msg.MMSI),
			zap.Error(err))
	}
}

func (p *Processor) cleanup() {
	removedVessels := p.vessels.Cleanup()
	removedKeys := p.dedup.Sweep()
	if p.metrics != nil {
		p.metrics.ActiveVessels.Set(float64(p.vessels.Count()))
	}
	if removedVessels > 0 || removedKeys > 0 {
		p.logger.Info("state swept",
			zap.Int("vessels_removed", removedVessels),
			zap.Int("dedup_keys_removed", removedKeys))
	}
}

// Stats returns current pipeline counters.
func (p *Processor) Stats() Stats {
	dedup := p.dedup.Stats()
	return Stats{
		Received:     p.received.Load(),
		Unique:       dedup.Unique,
		Duplicates:   dedup.Duplicates,
		RawBroadcast: p.rawBroadcast.Load(),
		Matches:      p.matches.Load(),
		Dropped:      p.dropped.Load(),
		QueueDepth:   len(p.queue),
		Vessels:      p.vessels.Count(),
	}
}

func sourceLabel(msg track.Message) string {
	if msg.Source == "" {
		return "unknown"
	}
	return msg.Source
}

var _ track.Handler = (*Processor)(nil)
