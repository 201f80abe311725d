package fanout

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	track "github.com/ethan0sc4r/codmar001"
	"github.com/ethan0sc4r/codmar001/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	// closePolicyViolation rejects connections that fail admission or carry
	// an invalid bounding box.
	closePolicyViolation = websocket.ClosePolicyViolation
	// closeUnsupportedData rejects subscriptions to pools this deployment
	// does not serve.
	closeUnsupportedData = websocket.CloseUnsupportedData
)

// AdmissionError says why a subscription was refused and which close code
// to send.
type AdmissionError struct {
	Code   int
	Reason string
}

func (e *AdmissionError) Error() string { return e.Reason }

// ServerConfig tunes the fan-out server. Zero values select defaults.
type ServerConfig struct {
	// MaxClients caps the all and watchlist pools; MaxClientsGeo caps the
	// geo pools. Zero means unlimited.
	MaxClients    int
	MaxClientsGeo int

	MaxConnsPerIP int
	RateLimit     int
	RateWindow    time.Duration

	// AuthToken, when set, is required on every subscription as a bearer
	// header or "token" query parameter.
	AuthToken string

	// DisabledPools lists endpoints this deployment does not serve;
	// subscriptions to them are refused with an unsupported-data close.
	DisabledPools []Pool

	SendBuffer   int
	WriteTimeout time.Duration

	Now func() time.Time
}

func (c *ServerConfig) applyDefaults() {
	if c.MaxConnsPerIP <= 0 {
		c.MaxConnsPerIP = 10
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 5
	}
	if c.RateWindow <= 0 {
		c.RateWindow = 60 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// StatsSnapshot is the /api/stats view of the server.
type StatsSnapshot struct {
	ClientsConnected int               `json:"clients_connected"`
	Clients          map[string]int    `json:"clients"`
	TotalConnections map[string]uint64 `json:"total_connections"`
	MessagesSent     uint64            `json:"messages_sent"`
	MessagesFailed   uint64            `json:"messages_failed"`
	RateLimited      uint64            `json:"connections_rate_limited"`
}

// Server owns the subscription pools and fans events out to them.
type Server struct {
	cfg     ServerConfig
	logger  *zap.Logger
	metrics *metrics.Metrics

	disabled map[Pool]struct{}

	mu         sync.Mutex
	pools      map[Pool]map[*Subscriber]struct{}
	ipConns    map[string]int
	ipAttempts map[string][]time.Time

	totals         map[Pool]uint64
	messagesSent   uint64
	messagesFailed uint64
	rateLimited    uint64
}

// NewServer creates a Server. A nil metrics bundle gets a private registry.
func NewServer(cfg ServerConfig, logger *zap.Logger, m *metrics.Metrics) *Server {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}

	pools := make(map[Pool]map[*Subscriber]struct{}, len(allPools))
	for _, pool := range allPools {
		pools[pool] = make(map[*Subscriber]struct{})
	}
	disabled := make(map[Pool]struct{}, len(cfg.DisabledPools))
	for _, pool := range cfg.DisabledPools {
		disabled[pool] = struct{}{}
	}
	return &Server{
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "fanout")),
		metrics:    m,
		disabled:   disabled,
		pools:      pools,
		ipConns:    make(map[string]int),
		ipAttempts: make(map[string][]time.Time),
		totals:     make(map[Pool]uint64),
	}
}

// poolEnabled reports whether this deployment serves the given pool.
func (s *Server) poolEnabled(pool Pool) bool {
	_, off := s.disabled[pool]
	return !off
}

// admit runs the admission checks in order: per-IP cap, per-IP rate, pool
// cap. On success the caller's per-IP slot is reserved under the same lock,
// so concurrent handshakes from one address cannot all pass the cap check
// before any of them is counted. The caller validates bounding boxes
// afterwards and must call releaseAdmission if the subscription fails
// before add.
func (s *Server) admit(pool Pool, ip string) *AdmissionError {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ipConns[ip] >= s.cfg.MaxConnsPerIP {
		s.rateLimited++
		s.metrics.SubscribersRejected.WithLabelValues("ip_cap").Inc()
		return &AdmissionError{Code: closePolicyViolation, Reason: "too many connections from this address"}
	}

	now := s.cfg.Now()
	attempts := s.ipAttempts[ip][:0]
	for _, ts := range s.ipAttempts[ip] {
		if now.Sub(ts) < s.cfg.RateWindow {
			attempts = append(attempts, ts)
		}
	}
	if len(attempts) >= s.cfg.RateLimit {
		s.ipAttempts[ip] = attempts
		s.rateLimited++
		s.metrics.SubscribersRejected.WithLabelValues("rate").Inc()
		return &AdmissionError{Code: closePolicyViolation, Reason: "connection rate limit exceeded"}
	}
	s.ipAttempts[ip] = append(attempts, now)

	if limit := s.poolLimit(pool); limit > 0 && len(s.pools[pool]) >= limit {
		s.metrics.SubscribersRejected.WithLabelValues("pool_full").Inc()
		return &AdmissionError{Code: closePolicyViolation, Reason: "max clients reached"}
	}

	s.ipConns[ip]++
	return nil
}

func (s *Server) poolLimit(pool Pool) int {
	switch pool {
	case PoolGeo, PoolGeoWatchlist:
		return s.cfg.MaxClientsGeo
	default:
		return s.cfg.MaxClients
	}
}

// add registers an admitted subscriber and starts its writer. The per-IP
// slot was already reserved by admit.
func (s *Server) add(sub *Subscriber) {
	s.mu.Lock()
	s.pools[sub.Pool][sub] = struct{}{}
	s.totals[sub.Pool]++
	clients := len(s.pools[sub.Pool])
	s.mu.Unlock()

	s.metrics.Subscribers.WithLabelValues(string(sub.Pool)).Inc()
	s.logger.Info("client connected",
		zap.String("pool", string(sub.Pool)),
		zap.String("id", sub.ID),
		zap.Int("active", clients))

	go sub.writeLoop(s.cfg.WriteTimeout, func() {
		s.remove(sub, websocket.CloseNormalClosure, "", "write_error")
	})
}

// remove drops a subscriber from its pool and closes it.
func (s *Server) remove(sub *Subscriber, closeCode int, reason, cause string) {
	s.mu.Lock()
	_, present := s.pools[sub.Pool][sub]
	if present {
		delete(s.pools[sub.Pool], sub)
		if s.ipConns[sub.IP] <= 1 {
			delete(s.ipConns, sub.IP)
		} else {
			s.ipConns[sub.IP]--
		}
	}
	s.mu.Unlock()

	if !present {
		return
	}
	sub.close(closeCode, reason)
	s.metrics.Subscribers.WithLabelValues(string(sub.Pool)).Dec()
	s.metrics.SubscriberDisconnect.WithLabelValues(cause).Inc()
	s.logger.Info("client disconnected",
		zap.String("pool", string(sub.Pool)),
		zap.String("id", sub.ID),
		zap.String("cause", cause))
}

// snapshot returns the members of one pool.
func (s *Server) poolMembers(pool Pool) []*Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make([]*Subscriber, 0, len(s.pools[pool]))
	for sub := range s.pools[pool] {
		members = append(members, sub)
	}
	return members
}

// deliver enqueues a frame; a full buffer means the consumer is too slow
// and gets disconnected rather than stall everyone else.
func (s *Server) deliver(sub *Subscriber, payload []byte) {
	if sub.enqueue(payload) {
		s.mu.Lock()
		s.messagesSent++
		s.mu.Unlock()
		s.metrics.EventsBroadcast.WithLabelValues(string(sub.Pool)).Inc()
		return
	}
	s.mu.Lock()
	s.messagesFailed++
	s.mu.Unlock()
	s.remove(sub, websocket.CloseNormalClosure, "consumer too slow", "slow_consumer")
}

// Broadcast fans one track event out to every applicable pool. Watchlist
// pools receive a variant that carries the matched list id at the top
// level.
func (s *Server) Broadcast(ev track.TrackEvent) {
	base := ev
	base.ListID = ""
	payload, err := json.Marshal(base)
	if err != nil {
		s.logger.Error("marshal event", zap.Error(err))
		return
	}

	var watchlistPayload []byte
	if ev.Watchlist != nil {
		variant := ev
		variant.ListID = ev.Watchlist.ListID
		watchlistPayload, err = json.Marshal(variant)
		if err != nil {
			s.logger.Error("marshal watchlist event", zap.Error(err))
			return
		}
	}

	for _, sub := range s.poolMembers(PoolAll) {
		s.deliver(sub, payload)
	}

	if ev.Watchlist != nil {
		for _, sub := range s.poolMembers(PoolWatchlist) {
			s.deliver(sub, watchlistPayload)
		}
	}

	if ev.Lat != nil && ev.Lon != nil {
		lat, lon := *ev.Lat, *ev.Lon
		for _, sub := range s.poolMembers(PoolGeo) {
			if sub.Box != nil && sub.Box.Contains(lat, lon) {
				s.deliver(sub, payload)
			}
		}
		if ev.Watchlist != nil {
			for _, sub := range s.poolMembers(PoolGeoWatchlist) {
				if sub.Box != nil && sub.Box.Contains(lat, lon) {
					s.deliver(sub, watchlistPayload)
				}
			}
		}
	}
}

// BroadcastRaw sends an unprocessed message copy to the raw pool.
func (s *Server) BroadcastRaw(msg track.Message) {
	members := s.poolMembers(PoolRaw)
	if len(members) == 0 {
		return
	}

	copied := msg
	copied.Extras = make(map[string]any, len(msg.Extras)+1)
	for k, v := range msg.Extras {
		copied.Extras[k] = v
	}
	copied.Extras["_stream"] = "raw"

	payload, err := json.Marshal(copied)
	if err != nil {
		s.logger.Error("marshal raw message", zap.Error(err))
		return
	}
	for _, sub := range members {
		s.deliver(sub, payload)
	}
}

// BroadcastWatchlistSync notifies every pool that the watchlist changed.
func (s *Server) BroadcastWatchlistSync(vessels, lists int, success bool) {
	s.broadcastControl(map[string]any{
		"type":      "watchlist_sync",
		"timestamp": s.cfg.Now().UTC().Format(time.RFC3339),
		"vessels":   vessels,
		"lists":     lists,
		"success":   success,
	})
}

// BroadcastHeartbeat sends a keepalive frame to every pool.
func (s *Server) BroadcastHeartbeat() {
	s.broadcastControl(map[string]any{
		"type":      "heartbeat",
		"timestamp": s.cfg.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) broadcastControl(frame map[string]any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	for _, pool := range allPools {
		for _, sub := range s.poolMembers(pool) {
			s.deliver(sub, payload)
		}
	}
}

// RunHeartbeat emits keepalive frames every interval until the context
// ends.
func (s *Server) RunHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.BroadcastHeartbeat()
		}
	}
}

// CloseAll disconnects every subscriber with a normal closure frame.
func (s *Server) CloseAll() {
	for _, pool := range allPools {
		for _, sub := range s.poolMembers(pool) {
			s.remove(sub, websocket.CloseNormalClosure, "server shutting down", "shutdown")
		}
	}
}

// Stats returns a point-in-time snapshot for the stats API.
func (s *Server) Stats() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		Clients:          make(map[string]int, len(allPools)),
		TotalConnections: make(map[string]uint64, len(allPools)),
		MessagesSent:     s.messagesSent,
		MessagesFailed:   s.messagesFailed,
		RateLimited:      s.rateLimited,
	}
	for _, pool := range allPools {
		snap.Clients[string(pool)] = len(s.pools[pool])
		snap.TotalConnections[string(pool)] = s.totals[pool]
		snap.ClientsConnected += len(s.pools[pool])
	}
	return snap
}

// ConnectionsFromIP reports the open subscriptions for one address.
func (s *Server) ConnectionsFromIP(ip string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ipConns[ip]
}
