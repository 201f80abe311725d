package fanout

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	track "github.com/ethan0sc4r/codmar001"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// maxClientFrame bounds inbound control frames; subscribers only ever send
// pings.
const maxClientFrame = 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// APIConfig wires the HTTP surface around the WebSocket endpoints.
type APIConfig struct {
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer

	// ExtraStats is merged into the /api/stats response under its own
	// keys (source stats, dedup counters, vessel counts).
	ExtraStats func() map[string]any
}

// Handler returns the full HTTP surface: the five WebSocket endpoints plus
// health, stats and metrics.
func (s *Server) Handler(api APIConfig) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/ws/raw", s.handleWS(PoolRaw))
	r.HandleFunc("/ws", s.handleWS(PoolAll))
	r.HandleFunc("/ws/watchlist", s.handleWS(PoolWatchlist))
	r.HandleFunc("/ws/geo", s.handleWS(PoolGeo))
	r.HandleFunc("/ws/geo/watchlist", s.handleWS(PoolGeoWatchlist))

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.HandleFunc("/api/stats", func(w http.ResponseWriter, _ *http.Request) {
		stats := map[string]any{"websocket": s.Stats()}
		if api.ExtraStats != nil {
			for key, value := range api.ExtraStats() {
				stats[key] = value
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	})

	if api.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(api.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func poolNeedsBox(pool Pool) bool {
	return pool == PoolGeo || pool == PoolGeoWatchlist
}

// handleWS upgrades first and then runs admission, so rejections arrive as
// proper close frames instead of opaque HTTP errors.
func (s *Server) handleWS(pool Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.SetReadLimit(maxClientFrame)

		if !s.poolEnabled(pool) {
			s.metrics.SubscribersRejected.WithLabelValues("pool_disabled").Inc()
			closeWith(conn, closeUnsupportedData, "stream disabled")
			return
		}

		if !s.authorized(r) {
			s.metrics.SubscribersRejected.WithLabelValues("auth").Inc()
			closeWith(conn, closePolicyViolation, "unauthorized")
			return
		}

		ip := clientIP(r)
		if admErr := s.admit(pool, ip); admErr != nil {
			s.logger.Warn("subscription rejected",
				zap.String("pool", string(pool)),
				zap.String("ip", ip),
				zap.String("reason", admErr.Reason))
			closeWith(conn, admErr.Code, admErr.Reason)
			return
		}

		var box *track.BoundingBox
		if poolNeedsBox(pool) {
			box, err = parseBoundingBox(r)
			if err != nil {
				s.metrics.SubscribersRejected.WithLabelValues("bad_box").Inc()
				s.releaseAdmission(ip)
				closeWith(conn, closePolicyViolation, err.Error())
				return
			}
		}

		sub := newSubscriber(pool, box, ip, conn, s.cfg.SendBuffer)
		s.add(sub)

		s.sendWelcome(sub)
		s.readLoop(sub, conn)
	}
}

// authorized checks the static subscription token when one is configured.
func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	if token := r.URL.Query().Get("token"); token == s.cfg.AuthToken {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+s.cfg.AuthToken
}

// releaseAdmission undoes the attempt and the per-IP slot reserved by admit
// when the subscription fails before being added.
func (s *Server) releaseAdmission(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attempts := s.ipAttempts[ip]; len(attempts) > 0 {
		s.ipAttempts[ip] = attempts[:len(attempts)-1]
	}
	if s.ipConns[ip] <= 1 {
		delete(s.ipConns, ip)
	} else {
		s.ipConns[ip]--
	}
}

func (s *Server) sendWelcome(sub *Subscriber) {
	frame := map[string]any{
		"type":      "connected",
		"timestamp": s.cfg.Now().UTC().Format(time.RFC3339),
		"stream":    string(sub.Pool),
	}
	if sub.Box != nil {
		frame["bounding_box"] = sub.Box
	}
	if payload, err := json.Marshal(frame); err == nil {
		sub.enqueue(payload)
	}
}

// readLoop consumes client frames until the peer goes away. The only
// recognized request is a ping, answered with a pong.
func (s *Server) readLoop(sub *Subscriber, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.remove(sub, websocket.CloseNormalClosure, "", "client_close")
			return
		}

		var req struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(raw, &req) != nil || req.Type != "ping" {
			continue
		}
		pong, err := json.Marshal(map[string]any{
			"type":      "pong",
			"timestamp": s.cfg.Now().UTC().Format(time.RFC3339),
		})
		if err == nil {
			sub.enqueue(pong)
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	_ = conn.Close()
}

// parseBoundingBox reads and validates the box query parameters for geo
// subscriptions.
func parseBoundingBox(r *http.Request) (*track.BoundingBox, error) {
	query := r.URL.Query()
	values := make(map[string]float64, 4)
	for _, key := range []string{"min_lat", "max_lat", "min_lon", "max_lon"} {
		v, err := strconv.ParseFloat(query.Get(key), 64)
		if err != nil {
			return nil, track.ErrInvalidBoundingBox
		}
		values[key] = v
	}

	box := &track.BoundingBox{
		MinLat: values["min_lat"],
		MaxLat: values["max_lat"],
		MinLon: values["min_lon"],
		MaxLon: values["max_lon"],
	}
	if err := box.Validate(); err != nil {
		return nil, err
	}
	return box, nil
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
