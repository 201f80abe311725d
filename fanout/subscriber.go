// Package fanout is the downstream WebSocket side of the pipeline: pooled
// subscriptions with admission control, geographic filtering and
// slow-consumer isolation.
package fanout

import (
	"sync"
	"time"

	track "github.com/ethan0sc4r/codmar001"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
)

// Pool identifies one subscription stream.
type Pool string

const (
	PoolRaw          Pool = "raw"
	PoolAll          Pool = "all"
	PoolWatchlist    Pool = "watchlist"
	PoolGeo          Pool = "geo"
	PoolGeoWatchlist Pool = "geo_watchlist"
)

// pools in declaration order, for stable stats output.
var allPools = []Pool{PoolRaw, PoolAll, PoolWatchlist, PoolGeo, PoolGeoWatchlist}

// wsConn is the subset of *websocket.Conn the subscriber needs; tests
// substitute a stub.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Subscriber is one downstream consumer. Outbound frames pass through a
// bounded channel drained by a dedicated writer goroutine, so one stalled
// peer cannot block a broadcast.
type Subscriber struct {
	ID   string
	Pool Pool
	Box  *track.BoundingBox
	IP   string

	conn wsConn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newSubscriber(pool Pool, box *track.BoundingBox, ip string, conn wsConn, buffer int) *Subscriber {
	return &Subscriber{
		ID:   xid.New().String(),
		Pool: pool,
		Box:  box,
		IP:   ip,
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// enqueue hands a frame to the writer without blocking. False means the
// buffer is full and the subscriber should be dropped.
func (s *Subscriber) enqueue(payload []byte) bool {
	select {
	case s.send <- payload:
		return true
	case <-s.done:
		return true
	default:
		return false
	}
}

// close makes the writer exit and closes the connection. closeCode is sent
// as a best-effort close frame first.
func (s *Subscriber) close(closeCode int, reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		deadline := time.Now().Add(time.Second)
		_ = s.conn.SetWriteDeadline(deadline)
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeCode, reason))
		_ = s.conn.Close()
	})
}

// writeLoop drains the send channel onto the wire. It exits when the
// subscriber is closed or a write fails.
func (s *Subscriber) writeLoop(writeTimeout time.Duration, onError func()) {
	for {
		select {
		case <-s.done:
			return
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				onError()
				return
			}
		}
	}
}
