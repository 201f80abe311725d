package source

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	track "github.com/ethan0sc4r/codmar001"
	"github.com/ethan0sc4r/codmar001/internal/metrics"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketSource consumes already-normalized JSON messages from an
// upstream aggregator.
type WebSocketSource struct {
	cfg     Config
	rc      *reconnector
	metrics *metrics.Metrics
}

// NewWebSocketSource creates a WebSocketSource from its config. The metrics
// bundle may be nil.
func NewWebSocketSource(cfg Config, logger *zap.Logger, m *metrics.Metrics) *WebSocketSource {
	return &WebSocketSource{cfg: cfg, rc: newReconnector(cfg, logger), metrics: m}
}

func (s *WebSocketSource) Name() string { return s.cfg.Name }

func (s *WebSocketSource) State() State { return s.rc.currentState() }

func (s *WebSocketSource) Stats() Stats { return s.rc.snapshot() }

// Run connects and reads until ctx is cancelled or the retry policy gives
// up.
func (s *WebSocketSource) Run(ctx context.Context, handler track.Handler) error {
	return s.rc.run(ctx, func(ctx context.Context) error {
		return s.serve(ctx, handler)
	})
}

func (s *WebSocketSource) serve(ctx context.Context, handler track.Handler) error {
	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	s.rc.onConnected()

	readTimeout := s.cfg.readTimeout()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.rc.countMessage(len(raw))

		var msg track.Message
		if err := json.Unmarshal(raw, &msg); err != nil || msg.MMSI == "" {
			s.rc.malformed.Add(1)
			if s.metrics != nil {
				s.metrics.DecodeErrors.WithLabelValues(s.cfg.Name).Inc()
			}
			s.rc.logger.Debug("malformed message", zap.Error(err))
			continue
		}
		msg.Source = s.cfg.Name
		handler.HandleMessage(msg)
	}
}
