// Package source contains the upstream adapters that feed the pipeline:
// TCP NMEA streams, WebSocket JSON aggregators and serial AIS receivers,
// each wrapped in a shared reconnecting run loop.
package source

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	track "github.com/ethan0sc4r/codmar001"
	"go.uber.org/zap"
)

// Protocols understood by the Manager.
const (
	ProtocolTCP       = "tcp"
	ProtocolWebSocket = "websocket"
	ProtocolSerial    = "serial"
)

const (
	// DefaultReconnectInterval is the base delay of the reconnect backoff.
	DefaultReconnectInterval = 5 * time.Second

	// DefaultReadTimeout declares a silent connection dead.
	DefaultReadTimeout = 30 * time.Second

	// maxReconnectDelay caps the exponential backoff.
	maxReconnectDelay = 60 * time.Second
)

// ErrReconnectDisabled is returned when a connection fails and the adapter
// is configured not to retry.
var ErrReconnectDisabled = errors.New("source: connection lost, reconnect disabled")

// ErrMaxAttemptsReached is returned when the configured reconnect budget is
// exhausted.
var ErrMaxAttemptsReached = errors.New("source: max reconnect attempts reached")

// State is the connection state of an adapter.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config describes one upstream source. Zero duration values select
// defaults.
type Config struct {
	Name     string `json:"name"`
	Protocol string `json:"protocol"`
	Enabled  *bool  `json:"enabled,omitempty"`

	// TCP.
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	// WebSocket.
	URL   string `json:"url,omitempty"`
	Token string `json:"token,omitempty"`

	// Serial.
	Device string `json:"device,omitempty"`
	Baud   int    `json:"baud,omitempty"`

	Reconnect            *bool         `json:"reconnect,omitempty"`
	ReconnectInterval    time.Duration `json:"-"`
	ReconnectIntervalMs  int           `json:"reconnect_interval,omitempty"`
	ReconnectMaxAttempts int           `json:"reconnect_max_attempts,omitempty"`
	ReadTimeout          time.Duration `json:"-"`
}

// IsEnabled reports whether the source should be started. Absent means
// enabled.
func (c Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c Config) reconnectEnabled() bool {
	return c.Reconnect == nil || *c.Reconnect
}

func (c Config) reconnectInterval() time.Duration {
	if c.ReconnectInterval > 0 {
		return c.ReconnectInterval
	}
	if c.ReconnectIntervalMs > 0 {
		return time.Duration(c.ReconnectIntervalMs) * time.Millisecond
	}
	return DefaultReconnectInterval
}

func (c Config) readTimeout() time.Duration {
	if c.ReadTimeout > 0 {
		return c.ReadTimeout
	}
	return DefaultReadTimeout
}

// Validate checks that the protocol-specific endpoint fields are set.
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("source: name is required")
	}
	switch c.Protocol {
	case ProtocolTCP:
		if c.Host == "" || c.Port == 0 {
			return fmt.Errorf("source %s: tcp requires host and port", c.Name)
		}
	case ProtocolWebSocket:
		if c.URL == "" {
			return fmt.Errorf("source %s: websocket requires url", c.Name)
		}
	case ProtocolSerial:
		if c.Device == "" {
			return fmt.Errorf("source %s: serial requires device", c.Name)
		}
	default:
		return fmt.Errorf("source %s: unknown protocol %q", c.Name, c.Protocol)
	}
	return nil
}

// Stats is a point-in-time snapshot of one adapter.
type Stats struct {
	Name              string `json:"name"`
	Protocol          string `json:"protocol"`
	State             string `json:"state"`
	MessagesReceived  uint64 `json:"messages_received"`
	BytesReceived     uint64 `json:"bytes_received"`
	MalformedMessages uint64 `json:"malformed_messages,omitempty"`
	ConnectionCount   uint64 `json:"connection_count"`
	ReconnectCount    uint64 `json:"reconnect_count"`
	CurrentAttempt    int    `json:"current_attempt"`
}

// Adapter is one upstream feed. Run blocks until the context is cancelled
// or the adapter gives up reconnecting.
type Adapter interface {
	Name() string
	Run(ctx context.Context, handler track.Handler) error
	State() State
	Stats() Stats
}

// backoffDelay is the wait before reconnect attempt n (0-based), doubling
// from the base interval up to the cap.
func backoffDelay(interval time.Duration, attempt int) time.Duration {
	if attempt > 10 {
		return maxReconnectDelay
	}
	delay := interval << uint(attempt)
	if delay > maxReconnectDelay || delay <= 0 {
		return maxReconnectDelay
	}
	return delay
}

// reconnector owns the shared connect/serve/backoff loop and the counters
// every adapter reports.
type reconnector struct {
	cfg    Config
	logger *zap.Logger

	state    atomic.Int32
	attempts atomic.Int32

	messages    atomic.Uint64
	bytes       atomic.Uint64
	malformed   atomic.Uint64
	connections atomic.Uint64
	reconnects  atomic.Uint64
}

func newReconnector(cfg Config, logger *zap.Logger) *reconnector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &reconnector{
		cfg:    cfg,
		logger: logger.With(zap.String("source", cfg.Name), zap.String("protocol", cfg.Protocol)),
	}
}

func (r *reconnector) setState(s State) { r.state.Store(int32(s)) }

func (r *reconnector) currentState() State { return State(r.state.Load()) }

// onConnected is called by serve once its connection is established.
func (r *reconnector) onConnected() {
	r.attempts.Store(0)
	r.connections.Add(1)
	r.setState(StateConnected)
	r.logger.Info("connected")
}

func (r *reconnector) countMessage(n int) {
	r.messages.Add(1)
	r.bytes.Add(uint64(n))
}

// run drives serve through the Disconnected, Connecting, Connected states
// until the context ends or the retry policy gives up. serve returns when
// its connection drops; a nil return also means the connection is gone.
func (r *reconnector) run(ctx context.Context, serve func(ctx context.Context) error) error {
	wasConnected := false
	for {
		if err := ctx.Err(); err != nil {
			r.setState(StateDisconnected)
			return err
		}

		r.setState(StateConnecting)
		err := serve(ctx)

		connected := r.currentState() == StateConnected
		r.setState(StateDisconnected)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			r.logger.Warn("connection lost", zap.Error(err))
		} else {
			r.logger.Warn("connection closed by remote")
		}

		if !r.cfg.reconnectEnabled() {
			return ErrReconnectDisabled
		}
		if connected {
			wasConnected = true
			r.reconnects.Add(1)
		}
		attempts := int(r.attempts.Load())
		if max := r.cfg.ReconnectMaxAttempts; max > 0 && attempts >= max {
			r.logger.Error("max reconnect attempts reached", zap.Int("attempts", attempts))
			return ErrMaxAttemptsReached
		}

		wait := backoffDelay(r.cfg.reconnectInterval(), attempts)
		attempts = int(r.attempts.Add(1))
		r.logger.Info("reconnecting",
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Bool("was_connected", wasConnected))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (r *reconnector) snapshot() Stats {
	return Stats{
		Name:              r.cfg.Name,
		Protocol:          r.cfg.Protocol,
		State:             r.currentState().String(),
		MessagesReceived:  r.messages.Load(),
		BytesReceived:     r.bytes.Load(),
		MalformedMessages: r.malformed.Load(),
		ConnectionCount:   r.connections.Load(),
		ReconnectCount:    r.reconnects.Load(),
		CurrentAttempt:    int(r.attempts.Load()),
	}
}
