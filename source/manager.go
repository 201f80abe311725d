package source

import (
	"context"
	"errors"
	"fmt"
	"sync"

	track "github.com/ethan0sc4r/codmar001"
	"github.com/ethan0sc4r/codmar001/internal/metrics"
	"go.uber.org/zap"
)

// Manager owns every configured adapter and runs them concurrently. One
// failing or exhausted source never takes the others down; the pipeline is
// live as long as at least one adapter is connected or retrying.
type Manager struct {
	adapters []Adapter
	logger   *zap.Logger
}

// NewManager builds adapters for every enabled source config. The metrics
// bundle may be nil.
func NewManager(configs []Config, logger *zap.Logger, mtr *metrics.Metrics) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{logger: logger.With(zap.String("component", "source-manager"))}
	for _, cfg := range configs {
		if !cfg.IsEnabled() {
			m.logger.Info("source disabled", zap.String("source", cfg.Name))
			continue
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}

		var adapter Adapter
		switch cfg.Protocol {
		case ProtocolTCP:
			adapter = NewTCPSource(cfg, logger, mtr)
		case ProtocolWebSocket:
			adapter = NewWebSocketSource(cfg, logger, mtr)
		case ProtocolSerial:
			adapter = NewSerialSource(cfg, logger, mtr)
		default:
			return nil, fmt.Errorf("source %s: unknown protocol %q", cfg.Name, cfg.Protocol)
		}
		m.adapters = append(m.adapters, adapter)
	}

	if len(m.adapters) == 0 {
		return nil, errors.New("source: no enabled sources configured")
	}
	m.logger.Info("sources configured", zap.Int("count", len(m.adapters)))
	return m, nil
}

// Adapters returns the managed adapters.
func (m *Manager) Adapters() []Adapter { return m.adapters }

// Run starts every adapter and blocks until all have exited. Per-adapter
// errors are logged, not propagated: a dead feed must not stop the rest.
func (m *Manager) Run(ctx context.Context, handler track.Handler) {
	var wg sync.WaitGroup
	for _, adapter := range m.adapters {
		wg.Add(1)
		go func(a Adapter) {
			defer wg.Done()
			if err := a.Run(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("source stopped", zap.String("source", a.Name()), zap.Error(err))
			}
		}(adapter)
	}
	wg.Wait()
}

// AnyConnected reports whether at least one adapter currently holds a live
// connection.
func (m *Manager) AnyConnected() bool {
	for _, adapter := range m.adapters {
		if adapter.State() == StateConnected {
			return true
		}
	}
	return false
}

// Stats returns a snapshot per adapter.
func (m *Manager) Stats() []Stats {
	out := make([]Stats, 0, len(m.adapters))
	for _, adapter := range m.adapters {
		out = append(out, adapter.Stats())
	}
	return out
}
