package source

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	track "github.com/ethan0sc4r/codmar001"
	"github.com/ethan0sc4r/codmar001/internal/metrics"
	"github.com/ethan0sc4r/codmar001/internal/utils"
	"github.com/ethan0sc4r/codmar001/nmea0183"
	"go.uber.org/zap"
)

// TCPSource reads newline-delimited NMEA sentences from a TCP feed, a
// satellite downlink or a coastal receiver network. Each source owns its own
// fragment assembler, so interleaved multi-part messages from different
// feeds cannot cross-contaminate.
type TCPSource struct {
	cfg       Config
	rc        *reconnector
	assembler *nmea0183.Assembler
	metrics   *metrics.Metrics
}

// NewTCPSource creates a TCPSource from its config. The metrics bundle may
// be nil.
func NewTCPSource(cfg Config, logger *zap.Logger, m *metrics.Metrics) *TCPSource {
	return &TCPSource{
		cfg:       cfg,
		rc:        newReconnector(cfg, logger),
		assembler: nmea0183.NewAssembler(),
		metrics:   m,
	}
}

func (s *TCPSource) Name() string { return s.cfg.Name }

func (s *TCPSource) State() State { return s.rc.currentState() }

func (s *TCPSource) Stats() Stats { return s.rc.snapshot() }

// AssemblerStats exposes the NMEA decode counters for the stats API.
func (s *TCPSource) AssemblerStats() nmea0183.Stats { return s.assembler.Stats() }

// Run connects and reads until ctx is cancelled or the retry policy gives
// up.
func (s *TCPSource) Run(ctx context.Context, handler track.Handler) error {
	return s.rc.run(ctx, func(ctx context.Context) error {
		return s.serve(ctx, handler)
	})
}

func (s *TCPSource) serve(ctx context.Context, handler track.Handler) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock the read loop when the context ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	s.rc.onConnected()

	readTimeout := s.cfg.readTimeout()
	scanner := bufio.NewScanner(conn)
	errorsSeen := s.assembler.ErrorCount()
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	for scanner.Scan() {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.rc.countMessage(len(line))
		if ce := s.rc.logger.Check(zap.DebugLevel, "sentence received"); ce != nil {
			ce.Write(zap.String("raw", utils.FormatSpaces([]byte(line))))
		}

		msg, ok := s.assembler.Parse(line)
		if !ok {
			// Distinguish bad sentences from buffered fragments.
			if n := s.assembler.ErrorCount(); n > errorsSeen {
				errorsSeen = n
				s.rc.malformed.Add(1)
				if s.metrics != nil {
					s.metrics.DecodeErrors.WithLabelValues(s.cfg.Name).Inc()
				}
			}
			continue
		}
		msg.Source = s.cfg.Name
		handler.HandleMessage(msg)
	}
	return scanner.Err()
}
