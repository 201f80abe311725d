package source

import (
	"bufio"
	"context"
	"strings"

	track "github.com/ethan0sc4r/codmar001"
	"github.com/ethan0sc4r/codmar001/internal/metrics"
	"github.com/ethan0sc4r/codmar001/internal/utils"
	"github.com/ethan0sc4r/codmar001/nmea0183"
	"github.com/tarm/serial"
	"go.uber.org/zap"
)

const defaultBaudRate = 38400

// SerialSource reads NMEA sentences from a locally attached AIS receiver.
// The reconnect loop doubles as recovery for USB devices that drop off and
// reappear.
type SerialSource struct {
	cfg       Config
	rc        *reconnector
	assembler *nmea0183.Assembler
	metrics   *metrics.Metrics
}

// NewSerialSource creates a SerialSource from its config. The metrics
// bundle may be nil.
func NewSerialSource(cfg Config, logger *zap.Logger, m *metrics.Metrics) *SerialSource {
	return &SerialSource{
		cfg:       cfg,
		rc:        newReconnector(cfg, logger),
		assembler: nmea0183.NewAssembler(),
		metrics:   m,
	}
}

func (s *SerialSource) Name() string { return s.cfg.Name }

func (s *SerialSource) State() State { return s.rc.currentState() }

func (s *SerialSource) Stats() Stats { return s.rc.snapshot() }

// AssemblerStats exposes the NMEA decode counters for the stats API.
func (s *SerialSource) AssemblerStats() nmea0183.Stats { return s.assembler.Stats() }

// Run opens the port and reads until ctx is cancelled or the retry policy
// gives up.
func (s *SerialSource) Run(ctx context.Context, handler track.Handler) error {
	return s.rc.run(ctx, func(ctx context.Context) error {
		return s.serve(ctx, handler)
	})
}

func (s *SerialSource) serve(ctx context.Context, handler track.Handler) error {
	baud := s.cfg.Baud
	if baud == 0 {
		baud = defaultBaudRate
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        s.cfg.Device,
		Baud:        baud,
		ReadTimeout: s.cfg.readTimeout(),
	})
	if err != nil {
		return err
	}
	defer port.Close()

	stop := context.AfterFunc(ctx, func() { _ = port.Close() })
	defer stop()

	s.rc.onConnected()
	s.rc.logger.Info("serial port opened",
		zap.String("device", s.cfg.Device),
		zap.Int("baud", baud),
		zap.Duration("read_timeout", s.cfg.readTimeout()))

	scanner := bufio.NewScanner(port)
	errorsSeen := s.assembler.ErrorCount()
	for scanner.Scan() {
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
