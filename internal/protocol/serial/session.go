// internal/protocol/serial/session.go
package serial

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"usis-service/internal/protocol"
)

const readChunkSize = 256

// ErrUndecodableReply is the transient fault raised when a reply line is not ASCII text.
var ErrUndecodableReply = errors.New("serial: reply is not ASCII text")

// Session owns a serial link and runs request/reply exchanges over it.
//
// A whole exchange (buffer reset, write, reply polling) runs under one lock, so
// concurrent callers are serialised and a reply is always matched to the most
// recently written frame.
type Session struct {
	mu     sync.Mutex
	port   Port
	config *Config
	logger *zap.Logger
	buf    []byte

	statsMu sync.Mutex
	stats   Stats
}

// NewSession wraps an already opened port. A nil port yields a session on which
// every send reports PortUnavailable.
func NewSession(port Port, config *Config, logger *zap.Logger) *Session {
	if config == nil {
		config = DefaultConfig("")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Session{
		port:   port,
		config: config.withDefaults(),
		logger: logger.With(
			zap.String("protocol", "serial"),
			zap.String("port", config.Port),
		),
		buf:   make([]byte, readChunkSize),
		stats: Stats{IsConnected: port != nil},
	}
}

// Unavailable returns a session without a link, used when the port could not be opened.
func Unavailable(config *Config, logger *zap.Logger) *Session {
	return NewSession(nil, config, logger)
}

// SendFramed frames command (see protocol.Frame) and exchanges it.
func (s *Session) SendFramed(command string) protocol.Outcome {
	return s.exchange(protocol.Frame(command, s.config.AttachChecksum), false)
}

// SendRaw exchanges command exactly as given. Both buffers are reset before
// writing and the write is drained before polling starts.
func (s *Session) SendRaw(command string) protocol.Outcome {
	return s.exchange(command, true)
}

func (s *Session) exchange(frame string, raw bool) protocol.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		s.logger.Warn("The USB port is not available", zap.String("frame", frame))
		s.recordOutcome(protocol.OutcomePortUnavailable, 0, 0, 0)
		return protocol.PortUnavailable(frame)
	}

	start := time.Now()
	// any write-side failure ends the exchange; only read faults are retried
	if err := s.transmit(frame, raw); err != nil {
		return s.disconnected(frame, err)
	}

	deadline := time.Now().Add(s.config.Timeout)
	for {
		line, ok, err := s.pollLine()
		switch {
		case err != nil && IsDisconnect(err):
			return s.disconnected(frame, err)

		case err != nil:
			s.logger.Warn("Bug with serial port - "+frame, zap.Error(err))
			s.recordFault()
			s.backoff(deadline)

		case ok:
			s.recordOutcome(protocol.OutcomeOK, len(frame), len(line), time.Since(start))
			s.logger.Debug("Reply received",
				zap.String("frame", frame),
				zap.String("reply", line),
				zap.Bool("raw", raw),
			)
			return protocol.Ok(line, frame)
		}

		if !time.Now().Before(deadline) {
			s.recordOutcome(protocol.OutcomeTimeout, len(frame), 0, time.Since(start))
			s.logger.Warn("Timeout reached",
				zap.String("frame", frame),
				zap.Duration("timeout", s.config.Timeout),
			)
			return protocol.Timeout(frame)
		}
	}
}

// transmit clears stale buffers and writes the frame
func (s *Session) transmit(frame string, raw bool) error {
	if err := s.port.ResetInputBuffer(); err != nil {
		return err
	}
	if raw {
		if err := s.port.ResetOutputBuffer(); err != nil {
			return err
		}
	}

	data := []byte(frame)
	for written := 0; written < len(data); {
		n, err := s.port.Write(data[written:])
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrDisconnected
		}
		written += n
	}

	if raw {
		return s.port.Drain()
	}
	return nil
}

// pollLine checks for pending input and, when there is some, reads one line.
// A line still unterminated when the driver read timeout expires is returned as is.
func (s *Session) pollLine() (string, bool, error) {
	if err := s.port.SetReadTimeout(s.config.PollInterval); err != nil {
		return "", false, err
	}

	n, err := s.port.Read(s.buf)
	if err != nil {
		return "", false, err
	}
	if n == 0 {
		return "", false, nil
	}
	line := append([]byte(nil), s.buf[:n]...)

	if err := s.port.SetReadTimeout(s.config.ReadTimeout); err != nil {
		return "", false, err
	}
	for bytes.IndexByte(line, '\n') < 0 {
		n, err := s.port.Read(s.buf)
		if err != nil {
			return "", false, err
		}
		if n == 0 {
			break
		}
		line = append(line, s.buf[:n]...)
	}

	// bytes after the first line are dropped; the next exchange resets input anyway
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i+1]
	}

	if !protocol.IsASCII(string(line)) {
		return "", false, ErrUndecodableReply
	}
	return string(line), true, nil
}

// backoff pauses after a transient fault. In strict mode the pause never runs
// past the exchange deadline.
func (s *Session) backoff(deadline time.Time) {
	d := s.config.FaultBackoff
	if s.config.StrictDeadline {
		if remaining := time.Until(deadline); remaining < d {
			d = remaining
		}
	}
	if d > 0 {
		time.Sleep(d)
	}
}

func (s *Session) disconnected(frame string, err error) protocol.Outcome {
	s.logger.Error("The USB port is not available... anymore",
		zap.String("frame", frame),
		zap.Error(err),
	)
	s.recordOutcome(protocol.OutcomePortUnavailable, 0, 0, 0)
	return protocol.PortUnavailable(frame)
}

// Close releases the link. It is terminal: later sends report PortUnavailable.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}

	err := s.port.Close()
	s.port = nil

	s.statsMu.Lock()
	s.stats.IsConnected = false
	s.statsMu.Unlock()

	if err != nil {
		s.logger.Error("Failed to close serial port", zap.Error(err))
		return err
	}

	s.logger.Info("Serial port closed")
	return nil
}

// IsOpen reports whether the link is usable: opened, not closed, and not seen
// disconnected since the last reply. It does not wait for an exchange in progress.
func (s *Session) IsOpen() bool {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats.IsConnected
}

// PortName returns the configured device name.
func (s *Session) PortName() string {
	return s.config.Port
}

// Config returns a copy of the effective configuration.
func (s *Session) Config() Config {
	return *s.config
}
