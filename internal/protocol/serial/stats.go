// internal/protocol/serial/stats.go
package serial

import (
	"time"

	"usis-service/internal/protocol"
)

// Stats provides link-level statistics
type Stats struct {
	BytesWritten     int64         `json:"bytes_written"`
	BytesRead        int64         `json:"bytes_read"`
	ExchangeCount    int64         `json:"exchange_count"`
	ReplyCount       int64         `json:"reply_count"`
	TimeoutCount     int64         `json:"timeout_count"`
	UnavailableCount int64         `json:"unavailable_count"`
	TransientFaults  int64         `json:"transient_faults"`
	LastActivity     time.Time     `json:"last_activity"`
	AverageLatency   time.Duration `json:"average_latency"`
	IsConnected      bool          `json:"is_connected"`
}

// Stats returns a snapshot of the session statistics.
func (s *Session) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Session) recordOutcome(kind protocol.OutcomeKind, written, read int, latency time.Duration) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	s.stats.ExchangeCount++
	s.stats.BytesWritten += int64(written)
	s.stats.BytesRead += int64(read)
	s.stats.LastActivity = time.Now()

	switch kind {
	case protocol.OutcomeOK:
		s.stats.ReplyCount++
		s.stats.IsConnected = true
		s.updateLatency(latency)
	case protocol.OutcomeTimeout:
		s.stats.TimeoutCount++
	case protocol.OutcomePortUnavailable:
		s.stats.UnavailableCount++
		s.stats.IsConnected = false
	}
}

func (s *Session) recordFault() {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	s.stats.TransientFaults++
	s.stats.LastActivity = time.Now()
}

// updateLatency keeps a running average; caller holds statsMu
func (s *Session) updateLatency(latency time.Duration) {
	if s.stats.AverageLatency == 0 {
		s.stats.AverageLatency = latency
	} else {
		s.stats.AverageLatency = (s.stats.AverageLatency + latency) / 2
	}
}
