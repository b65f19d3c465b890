// internal/discovery/serial/scanner.go
package serial

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"usis-service/internal/model"
)

// Config for serial scanner
type Config struct {
	// PortPatterns are filepath.Match patterns; empty keeps every port
	PortPatterns []string `json:"port_patterns"`
	USBOnly      bool     `json:"usb_only"`
}

// Scanner lists serial ports available on the host
type Scanner struct {
	logger  *zap.Logger
	config  *Config
	bridges *BridgeDatabase

	detailed func() ([]*enumerator.PortDetails, error)
	names    func() ([]string, error)
}

// NewScanner creates a new serial scanner
func NewScanner(logger *zap.Logger, config *Config) *Scanner {
	if config == nil {
		config = &Config{}
	}

	return &Scanner{
		logger:   logger.With(zap.String("scanner", "serial")),
		config:   config,
		bridges:  NewBridgeDatabase(),
		detailed: enumerator.GetDetailedPortsList,
		names:    serial.GetPortsList,
	}
}

// Scan returns the serial ports found, sorted by name. Detailed USB information
// is used when the platform enumerator provides it.
func (s *Scanner) Scan(ctx context.Context) ([]model.SerialPort, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ports, err := s.list()
	if err != nil {
		return nil, err
	}

	filtered := make([]model.SerialPort, 0, len(ports))
	for _, p := range ports {
		if s.keep(p) {
			filtered = append(filtered, p)
		}
	}

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Name < filtered[j].Name })

	s.logger.Debug("Serial scan completed", zap.Int("ports_found", len(filtered)))
	return filtered, nil
}

func (s *Scanner) list() ([]model.SerialPort, error) {
	details, err := s.detailed()
	if err == nil {
		ports := make([]model.SerialPort, 0, len(details))
		for _, d := range details {
			product := d.Product
			if product == "" && d.IsUSB {
				product = s.bridges.Describe(d.VID, d.PID)
			}
			ports = append(ports, model.SerialPort{
				Name:         d.Name,
				IsUSB:        d.IsUSB,
				VID:          d.VID,
				PID:          d.PID,
				SerialNumber: d.SerialNumber,
				Product:      product,
			})
		}
		return ports, nil
	}

	s.logger.Debug("Detailed port enumeration unavailable, falling back to names", zap.Error(err))

	names, err := s.names()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}

	ports := make([]model.SerialPort, 0, len(names))
	for _, name := range names {
		ports = append(ports, model.SerialPort{Name: name})
	}
	return ports, nil
}

func (s *Scanner) keep(p model.SerialPort) bool {
	if s.config.USBOnly && !p.IsUSB {
		return false
	}
	if len(s.config.PortPatterns) == 0 {
		return true
	}
	for _, pattern := range s.config.PortPatterns {
		if ok, _ := filepath.Match(pattern, p.Name); ok {
			return true
		}
	}
	return false
}
