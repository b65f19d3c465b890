// internal/service/discovery_service.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"usis-service/internal/model"
	"usis-service/internal/utils"
)

// PortScanner enumerates serial ports on the host
type PortScanner interface {
	Scan(ctx context.Context) ([]model.SerialPort, error)
}

// DiscoveryService handles serial port discovery
type DiscoveryService struct {
	scanner PortScanner
	logger  *utils.ServiceLogger
}

// NewDiscoveryService creates a new discovery service
func NewDiscoveryService(scanner PortScanner, logger *zap.Logger) *DiscoveryService {
	return &DiscoveryService{
		scanner: scanner,
		logger:  utils.NewServiceLogger(logger, "discovery-service"),
	}
}

// ListPorts returns the serial ports currently present
func (ds *DiscoveryService) ListPorts(ctx context.Context) ([]model.SerialPort, error) {
	ports, err := ds.scanner.Scan(ctx)
	if err != nil {
		ds.logger.Error("Port scan failed", zap.Error(err))
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	ds.logger.Info("Port scan completed", zap.Int("ports_found", len(ports)))
	return ports, nil
}

// SelectPort picks a port by its 1-based menu position
func SelectPort(ports []model.SerialPort, choice int) (model.SerialPort, error) {
	if choice < 1 || choice > len(ports) {
		return model.SerialPort{}, fmt.Errorf("port choice %d out of range 1..%d", choice, len(ports))
	}
	return ports[choice-1], nil
}
