// internal/protocol/serial/connection.go
package serial

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// Default link and exchange parameters.
const (
	DefaultBaudRate     = 9600
	DefaultDataBits     = 8
	DefaultStopBits     = 1
	DefaultParity       = "none"
	DefaultReadTimeout  = 1 * time.Second
	DefaultTimeout      = 3 * time.Second
	DefaultFaultBackoff = 3 * time.Second
	DefaultPollInterval = 10 * time.Millisecond
)

// Port is the subset of go.bug.st/serial.Port the session relies on.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	ResetInputBuffer() error
	ResetOutputBuffer() error
	Drain() error
	SetReadTimeout(t time.Duration) error
}

var _ Port = serial.Port(nil)

// Config represents serial link and exchange configuration
type Config struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`

	// ReadTimeout is the driver-level timeout bounding one line read
	ReadTimeout time.Duration `json:"read_timeout"`

	// Timeout is the exchange deadline, measured from write completion
	Timeout time.Duration `json:"timeout"`

	// FaultBackoff is the pause after a transient read fault
	FaultBackoff time.Duration `json:"fault_backoff"`

	// PollInterval bounds each check for pending input
	PollInterval time.Duration `json:"poll_interval"`

	// AttachChecksum appends "*HH" to framed commands
	AttachChecksum bool `json:"attach_checksum"`

	// StrictDeadline clips fault backoff to the time left before the deadline
	StrictDeadline bool `json:"strict_deadline"`
}

// DefaultConfig returns the parameters of a standard USIS link on port.
func DefaultConfig(port string) *Config {
	return &Config{
		Port:         port,
		BaudRate:     DefaultBaudRate,
		DataBits:     DefaultDataBits,
		StopBits:     DefaultStopBits,
		Parity:       DefaultParity,
		ReadTimeout:  DefaultReadTimeout,
		Timeout:      DefaultTimeout,
		FaultBackoff: DefaultFaultBackoff,
		PollInterval: DefaultPollInterval,
	}
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.BaudRate == 0 {
		out.BaudRate = DefaultBaudRate
	}
	if out.DataBits == 0 {
		out.DataBits = DefaultDataBits
	}
	if out.StopBits == 0 {
		out.StopBits = DefaultStopBits
	}
	if out.Parity == "" {
		out.Parity = DefaultParity
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = DefaultReadTimeout
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	if out.FaultBackoff < 0 {
		out.FaultBackoff = 0
	}
	if out.PollInterval <= 0 {
		out.PollInterval = DefaultPollInterval
	}
	return &out
}

// mode converts the configuration to a go.bug.st serial mode
func (c *Config) mode() (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
	}

	switch c.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits: %d", c.StopBits)
	}

	// Set parity
	switch c.Parity {
	case "none":
		mode.Parity = serial.NoParity
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	default:
		return nil, fmt.Errorf("unsupported parity: %s", c.Parity)
	}

	return mode, nil
}

// Open opens the serial link named by config.Port and returns a session owning it.
func Open(config *Config, logger *zap.Logger) (*Session, error) {
	if config == nil || config.Port == "" {
		return nil, fmt.Errorf("port is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := config.withDefaults()

	mode, err := cfg.mode()
	if err != nil {
		return nil, fmt.Errorf("invalid serial configuration: %w", err)
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		logger.Error("Unable to open the USB port",
			zap.Error(err),
			zap.String("port", cfg.Port),
		)
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}

	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	logger.Info("The USB port is open",
		zap.String("port", cfg.Port),
		zap.Int("baud_rate", cfg.BaudRate),
	)

	return NewSession(port, cfg, logger), nil
}

// ErrDisconnected marks a hardware-disconnection fault raised by a Port.
var ErrDisconnected = errors.New("serial: device disconnected")

// IsDisconnect reports whether err means the device is no longer reachable.
// Any other I/O error is a transient fault.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDisconnected) {
		return true
	}

	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortClosed, serial.PortNotFound, serial.InvalidSerialPort:
			return true
		}
	}

	return errors.Is(err, io.EOF) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, syscall.EIO) ||
		errors.Is(err, syscall.ENXIO) ||
		errors.Is(err, syscall.ENODEV)
}
