// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"usis-service/internal/protocol/serial"
)

// Config represents the application configuration
type Config struct {
	Serial    SerialConfig    `mapstructure:"serial"`
	Protocol  ProtocolConfig  `mapstructure:"protocol"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	App       AppConfig       `mapstructure:"app"`
}

// SerialConfig represents the serial link parameters
type SerialConfig struct {
	Port        string        `mapstructure:"port"`
	BaudRate    int           `mapstructure:"baud_rate"`
	DataBits    int           `mapstructure:"data_bits"`
	StopBits    int           `mapstructure:"stop_bits"`
	Parity      string        `mapstructure:"parity"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// ProtocolConfig represents exchange behaviour
type ProtocolConfig struct {
	Timeout             time.Duration `mapstructure:"timeout"`
	FaultBackoff        time.Duration `mapstructure:"fault_backoff"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	AttachChecksum      bool          `mapstructure:"attach_checksum"`
	StrictDeadline      bool          `mapstructure:"strict_deadline"`
	VerifyReplyChecksum bool          `mapstructure:"verify_reply_checksum"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	DBName         string        `mapstructure:"dbname"`
	SSLMode        string        `mapstructure:"sslmode"`
	MaxOpenConns   int           `mapstructure:"max_open_conns"`
	MaxIdleConns   int           `mapstructure:"max_idle_conns"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	MigrateOnStart bool          `mapstructure:"migrate_on_start"`
}

// JournalConfig represents exchange journal retention
type JournalConfig struct {
	Capacity        int           `mapstructure:"capacity"`
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// DiscoveryConfig represents port enumeration filters
type DiscoveryConfig struct {
	PortPatterns []string `mapstructure:"port_patterns"`
	USBOnly      bool     `mapstructure:"usb_only"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// Load loads configuration from file and environment variables.
// An empty path searches for config.yaml in the working directory, ./configs
// and /etc/usis; not finding one there is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/usis")
	}

	// Environment variable support
	v.SetEnvPrefix("USIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Serial defaults
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud_rate", serial.DefaultBaudRate)
	v.SetDefault("serial.data_bits", serial.DefaultDataBits)
	v.SetDefault("serial.stop_bits", serial.DefaultStopBits)
	v.SetDefault("serial.parity", serial.DefaultParity)
	v.SetDefault("serial.read_timeout", serial.DefaultReadTimeout)

	// Protocol defaults
	v.SetDefault("protocol.timeout", serial.DefaultTimeout)
	v.SetDefault("protocol.fault_backoff", serial.DefaultFaultBackoff)
	v.SetDefault("protocol.poll_interval", serial.DefaultPollInterval)
	v.SetDefault("protocol.attach_checksum", false)
	v.SetDefault("protocol.strict_deadline", false)
	v.SetDefault("protocol.verify_reply_checksum", true)

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8085")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "usis")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_lifetime", "5m")
	v.SetDefault("database.migrate_on_start", true)

	// Journal defaults
	v.SetDefault("journal.capacity", 1000)
	v.SetDefault("journal.retention", "168h")
	v.SetDefault("journal.cleanup_interval", "1h")

	// Discovery defaults
	v.SetDefault("discovery.port_patterns", []string{})
	v.SetDefault("discovery.usb_only", false)

	// Security defaults
	v.SetDefault("security.allowed_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// App defaults
	v.SetDefault("app.name", "usis-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baud_rate must be positive")
	}
	if config.Serial.StopBits != 1 && config.Serial.StopBits != 2 {
		return fmt.Errorf("serial.stop_bits must be 1 or 2")
	}
	if !contains([]string{"none", "odd", "even"}, config.Serial.Parity) {
		return fmt.Errorf("serial.parity must be one of: none, odd, even")
	}
	if config.Protocol.Timeout <= 0 {
		return fmt.Errorf("protocol.timeout must be positive")
	}
	if config.Protocol.FaultBackoff < 0 {
		return fmt.Errorf("protocol.fault_backoff must not be negative")
	}
	if config.Protocol.PollInterval <= 0 {
		return fmt.Errorf("protocol.poll_interval must be positive")
	}

	if config.Server.Enabled && config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if config.Database.Enabled && config.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if config.Journal.Capacity <= 0 {
		return fmt.Errorf("journal.capacity must be positive")
	}

	// Validate environment
	validEnvs := []string{"development", "staging", "production", "test"}
	if !contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	// Validate logging level
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

// SessionConfig returns the transport session configuration
func (c *Config) SessionConfig() *serial.Config {
	return &serial.Config{
		Port:           c.Serial.Port,
		BaudRate:       c.Serial.BaudRate,
		DataBits:       c.Serial.DataBits,
		StopBits:       c.Serial.StopBits,
		Parity:         c.Serial.Parity,
		ReadTimeout:    c.Serial.ReadTimeout,
		Timeout:        c.Protocol.Timeout,
		FaultBackoff:   c.Protocol.FaultBackoff,
		PollInterval:   c.Protocol.PollInterval,
		AttachChecksum: c.Protocol.AttachChecksum,
		StrictDeadline: c.Protocol.StrictDeadline,
	}
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User,
		c.Database.Password, c.Database.DBName, c.Database.SSLMode)
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == "development"
}
