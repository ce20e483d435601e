// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Modem     ModemConfig     `mapstructure:"modem"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	App       AppConfig       `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host" validate:"required"`
	Port         string        `mapstructure:"port" validate:"required"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TLS          TLSConfig     `mapstructure:"tls"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"required"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// ModemConfig describes the co-processor link and how the engine drives it.
type ModemConfig struct {
	Link     LinkConfig     `mapstructure:"link"`
	Channel  ChannelConfig  `mapstructure:"channel"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts"`
	Init     InitConfig     `mapstructure:"init"`

	// PollInterval is how often the idle poller looks for notifications.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// HealthInterval is how often the peer is pinged while idle.
	HealthInterval time.Duration `mapstructure:"health_interval"`
	// ReconnectDelay is the wait before reopening a failed link.
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

// LinkConfig selects the stream the modem is reached through
type LinkConfig struct {
	Type   string     `mapstructure:"type"`
	Serial SerialLink `mapstructure:"serial"`
	TCP    TCPLink    `mapstructure:"tcp"`
	USB    USBLink    `mapstructure:"usb"`
}

// SerialLink represents serial port configuration
type SerialLink struct {
	Port     string        `mapstructure:"port"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	StopBits int           `mapstructure:"stop_bits"`
	Parity   string        `mapstructure:"parity"`
	Poll     time.Duration `mapstructure:"poll"`
}

// TCPLink represents a serial-over-TCP bridge
type TCPLink struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	KeepAlive      bool          `mapstructure:"keep_alive"`
}

// USBLink represents a USB-UART bridge driven through bulk endpoints
type USBLink struct {
	VendorID     string `mapstructure:"vendor_id"`
	ProductID    string `mapstructure:"product_id"`
	SerialNumber string `mapstructure:"serial_number"`
	Config       int    `mapstructure:"config"`
	Interface    int    `mapstructure:"interface"`
	InEndpoint   int    `mapstructure:"in_endpoint"`
	OutEndpoint  int    `mapstructure:"out_endpoint"`
}

// ChannelConfig sizes the byte transport
type ChannelConfig struct {
	TxSize      int    `mapstructure:"tx_size"`
	RxSize      int    `mapstructure:"rx_size"`
	FlowControl string `mapstructure:"flow_control"`
	LowWater    int    `mapstructure:"low_water"`
	Hysteresis  int    `mapstructure:"hysteresis"`
}

// EngineConfig represents protocol engine configuration
type EngineConfig struct {
	LineLength   int           `mapstructure:"line_length"`
	InboundSlots int           `mapstructure:"inbound_slots"`
	Echo         bool          `mapstructure:"echo"`
	Unsupported  []string      `mapstructure:"unsupported"`
	PollSlice    time.Duration `mapstructure:"poll_slice"`
}

// TimeoutsConfig holds one duration per timeout class
type TimeoutsConfig struct {
	Basic       time.Duration `mapstructure:"basic"`
	Network     time.Duration `mapstructure:"network"`
	Inbound     time.Duration `mapstructure:"inbound"`
	Association time.Duration `mapstructure:"association"`
	Transmit    time.Duration `mapstructure:"transmit"`
}

// InitConfig is the session set up after the link opens
type InitConfig struct {
	Reset        bool   `mapstructure:"reset"`
	Echo         bool   `mapstructure:"echo"`
	Multiplex    bool   `mapstructure:"multiplex"`
	ExtendedInfo bool   `mapstructure:"extended_info"`
	SSID         string `mapstructure:"ssid"`
	Password     string `mapstructure:"password"`
}

// DiscoveryConfig controls link scanning
type DiscoveryConfig struct {
	Serial       bool          `mapstructure:"serial"`
	USB          bool          `mapstructure:"usb"`
	ProbeUSB     bool          `mapstructure:"probe_usb"`
	TCPTargets   []string      `mapstructure:"tcp_targets"`
	BaudRates    []int         `mapstructure:"baud_rates"`
	PortPatterns []string      `mapstructure:"port_patterns"`
	ScanTimeout  time.Duration `mapstructure:"scan_timeout"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Version     string `mapstructure:"version" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required"`
	Debug       bool   `mapstructure:"debug"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches
// the default locations; a missing file there is not an error.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("./internal/config")
		v.AddConfigPath("../../configs")
	}

	// Environment variable support
	v.SetEnvPrefix("MODEM_SERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
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
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8085")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.tls.enabled", false)

	v.SetDefault("security.allowed_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Link defaults
	v.SetDefault("modem.link.type", "serial")
	v.SetDefault("modem.link.serial.port", "/dev/ttyUSB0")
	v.SetDefault("modem.link.serial.baud_rate", 115200)
	v.SetDefault("modem.link.serial.data_bits", 8)
	v.SetDefault("modem.link.serial.stop_bits", 1)
	v.SetDefault("modem.link.serial.parity", "none")
	v.SetDefault("modem.link.serial.poll", "100ms")
	v.SetDefault("modem.link.tcp.port", 2000)
	v.SetDefault("modem.link.tcp.connect_timeout", "10s")
	v.SetDefault("modem.link.tcp.keep_alive", true)
	v.SetDefault("modem.link.usb.config", 1)
	v.SetDefault("modem.link.usb.in_endpoint", 1)
	v.SetDefault("modem.link.usb.out_endpoint", 1)

	// Channel defaults
	v.SetDefault("modem.channel.tx_size", 512)
	v.SetDefault("modem.channel.rx_size", 4096)
	v.SetDefault("modem.channel.flow_control", "none")
	v.SetDefault("modem.channel.low_water", 64)
	v.SetDefault("modem.channel.hysteresis", 64)

	// Engine defaults
	v.SetDefault("modem.engine.line_length", 256)
	v.SetDefault("modem.engine.inbound_slots", 8)
	v.SetDefault("modem.engine.echo", true)
	v.SetDefault("modem.engine.poll_slice", "20ms")

	v.SetDefault("modem.timeouts.basic", "2s")
	v.SetDefault("modem.timeouts.network", "10s")
	v.SetDefault("modem.timeouts.inbound", "5s")
	v.SetDefault("modem.timeouts.association", "20s")
	v.SetDefault("modem.timeouts.transmit", "1s")

	v.SetDefault("modem.init.reset", false)
	v.SetDefault("modem.init.echo", false)
	v.SetDefault("modem.init.multiplex", true)
	v.SetDefault("modem.init.extended_info", false)

	v.SetDefault("modem.poll_interval", "50ms")
	v.SetDefault("modem.health_interval", "30s")
	v.SetDefault("modem.reconnect_delay", "5s")

	v.SetDefault("discovery.serial", true)
	v.SetDefault("discovery.usb", true)
	v.SetDefault("discovery.probe_usb", false)
	v.SetDefault("discovery.baud_rates", []int{115200, 74880, 9600})
	v.SetDefault("discovery.scan_timeout", "30s")
	v.SetDefault("discovery.probe_timeout", "500ms")

	// App defaults
	v.SetDefault("app.name", "modem-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
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

	validLinks := []string{"serial", "tcp", "usb"}
	if !contains(validLinks, config.Modem.Link.Type) {
		return fmt.Errorf("modem.link.type must be one of: %v", validLinks)
	}

	t := config.Modem.Timeouts
	for name, d := range map[string]time.Duration{
		"basic": t.Basic, "network": t.Network, "inbound": t.Inbound,
		"association": t.Association, "transmit": t.Transmit,
	} {
		if d <= 0 {
			return fmt.Errorf("modem.timeouts.%s must be positive", name)
		}
	}
	if config.Modem.PollInterval <= 0 {
		return fmt.Errorf("modem.poll_interval must be positive")
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.IsDevelopment()
}
