// internal/discovery/serial/scanner.go
package serial

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"modem-service/internal/discovery"
	"modem-service/internal/discovery/usb"
	"modem-service/internal/transport"
)

// Scanner enumerates serial ports and probes each with AT.
type Scanner struct {
	logger    *zap.Logger
	config    *Config
	bridges   *usb.BridgeDatabase
	enumerate func() ([]*enumerator.PortDetails, error)
	open      discovery.Opener
}

// Config for serial scanner
type Config struct {
	ScanTimeout  time.Duration `json:"scan_timeout"`
	ProbeTimeout time.Duration `json:"probe_timeout"`
	BaudRates    []int         `json:"baud_rates"`
	PortPatterns []string      `json:"port_patterns"`
	Exclude      []string      `json:"exclude"` // ports already in use
}

// NewScanner creates a new serial scanner
func NewScanner(logger *zap.Logger, config *Config) *Scanner {
	if config == nil {
		config = &Config{
			ScanTimeout:  30 * time.Second,
			ProbeTimeout: 500 * time.Millisecond,
			BaudRates:    []int{115200, 74880, 9600},
			PortPatterns: DefaultPortPatterns(),
		}
	}
	if len(config.BaudRates) == 0 {
		config.BaudRates = []int{115200}
	}
	if config.ScanTimeout <= 0 {
		config.ScanTimeout = 30 * time.Second
	}

	return &Scanner{
		logger:    logger.With(zap.String("scanner", "serial")),
		config:    config,
		bridges:   usb.NewBridgeDatabase(),
		enumerate: enumerator.GetDetailedPortsList,
		open:      transport.Open,
	}
}

// DefaultPortPatterns matches the device names USB-UART bridges get on
// this platform.
func DefaultPortPatterns() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{"COM*"}
	case "darwin":
		return []string{"/dev/cu.usbserial*", "/dev/cu.SLAB_USBtoUART*", "/dev/cu.wchusbserial*", "/dev/cu.usbmodem*"}
	default:
		return []string{"/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyS*", "/dev/ttyAMA*"}
	}
}

// GetScannerType returns scanner type
func (s *Scanner) GetScannerType() string {
	return "serial"
}

// IsAvailable checks if serial scanning is available
func (s *Scanner) IsAvailable() bool {
	return true
}

// Scan probes every matching port at each configured baud rate until one
// answers.
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.DiscoveredLink, error) {
	s.logger.Info("Starting serial port scan")

	ctx, cancel := context.WithTimeout(ctx, s.config.ScanTimeout)
	defer cancel()

	ports, err := s.enumerate()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}
	if len(ports) == 0 {
		s.logger.Info("No serial ports found")
		return []*discovery.DiscoveredLink{}, nil
	}

	var discovered []*discovery.DiscoveredLink
	for _, port := range ports {
		if !s.matches(port.Name) {
			continue
		}
		select {
		case <-ctx.Done():
			return discovered, ctx.Err()
		default:
		}

		if link := s.testPort(ctx, port); link != nil {
			discovered = append(discovered, link)
		}
	}

	s.logger.Info("Serial scan completed", zap.Int("links_found", len(discovered)))
	return discovered, nil
}

func (s *Scanner) matches(name string) bool {
	for _, excluded := range s.config.Exclude {
		if name == excluded {
			return false
		}
	}
	if len(s.config.PortPatterns) == 0 {
		return true
	}
	for _, pattern := range s.config.PortPatterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// testPort reports a port when it answers or sits behind a known bridge.
func (s *Scanner) testPort(ctx context.Context, port *enumerator.PortDetails) *discovery.DiscoveredLink {
	link := &discovery.DiscoveredLink{
		Type:         transport.LinkSerial,
		Description:  port.Product,
		SerialNumber: port.SerialNumber,
		Location:     port.Name,
		Confidence:   0.1,
	}
	if port.IsUSB {
		link.VendorID, link.ProductID = port.VID, port.PID
		if bridge := s.lookupBridge(port.VID, port.PID); bridge != nil {
			link.Bridge = bridge.Chip
			link.Confidence = bridge.Confidence
		}
	}

	for _, baud := range s.config.BaudRates {
		cfg := transport.LinkConfig{
			Type: transport.LinkSerial,
			Serial: transport.SerialConfig{
				Port:     port.Name,
				BaudRate: baud,
				DataBits: 8,
				StopBits: 1,
				Parity:   "none",
			},
		}
		link.Link = cfg

		result, err := discovery.Probe(ctx, s.open, cfg, s.config.ProbeTimeout, s.logger)
		if err != nil {
			// Busy or vanished; another baud rate will not help.
			s.logger.Debug("Port probe failed", zap.String("port", port.Name), zap.Error(err))
			break
		}
		if result.Responds {
			link.Responds = true
			link.Firmware = result.Firmware
			link.Confidence = 1.0
			s.logger.Info("Co-processor found",
				zap.String("port", port.Name),
				zap.Int("baud_rate", baud),
				zap.Strings("firmware", result.Firmware),
			)
			return link
		}
	}

	if link.Bridge == "" {
		return nil
	}
	link.Link.Serial.BaudRate = s.config.BaudRates[0]
	return link
}

func (s *Scanner) lookupBridge(vid, pid string) *usb.BridgeInfo {
	vendorID, err := transport.ParseUSBID(vid)
	if err != nil {
		return nil
	}
	productID, err := transport.ParseUSBID(pid)
	if err != nil {
		return nil
	}
	return s.bridges.Lookup(vendorID, productID)
}
