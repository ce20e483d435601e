// internal/discovery/usb/scanner.go
package usb

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"modem-service/internal/discovery"
	"modem-service/internal/transport"
)

type deviceResult struct {
	link *discovery.DiscoveredLink
	err  error
}

// Scanner finds USB-UART bridges by vendor and product ID.
type Scanner struct {
	logger  *zap.Logger
	bridges *BridgeDatabase
	timeout time.Duration
	config  *Config
	open    discovery.Opener
}

// Config for USB scanner
type Config struct {
	ScanTimeout    time.Duration `json:"scan_timeout"`
	EnableDebug    bool          `json:"enable_debug"`
	SkipPermCheck  bool          `json:"skip_permission_check"`
	TestConnection bool          `json:"test_connection"` // detaches the kernel driver while probing
	ProbeTimeout   time.Duration `json:"probe_timeout"`
	MaxConcurrent  int           `json:"max_concurrent"`
}

// NewScanner creates a new USB scanner
func NewScanner(logger *zap.Logger, config *Config) *Scanner {
	if config == nil {
		config = &Config{
			ScanTimeout:   10 * time.Second,
			ProbeTimeout:  500 * time.Millisecond,
			MaxConcurrent: 4,
		}
	}
	if config.ScanTimeout <= 0 {
		config.ScanTimeout = 10 * time.Second
	}

	return &Scanner{
		logger:  logger.With(zap.String("scanner", "usb")),
		bridges: NewBridgeDatabase(),
		timeout: config.ScanTimeout,
		config:  config,
		open:    transport.Open,
	}
}

// GetScannerType returns scanner type identifier
func (s *Scanner) GetScannerType() string {
	return "usb"
}

// IsAvailable checks if USB scanning is available on this system
func (s *Scanner) IsAvailable() bool {
	switch runtime.GOOS {
	case "linux", "windows":
		return true
	case "darwin":
		if !s.config.SkipPermCheck {
			s.logger.Warn("USB scanning on macOS may require additional permissions")
		}
		return true
	default:
		s.logger.Warn("USB scanning support unknown for OS", zap.String("os", runtime.GOOS))
		return false
	}
}

// Scan enumerates USB devices and reports known bridges.
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.DiscoveredLink, error) {
	startTime := time.Now()
	s.logger.Info("Starting USB bridge scan")

	scanCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	usbCtx := gousb.NewContext()
	defer func() {
		if err := usbCtx.Close(); err != nil {
			s.logger.Warn("Failed to close USB context", zap.Error(err))
		}
	}()
	if s.config.EnableDebug {
		usbCtx.Debug(3)
	}

	devices, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return s.bridges.Lookup(desc.Vendor, desc.Product) != nil
	})
	// OpenDevices reports per-device open failures but still returns the
	// devices it could open.
	if err != nil && len(devices) == 0 {
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}

	infos := make([]*discovery.DiscoveredLink, 0, len(devices))
	for _, device := range devices {
		if link := s.describe(device); link != nil {
			infos = append(infos, link)
		}
	}
	s.closeAllDevices(devices)

	links := infos
	if s.config.TestConnection {
		links = s.probeConcurrently(scanCtx, infos)
	}

	s.logger.Info("USB scan completed",
		zap.Int("bridges_found", len(links)),
		zap.Duration("scan_duration", time.Since(startTime)),
	)
	return links, nil
}

// describe builds a candidate link for one bridge.
func (s *Scanner) describe(device *gousb.Device) *discovery.DiscoveredLink {
	desc := device.Desc
	if desc == nil {
		return nil
	}
	bridge := s.bridges.Lookup(desc.Vendor, desc.Product)
	if bridge == nil {
		return nil
	}

	vendorID := fmt.Sprintf("0x%04X", uint16(desc.Vendor))
	productID := fmt.Sprintf("0x%04X", uint16(desc.Product))
	serial := s.readString(device.SerialNumber)

	link := &discovery.DiscoveredLink{
		Type: transport.LinkUSB,
		Link: transport.LinkConfig{
			Type: transport.LinkUSB,
			USB: transport.USBConfig{
				VendorID:     vendorID,
				ProductID:    productID,
				SerialNumber: serial,
				Interface:    bridge.Interface,
				InEndpoint:   bridge.InEndpoint,
				OutEndpoint:  bridge.OutEndpoint,
			},
		},
		Description:  s.createDescription(device, bridge),
		Bridge:       bridge.Chip,
		VendorID:     vendorID,
		ProductID:    productID,
		SerialNumber: serial,
		Location:     fmt.Sprintf("USB-Bus%d-Port%d", desc.Bus, desc.Address),
		Confidence:   bridge.Confidence,
	}

	s.logger.Debug("Found USB bridge",
		zap.String("chip", bridge.Chip),
		zap.String("vendor_id", vendorID),
		zap.String("product_id", productID),
		zap.String("location", link.Location),
	)
	return link
}

// probeConcurrently runs AT probes through a small worker pool.
func (s *Scanner) probeConcurrently(ctx context.Context, links []*discovery.DiscoveredLink) []*discovery.DiscoveredLink {
	if len(links) == 0 {
		return links
	}

	maxWorkers := s.config.MaxConcurrent
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	linkChan := make(chan *discovery.DiscoveredLink, len(links))
	resultChan := make(chan deviceResult, len(links))
	for i := 0; i < maxWorkers; i++ {
		go s.probeWorker(ctx, linkChan, resultChan)
	}
	for _, link := range links {
		linkChan <- link
	}
	close(linkChan)

	var probed []*discovery.DiscoveredLink
	for i := 0; i < len(links); i++ {
		select {
		case result := <-resultChan:
			if result.err != nil {
				s.logger.Warn("Bridge probe failed", zap.Error(result.err))
			}
			probed = append(probed, result.link)
		case <-ctx.Done():
			return probed
		}
	}
	return probed
}

func (s *Scanner) probeWorker(ctx context.Context, linkChan <-chan *discovery.DiscoveredLink, resultChan chan<- deviceResult) {
	for link := range linkChan {
		result, err := discovery.Probe(ctx, s.open, link.Link, s.config.ProbeTimeout, s.logger)
		if err == nil && result.Responds {
			link.Responds = true
			link.Firmware = result.Firmware
			link.Confidence = 1.0
		}
		resultChan <- deviceResult{link: link, err: err}
	}
}

func (s *Scanner) readString(get func() (string, error)) string {
	str, err := get()
	if err != nil {
		s.logger.Debug("Failed to read string descriptor", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(str)
}

func (s *Scanner) createDescription(device *gousb.Device, bridge *BridgeInfo) string {
	manufacturer := s.readString(device.Manufacturer)
	product := s.readString(device.Product)
	switch {
	case manufacturer != "" && product != "":
		return fmt.Sprintf("%s %s (%s)", manufacturer, product, bridge.Chip)
	case product != "":
		return fmt.Sprintf("%s (%s)", product, bridge.Chip)
	default:
		return bridge.Chip
	}
}

// closeAllDevices safely closes all opened USB devices
func (s *Scanner) closeAllDevices(devices []*gousb.Device) {
	for i, device := range devices {
		if device == nil {
			continue
		}
		if err := device.Close(); err != nil {
			s.logger.Warn("Failed to close USB device",
				zap.Int("device_index", i),
				zap.Error(err),
			)
		}
	}
}
