// internal/service/discovery_service.go
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"modem-service/internal/config"
	"modem-service/internal/discovery"
	"modem-service/internal/discovery/serial"
	"modem-service/internal/discovery/tcp"
	"modem-service/internal/discovery/usb"
	"modem-service/internal/utils"
)

// ErrScanInProgress is returned when a scan is requested while one runs.
var ErrScanInProgress = fmt.Errorf("a scan is already running")

// ScanResult is the outcome of one discovery run
type ScanResult struct {
	ScanType  string                      `json:"scan_type"`
	Links     []*discovery.DiscoveredLink `json:"links"`
	StartedAt time.Time                   `json:"started_at"`
	Duration  int64                       `json:"duration_ms"`
}

// DiscoveryService finds candidate modem links
type DiscoveryService struct {
	scannerManager *discovery.ScannerManager
	config         *config.Config
	logger         *utils.ServiceLogger

	scanning atomic.Bool
	mu       sync.RWMutex
	last     *ScanResult
}

// NewDiscoveryService creates a new discovery service
func NewDiscoveryService(cfg *config.Config, logger *zap.Logger) *DiscoveryService {
	ds := &DiscoveryService{
		scannerManager: discovery.NewScannerManager(logger),
		config:         cfg,
		logger:         utils.NewServiceLogger(logger, "discovery-service"),
	}
	ds.initializeScanners()
	return ds
}

// initializeScanners registers the scanners enabled in configuration
func (ds *DiscoveryService) initializeScanners() {
	dc := ds.config.Discovery
	base := ds.logger.Logger

	if dc.Serial {
		var exclude []string
		if ds.config.Modem.Link.Type == "serial" {
			exclude = append(exclude, ds.config.Modem.Link.Serial.Port)
		}
		patterns := dc.PortPatterns
		if len(patterns) == 0 {
			patterns = serial.DefaultPortPatterns()
		}
		ds.scannerManager.RegisterScanner(serial.NewScanner(base, &serial.Config{
			ScanTimeout:  dc.ScanTimeout,
			ProbeTimeout: dc.ProbeTimeout,
			BaudRates:    dc.BaudRates,
			PortPatterns: patterns,
			Exclude:      exclude,
		}))
	}

	if dc.USB {
		ds.scannerManager.RegisterScanner(usb.NewScanner(base, &usb.Config{
			ScanTimeout:    dc.ScanTimeout,
			TestConnection: dc.ProbeUSB,
			ProbeTimeout:   dc.ProbeTimeout,
			MaxConcurrent:  4,
		}))
	}

	if len(dc.TCPTargets) > 0 {
		ds.scannerManager.RegisterScanner(tcp.NewScanner(base, &tcp.Config{
			Targets:      dc.TCPTargets,
			ConnTimeout:  ds.config.Modem.Link.TCP.ConnectTimeout,
			ProbeTimeout: dc.ProbeTimeout,
		}))
	}

	ds.logger.Info("Discovery scanners initialized",
		zap.Strings("available_scanners", ds.scannerManager.GetAvailableScanners()),
	)
}

// Scan runs the scanners for scanType ("all", "serial", "usb" or "tcp").
// Only one scan runs at a time.
func (ds *DiscoveryService) Scan(ctx context.Context, scanType string) (*ScanResult, error) {
	if !ds.scanning.CompareAndSwap(false, true) {
		return nil, ErrScanInProgress
	}
	defer ds.scanning.Store(false)

	ds.logger.Info("Starting link scan", zap.String("type", scanType))
	started := time.Now()

	var links []*discovery.DiscoveredLink
	var err error
	switch scanType {
	case "", "all":
		scanType = "all"
		links, err = ds.scannerManager.ScanAll(ctx)
	case "serial", "usb", "tcp":
		links, err = ds.scannerManager.ScanByType(ctx, scanType)
	default:
		return nil, fmt.Errorf("unsupported scan type: %s", scanType)
	}
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	if links == nil {
		links = []*discovery.DiscoveredLink{}
	}

	result := &ScanResult{
		ScanType:  scanType,
		Links:     links,
		StartedAt: started,
		Duration:  time.Since(started).Milliseconds(),
	}
	ds.mu.Lock()
	ds.last = result
	ds.mu.Unlock()

	ds.logger.Info("Link scan completed",
		zap.String("scan_type", scanType),
		zap.Int("links_found", len(links)),
		zap.Int64("duration_ms", result.Duration),
	)
	return result, nil
}

// LastScan returns the most recent scan result, or nil.
func (ds *DiscoveryService) LastScan() *ScanResult {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.last
}

// Scanners returns the available scanner types.
func (ds *DiscoveryService) Scanners() []string {
	return ds.scannerManager.GetAvailableScanners()
}

// IsScanning reports whether a scan is running.
func (ds *DiscoveryService) IsScanning() bool {
	return ds.scanning.Load()
}
