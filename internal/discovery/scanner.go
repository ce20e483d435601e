// internal/discovery/scanner.go
package discovery

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"modem-service/internal/transport"
)

// LinkScanner looks for co-processors on one kind of link.
type LinkScanner interface {
	Scan(ctx context.Context) ([]*DiscoveredLink, error)
	GetScannerType() string
	IsAvailable() bool
}

// DiscoveredLink is a candidate link to a co-processor. Responds is set only
// when a probe got an answer to AT.
type DiscoveredLink struct {
	Type         transport.LinkType   `json:"type"`
	Link         transport.LinkConfig `json:"link"`
	Description  string               `json:"description,omitempty"`
	Bridge       string               `json:"bridge,omitempty"`
	VendorID     string               `json:"vendor_id,omitempty"`
	ProductID    string               `json:"product_id,omitempty"`
	SerialNumber string               `json:"serial_number,omitempty"`
	Location     string               `json:"location,omitempty"`
	Responds     bool                 `json:"responds"`
	Firmware     []string             `json:"firmware,omitempty"`
	Confidence   float64              `json:"confidence"` // 0.0-1.0
}

// ScannerManager runs registered scanners.
type ScannerManager struct {
	scanners map[string]LinkScanner
	logger   *zap.Logger
}

// NewScannerManager creates a new scanner manager
func NewScannerManager(logger *zap.Logger) *ScannerManager {
	return &ScannerManager{
		scanners: make(map[string]LinkScanner),
		logger:   logger,
	}
}

// RegisterScanner registers a link scanner
func (sm *ScannerManager) RegisterScanner(scanner LinkScanner) {
	scannerType := scanner.GetScannerType()
	sm.scanners[scannerType] = scanner
	sm.logger.Info("Scanner registered", zap.String("type", scannerType))
}

// ScanAll runs every available scanner. A failing scanner is logged and
// skipped.
func (sm *ScannerManager) ScanAll(ctx context.Context) ([]*DiscoveredLink, error) {
	var all []*DiscoveredLink

	for _, scannerType := range sm.sortedTypes() {
		scanner := sm.scanners[scannerType]
		if !scanner.IsAvailable() {
			sm.logger.Debug("Scanner not available, skipping", zap.String("type", scannerType))
			continue
		}

		links, err := scanner.Scan(ctx)
		if err != nil {
			sm.logger.Error("Scanner failed", zap.String("type", scannerType), zap.Error(err))
			continue
		}

		all = append(all, links...)
		sm.logger.Info("Scanner completed",
			zap.String("type", scannerType),
			zap.Int("links_found", len(links)),
		)
	}

	SortByConfidence(all)
	return all, nil
}

// ScanByType runs one scanner.
func (sm *ScannerManager) ScanByType(ctx context.Context, scannerType string) ([]*DiscoveredLink, error) {
	scanner, exists := sm.scanners[scannerType]
	if !exists {
		return nil, fmt.Errorf("scanner type not found: %s", scannerType)
	}
	if !scanner.IsAvailable() {
		return nil, fmt.Errorf("scanner not available: %s", scannerType)
	}

	links, err := scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	SortByConfidence(links)
	return links, nil
}

// GetAvailableScanners returns list of available scanner types
func (sm *ScannerManager) GetAvailableScanners() []string {
	var available []string
	for _, scannerType := range sm.sortedTypes() {
		if sm.scanners[scannerType].IsAvailable() {
			available = append(available, scannerType)
		}
	}
	return available
}

func (sm *ScannerManager) sortedTypes() []string {
	types := make([]string, 0, len(sm.scanners))
	for t := range sm.scanners {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// SortByConfidence orders links best first, responders ahead of silent ones.
func SortByConfidence(links []*DiscoveredLink) {
	sort.SliceStable(links, func(i, j int) bool {
		if links[i].Responds != links[j].Responds {
			return links[i].Responds
		}
		return links[i].Confidence > links[j].Confidence
	})
}
