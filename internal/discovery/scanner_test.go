package discovery

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type stubScanner struct {
	kind      string
	available bool
	links     []*DiscoveredLink
	err       error
}

func (s *stubScanner) Scan(context.Context) ([]*DiscoveredLink, error) { return s.links, s.err }
func (s *stubScanner) GetScannerType() string                          { return s.kind }
func (s *stubScanner) IsAvailable() bool                               { return s.available }

func TestScanAll(t *testing.T) {
	sm := NewScannerManager(zap.NewNop())
	sm.RegisterScanner(&stubScanner{kind: "serial", available: true, links: []*DiscoveredLink{
		{Location: "/dev/ttyUSB1", Confidence: 0.75},
		{Location: "/dev/ttyUSB0", Confidence: 0.8, Responds: true},
	}})
	sm.RegisterScanner(&stubScanner{kind: "usb", available: true, links: []*DiscoveredLink{
		{Location: "USB-Bus1-Port4", Confidence: 0.8},
	}})
	sm.RegisterScanner(&stubScanner{kind: "tcp", available: true, err: errors.New("boom")})
	sm.RegisterScanner(&stubScanner{kind: "ble", available: false})

	links, err := sm.ScanAll(context.Background())
	if err != nil {
		t.Fatalf("ScanAll: %v", err)
	}
	want := []string{"/dev/ttyUSB0", "USB-Bus1-Port4", "/dev/ttyUSB1"}
	if len(links) != len(want) {
		t.Fatalf("got %d links, want %d", len(links), len(want))
	}
	for i, loc := range want {
		if links[i].Location != loc {
			t.Errorf("links[%d] = %s, want %s", i, links[i].Location, loc)
		}
	}

	available := sm.GetAvailableScanners()
	if len(available) != 3 || available[0] != "serial" || available[2] != "usb" {
		t.Errorf("available = %v", available)
	}
}

func TestScanByType(t *testing.T) {
	sm := NewScannerManager(zap.NewNop())
	sm.RegisterScanner(&stubScanner{kind: "ble", available: false})

	if _, err := sm.ScanByType(context.Background(), "serial"); err == nil {
		t.Error("unknown scanner type accepted")
	}
	if _, err := sm.ScanByType(context.Background(), "ble"); err == nil {
		t.Error("unavailable scanner ran")
	}
}
