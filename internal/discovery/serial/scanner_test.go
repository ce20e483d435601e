package serial

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"modem-service/internal/transport"
)

// answer plays a co-processor that answers AT and AT+GMR.
func answer(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		reply := "\r\nOK\r\n"
		if strings.TrimSpace(line) == "AT+GMR" {
			reply = "AT version:2.2.0.0\r\n\r\nOK\r\n"
		}
		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}

func newTestScanner(ports []*enumerator.PortDetails, live map[string]bool) *Scanner {
	s := NewScanner(zap.NewNop(), &Config{
		ScanTimeout:  5 * time.Second,
		ProbeTimeout: 50 * time.Millisecond,
		BaudRates:    []int{115200, 9600},
		PortPatterns: []string{"/dev/ttyUSB*", "/dev/ttyS*"},
		Exclude:      []string{"/dev/ttyUSB9"},
	})
	s.enumerate = func() ([]*enumerator.PortDetails, error) { return ports, nil }
	s.open = func(ctx context.Context, cfg transport.LinkConfig, logger *zap.Logger) (*transport.StreamHardware, error) {
		local, remote := net.Pipe()
		if live[cfg.Serial.Port] {
			go answer(remote)
		} else {
			go io.Copy(io.Discard, remote)
		}
		return transport.NewStreamHardware(cfg.Serial.Port, local, nil, logger), nil
	}
	return s
}

func TestScanReportsRespondersAndKnownBridges(t *testing.T) {
	ports := []*enumerator.PortDetails{
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "10C4", PID: "EA60", Product: "CP2102 USB to UART"},
		{Name: "/dev/ttyUSB1", IsUSB: true, VID: "1A86", PID: "7523"},
		{Name: "/dev/ttyS0"},
		{Name: "/dev/random"},
	}
	s := newTestScanner(ports, map[string]bool{"/dev/ttyUSB0": true})

	links, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("found %d links, want 2: %+v", len(links), links)
	}

	live := links[0]
	if live.Location != "/dev/ttyUSB0" || !live.Responds || live.Bridge != "CP210x" {
		t.Errorf("responder = %+v", live)
	}
	if live.Link.Serial.BaudRate != 115200 || len(live.Firmware) != 1 {
		t.Errorf("responder link = %+v firmware = %q", live.Link.Serial, live.Firmware)
	}

	silent := links[1]
	if silent.Location != "/dev/ttyUSB1" || silent.Responds || silent.Bridge != "CH340" {
		t.Errorf("silent bridge = %+v", silent)
	}
}

func TestScanNoPorts(t *testing.T) {
	s := newTestScanner(nil, nil)
	links, err := s.Scan(context.Background())
	if err != nil || len(links) != 0 {
		t.Fatalf("Scan() = %v, %v", links, err)
	}
}

func TestMatches(t *testing.T) {
	s := newTestScanner(nil, nil)
	tests := map[string]bool{
		"/dev/ttyUSB3": true,
		"/dev/ttyUSB9": false,
		"/dev/ttyS1":   true,
		"/dev/tty0":    false,
		"COM3":         false,
	}
	for name, want := range tests {
		if got := s.matches(name); got != want {
			t.Errorf("matches(%q) = %v, want %v", name, got, want)
		}
	}
}
