package tcp

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"
)

// listen starts a bridge that answers every line with OK.
func listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				r := bufio.NewReader(conn)
				for {
					if _, err := r.ReadString('\n'); err != nil {
						return
					}
					if _, err := conn.Write([]byte("\r\nOK\r\n")); err != nil {
						return
					}
				}
			}()
		}
	}()
	return ln.Addr().String()
}

// closedPort returns an address nothing listens on.
func closedPort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestScanProbesTargets(t *testing.T) {
	live := listen(t)
	s := NewScanner(zap.NewNop(), &Config{
		Targets:      []string{live, closedPort(t), "no-port"},
		ConnTimeout:  time.Second,
		ProbeTimeout: 200 * time.Millisecond,
	})
	if !s.IsAvailable() {
		t.Fatal("scanner with targets not available")
	}

	links, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("found %d links, want 1", len(links))
	}
	if links[0].Location != live || !links[0].Responds {
		t.Errorf("link = %+v", links[0])
	}
	_, port, _ := net.SplitHostPort(live)
	if strconv.Itoa(links[0].Link.TCP.Port) != port {
		t.Errorf("port = %d, want %s", links[0].Link.TCP.Port, port)
	}
}

func TestScannerWithoutTargetsUnavailable(t *testing.T) {
	if NewScanner(zap.NewNop(), nil).IsAvailable() {
		t.Error("scanner without targets reports available")
	}
}
