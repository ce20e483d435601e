package protocol

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"modem-service/internal/transport"
)

// scriptedPeer plays the co-processor on the far side of a pipe. Every line
// it reads is recorded and answered with whatever respond returns.
type scriptedPeer struct {
	conn    net.Conn
	respond func(line string) string

	mu       sync.Mutex
	received []string
}

func (p *scriptedPeer) run() {
	r := bufio.NewReader(p.conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		p.mu.Lock()
		p.received = append(p.received, line)
		p.mu.Unlock()
		if p.respond == nil {
			continue
		}
		if reply := p.respond(line); reply != "" {
			if _, err := p.conn.Write([]byte(reply)); err != nil {
				return
			}
		}
	}
}

// push sends unsolicited bytes.
func (p *scriptedPeer) push(t *testing.T, s string) {
	t.Helper()
	if _, err := p.conn.Write([]byte(s)); err != nil {
		t.Fatalf("peer write: %v", err)
	}
}

func (p *scriptedPeer) lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.received...)
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Echo = false
	opts.Timeouts = Timeouts{
		Basic:       500 * time.Millisecond,
		Network:     500 * time.Millisecond,
		Inbound:     500 * time.Millisecond,
		Association: 500 * time.Millisecond,
		Transmit:    500 * time.Millisecond,
	}
	opts.PollSlice = 5 * time.Millisecond
	return opts
}

// newTestEngine wires an engine to a scripted peer through a real channel.
func newTestEngine(t *testing.T, opts Options, respond func(line string) string) (*Engine, *scriptedPeer) {
	t.Helper()

	local, remote := net.Pipe()
	hw := transport.NewStreamHardware("pipe", local, nil, zap.NewNop())
	ch, err := transport.NewChannel(hw, transport.Options{RxSize: 1024, TxSize: 256})
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	if err := hw.Start(ch); err != nil {
		t.Fatalf("Start: %v", err)
	}

	peer := &scriptedPeer{conn: remote, respond: respond}
	go peer.run()

	t.Cleanup(func() {
		remote.Close()
		hw.Close()
	})
	return New(ch, opts), peer
}

// replies answers each command from a fixed table and stays silent for
// anything else.
func replies(table map[string]string) func(string) string {
	return func(line string) string {
		return table[line]
	}
}

// eventually polls the engine until cond holds or a second passes.
func eventually(t *testing.T, e *Engine, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := e.PollNotifications(); err != nil {
			t.Fatalf("PollNotifications: %v", err)
		}
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}
