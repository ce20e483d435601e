package protocol

import (
	"errors"
	"testing"
	"time"
)

func TestSendWaitsForPromptAndConfirmation(t *testing.T) {
	e, peer := newTestEngine(t, testOptions(), func(line string) string {
		switch line {
		case "AT+CIPSEND=7":
			return "\r\nOK\r\n> "
		case "hello":
			return "\r\nRecv 7 bytes\r\n\r\nSEND OK\r\n"
		}
		return ""
	})

	if err := e.Send(0, []byte("hello\r\n")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := peer.lines()
	if len(got) != 2 || got[0] != "AT+CIPSEND=7" || got[1] != "hello" {
		t.Errorf("peer received %q", got)
	}
}

func TestSendFailure(t *testing.T) {
	e, _ := newTestEngine(t, testOptions(), func(line string) string {
		switch line {
		case "AT+CIPSEND=3":
			return "OK\r\n> "
		case "hi":
			return "SEND FAIL\r\n"
		}
		return ""
	})

	if err := e.Send(0, []byte("hi\n")); !errors.Is(err, ErrProtocol) {
		t.Errorf("Send() error = %v, want ErrProtocol", err)
	}
	if err := e.Send(0, nil); err != nil {
		t.Errorf("Send() with no data = %v", err)
	}
}

func TestSendFailureAfterSplitPrompt(t *testing.T) {
	e, peer := newTestEngine(t, testOptions(), func(line string) string {
		if line == "AT+CIPSEND=3" {
			return "OK\r\n>"
		}
		return ""
	})
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = peer.conn.Write([]byte(" SEND FAIL\r\n"))
	}()

	if err := e.Send(0, []byte("hi\n")); !errors.Is(err, ErrProtocol) {
		t.Errorf("Send() error = %v, want ErrProtocol", err)
	}
}

func TestDialAndCloseTrackSlots(t *testing.T) {
	e, peer := newTestEngine(t, testOptions(), replies(map[string]string{
		"AT+CIPMUX=1":                          "\r\nOK\r\n",
		`AT+CIPSTART=2,"TCP","example.com",80`: "2,CONNECT\r\n\r\nOK\r\n",
		`AT+CIPSTART=4,"UDP","10.0.0.9",5000`:  "4,CONNECT\r\n\r\nOK\r\n",
		"AT+CIPCLOSE=2":                        "2,CLOSED\r\n\r\nOK\r\n",
		"AT+CIPCLOSE=5":                        "4,CLOSED\r\n\r\nOK\r\n",
	}))

	if err := e.SetMultiplex(true); err != nil {
		t.Fatalf("SetMultiplex: %v", err)
	}
	if !e.Multiplexed() {
		t.Fatal("multiplex not recorded")
	}
	if err := e.Dial(2, "tcp", "example.com", 80); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := e.Dial(4, "udp", "10.0.0.9", 5000); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if !e.IsSlotConnected(2) || !e.IsSlotConnected(4) {
		t.Fatalf("slots = %v", e.Snapshot().Slots)
	}

	if err := e.Close(2); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if e.IsSlotConnected(2) {
		t.Error("slot 2 still connected")
	}
	if err := e.Close(MaxSlots); err != nil {
		t.Fatalf("Close all: %v", err)
	}
	for slot := 0; slot < MaxSlots; slot++ {
		if e.IsSlotConnected(slot) {
			t.Errorf("slot %d still connected", slot)
		}
	}

	if err := e.Dial(MaxSlots, "tcp", "example.com", 80); err == nil {
		t.Error("Dial accepted out of range slot")
	}
	if n := len(peer.lines()); n != 5 {
		t.Errorf("peer received %d commands, want 5", n)
	}
}

func TestDialWithoutMultiplexRequiresSlotZero(t *testing.T) {
	e, _ := newTestEngine(t, testOptions(), replies(map[string]string{
		`AT+CIPSTART="TCP","example.com",80`: "CONNECT\r\n\r\nOK\r\n",
	}))

	if err := e.Dial(1, "tcp", "example.com", 80); err == nil {
		t.Error("Dial accepted slot 1 without multiplexing")
	}
	if err := e.Dial(0, "tcp", "example.com", 80); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if !e.IsSlotConnected(0) {
		t.Error("slot 0 not connected")
	}
}

func TestResetWaitsForReady(t *testing.T) {
	opts := testOptions()
	e, _ := newTestEngine(t, opts, replies(map[string]string{
		"AT+CIPMUX=1": "OK\r\n",
		"AT+RST":      "OK\r\n\x00\xfe\x12garbled boot\r\nets Jan  8 2013,rst cause:2\r\nready\r\n",
	}))

	if err := e.SetMultiplex(true); err != nil {
		t.Fatalf("SetMultiplex: %v", err)
	}
	if err := e.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	s := e.Snapshot()
	if !s.Echo || s.Multiplex || s.Association != StateUnassociated {
		t.Errorf("snapshot after reset = %+v", s)
	}
}

func TestJoinFailureCarriesReason(t *testing.T) {
	e, _ := newTestEngine(t, testOptions(), replies(map[string]string{
		`AT+CWJAP="home","secret"`: "+CWJAP:1\r\n\r\nFAIL\r\n",
	}))

	err := e.Join("home", "secret")
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("Join() error = %v, want ErrProtocol", err)
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Detail != "+CWJAP:1" {
		t.Errorf("error detail = %+v", cmdErr)
	}
	if e.IsAssociated() {
		t.Error("association recorded after failed join")
	}
}

func TestJoinAndLeave(t *testing.T) {
	e, _ := newTestEngine(t, testOptions(), replies(map[string]string{
		`AT+CWJAP="home","secret"`: "WIFI CONNECTED\r\n\r\nOK\r\n",
		"AT+CWQAP":                 "\r\nOK\r\nWIFI DISCONNECT\r\n",
	}))

	if err := e.Join("home", "secret"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if e.AssociationState() != StateAssociated {
		t.Fatalf("state = %s, want %s", e.AssociationState(), StateAssociated)
	}
	if err := e.Leave(); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if e.IsAssociated() {
		t.Error("still associated after leave")
	}
}

func TestAddresses(t *testing.T) {
	e, _ := newTestEngine(t, testOptions(), replies(map[string]string{
		"AT+CIFSR": "+CIFSR:STAIP,\"192.168.1.20\"\r\n+CIFSR:STAMAC,\"aa:bb:cc:dd:ee:ff\"\r\n\r\nOK\r\n",
	}))

	got, err := e.Addresses()
	if err != nil {
		t.Fatalf("Addresses: %v", err)
	}
	if got["STAIP"] != "192.168.1.20" || got["STAMAC"] != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("Addresses = %v", got)
	}
	if !e.IsAddressAcquired() {
		t.Error("address not recorded")
	}
}

func TestVersionReturnsLines(t *testing.T) {
	e, _ := newTestEngine(t, testOptions(), replies(map[string]string{
		"AT+GMR": "AT version:1.7.4.0\r\nSDK version:3.0.4\r\n\r\nOK\r\n",
	}))

	lines, err := e.Version()
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if len(lines) != 2 || lines[0] != "AT version:1.7.4.0" {
		t.Errorf("Version = %q", lines)
	}
}
