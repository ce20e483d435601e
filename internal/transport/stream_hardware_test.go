package transport

import (
	"bufio"
	"errors"
	"net"
	"testing"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

func TestStreamHardwareCarriesBothDirections(t *testing.T) {
	local, peer := net.Pipe()
	defer peer.Close()

	hw := NewStreamHardware("pipe", local, nil, zap.NewNop())
	ch, err := NewChannel(hw, Options{})
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	if err := hw.Start(ch); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer hw.Close()

	lines := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(peer).ReadString('\n')
		lines <- line
		peer.Write([]byte("OK\r\n"))
	}()

	if _, err := ch.Write([]byte("AT\r\n"), time.Second); err != nil {
		t.Fatalf("Write: %v", err)
	}
	select {
	case got := <-lines:
		if got != "AT\r\n" {
			t.Errorf("peer read %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("peer never saw the command")
	}

	buf := make([]byte, 16)
	n, err := ch.ReadLine(buf, time.Second)
	if err != nil || string(buf[:n]) != "OK" {
		t.Errorf("ReadLine = %q, %v", buf[:n], err)
	}
	if hw.LastActivity().IsZero() {
		t.Error("LastActivity not recorded")
	}
}

func TestStreamHardwareStartTwice(t *testing.T) {
	local, peer := net.Pipe()
	defer peer.Close()

	hw := NewStreamHardware("pipe", local, nil, nil)
	ch, _ := NewChannel(hw, Options{})
	if err := hw.Start(ch); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := hw.Start(ch); err == nil {
		t.Error("second Start succeeded")
	}
	if err := hw.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := hw.StartTransmit('x'); !errors.Is(err, ErrClosed) {
		t.Errorf("StartTransmit after Close = %v", err)
	}
}

func TestStreamHardwareRecordsPeerHangup(t *testing.T) {
	local, peer := net.Pipe()

	hw := NewStreamHardware("pipe", local, nil, nil)
	ch, _ := NewChannel(hw, Options{})
	hw.Start(ch)
	defer hw.Close()

	peer.Close()
	deadline := time.Now().Add(time.Second)
	for hw.Err() == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if hw.Err() == nil {
		t.Error("hangup not recorded")
	}
}

type fakePort struct {
	serial.Port
	rts     []bool
	timeout time.Duration
	closed  bool
}

func (p *fakePort) SetRTS(rts bool) error {
	p.rts = append(p.rts, rts)
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.timeout = t
	return nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.closed {
		return 0, errors.New("port closed")
	}
	time.Sleep(time.Millisecond)
	return 0, nil
}

func (p *fakePort) Write(b []byte) (int, error) { return len(b), nil }

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func TestOpenSerialMapsFlowSignalToRTS(t *testing.T) {
	port := &fakePort{}
	var gotName string
	var gotMode *serial.Mode
	orig := openPort
	openPort = func(name string, mode *serial.Mode) (serial.Port, error) {
		gotName, gotMode = name, mode
		return port, nil
	}
	defer func() { openPort = orig }()

	hw, err := OpenSerial(SerialConfig{Port: "/dev/ttyUSB0", BaudRate: 115200, Parity: "even", StopBits: 2}, zap.NewNop())
	if err != nil {
		t.Fatalf("OpenSerial: %v", err)
	}
	if gotName != "/dev/ttyUSB0" || gotMode.BaudRate != 115200 || gotMode.DataBits != 8 {
		t.Errorf("opened %s with %+v", gotName, gotMode)
	}
	if gotMode.Parity != serial.EvenParity || gotMode.StopBits != serial.TwoStopBits {
		t.Errorf("line settings = %+v", gotMode)
	}
	if port.timeout != 100*time.Millisecond {
		t.Errorf("read timeout = %v", port.timeout)
	}

	if _, err := NewChannel(hw, Options{Flow: FlowSignal}); err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	if len(port.rts) != 1 || !port.rts[0] {
		t.Errorf("RTS = %v, want asserted once", port.rts)
	}
}

func TestSerialMode(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SerialConfig
		wantErr bool
	}{
		{"defaults", SerialConfig{BaudRate: 115200}, false},
		{"odd parity", SerialConfig{BaudRate: 9600, Parity: "odd", StopBits: 1}, false},
		{"bad parity", SerialConfig{BaudRate: 9600, Parity: "mark"}, true},
		{"bad stop bits", SerialConfig{BaudRate: 9600, StopBits: 3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := serialMode(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("serialMode() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLinkConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LinkConfig
		wantErr bool
	}{
		{"serial", LinkConfig{Type: LinkSerial, Serial: SerialConfig{Port: "COM3", BaudRate: 115200}}, false},
		{"serial without port", LinkConfig{Type: LinkSerial, Serial: SerialConfig{BaudRate: 115200}}, true},
		{"serial odd baud", LinkConfig{Type: LinkSerial, Serial: SerialConfig{Port: "COM3", BaudRate: 1234}}, true},
		{"tcp", LinkConfig{Type: LinkTCP, TCP: TCPConfig{Host: "localhost", Port: 3333}}, false},
		{"tcp bad port", LinkConfig{Type: LinkTCP, TCP: TCPConfig{Host: "localhost", Port: 70000}}, true},
		{"usb", LinkConfig{Type: LinkUSB, USB: USBConfig{VendorID: "10c4", ProductID: "ea60"}}, false},
		{"usb missing product", LinkConfig{Type: LinkUSB, USB: USBConfig{VendorID: "10c4"}}, true},
		{"unknown", LinkConfig{Type: "bluetooth"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseUSBID(t *testing.T) {
	tests := []struct {
		in      string
		want    uint16
		wantErr bool
	}{
		{"10c4", 0x10c4, false},
		{"0x1A86", 0x1a86, false},
		{"ea60", 0xea60, false},
		{"xyz", 0, true},
		{"12345", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseUSBID(tt.in)
		if (err != nil) != tt.wantErr || uint16(got) != tt.want {
			t.Errorf("ParseUSBID(%q) = %v, %v", tt.in, got, err)
		}
	}
}
