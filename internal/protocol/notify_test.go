package protocol

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		line     string
		wantKind NotificationKind
		wantSlot int
		wantOK   bool
	}{
		{"WIFI CONNECTED", NotifyAssociated, 0, true},
		{"WIFI GOT IP", NotifyAddressAcquired, 0, true},
		{"WIFI DISCONNECT", NotifyAssociationLost, 0, true},
		{"CONNECT", NotifySlotConnected, 0, true},
		{"3,CONNECT", NotifySlotConnected, 3, true},
		{"CLOSED", NotifySlotClosed, 0, true},
		{"0,CLOSED", NotifySlotClosed, 0, true},
		{"x,CLOSED", 0, 0, false},
		{",CLOSED", 0, 0, false},
		{"CONNECTED", 0, 0, false},
		{"OK", 0, 0, false},
		{"+CIPMUX:1", 0, 0, false},
	}
	for _, tt := range tests {
		n, ok := classify(tt.line)
		if ok != tt.wantOK {
			t.Errorf("classify(%q) ok = %v, want %v", tt.line, ok, tt.wantOK)
			continue
		}
		if ok && (n.Kind != tt.wantKind || n.Slot != tt.wantSlot || n.Line != tt.line) {
			t.Errorf("classify(%q) = %+v, want kind %s slot %d", tt.line, n, tt.wantKind, tt.wantSlot)
		}
	}
}

func TestMarkerPrefix(t *testing.T) {
	tests := []struct {
		in          string
		wantFull    bool
		wantPartial bool
	}{
		{"+IPD,0,4:abcd", true, false},
		{"+IPD,", true, false},
		{"+IP", false, true},
		{"+", false, true},
		{"+CIPMUX:1", false, false},
		{"OK", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		full, partial := markerPrefix([]byte(tt.in))
		if full != tt.wantFull || partial != tt.wantPartial {
			t.Errorf("markerPrefix(%q) = %v, %v; want %v, %v", tt.in, full, partial, tt.wantFull, tt.wantPartial)
		}
	}
}

func TestParseInboundHeader(t *testing.T) {
	tests := []struct {
		header     string
		wantSlot   int
		wantLength int
		wantRemote string
		wantErr    bool
	}{
		{"12", 0, 12, "", false},
		{"3,12", 3, 12, "", false},
		{`12,"10.0.0.2",8080`, 0, 12, "10.0.0.2:8080", false},
		{`4,0,"10.0.0.2",53`, 4, 0, "10.0.0.2:53", false},
		{"", 0, 0, "", true},
		{"a,12", 0, 0, "", true},
		{"-1", 0, 0, "", true},
		{`12,"10.0.0.2",70000`, 0, 0, "", true},
		{"1,2,3,4,5", 0, 0, "", true},
	}
	for _, tt := range tests {
		slot, length, remote, err := parseInboundHeader(tt.header)
		if tt.wantErr {
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("parseInboundHeader(%q) error = %v, want ErrMalformed", tt.header, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseInboundHeader(%q): %v", tt.header, err)
			continue
		}
		gotRemote := ""
		if remote != nil {
			gotRemote = remote.String()
		}
		if slot != tt.wantSlot || length != tt.wantLength || gotRemote != tt.wantRemote {
			t.Errorf("parseInboundHeader(%q) = %d, %d, %q", tt.header, slot, length, gotRemote)
		}
	}
}
