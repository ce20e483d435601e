// internal/protocol/notify.go
package protocol

import (
	"strconv"
	"strings"
	"time"
)

// NotificationKind identifies an unsolicited message from the peer.
type NotificationKind int

const (
	NotifyAssociated NotificationKind = iota + 1
	NotifyAddressAcquired
	NotifyAssociationLost
	NotifySlotConnected
	NotifySlotClosed
	NotifyInbound
	NotifyInboundDropped
)

var notificationNames = map[NotificationKind]string{
	NotifyAssociated:      "associated",
	NotifyAddressAcquired: "address_acquired",
	NotifyAssociationLost: "association_lost",
	NotifySlotConnected:   "slot_connected",
	NotifySlotClosed:      "slot_closed",
	NotifyInbound:         "inbound",
	NotifyInboundDropped:  "inbound_dropped",
}

func (k NotificationKind) String() string {
	if name, ok := notificationNames[k]; ok {
		return name
	}
	return "unknown"
}

// Endpoint is a remote address reported with inbound data.
type Endpoint struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

func (ep Endpoint) String() string {
	return ep.Address + ":" + strconv.Itoa(ep.Port)
}

// Notification is one unsolicited message after it has been applied to the
// session.
type Notification struct {
	Kind   NotificationKind
	Slot   int
	Length int
	Remote *Endpoint
	Line   string
	At     time.Time
}

// EventHandler observes notifications. It runs on the goroutine driving the
// engine, with the engine locked, and must not call back into it.
type EventHandler func(Notification)

// inboundMarker starts an inbound-data announcement.
const inboundMarker = "+IPD,"

type marker struct {
	kind  NotificationKind
	match func(line string) (slot int, ok bool)
}

// markers is checked in order; the first match wins.
var markers = []marker{
	{NotifyAssociated, literal("WIFI CONNECTED")},
	{NotifyAddressAcquired, literal("WIFI GOT IP")},
	{NotifyAssociationLost, literal("WIFI DISCONNECT")},
	{NotifySlotConnected, slotted("CONNECT")},
	{NotifySlotClosed, slotted("CLOSED")},
}

func literal(text string) func(string) (int, bool) {
	return func(line string) (int, bool) {
		return 0, line == text
	}
}

// slotted matches "<n>,WORD", or a bare "WORD" meaning slot 0 when links
// are not multiplexed.
func slotted(word string) func(string) (int, bool) {
	return func(line string) (int, bool) {
		if line == word {
			return 0, true
		}
		id, rest, ok := strings.Cut(line, ",")
		if !ok || rest != word || id == "" {
			return 0, false
		}
		slot, err := strconv.Atoi(id)
		if err != nil || slot < 0 {
			return 0, false
		}
		return slot, true
	}
}

// classify matches a complete line against the notification table.
func classify(line string) (Notification, bool) {
	for _, m := range markers {
		if slot, ok := m.match(line); ok {
			return Notification{Kind: m.kind, Slot: slot, Line: line}, true
		}
	}
	return Notification{}, false
}

// markerPrefix reports whether buffered bytes start an inbound announcement
// (full) or could still turn into one once more bytes arrive (partial).
func markerPrefix(buffered []byte) (full, partial bool) {
	if len(buffered) >= len(inboundMarker) {
		return string(buffered[:len(inboundMarker)]) == inboundMarker, false
	}
	return false, len(buffered) > 0 && strings.HasPrefix(inboundMarker, string(buffered))
}

// parseInboundHeader parses the text between the marker and the colon:
// [slot,]length[,"address",port].
func parseInboundHeader(header string) (slot, length int, remote *Endpoint, err error) {
	fields, err := ParseParams(header)
	if err != nil {
		return 0, 0, nil, err
	}

	var slotField string
	switch len(fields) {
	case 1, 3:
	case 2, 4:
		slotField, fields = fields[0], fields[1:]
	default:
		return 0, 0, nil, newError(inboundMarker, ErrMalformed, "unexpected header %q", header)
	}

	if slotField != "" {
		if slot, err = strconv.Atoi(slotField); err != nil || slot < 0 {
			return 0, 0, nil, newError(inboundMarker, ErrMalformed, "bad slot in %q", header)
		}
	}
	if length, err = strconv.Atoi(fields[0]); err != nil || length < 0 {
		return 0, 0, nil, newError(inboundMarker, ErrMalformed, "bad length in %q", header)
	}
	if len(fields) == 3 {
		port, err := strconv.Atoi(fields[2])
		if err != nil || port < 0 || port > 65535 {
			return 0, 0, nil, newError(inboundMarker, ErrMalformed, "bad port in %q", header)
		}
		remote = &Endpoint{Address: fields[1], Port: port}
	}
	return slot, length, remote, nil
}
