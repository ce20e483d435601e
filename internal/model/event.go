// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"

	"modem-service/internal/protocol"
)

// EventType represents the type of event
type EventType string

const (
	EventAssociated      EventType = "ASSOCIATED"
	EventAddressAcquired EventType = "ADDRESS_ACQUIRED"
	EventAssociationLost EventType = "ASSOCIATION_LOST"
	EventSlotConnected   EventType = "SLOT_CONNECTED"
	EventSlotClosed      EventType = "SLOT_CLOSED"
	EventInbound         EventType = "INBOUND"
	EventInboundDropped  EventType = "INBOUND_DROPPED"
	EventLinkUp          EventType = "LINK_UP"
	EventLinkDown        EventType = "LINK_DOWN"
)

var notificationEvents = map[protocol.NotificationKind]EventType{
	protocol.NotifyAssociated:      EventAssociated,
	protocol.NotifyAddressAcquired: EventAddressAcquired,
	protocol.NotifyAssociationLost: EventAssociationLost,
	protocol.NotifySlotConnected:   EventSlotConnected,
	protocol.NotifySlotClosed:      EventSlotClosed,
	protocol.NotifyInbound:         EventInbound,
	protocol.NotifyInboundDropped:  EventInboundDropped,
}

// ModemEvent is a notification or link change published to subscribers
type ModemEvent struct {
	ID        uuid.UUID          `json:"id"`
	EventType EventType          `json:"event_type"`
	Source    string             `json:"source"`
	Slot      *int               `json:"slot,omitempty"`
	Length    int                `json:"length,omitempty"`
	Remote    *protocol.Endpoint `json:"remote,omitempty"`
	Line      string             `json:"line,omitempty"`
	Message   string             `json:"message,omitempty"`
	Severity  string             `json:"severity"` // INFO, WARNING, ERROR
	Timestamp time.Time          `json:"timestamp"`
}

// EventFromNotification converts an engine notification
func EventFromNotification(source string, n protocol.Notification) ModemEvent {
	ev := ModemEvent{
		ID:        uuid.New(),
		EventType: notificationEvents[n.Kind],
		Source:    source,
		Length:    n.Length,
		Remote:    n.Remote,
		Line:      n.Line,
		Severity:  "INFO",
		Timestamp: n.At,
	}
	switch n.Kind {
	case protocol.NotifySlotConnected, protocol.NotifySlotClosed, protocol.NotifyInbound, protocol.NotifyInboundDropped:
		slot := n.Slot
		ev.Slot = &slot
	}
	switch n.Kind {
	case protocol.NotifyAssociationLost, protocol.NotifyInboundDropped:
		ev.Severity = "WARNING"
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return ev
}

// LinkEvent reports the link opening or failing
func LinkEvent(source string, up bool, err error) ModemEvent {
	ev := ModemEvent{
		ID:        uuid.New(),
		EventType: EventLinkUp,
		Source:    source,
		Severity:  "INFO",
		Timestamp: time.Now(),
	}
	if !up {
		ev.EventType = EventLinkDown
		ev.Severity = "ERROR"
	}
	if err != nil {
		ev.Message = err.Error()
	}
	return ev
}
