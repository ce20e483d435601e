// internal/protocol/timeouts.go
package protocol

import (
	"fmt"
	"time"
)

// TimeoutClass groups commands by how long the peer may legitimately take.
type TimeoutClass int

const (
	// TimeoutBasic covers local parameter commands.
	TimeoutBasic TimeoutClass = iota
	// TimeoutNetwork covers commands that touch the network stack
	// (addresses, opening and closing links, sending).
	TimeoutNetwork
	// TimeoutInbound is the default wait for an inbound payload.
	TimeoutInbound
	// TimeoutAssociation covers joining a network, which includes the
	// peer's own retry loop.
	TimeoutAssociation
	// TimeoutTransmit bounds queueing a command line for transmission.
	TimeoutTransmit
)

var timeoutClassNames = map[TimeoutClass]string{
	TimeoutBasic:       "basic",
	TimeoutNetwork:     "network",
	TimeoutInbound:     "inbound",
	TimeoutAssociation: "association",
	TimeoutTransmit:    "transmit",
}

func (c TimeoutClass) String() string {
	if name, ok := timeoutClassNames[c]; ok {
		return name
	}
	return fmt.Sprintf("timeout(%d)", int(c))
}

// ParseTimeoutClass maps a class name back to its TimeoutClass.
func ParseTimeoutClass(name string) (TimeoutClass, error) {
	for class, n := range timeoutClassNames {
		if n == name {
			return class, nil
		}
	}
	return 0, fmt.Errorf("unknown timeout class: %s", name)
}

// Timeouts holds one duration per class.
type Timeouts struct {
	Basic       time.Duration `json:"basic"`
	Network     time.Duration `json:"network"`
	Inbound     time.Duration `json:"inbound"`
	Association time.Duration `json:"association"`
	Transmit    time.Duration `json:"transmit"`
}

// DefaultTimeouts returns values that work for an ESP8266/ESP32 running the
// stock AT firmware.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Basic:       2 * time.Second,
		Network:     10 * time.Second,
		Inbound:     5 * time.Second,
		Association: 20 * time.Second,
		Transmit:    time.Second,
	}
}

func (t *Timeouts) field(class TimeoutClass) *time.Duration {
	switch class {
	case TimeoutBasic:
		return &t.Basic
	case TimeoutNetwork:
		return &t.Network
	case TimeoutInbound:
		return &t.Inbound
	case TimeoutAssociation:
		return &t.Association
	case TimeoutTransmit:
		return &t.Transmit
	default:
		return nil
	}
}

// Get returns the duration configured for class.
func (t Timeouts) Get(class TimeoutClass) time.Duration {
	if f := t.field(class); f != nil {
		return *f
	}
	return 0
}

// withDefaults fills zero fields from DefaultTimeouts.
func (t Timeouts) withDefaults() Timeouts {
	def := DefaultTimeouts()
	for class := range timeoutClassNames {
		if f := t.field(class); *f <= 0 {
			*f = def.Get(class)
		}
	}
	return t
}
