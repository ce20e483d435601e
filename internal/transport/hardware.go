// internal/transport/hardware.go
package transport

import "fmt"

// FlowControl selects how the receive side throttles the peer.
type FlowControl int

const (
	// FlowNone never throttles.
	FlowNone FlowControl = iota
	// FlowSignal deasserts a control line (RTS) near the low-water mark and
	// reasserts it once the consumer has made room.
	FlowSignal
	// FlowHardware leaves throttling to the UART.
	FlowHardware
)

func (f FlowControl) String() string {
	switch f {
	case FlowNone:
		return "none"
	case FlowSignal:
		return "signal"
	case FlowHardware:
		return "hardware"
	default:
		return fmt.Sprintf("flow(%d)", int(f))
	}
}

// ParseFlowControl maps a configuration string to a FlowControl.
func ParseFlowControl(s string) (FlowControl, error) {
	switch s {
	case "", "none":
		return FlowNone, nil
	case "signal", "rts":
		return FlowSignal, nil
	case "hardware", "auto":
		return FlowHardware, nil
	default:
		return FlowNone, fmt.Errorf("unknown flow control mode: %s", s)
	}
}

// Hardware is the register-level side of a link.
//
// StartTransmit is only called while the transmitter is idle and must report
// completion by calling Interrupts.TransmitDone exactly once. SetFlowSignal
// drives the receive-side control line.
type Hardware interface {
	StartTransmit(b byte) error
	SetFlowSignal(assert bool) error
}

// Interrupts is what hardware signals into. Channel implements it.
type Interrupts interface {
	ReceiveByte(b byte)
	TransmitDone()
}
