// internal/transport/stats.go
package transport

import "go.uber.org/atomic"

// Stats is a point-in-time copy of a channel's counters.
type Stats struct {
	BytesReceived    uint64 `json:"bytes_received"`
	BytesSent        uint64 `json:"bytes_sent"`
	Overruns         uint64 `json:"overruns"`
	TransmitErrors   uint64 `json:"transmit_errors"`
	FlowDeasserts    uint64 `json:"flow_deasserts"`
	Timeouts         uint64 `json:"timeouts"`
	RxBuffered       int    `json:"rx_buffered"`
	TxBuffered       int    `json:"tx_buffered"`
	ReceiveThrottled bool   `json:"receive_throttled"`
}

type counters struct {
	received      atomic.Uint64
	sent          atomic.Uint64
	overruns      atomic.Uint64
	txErrors      atomic.Uint64
	flowDeasserts atomic.Uint64
	timeouts      atomic.Uint64
}
