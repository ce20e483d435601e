// internal/transport/errors.go
package transport

import "errors"

var (
	// ErrTimeout is returned with a partial result when a blocking call's
	// timer fires before the call could complete.
	ErrTimeout = errors.New("transport: timeout")

	// ErrLineOverflow is returned by ReadLine when the destination filled up
	// before a line terminator arrived. The rest of the line stays buffered.
	ErrLineOverflow = errors.New("transport: line exceeds buffer")

	// ErrClosed is returned by hardware whose underlying link has gone away.
	ErrClosed = errors.New("transport: link closed")

	// ErrTransmitterBusy is returned by StartTransmit when a byte is already
	// in flight.
	ErrTransmitterBusy = errors.New("transport: transmitter busy")
)
