// internal/transport/stream_hardware.go
package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// StreamHardware turns a byte stream (serial port, TCP socket, USB bulk
// endpoints) into interrupt-style Hardware. A reader goroutine plays the
// byte-available interrupt and a writer goroutine plays the byte-sent one.
type StreamHardware struct {
	stream io.ReadWriteCloser
	flow   func(assert bool) error
	name   string
	logger *zap.Logger

	txq     chan byte
	done    chan struct{}
	started atomic.Bool
	closed  atomic.Bool
	wg      sync.WaitGroup

	errMu sync.Mutex
	err   error

	lastActivity atomic.Int64
}

// NewStreamHardware wraps stream. flow drives the receive control line and
// may be nil when the link has none.
func NewStreamHardware(name string, stream io.ReadWriteCloser, flow func(assert bool) error, logger *zap.Logger) *StreamHardware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHardware{
		stream: stream,
		flow:   flow,
		name:   name,
		logger: logger,
		txq:    make(chan byte, 1),
		done:   make(chan struct{}),
	}
}

// Name identifies the link in logs and status output.
func (h *StreamHardware) Name() string {
	return h.name
}

// Start begins delivering interrupts to irq. It may be called once.
func (h *StreamHardware) Start(irq Interrupts) error {
	if !h.started.CompareAndSwap(false, true) {
		return fmt.Errorf("link %s already started", h.name)
	}
	h.wg.Add(2)
	go h.readLoop(irq)
	go h.writeLoop(irq)
	h.logger.Info("Link started")
	return nil
}

// StartTransmit hands one byte to the writer goroutine.
func (h *StreamHardware) StartTransmit(b byte) error {
	if h.closed.Load() {
		return ErrClosed
	}
	select {
	case h.txq <- b:
		return nil
	default:
		return ErrTransmitterBusy
	}
}

// SetFlowSignal drives the control line when the link has one.
func (h *StreamHardware) SetFlowSignal(assert bool) error {
	if h.flow == nil {
		return nil
	}
	h.logger.Debug("Flow signal", zap.Bool("assert", assert))
	return h.flow(assert)
}

func (h *StreamHardware) readLoop(irq Interrupts) {
	defer h.wg.Done()

	buf := make([]byte, 256)
	for {
		n, err := h.stream.Read(buf)
		for i := 0; i < n; i++ {
			irq.ReceiveByte(buf[i])
		}
		if n > 0 {
			h.lastActivity.Store(time.Now().UnixNano())
		}
		if err != nil {
			h.fail(err)
			return
		}
		if h.closed.Load() {
			return
		}
	}
}

func (h *StreamHardware) writeLoop(irq Interrupts) {
	defer h.wg.Done()

	var one [1]byte
	for {
		select {
		case <-h.done:
			return
		case b := <-h.txq:
			one[0] = b
			if _, err := h.stream.Write(one[:]); err != nil {
				h.fail(err)
				return
			}
			h.lastActivity.Store(time.Now().UnixNano())
			irq.TransmitDone()
		}
	}
}

func (h *StreamHardware) fail(err error) {
	if h.closed.Load() {
		return
	}
	h.errMu.Lock()
	if h.err == nil {
		h.err = err
	}
	h.errMu.Unlock()

	if errors.Is(err, io.EOF) {
		h.logger.Warn("Link reached end of stream")
	} else {
		h.logger.Error("Link failed", zap.Error(err))
	}
}

// Err returns the first I/O error the link hit, if any.
func (h *StreamHardware) Err() error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.err
}

// LastActivity returns when a byte last moved in either direction.
func (h *StreamHardware) LastActivity() time.Time {
	ns := h.lastActivity.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Close stops both goroutines and closes the stream.
func (h *StreamHardware) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(h.done)
	err := h.stream.Close()
	h.wg.Wait()
	if err != nil {
		h.logger.Error("Failed to close link", zap.Error(err))
		return fmt.Errorf("failed to close link %s: %w", h.name, err)
	}
	h.logger.Info("Link closed")
	return nil
}
