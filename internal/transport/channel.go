// internal/transport/channel.go
package transport

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Options configures a Channel.
type Options struct {
	TxSize     int
	RxSize     int
	Flow       FlowControl
	LowWater   int
	Hysteresis int
	NewTimer   TimerFactory
	Logger     *zap.Logger
}

// DefaultOptions returns sizes suited to an AT co-processor at 115200 baud.
func DefaultOptions() Options {
	return Options{
		TxSize:     512,
		RxSize:     4096,
		Flow:       FlowNone,
		LowWater:   64,
		Hysteresis: 64,
	}
}

// Channel is one serial link: a transmit ring drained by the hardware, a
// receive ring filled by it, receive-side flow control and a timer that
// bounds every blocking call.
//
// ReceiveByte and TransmitDone form the interrupt side and may run on any
// goroutine. Every other method belongs to a single task-side caller at a
// time; Channel does not serialize task-side callers against each other.
type Channel struct {
	hw     Hardware
	tx     *Ring
	rx     *Ring
	logger *zap.Logger

	flow       FlowControl
	lowWater   int
	hysteresis int

	// cs guards waiting and the free-space checks around it.
	cs      sync.Mutex
	waiting bool

	txBusy   atomic.Bool
	timedOut atomic.Bool
	timer    Timer
	wake     chan struct{}

	stats counters
}

// NewChannel creates a channel driving hw.
func NewChannel(hw Hardware, opts Options) (*Channel, error) {
	if hw == nil {
		return nil, fmt.Errorf("hardware is required")
	}
	def := DefaultOptions()
	if opts.TxSize <= 0 {
		opts.TxSize = def.TxSize
	}
	if opts.RxSize <= 0 {
		opts.RxSize = def.RxSize
	}
	if opts.NewTimer == nil {
		opts.NewTimer = NewTimer
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &Channel{
		hw:         hw,
		tx:         NewRing(opts.TxSize),
		rx:         NewRing(opts.RxSize),
		flow:       opts.Flow,
		lowWater:   opts.LowWater,
		hysteresis: opts.Hysteresis,
		wake:       make(chan struct{}, 1),
		logger:     opts.Logger.With(zap.String("component", "channel")),
	}
	if c.lowWater < 0 || c.lowWater >= c.rx.Cap() {
		return nil, fmt.Errorf("low water %d outside receive ring of %d bytes", c.lowWater, c.rx.Cap())
	}
	if c.hysteresis < 0 || c.lowWater+c.hysteresis >= c.rx.Cap() {
		return nil, fmt.Errorf("hysteresis %d too large for receive ring of %d bytes", c.hysteresis, c.rx.Cap())
	}
	c.timer = opts.NewTimer(c.expire)

	if c.flow == FlowSignal {
		if err := hw.SetFlowSignal(true); err != nil {
			return nil, fmt.Errorf("failed to assert flow signal: %w", err)
		}
	}
	return c, nil
}

func (c *Channel) expire() {
	c.timedOut.Store(true)
	c.signal()
}

func (c *Channel) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Critical runs fn inside the channel's critical section, the same one that
// guards the flow-control threshold check.
func (c *Channel) Critical(fn func()) {
	c.cs.Lock()
	defer c.cs.Unlock()
	fn()
}

// ReceiveByte is the byte-available interrupt.
func (c *Channel) ReceiveByte(b byte) {
	if !c.rx.Put(b) {
		c.stats.overruns.Inc()
		c.logger.Debug("Receive ring overrun", zap.Uint8("byte", b))
		c.signal()
		return
	}
	c.stats.received.Inc()

	if c.flow == FlowSignal {
		c.Critical(func() {
			if c.waiting || c.rx.Free() > c.lowWater {
				return
			}
			c.waiting = true
			c.stats.flowDeasserts.Inc()
			if err := c.hw.SetFlowSignal(false); err != nil {
				c.logger.Warn("Failed to deassert flow signal", zap.Error(err))
			}
		})
	}
	c.signal()
}

// TransmitDone is the byte-sent interrupt.
func (c *Channel) TransmitDone() {
	c.stats.sent.Inc()
	if b, ok := c.tx.Get(); ok {
		c.start(b)
		c.signal()
		return
	}
	c.txBusy.Store(false)
	c.signal()
	// A task-side writer may have queued bytes between Get and Store.
	c.kick()
}

// kick starts the transmitter if it is idle and bytes are queued. Holding
// txBusy makes the caller the transmit ring's only consumer.
func (c *Channel) kick() {
	for c.tx.Used() > 0 {
		if !c.txBusy.CompareAndSwap(false, true) {
			return
		}
		if b, ok := c.tx.Get(); ok {
			c.start(b)
			return
		}
		c.txBusy.Store(false)
	}
}

func (c *Channel) start(b byte) {
	if err := c.hw.StartTransmit(b); err != nil {
		c.stats.txErrors.Inc()
		c.logger.Warn("Failed to start transmit", zap.Error(err))
		c.txBusy.Store(false)
	}
}

func (c *Channel) consumed() {
	if c.flow != FlowSignal {
		return
	}
	c.Critical(func() {
		if !c.waiting || c.rx.Free() <= c.lowWater+c.hysteresis {
			return
		}
		c.waiting = false
		if err := c.hw.SetFlowSignal(true); err != nil {
			c.logger.Warn("Failed to reassert flow signal", zap.Error(err))
		}
	})
}

// begin arms the timer for a blocking call. A non-positive timeout makes the
// call a single non-blocking pass.
func (c *Channel) begin(timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	c.timer.Arm(timeout)
	return true
}

// end stops the timer and clears the timed-out flag, reporting whether it
// was set.
func (c *Channel) end(blocking bool) bool {
	if blocking {
		c.timer.Stop()
	}
	expired := c.timedOut.Swap(false)
	if expired {
		c.stats.timeouts.Inc()
	}
	return expired
}

// wait suspends until the interrupt side or the timer signals. It reports
// false once the timer has fired; the caller always gets one more pass over
// the ring after waking.
func (c *Channel) wait(blocking bool) bool {
	if !blocking || c.timedOut.Load() {
		return false
	}
	<-c.wake
	return true
}

// TryWrite queues as much of p as fits and returns the count accepted.
func (c *Channel) TryWrite(p []byte) int {
	n := c.tx.Write(p)
	if n > 0 {
		c.kick()
	}
	return n
}

// Write queues all of p, waiting for room until timeout.
func (c *Channel) Write(p []byte, timeout time.Duration) (int, error) {
	blocking := c.begin(timeout)
	n := 0
	for {
		n += c.TryWrite(p[n:])
		if n == len(p) || !c.wait(blocking) {
			break
		}
	}
	c.end(blocking)
	if n < len(p) {
		return n, ErrTimeout
	}
	return n, nil
}

// TryRead drains up to len(p) buffered bytes.
func (c *Channel) TryRead(p []byte) int {
	n := c.rx.Read(p)
	if n > 0 {
		c.consumed()
	}
	return n
}

// ReadFull fills p, waiting for bytes until timeout.
func (c *Channel) ReadFull(p []byte, timeout time.Duration) (int, error) {
	blocking := c.begin(timeout)
	n := 0
	for {
		n += c.TryRead(p[n:])
		if n == len(p) || !c.wait(blocking) {
			break
		}
	}
	c.end(blocking)
	if n < len(p) {
		return n, ErrTimeout
	}
	return n, nil
}

// ReadLine reads one CR-LF terminated line into p. The terminator is
// stripped and a NUL is stored after the line. At most len(p)-1 bytes are
// stored; when that limit is hit first ErrLineOverflow is returned and the
// remainder stays buffered. A bare LF also ends the line; a CR not followed
// by LF is kept as data.
func (c *Channel) ReadLine(p []byte, timeout time.Duration) (int, error) {
	if len(p) == 0 {
		return 0, ErrLineOverflow
	}
	limit := len(p) - 1
	blocking := c.begin(timeout)

	var look [2]byte
	n := 0
	var err error
	for {
		avail := c.rx.Peek(look[:])
		if avail == 0 || (look[0] == '\r' && avail == 1) {
			if !c.wait(blocking) {
				err = ErrTimeout
				break
			}
			continue
		}
		if look[0] == '\n' {
			c.rx.Discard(1)
			c.consumed()
			break
		}
		if look[0] == '\r' && look[1] == '\n' {
			c.rx.Discard(2)
			c.consumed()
			break
		}
		if n == limit {
			err = ErrLineOverflow
			break
		}
		p[n] = look[0]
		n++
		c.rx.Discard(1)
		c.consumed()
	}
	p[n] = 0
	c.end(blocking)
	return n, err
}

// Peek copies buffered bytes into p without consuming them.
func (c *Channel) Peek(p []byte) int {
	return c.rx.Peek(p)
}

// WaitReadable blocks until at least n bytes are buffered.
func (c *Channel) WaitReadable(n int, timeout time.Duration) error {
	if n > c.rx.Cap() {
		n = c.rx.Cap()
	}
	blocking := c.begin(timeout)
	for c.rx.Used() < n {
		if !c.wait(blocking) {
			break
		}
	}
	c.end(blocking)
	if c.rx.Used() < n {
		return ErrTimeout
	}
	return nil
}

// Flush drops everything buffered on the receive side.
func (c *Channel) Flush() int {
	n := c.rx.Reset()
	if n > 0 {
		c.consumed()
		c.logger.Debug("Flushed receive ring", zap.Int("bytes", n))
	}
	return n
}

// Buffered returns the number of received bytes not yet consumed.
func (c *Channel) Buffered() int {
	return c.rx.Used()
}

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() Stats {
	s := Stats{
		BytesReceived:  c.stats.received.Load(),
		BytesSent:      c.stats.sent.Load(),
		Overruns:       c.stats.overruns.Load(),
		TransmitErrors: c.stats.txErrors.Load(),
		FlowDeasserts:  c.stats.flowDeasserts.Load(),
		Timeouts:       c.stats.timeouts.Load(),
		RxBuffered:     c.rx.Used(),
		TxBuffered:     c.tx.Used(),
	}
	c.Critical(func() { s.ReceiveThrottled = c.waiting })
	return s
}
