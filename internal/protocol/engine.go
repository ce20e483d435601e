// internal/protocol/engine.go
package protocol

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Link is the byte transport an Engine drives. *transport.Channel
// implements it.
type Link interface {
	Write(p []byte, timeout time.Duration) (int, error)
	ReadLine(p []byte, timeout time.Duration) (int, error)
	ReadFull(p []byte, timeout time.Duration) (int, error)
	TryRead(p []byte) int
	Peek(p []byte) int
	WaitReadable(n int, timeout time.Duration) error
	Flush() int
	Buffered() int
	Critical(fn func())
}

// Observer receives exchange and notification outcomes, typically to feed
// metrics.
type Observer interface {
	ObserveExchange(command, outcome string, elapsed time.Duration)
	ObserveNotification(kind string)
	ObserveInbound(bytes int, dropped bool)
	ObserveAssociation(state string)
}

type nopObserver struct{}

func (nopObserver) ObserveExchange(string, string, time.Duration) {}

func (nopObserver) ObserveNotification(string) {}

func (nopObserver) ObserveInbound(int, bool) {}

func (nopObserver) ObserveAssociation(string) {}

// Options configures an Engine.
type Options struct {
	// LineLength bounds one response line, terminator excluded.
	LineLength int
	// InboundSlots is the number of inbound buffers that can be registered
	// at once.
	InboundSlots int
	// Echo is the peer's command-echo state at startup.
	Echo bool
	// Timeouts per class; zero fields take defaults.
	Timeouts Timeouts
	// Unsupported lists command mnemonics the peer firmware lacks.
	Unsupported []string
	// PollSlice bounds each idle wait while AwaitInbound polls.
	PollSlice time.Duration

	Logger   *zap.Logger
	Observer Observer
	OnEvent  EventHandler
}

// DefaultOptions matches stock ESP-AT firmware after power-up.
func DefaultOptions() Options {
	return Options{
		LineLength:   256,
		InboundSlots: 8,
		Echo:         true,
		Timeouts:     DefaultTimeouts(),
		PollSlice:    20 * time.Millisecond,
	}
}

// Engine runs the command/response/notification protocol over one Link.
//
// Exchanges are serialized: only one goroutine talks to the link at a time.
// Session queries (IsAssociated and friends), RegisterInbound and Snapshot
// never wait for an exchange to finish.
type Engine struct {
	link     Link
	logger   *zap.Logger
	observer Observer
	onEvent  EventHandler

	// mu serializes every use of the link's blocking operations.
	mu      sync.Mutex
	line    []byte
	look    []byte
	scratch []byte

	stateMu     sync.RWMutex
	state       session
	timeouts    Timeouts
	unsupported map[string]struct{}
	assoc       *fsm.FSM

	// inbound is guarded by the link's critical section.
	inbound *arena

	pollSlice time.Duration
	dropped   atomic.Uint64
	dropBytes atomic.Uint64
}

// New creates an engine on link.
func New(link Link, opts Options) *Engine {
	def := DefaultOptions()
	if opts.LineLength <= 0 {
		opts.LineLength = def.LineLength
	}
	if opts.InboundSlots <= 0 || opts.InboundSlots > maxInboundSlots {
		opts.InboundSlots = def.InboundSlots
	}
	if opts.PollSlice <= 0 {
		opts.PollSlice = def.PollSlice
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	e := &Engine{
		link:        link,
		logger:      opts.Logger.With(zap.String("component", "engine")),
		observer:    opts.Observer,
		onEvent:     opts.OnEvent,
		line:        make([]byte, opts.LineLength+1),
		look:        make([]byte, opts.LineLength+1),
		scratch:     make([]byte, 256),
		timeouts:    opts.Timeouts.withDefaults(),
		unsupported: make(map[string]struct{}),
		inbound:     newArena(opts.InboundSlots),
		pollSlice:   opts.PollSlice,
	}
	e.state.echo = opts.Echo
	for _, cmd := range opts.Unsupported {
		e.unsupported[strings.ToUpper(mnemonic(cmd))] = struct{}{}
	}
	e.assoc = newAssociationFSM(e.logger, func(_, dst string) {
		e.observer.ObserveAssociation(dst)
	})
	return e
}

// ConfigureTimeout sets the duration used for one timeout class.
func (e *Engine) ConfigureTimeout(class TimeoutClass, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("timeout for %s must be positive, got %v", class, d)
	}
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	f := e.timeouts.field(class)
	if f == nil {
		return fmt.Errorf("unknown timeout class %d", int(class))
	}
	*f = d
	e.logger.Info("Timeout configured", zap.Stringer("class", class), zap.Duration("timeout", d))
	return nil
}

// Timeout returns the duration configured for class.
func (e *Engine) Timeout(class TimeoutClass) time.Duration {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.timeouts.Get(class)
}

// Timeouts returns every configured timeout.
func (e *Engine) Timeouts() Timeouts {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.timeouts
}

// IsAssociated reports whether the peer is joined to a network.
func (e *Engine) IsAssociated() bool {
	return e.assoc.Current() != StateUnassociated
}

// IsAddressAcquired reports whether the peer holds a network address.
func (e *Engine) IsAddressAcquired() bool {
	return e.assoc.Current() == StateAddressAcquired
}

// AssociationState returns the association state name.
func (e *Engine) AssociationState() string {
	return e.assoc.Current()
}

// IsSlotConnected reports whether link slot is open.
func (e *Engine) IsSlotConnected(slot int) bool {
	if slot < 0 || slot >= MaxSlots {
		return false
	}
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state.slots[slot]
}

// Multiplexed reports whether the peer is in multiple-link mode.
func (e *Engine) Multiplexed() bool {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state.multiplex
}

// Snapshot is a copy of the session state.
type Snapshot struct {
	Echo             bool     `json:"echo"`
	Multiplex        bool     `json:"multiplex"`
	Passthrough      bool     `json:"passthrough"`
	ExtendedInfo     bool     `json:"extended_info"`
	Association      string   `json:"association"`
	Associated       bool     `json:"associated"`
	AddressAcquired  bool     `json:"address_acquired"`
	Slots            []bool   `json:"slots"`
	InboundWaiting   int      `json:"inbound_waiting"`
	InboundFilled    int      `json:"inbound_filled"`
	InboundDropped   uint64   `json:"inbound_dropped"`
	DroppedBytes     uint64   `json:"dropped_bytes"`
	Timeouts         Timeouts `json:"timeouts"`
	UnsupportedCount int      `json:"unsupported_count"`
}

// Snapshot returns the current session state.
func (e *Engine) Snapshot() Snapshot {
	assoc := e.assoc.Current()

	e.stateMu.RLock()
	s := Snapshot{
		Echo:             e.state.echo,
		Multiplex:        e.state.multiplex,
		Passthrough:      e.state.passthrough,
		ExtendedInfo:     e.state.extended,
		Association:      assoc,
		Associated:       assoc != StateUnassociated,
		AddressAcquired:  assoc == StateAddressAcquired,
		Slots:            append([]bool(nil), e.state.slots[:]...),
		Timeouts:         e.timeouts,
		UnsupportedCount: len(e.unsupported),
	}
	e.stateMu.RUnlock()

	e.link.Critical(func() {
		s.InboundWaiting, s.InboundFilled = e.inbound.counts()
	})
	s.InboundDropped = e.dropped.Load()
	s.DroppedBytes = e.dropBytes.Load()
	return s
}

// RegisterInbound offers buf to receive the next unclaimed inbound payload.
// At most maxLen bytes are stored; a non-positive maxLen means len(buf).
func (e *Engine) RegisterInbound(buf []byte, maxLen int) (Handle, error) {
	if len(buf) == 0 {
		return 0, newError("", ErrExhausted, "empty inbound buffer")
	}
	var h Handle
	var err error
	e.link.Critical(func() {
		h, err = e.inbound.register(buf, maxLen)
	})
	if err != nil {
		return 0, &CommandError{Kind: ErrExhausted, Detail: err.Error()}
	}
	e.logger.Debug("Inbound buffer registered", zap.Int("handle", int(h)), zap.Int("max_len", maxLen))
	return h, nil
}

// CancelInbound withdraws a registration that has not started filling.
func (e *Engine) CancelInbound(h Handle) error {
	var err error
	e.link.Critical(func() {
		err = e.inbound.cancel(h)
	})
	return err
}

// AwaitInbound waits for the oldest registered buffer to be filled and
// removes it. A non-positive timeout uses the inbound timeout class. While
// no exchange is running the wait drives the notification classifier
// itself, so payloads are noticed without explicit traffic.
func (e *Engine) AwaitInbound(timeout time.Duration) (*Inbound, error) {
	if timeout <= 0 {
		timeout = e.Timeout(TimeoutInbound)
	}
	deadline := time.Now().Add(timeout)

	for {
		var in Inbound
		var ok bool
		e.link.Critical(func() {
			in, ok = e.inbound.pop()
		})
		if ok {
			return &in, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, newError("", ErrTimeout, "no inbound data within %v", timeout)
		}
		slice := e.pollSlice
		if slice > remaining {
			slice = remaining
		}

		if !e.mu.TryLock() {
			// An exchange is running and classifies for us.
			time.Sleep(slice)
			continue
		}
		_, err := e.drain(slice)
		e.mu.Unlock()
		if err != nil {
			e.logger.Warn("Notification processing failed while awaiting inbound", zap.Error(err))
		}
	}
}

// PollNotifications processes whatever complete notifications are already
// buffered. It returns at once when an exchange is running, since the
// exchange classifies notifications itself.
func (e *Engine) PollNotifications() (int, error) {
	if !e.mu.TryLock() {
		return 0, nil
	}
	defer e.mu.Unlock()
	return e.drain(0)
}

func (e *Engine) emit(n Notification) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	e.observer.ObserveNotification(n.Kind.String())
	if e.onEvent != nil {
		e.onEvent(n)
	}
}

// apply updates the session for a notification. Updates are never rolled
// back by a later failure.
func (e *Engine) apply(n Notification) {
	switch n.Kind {
	case NotifyAssociated:
		e.fire(eventAssociate)
	case NotifyAddressAcquired:
		e.fire(eventAcquire)
	case NotifyAssociationLost:
		// Every slot is cleared, multiplexed or not.
		e.stateMu.Lock()
		e.state.clearSlots()
		e.stateMu.Unlock()
		e.fire(eventLose)
	case NotifySlotConnected, NotifySlotClosed:
		if n.Slot >= MaxSlots {
			e.logger.Warn("Notification for slot out of range", zap.String("line", n.Line))
			return
		}
		e.setSlot(n.Slot, n.Kind == NotifySlotConnected)
	}
	e.logger.Info("Notification", zap.Stringer("kind", n.Kind), zap.Int("slot", n.Slot))
	e.emit(n)
}

func (e *Engine) fire(event string) {
	if err := fire(e.assoc, event); err != nil {
		e.logger.Warn("Association event failed", zap.String("event", event), zap.Error(err))
	}
}

func (e *Engine) setSlot(slot int, connected bool) {
	if slot < 0 || slot >= MaxSlots {
		return
	}
	e.stateMu.Lock()
	e.state.slots[slot] = connected
	e.stateMu.Unlock()
}

// ResetSession returns session state to what the peer reports right after
// a restart.
func (e *Engine) ResetSession() {
	e.stateMu.Lock()
	e.state = session{echo: true}
	e.stateMu.Unlock()
	e.fire(eventLose)
}
