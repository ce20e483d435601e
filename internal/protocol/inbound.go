// internal/protocol/inbound.go
package protocol

import (
	"fmt"
)

// Handle identifies a registered inbound buffer. The low bits select the
// descriptor and the rest count its reuses, so a handle goes stale once its
// registration is delivered or cancelled.
type Handle int

const (
	handleIndexBits = 16
	maxInboundSlots = 1 << handleIndexBits
	generationMask  = 1<<15 - 1
)

// Inbound is a delivered payload.
type Inbound struct {
	Handle Handle
	Slot   int
	Remote *Endpoint
	// Data aliases the registered buffer.
	Data []byte
	// Announced is the length the peer declared; it exceeds len(Data)
	// when the payload was truncated to the buffer's maximum.
	Announced int
	// Partial is set when the payload stopped short because the read
	// timed out.
	Partial bool
}

type descriptorState int

const (
	descriptorFree descriptorState = iota
	descriptorWaiting
	descriptorFilling
	descriptorFilled
)

type descriptor struct {
	state     descriptorState
	gen       int
	buf       []byte
	max       int
	n         int
	slot      int
	remote    *Endpoint
	announced int
	partial   bool
}

// arena holds the inbound descriptors: fixed slots, a free list of slot
// indices and a FIFO of registered indices. cursor indexes fifo and marks
// the oldest entry that may still be waiting. All methods run inside the
// channel's critical section.
type arena struct {
	slots  []descriptor
	free   []int
	fifo   []int
	cursor int
}

func newArena(size int) *arena {
	a := &arena{
		slots: make([]descriptor, size),
		free:  make([]int, 0, size),
		fifo:  make([]int, 0, size),
	}
	for i := size - 1; i >= 0; i-- {
		a.free = append(a.free, i)
	}
	return a
}

func (a *arena) register(buf []byte, max int) (Handle, error) {
	if len(a.free) == 0 {
		return 0, fmt.Errorf("%w: all %d inbound descriptors in use", ErrExhausted, len(a.slots))
	}
	if max <= 0 || max > len(buf) {
		max = len(buf)
	}
	idx := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	a.slots[idx] = descriptor{state: descriptorWaiting, gen: a.slots[idx].gen, buf: buf, max: max}
	a.fifo = append(a.fifo, idx)
	return a.handle(idx), nil
}

func (a *arena) handle(idx int) Handle {
	return Handle(a.slots[idx].gen<<handleIndexBits | idx)
}

// lookup resolves h to a live descriptor index.
func (a *arena) lookup(h Handle) (int, bool) {
	if h < 0 {
		return 0, false
	}
	idx := int(h) & (maxInboundSlots - 1)
	if idx >= len(a.slots) {
		return 0, false
	}
	d := a.slots[idx]
	if d.state == descriptorFree || d.gen != int(h)>>handleIndexBits {
		return 0, false
	}
	return idx, true
}

// claim picks the first waiting descriptor at or after the cursor and marks
// it as being filled. It returns -1 when nobody is waiting.
func (a *arena) claim() int {
	for a.cursor < len(a.fifo) {
		idx := a.fifo[a.cursor]
		if a.slots[idx].state == descriptorWaiting {
			a.slots[idx].state = descriptorFilling
			return idx
		}
		a.cursor++
	}
	return -1
}

func (a *arena) complete(idx, n, slot, announced int, remote *Endpoint, partial bool) {
	d := &a.slots[idx]
	d.state = descriptorFilled
	d.n = n
	d.slot = slot
	d.announced = announced
	d.remote = remote
	d.partial = partial
	for a.cursor < len(a.fifo) && a.slots[a.fifo[a.cursor]].state != descriptorWaiting {
		a.cursor++
	}
}

// pop removes the head of the FIFO if it has been filled.
func (a *arena) pop() (Inbound, bool) {
	if len(a.fifo) == 0 {
		return Inbound{}, false
	}
	idx := a.fifo[0]
	d := a.slots[idx]
	if d.state != descriptorFilled {
		return Inbound{}, false
	}
	copy(a.fifo, a.fifo[1:])
	a.fifo = a.fifo[:len(a.fifo)-1]
	if a.cursor > 0 {
		a.cursor--
	}
	h := a.handle(idx)
	a.release(idx)
	return Inbound{
		Handle:    h,
		Slot:      d.slot,
		Remote:    d.remote,
		Data:      d.buf[:d.n],
		Announced: d.announced,
		Partial:   d.partial,
	}, true
}

// cancel drops a registration that has not started filling.
func (a *arena) cancel(h Handle) error {
	idx, ok := a.lookup(h)
	if !ok {
		return fmt.Errorf("unknown inbound handle %d", h)
	}
	if a.slots[idx].state == descriptorFilling {
		return fmt.Errorf("inbound handle %d is being filled", h)
	}
	for i, v := range a.fifo {
		if v != idx {
			continue
		}
		a.fifo = append(a.fifo[:i], a.fifo[i+1:]...)
		if i < a.cursor {
			a.cursor--
		}
		break
	}
	a.release(idx)
	return nil
}

func (a *arena) release(idx int) {
	a.slots[idx] = descriptor{gen: (a.slots[idx].gen + 1) & generationMask}
	a.free = append(a.free, idx)
}

func (a *arena) counts() (waiting, filled int) {
	for _, idx := range a.fifo {
		switch a.slots[idx].state {
		case descriptorWaiting, descriptorFilling:
			waiting++
		case descriptorFilled:
			filled++
		}
	}
	return waiting, filled
}
