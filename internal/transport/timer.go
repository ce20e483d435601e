// internal/transport/timer.go
package transport

import (
	"sync"
	"time"
)

// Timer is a single-shot timer that can be rearmed. Expiry runs the callback
// the timer was created with.
type Timer interface {
	Arm(d time.Duration)
	Stop()
}

// TimerFactory builds a Timer bound to fire.
type TimerFactory func(fire func()) Timer

// NewTimer is the default TimerFactory, backed by time.AfterFunc.
func NewTimer(fire func()) Timer {
	return &afterFuncTimer{fire: fire}
}

// afterFuncTimer suppresses expiries that belong to an earlier arming, so a
// callback racing with Stop never leaks into the next blocking call.
type afterFuncTimer struct {
	mu    sync.Mutex
	fire  func()
	t     *time.Timer
	armed uint64
}

func (t *afterFuncTimer) Arm(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.t != nil {
		t.t.Stop()
	}
	t.armed++
	gen := t.armed
	t.t = time.AfterFunc(d, func() {
		t.mu.Lock()
		current := gen == t.armed
		t.mu.Unlock()
		if current {
			t.fire()
		}
	})
}

func (t *afterFuncTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
	t.armed++
}
