package protocol

import (
	"errors"
	"testing"
)

func TestArenaFillsInRegistrationOrder(t *testing.T) {
	a := newArena(3)
	h0, _ := a.register(make([]byte, 4), 0)
	h1, _ := a.register(make([]byte, 4), 2)

	idx := a.claim()
	if a.handle(idx) != h0 {
		t.Fatalf("claim = %d, want %d", idx, h0)
	}
	copy(a.slots[idx].buf, "abcd")
	a.complete(idx, 4, 1, 4, nil, false)

	idx = a.claim()
	if a.handle(idx) != h1 || a.slots[idx].max != 2 {
		t.Fatalf("claim = %d max %d, want %d max 2", idx, a.slots[idx].max, h1)
	}
	if a.claim() != -1 {
		t.Fatal("claimed a descriptor with none waiting")
	}

	in, ok := a.pop()
	if !ok || in.Handle != h0 || string(in.Data) != "abcd" || in.Slot != 1 {
		t.Fatalf("pop = %+v, %v", in, ok)
	}
	if _, ok := a.pop(); ok {
		t.Fatal("popped a descriptor still filling")
	}

	a.complete(idx, 1, 0, 9, &Endpoint{Address: "10.0.0.1", Port: 1}, true)
	in, ok = a.pop()
	if !ok || in.Handle != h1 || in.Announced != 9 || !in.Partial || in.Remote == nil {
		t.Fatalf("pop = %+v, %v", in, ok)
	}
	if len(a.free) != 3 || len(a.fifo) != 0 || a.cursor != 0 {
		t.Errorf("arena not empty: free %d fifo %d cursor %d", len(a.free), len(a.fifo), a.cursor)
	}
}

func TestArenaRegisterExhausted(t *testing.T) {
	a := newArena(1)
	if _, err := a.register(make([]byte, 1), 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := a.register(make([]byte, 1), 0); !errors.Is(err, ErrExhausted) {
		t.Errorf("register() error = %v, want ErrExhausted", err)
	}
}

func TestArenaCancel(t *testing.T) {
	a := newArena(3)
	h0, _ := a.register(make([]byte, 4), 0)
	h1, _ := a.register(make([]byte, 4), 0)
	h2, _ := a.register(make([]byte, 4), 0)

	if err := a.cancel(h1); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := a.cancel(h1); err == nil {
		t.Error("cancelled a free handle twice")
	}
	if err := a.cancel(Handle(99)); err == nil {
		t.Error("cancelled an unknown handle")
	}

	idx := a.claim()
	if a.handle(idx) != h0 {
		t.Fatalf("claim = %d, want %d", idx, h0)
	}
	if err := a.cancel(h0); err == nil {
		t.Error("cancelled a descriptor being filled")
	}
	a.complete(idx, 0, 0, 0, nil, false)

	if idx := a.claim(); a.handle(idx) != h2 {
		t.Errorf("claim after cancel = %d, want %d", idx, h2)
	}
	waiting, filled := a.counts()
	if waiting != 1 || filled != 1 {
		t.Errorf("counts = %d waiting %d filled, want 1 and 1", waiting, filled)
	}
}

func TestArenaReusesReleasedSlots(t *testing.T) {
	a := newArena(1)
	for i := 0; i < 3; i++ {
		h, err := a.register(make([]byte, 2), 0)
		if err != nil {
			t.Fatalf("round %d register: %v", i, err)
		}
		idx := a.claim()
		if a.handle(idx) != h {
			t.Fatalf("round %d claim = %d, want %d", i, idx, h)
		}
		a.complete(idx, 2, 0, 2, nil, false)
		if _, ok := a.pop(); !ok {
			t.Fatalf("round %d pop failed", i)
		}
	}
}

func TestArenaRejectsStaleHandle(t *testing.T) {
	a := newArena(1)
	stale, _ := a.register(make([]byte, 4), 0)
	if err := a.cancel(stale); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	fresh, err := a.register(make([]byte, 4), 0)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if fresh == stale {
		t.Fatalf("reused descriptor kept handle %d", fresh)
	}

	if err := a.cancel(stale); err == nil {
		t.Fatal("stale handle cancelled a newer registration")
	}
	if waiting, _ := a.counts(); waiting != 1 {
		t.Fatalf("waiting = %d, want 1", waiting)
	}

	idx := a.claim()
	a.complete(idx, 0, 0, 0, nil, false)
	in, ok := a.pop()
	if !ok || in.Handle != fresh {
		t.Errorf("pop = %+v, %v, want handle %d", in, ok, fresh)
	}
	if err := a.cancel(fresh); err == nil {
		t.Error("cancelled a delivered handle")
	}
}
