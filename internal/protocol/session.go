// internal/protocol/session.go
package protocol

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// MaxSlots is the number of multiplexed links the peer supports.
const MaxSlots = 5

// Association states.
const (
	StateUnassociated    = "unassociated"
	StateAssociated      = "associated"
	StateAddressAcquired = "address-acquired"
)

// Association events.
const (
	eventAssociate = "associate"
	eventAcquire   = "acquire"
	eventLose      = "lose"
)

// session is what the peer last told us about itself. Guarded by
// Engine.stateMu.
type session struct {
	echo        bool
	multiplex   bool
	passthrough bool
	extended    bool
	slots       [MaxSlots]bool
}

func (s *session) clearSlots() {
	for i := range s.slots {
		s.slots[i] = false
	}
}

// newAssociationFSM builds unassociated -> associated -> address-acquired,
// collapsing back to unassociated on loss. Acquiring an address implies
// association, so acquire is also accepted from unassociated.
func newAssociationFSM(logger *zap.Logger, onEnter func(src, dst string)) *fsm.FSM {
	return fsm.NewFSM(
		StateUnassociated,
		fsm.Events{
			{Name: eventAssociate, Src: []string{StateUnassociated}, Dst: StateAssociated},
			{Name: eventAcquire, Src: []string{StateUnassociated, StateAssociated}, Dst: StateAddressAcquired},
			{Name: eventLose, Src: []string{StateUnassociated, StateAssociated, StateAddressAcquired}, Dst: StateUnassociated},
		},
		fsm.Callbacks{
			// Callbacks must not call back into the FSM.
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Info("Association state changed",
					zap.String("from", e.Src),
					zap.String("to", e.Dst),
					zap.String("event", e.Event),
				)
				if onEnter != nil {
					onEnter(e.Src, e.Dst)
				}
			},
		},
	)
}

// fire applies an association event. Events that do not apply in the
// current state are ignored.
func fire(f *fsm.FSM, event string) error {
	err := f.Event(context.Background(), event)
	if err == nil {
		return nil
	}
	var noTransition fsm.NoTransitionError
	var invalid fsm.InvalidEventError
	var unknown fsm.UnknownEventError
	if errors.As(err, &noTransition) || errors.As(err, &invalid) || errors.As(err, &unknown) {
		return nil
	}
	return err
}
