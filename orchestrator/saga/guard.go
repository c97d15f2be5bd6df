package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/storage"
	"github.com/google/uuid"
)

// flight is the exclusive hold on the saga between entry and its first
// terminal continuation. A saga is in flight while the stored phase is not
// idle, so the phase itself is the execution guard.
//
// Every handler that owns a flight defers release. The phase goes back to
// idle on every exit unless the handler handed it to the next step.
type flight struct {
	kv       storage.KV
	phase    Phase
	handedOn bool
}

// acquire starts a new saga. It fails with ErrAlreadyInExecution and
// writes nothing when one is in flight.
func acquire(ctx context.Context, kv storage.KV) (*flight, error) {
	p, err := loadPhase(ctx, kv)
	if err != nil {
		return nil, err
	}
	if p.Kind != PhaseIdle {
		return nil, fmt.Errorf("%w: saga %s is %s", ErrAlreadyInExecution, p.SagaID, p.Kind)
	}
	return &flight{kv: kv, phase: Phase{Kind: PhaseIdle, SagaID: uuid.NewString()}}, nil
}

// resume picks up the flight a continuation belongs to. The stored phase
// must be want and belong to sagaID; otherwise nothing is touched.
func resume(ctx context.Context, kv storage.KV, want PhaseKind, sagaID string) (*flight, error) {
	p, err := loadPhase(ctx, kv)
	if err != nil {
		return nil, err
	}
	if p.Kind == PhaseIdle {
		return nil, fmt.Errorf("%w: %w: continuation expects %s, saga %s already finished", ErrContextNotFound, ErrUnexpectedPhase, want, sagaID)
	}
	if p.Kind != want {
		return nil, fmt.Errorf("%w: have %s, continuation expects %s", ErrUnexpectedPhase, p.Kind, want)
	}
	if p.SagaID != sagaID {
		return nil, fmt.Errorf("%w: reply for saga %s while %s is in flight", ErrUnexpectedPhase, sagaID, p.SagaID)
	}
	return &flight{kv: kv, phase: p}, nil
}

func (f *flight) sagaID() string {
	return f.phase.SagaID
}

// handOn persists the next phase; the flight stays held past this handler.
func (f *flight) handOn(ctx context.Context, next Phase) error {
	if err := next.check(); err != nil {
		return err
	}
	if err := phaseItem.Save(ctx, f.kv, next); err != nil {
		return fmt.Errorf("save phase: %w", err)
	}
	f.phase = next
	f.handedOn = true
	return nil
}

// release returns the saga to idle unless the flight was handed on. A
// failure to write is joined into *errp.
func (f *flight) release(ctx context.Context, errp *error) {
	if f.handedOn && *errp == nil {
		return
	}
	if err := phaseItem.Save(ctx, f.kv, idle()); err != nil {
		*errp = errors.Join(*errp, fmt.Errorf("release guard: %w", err))
	}
}
