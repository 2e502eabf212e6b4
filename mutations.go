package modelsync

import (
	"context"
	"sync"
)

// Confirmation is returned by MutationsRegistry.HandleOptimistic. Done is
// closed once the batch settles — confirmed, rejected, cancelled or timed
// out — at which point Err reports the settlement outcome (nil on
// confirmation).
type Confirmation struct {
	Done <-chan struct{}
	Err  func() error
}

// Cancel synchronously initiates rollback of an in-flight optimistic
// batch, settling its Confirmation with ErrCancelled.
type Cancel func()

// optimisticApplier is the subset of Model a MutationsRegistry drives.
// Keeping it as an interface (rather than depending on Model[T] directly)
// lets handleOptimistic's apply/rollback contract be exercised without a
// concrete type parameter.
type optimisticApplier interface {
	applyOptimistic(ctx context.Context, event OptimisticEvent) error
	rollback(cause error, mutationID string)
	awaitConfirmation(mutationID string) <-chan error
}

// MutationsRegistry implements handleOptimistic: wrap a caller's event with
// effective options, apply it optimistically on the owning Model, and
// return a confirmation future plus a cancel handle. Rollback is
// guaranteed to run at most once per batch even if both the apply path and
// the confirmation path try to trigger it.
type MutationsRegistry struct {
	model   optimisticApplier
	options OptimisticEventOptions
}

// NewMutationsRegistry constructs a MutationsRegistry bound to model, using
// defaults for any per-call option not overridden at the call site.
func NewMutationsRegistry(model optimisticApplier, options OptimisticEventOptions) *MutationsRegistry {
	return &MutationsRegistry{model: model, options: options}
}

// HandleOptimistic applies event optimistically and returns its
// Confirmation and a Cancel closure. overrides carries call-site option
// overrides (e.g. "timeoutMs", "comparator"), taking precedence over the
// registry's defaults per the call-site > registry-default > library-
// default precedence.
func (r *MutationsRegistry) HandleOptimistic(ctx context.Context, event Event, overrides map[string]any) (*Confirmation, Cancel, error) {
	effective, err := mergeOptimisticEventOptions(r.options, overrides)
	if err != nil {
		return nil, nil, err
	}

	optimistic := OptimisticEvent{Event: event, TimeoutMS: effective.Timeout.Milliseconds(), Comparator: effective.Comparator}

	var rollbackOnce sync.Once
	rollback := func(cause error) {
		rollbackOnce.Do(func() { r.model.rollback(cause, event.MutationID) })
	}

	if err := r.model.applyOptimistic(ctx, optimistic); err != nil {
		// applyOptimistic never registers a PendingConfirmation on failure,
		// so the Model's rollback finds nothing to undo; it is still called
		// once so every failure path goes through rollback.
		rollback(err)
		return nil, nil, err
	}

	settleCh := r.model.awaitConfirmation(event.MutationID)
	done := make(chan struct{})
	var settleErr error
	var settleOnce sync.Once
	settle := func(err error) {
		settleOnce.Do(func() {
			settleErr = err
			close(done)
		})
	}

	go func() {
		err, ok := <-settleCh
		if !ok {
			settle(ErrDisposed)
			return
		}
		if err != nil {
			rollback(err)
		}
		settle(err)
	}()

	confirmation := &Confirmation{
		Done: done,
		Err:  func() error { return settleErr },
	}
	cancel := Cancel(func() { rollback(ErrCancelled) })
	return confirmation, cancel, nil
}
