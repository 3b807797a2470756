package deltawriter

import "context"

// nonBlockingKey is the context.Context key a non-blocking execution
// context (the lightweight-task-equivalent of §5) is tagged with.
type nonBlockingKey struct{}

// NonBlockingContext marks ctx as running on a non-blocking execution
// context: Open may be called from it, but Write, Flush, FlushAsync,
// Finish, and Close must not be. Out-of-scope CLI/RPC plumbing is
// expected to call this on contexts it hands to lightweight tasks; this
// package only consumes the marker, it never schedules anything onto
// one.
func NonBlockingContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, nonBlockingKey{}, true)
}

// AssertBlockingAllowed implements §5's thread-affinity precondition:
// it returns ErrBlockingFromNonBlockingContext if ctx was tagged by
// NonBlockingContext, and nil otherwise. Go has no cooperative-scheduler
// primitive to assert against directly, so the precondition is enforced
// by convention through this context value rather than by inspecting
// the actual goroutine/scheduler state.
func AssertBlockingAllowed(ctx context.Context) error {
	if v, _ := ctx.Value(nonBlockingKey{}).(bool); v {
		return ErrBlockingFromNonBlockingContext
	}
	return nil
}
