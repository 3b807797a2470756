package deltawriter

import (
	"context"
	"errors"
	"fmt"

	"github.com/lakehouse-go/deltawriter/autoincrement"
	"github.com/lakehouse-go/deltawriter/core"
	"github.com/lakehouse-go/deltawriter/schema"
)

// Public error kinds (§7). Components return sentinel or typed errors
// local to themselves; translateError maps each one it recognizes onto
// exactly one of these before it reaches a caller, mirroring the
// teacher's vecgo.translateError boundary. Errors it does not recognize
// (storage I/O failures, commit-sink errors) pass through unchanged.
var (
	// ErrInvalidArgument is returned for bad builder parameters,
	// unknown partial-update column names, a negative txn id, or a call
	// the writer's current state does not permit.
	ErrInvalidArgument = errors.New("deltawriter: invalid argument")

	// ErrNotSupported is returned for a partial update on a sort-keyed
	// table carrying an upsert row, an auto-increment column inside a
	// sort key under partial update, or a partial update combined with
	// a non-empty merge condition.
	ErrNotSupported = errors.New("deltawriter: not supported")

	// ErrNotFound is returned when a tablet or its schema cannot be
	// located.
	ErrNotFound = errors.New("deltawriter: not found")

	// ErrInternal is returned for allocator failures, an unclassifiable
	// file, and other conditions the caller cannot act on directly.
	ErrInternal = errors.New("deltawriter: internal error")

	// ErrCancelled wraps a context cancellation propagated from the
	// runtime.
	ErrCancelled = errors.New("deltawriter: cancelled")

	// ErrBlockingFromNonBlockingContext is the thread-affinity
	// programmer-error sentinel described in §5: a blocking entry
	// point (Write, Flush, FlushAsync, Finish, Close) was invoked from
	// a context the caller has marked non-blocking.
	ErrBlockingFromNonBlockingContext = errors.New("deltawriter: blocking call from non-blocking context")
)

// translateError maps a component-local error into the stable public
// contract of §7. nil, already-translated, and unrecognized errors pass
// through unchanged.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	if errors.Is(err, core.ErrTabletNotFound) || errors.Is(err, schema.ErrSchemaNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	if errors.Is(err, core.ErrInvalidArgument) || errors.Is(err, schema.ErrUnknownColumn) || errors.Is(err, core.ErrInvalidStateTransition) {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	if errors.Is(err, core.ErrNotSupported) ||
		errors.Is(err, schema.ErrAutoIncrementInSortKey) ||
		errors.Is(err, schema.ErrSortKeyPartialUpdateWrite) {
		return fmt.Errorf("%w: %w", ErrNotSupported, err)
	}

	if errors.Is(err, core.ErrInternal) || errors.Is(err, autoincrement.ErrNotInt64Column) {
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}

	return err
}
