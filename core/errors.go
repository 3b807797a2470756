package core

import "errors"

// Component-local sentinel errors. The public façade package translates
// these into the stable public error contract (§7) via errors.Is,
// mirroring the teacher's translateError boundary function.
var (
	ErrTabletNotFound  = errors.New("core: tablet not found")
	ErrInvalidArgument = errors.New("core: invalid argument")
	ErrNotSupported    = errors.New("core: not supported")
	ErrInternal        = errors.New("core: internal error")
)
