package types

import "errors"

// Sentinel errors for the schema/type-checking taxonomy in spec.md §7.
// Wrapped with fmt.Errorf("...: %w", ErrX) so callers can match with
// errors.Is regardless of the added context.
var (
	ErrIncompatibleType = errors.New("incompatible type")
	ErrStringOverflow   = errors.New("string overflow")
	ErrInvalidDatetime  = errors.New("invalid datetime")
)
