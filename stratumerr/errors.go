// Package stratumerr collects the error taxonomy in spec.md §7 that
// doesn't already live next to its owning type (types.ErrIncompatibleType
// and friends live in package types to avoid an import cycle).
package stratumerr

import (
	"errors"
	"fmt"
)

// Schema/catalog errors.
var (
	ErrTableNotFound     = errors.New("table not found")
	ErrTableExists       = errors.New("table already exists")
	ErrColumnNotFound    = errors.New("column not found")
	ErrAmbiguousColumn   = errors.New("ambiguous column")
	ErrIndexNotFound     = errors.New("index not found")
	ErrIndexExists       = errors.New("index already exists")
	ErrInvalidValueCount = errors.New("invalid value count")
)

// Storage errors.
var (
	ErrPageNotExist      = errors.New("page does not exist")
	ErrRecordNotFound    = errors.New("record not found")
	ErrIndexEntryNotFound = errors.New("index entry not found")
)

// Internal is the catch-all for assertion-style failures.
var ErrInternal = errors.New("internal error")

// AbortReason enumerates why the transaction manager forced an abort,
// per spec.md §7's TransactionAbort taxonomy.
type AbortReason int

const (
	LockOnShrinking AbortReason = iota
	UpgradeConflict
	DeadlockPrevention
	FailedToLock
	AttemptedUnlockButNoLockHeld
)

func (r AbortReason) String() string {
	switch r {
	case LockOnShrinking:
		return "LockOnShrinking"
	case UpgradeConflict:
		return "UpgradeConflict"
	case DeadlockPrevention:
		return "DeadlockPrevention"
	case FailedToLock:
		return "FailedToLock"
	case AttemptedUnlockButNoLockHeld:
		return "AttemptedUnlockButNoLockHeld"
	}
	return "Unknown"
}

// TransactionAbortError is returned whenever a lock-related failure
// forces the entire transaction into the ABORTED state (spec.md §7:
// "Lock-related and deadlock-detector errors abort the entire
// transaction"). The caller must still invoke txnmgr.Abort to roll
// back and release locks.
type TransactionAbortError struct {
	Reason AbortReason
	TxnID  uint64
}

func (e *TransactionAbortError) Error() string {
	return fmt.Sprintf("transaction %d aborted: %s", e.TxnID, e.Reason)
}

func NewTransactionAbort(txnID uint64, reason AbortReason) error {
	return &TransactionAbortError{Reason: reason, TxnID: txnID}
}
