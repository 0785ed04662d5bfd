package storageengine

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/shivang/stratumdb/storageengine/exec"
	"github.com/shivang/stratumdb/storageengine/txnmgr"
)

// Session is the per-connection handle spec.md §2 calls the session
// context {txn, log_mgr, lock_mgr, catalog}. One Session serves one
// client for its lifetime; statements run either against an explicit
// transaction spanning multiple statements (BEGIN ... COMMIT/ABORT) or
// a fresh auto-commit transaction scoped to a single statement.
type Session struct {
	eng      *Engine
	txn      *txnmgr.Transaction
	explicit bool
}

// NewSession opens a session against eng.
func (e *Engine) NewSession() *Session { return &Session{eng: e} }

// InTransaction reports whether the session currently has an explicit
// transaction open.
func (s *Session) InTransaction() bool { return s.explicit && s.txn != nil }

// Begin starts an explicit transaction, per spec.md's "explicit
// transaction: one wrapped in begin ... commit|abort."
func (s *Session) Begin() error {
	if s.explicit && s.txn != nil {
		return fmt.Errorf("storageengine: a transaction is already open on this session")
	}
	txn, err := s.eng.txnMgr.Begin(true)
	if err != nil {
		return err
	}
	s.txn = txn
	s.explicit = true
	return nil
}

// Commit commits the session's open explicit transaction and releases
// its locks, per spec.md §4.6.
func (s *Session) Commit() error {
	if !s.explicit || s.txn == nil {
		return fmt.Errorf("storageengine: no transaction to commit")
	}
	txn := s.txn
	s.txn, s.explicit = nil, false
	if err := s.eng.txnMgr.Commit(txn); err != nil {
		return err
	}
	s.eng.lockMgr.ReleaseAll(txn)
	return nil
}

// Abort rolls back the session's open explicit transaction (walking
// its write sets in reverse per spec.md §4.6) and releases its locks.
// Also the target of ROLLBACK.
func (s *Session) Abort() error {
	if !s.explicit || s.txn == nil {
		return fmt.Errorf("storageengine: no transaction to abort")
	}
	txn := s.txn
	s.txn, s.explicit = nil, false
	err := s.eng.txnMgr.Abort(txn)
	s.eng.lockMgr.ReleaseAll(txn)
	return err
}

// Close releases any transaction still open on the session (as if the
// client disconnected mid-transaction), rolling it back.
func (s *Session) Close() {
	if s.explicit && s.txn != nil {
		if err := s.Abort(); err != nil {
			log.WithError(err).Warn("storageengine: session close: abort failed")
		}
	}
}

// run executes fn against a transaction: the session's open explicit
// transaction if one exists, otherwise a fresh auto-commit transaction
// that is committed on success or rolled back on failure.
//
// Per spec.md §7's user-visible behavior: a failure inside an implicit
// (auto-commit) transaction is fully rolled back and its locks
// released immediately; a failure inside an explicit transaction only
// marks it ABORTED (MarkAborted, the same mechanism the deadlock
// detector uses) — the client must still issue ABORT/ROLLBACK to
// actually undo its writes and release its locks.
func (s *Session) run(fn func(ctx *exec.Context) error) error {
	if s.explicit && s.txn != nil {
		if s.txn.IsAborted() {
			return fmt.Errorf("storageengine: transaction aborted, issue ABORT/ROLLBACK")
		}
		ctx := exec.NewContext(s.eng.cat, s.txn, s.eng.txnMgr, s.eng.wal, s.eng.dm, s.eng.bp)
		if err := fn(ctx); err != nil {
			s.txn.MarkAborted()
			return err
		}
		return nil
	}

	txn, err := s.eng.txnMgr.Begin(false)
	if err != nil {
		return err
	}
	ctx := exec.NewContext(s.eng.cat, txn, s.eng.txnMgr, s.eng.wal, s.eng.dm, s.eng.bp)
	if err := fn(ctx); err != nil {
		if abortErr := s.eng.txnMgr.Abort(txn); abortErr != nil {
			log.WithError(abortErr).Warn("storageengine: auto-commit rollback failed")
		}
		s.eng.lockMgr.ReleaseAll(txn)
		return err
	}
	if err := s.eng.txnMgr.Commit(txn); err != nil {
		return err
	}
	s.eng.lockMgr.ReleaseAll(txn)
	return nil
}
