package signals

import (
	"sync"

	"github.com/pkg/errors"
)

// commitMu serializes transaction commits. Writes outside transactions do
// not take it; they race with commits through compare-and-swap and commits
// revalidate what they write.
var commitMu sync.Mutex

// stagedEntry is the pending write to one signal within a transaction.
type stagedEntry interface {
	// apply writes the staged value. It fails if a condition recorded by a
	// Replace no longer holds.
	apply() (notify func(), err error)
	// check reports whether a condition recorded by a Replace fails against
	// the committed value.
	check() error
	// revert undoes an applied write and returns the notification for it,
	// or nil when there is nothing to notify.
	revert() (notify func())
	abort(err error)
	// mergeInto moves the entry to the parent transaction.
	mergeInto(parent *transaction)
}

type transaction struct {
	parent  *transaction
	entries map[any]stagedEntry
	order   []any
	failure error
}

func newTransaction(parent *transaction) *transaction {
	return &transaction{parent: parent, entries: map[any]stagedEntry{}}
}

func (tx *transaction) add(key any, e stagedEntry) {
	tx.entries[key] = e
	tx.order = append(tx.order, key)
}

// fail marks the transaction as doomed. The first failure is kept.
func (tx *transaction) fail(err error) {
	if tx.failure == nil {
		tx.failure = err
	}
}

type staged[T any] struct {
	sig         *ValueSignal[T]
	value       T
	conditional bool
	expected    T
	base        *state[T]
	written     *state[T]
	ops         []*Operation[T]
}

// lookupStaged finds the staged value of sig in tx or its ancestors.
func lookupStaged[T any](tx *transaction, sig *ValueSignal[T]) (*staged[T], bool) {
	for t := tx; t != nil; t = t.parent {
		if e, ok := t.entries[sig]; ok {
			return e.(*staged[T]), true
		}
	}
	return nil, false
}

// entryFor returns the entry of sig in tx itself. A missing entry is created
// from the value visible to tx, which inherited reports as coming from an
// enclosing transaction.
func entryFor[T any](tx *transaction, sig *ValueSignal[T]) (e *staged[T], created, inherited bool) {
	if existing, ok := tx.entries[sig]; ok {
		return existing.(*staged[T]), false, false
	}
	e = &staged[T]{sig: sig}
	if outer, ok := lookupStaged(tx.parent, sig); ok {
		e.value = outer.value
		inherited = true
	} else {
		e.value = sig.state.Load().value
	}
	return e, true, inherited
}

func stageSet[T any](tx *transaction, sig *ValueSignal[T], v T) *Operation[T] {
	e, created, _ := entryFor(tx, sig)
	if created {
		tx.add(sig, e)
	}
	e.value = v
	op := newOperation[T]()
	e.ops = append(e.ops, op)
	return op
}

func stageReplace[T any](tx *transaction, sig *ValueSignal[T], expected, v T) *Operation[T] {
	e, created, inherited := entryFor(tx, sig)
	switch {
	case created && !inherited:
		// Nothing staged anywhere: the condition is checked against the
		// committed value when the transaction commits.
		e.conditional = true
		e.expected = expected
	case !sig.equal(e.value, expected):
		tx.fail(ErrValueMismatch)
		return resolvedOperation(e.value, ErrValueMismatch)
	}
	if created {
		tx.add(sig, e)
	}
	e.value = v
	op := newOperation[T]()
	e.ops = append(e.ops, op)
	return op
}

func (e *staged[T]) apply() (func(), error) {
	for {
		old := e.sig.state.Load()
		if e.conditional && !e.sig.equal(old.value, e.expected) {
			return nil, ErrValueMismatch
		}
		e.base = old
		if e.sig.equal(old.value, e.value) {
			e.written = nil
			return func() { e.resolve(old.value) }, nil
		}
		next := &state[T]{value: e.value, version: old.version + 1}
		if e.sig.state.CompareAndSwap(old, next) {
			e.written = next
			return func() {
				e.sig.notify(next.version)
				e.resolve(old.value)
			}, nil
		}
	}
}

func (e *staged[T]) check() error {
	if e.conditional && !e.sig.equal(e.sig.state.Load().value, e.expected) {
		return ErrValueMismatch
	}
	return nil
}

// revert undoes an applied write, unless someone else has written since.
// The restored value gets a new version, so anything that read the reverted
// value sees a change.
func (e *staged[T]) revert() func() {
	written := e.written
	if written == nil {
		return nil
	}
	e.written = nil
	restored := &state[T]{value: e.base.value, version: written.version + 1}
	if !e.sig.state.CompareAndSwap(written, restored) {
		return nil
	}
	return func() {
		e.sig.notify(restored.version)
	}
}

func (e *staged[T]) resolve(previous T) {
	for _, op := range e.ops {
		op.resolve(previous, nil)
	}
}

func (e *staged[T]) abort(err error) {
	var zero T
	for _, op := range e.ops {
		op.resolve(zero, err)
	}
}

func (e *staged[T]) mergeInto(parent *transaction) {
	if existing, ok := parent.entries[e.sig]; ok {
		p := existing.(*staged[T])
		p.value = e.value
		p.ops = append(p.ops, e.ops...)
		return
	}
	parent.add(e.sig, e)
}

// RunInTransaction runs fn with every Set and Replace staged instead of
// applied. If fn returns nil, the staged writes are applied together and
// listeners are notified once all of them are in place. If fn returns an
// error or a Replace fails, nothing is applied and the error is returned
// wrapped with ErrTransactionAborted.
//
// Reads inside fn see the staged values. Update calls bypass the
// transaction. A transaction started inside another one is merged into the
// outer one when it succeeds.
func RunInTransaction(fn func() error) error {
	parent := currentTransaction()
	tx := newTransaction(parent)

	err := func() error {
		setTransaction(tx)
		defer setTransaction(parent)
		return fn()
	}()
	if err == nil {
		err = tx.failure
	}
	if err != nil {
		tx.abortAll(err)
		return errors.Wrap(joinAbort(err), "transaction")
	}

	if parent != nil {
		for _, key := range tx.order {
			tx.entries[key].mergeInto(parent)
		}
		return nil
	}
	return tx.commit()
}

// commit checks every Replace condition before writing anything. A writer
// outside transactions can still break a condition between the check and
// the write; the writes already made are then reverted.
func (tx *transaction) commit() error {
	commitMu.Lock()
	for _, key := range tx.order {
		if err := tx.entries[key].check(); err != nil {
			commitMu.Unlock()
			tx.abortAll(err)
			return errors.Wrap(joinAbort(err), "transaction commit")
		}
	}

	notifiers := make([]func(), 0, len(tx.order))
	for i, key := range tx.order {
		notify, err := tx.entries[key].apply()
		if err != nil {
			var reverted []func()
			for j := i - 1; j >= 0; j-- {
				if n := tx.entries[tx.order[j]].revert(); n != nil {
					reverted = append(reverted, n)
				}
			}
			commitMu.Unlock()
			for _, n := range reverted {
				n()
			}
			tx.abortAll(err)
			return errors.Wrap(joinAbort(err), "transaction commit")
		}
		notifiers = append(notifiers, notify)
	}
	commitMu.Unlock()

	for _, notify := range notifiers {
		notify()
	}
	return nil
}

func (tx *transaction) abortAll(err error) {
	aborted := joinAbort(err)
	for _, key := range tx.order {
		tx.entries[key].abort(aborted)
	}
}

func joinAbort(err error) error {
	if errors.Is(err, ErrTransactionAborted) {
		return err
	}
	return &abortError{cause: err}
}

type abortError struct {
	cause error
}

func (e *abortError) Error() string {
	return ErrTransactionAborted.Error() + ": " + e.cause.Error()
}

func (e *abortError) Is(target error) bool {
	return target == ErrTransactionAborted
}

func (e *abortError) Unwrap() error {
	return e.cause
}

// RunWithoutTransaction runs fn outside of any active transaction.
func RunWithoutTransaction(fn func()) {
	prev := setTransaction(nil)
	defer setTransaction(prev)
	fn()
}

// InTransaction reports whether a transaction is active.
func InTransaction() bool {
	return currentTransaction() != nil
}
