package signals_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaadin/flow-sub072/signals"
)

func TestTransactionCommitsTogether(t *testing.T) {
	a := signals.NewValue("a")
	b := signals.NewValue("b")

	var opA *signals.Operation[string]
	err := signals.RunInTransaction(func() error {
		assert.True(t, signals.InTransaction())
		opA = a.Set("a2")
		b.Set("b2")

		assert.Equal(t, "a2", a.Get())
		assert.False(t, opA.IsDone())
		signals.RunWithoutTransaction(func() {
			assert.Equal(t, "a", a.Get())
		})
		return nil
	})
	require.NoError(t, err)
	assert.False(t, signals.InTransaction())

	assert.Equal(t, "a2", a.Peek())
	assert.Equal(t, "b2", b.Peek())
	prev, err := opA.Result()
	require.NoError(t, err)
	assert.Equal(t, "a", prev)
}

func TestTransactionAbortsOnError(t *testing.T) {
	a := signals.NewValue(1)
	boom := errors.New("boom")

	var op *signals.Operation[int]
	err := signals.RunInTransaction(func() error {
		op = a.Set(2)
		return boom
	})
	assert.ErrorIs(t, err, signals.ErrTransactionAborted)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.Peek())

	_, opErr := op.Result()
	assert.ErrorIs(t, opErr, signals.ErrTransactionAborted)
}

func TestTransactionFailedReplaceAbortsEverything(t *testing.T) {
	a := signals.NewValue(1)
	b := signals.NewValue(1)

	err := signals.RunInTransaction(func() error {
		a.Set(5)
		_, err := a.Replace(4, 6).Result()
		assert.ErrorIs(t, err, signals.ErrValueMismatch)
		b.Set(5)
		return nil
	})
	assert.ErrorIs(t, err, signals.ErrTransactionAborted)
	assert.Equal(t, 1, a.Peek())
	assert.Equal(t, 1, b.Peek())
}

func TestTransactionReplaceCheckedAtCommit(t *testing.T) {
	a := signals.NewValue(1)
	b := signals.NewValue(1)

	err := signals.RunInTransaction(func() error {
		b.Set(2)
		a.Replace(1, 2)
		// A concurrent writer changes a before the commit.
		signals.RunWithoutTransaction(func() {
			a.Set(7)
		})
		return nil
	})
	assert.ErrorIs(t, err, signals.ErrTransactionAborted)
	assert.ErrorIs(t, err, signals.ErrValueMismatch)
	assert.Equal(t, 7, a.Peek())
	assert.Equal(t, 1, b.Peek())
}

func TestUpdateBypassesTransaction(t *testing.T) {
	a := signals.NewValue(1)

	err := signals.RunInTransaction(func() error {
		_, err := a.Update(func(v int) int { return v + 1 }).Result()
		require.NoError(t, err)
		signals.RunWithoutTransaction(func() {
			assert.Equal(t, 2, a.Peek())
		})
		return errors.New("rolled back")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, a.Peek())
}

func TestNestedTransactionMergesIntoOuter(t *testing.T) {
	a := signals.NewValue("a")
	b := signals.NewValue("b")

	err := signals.RunInTransaction(func() error {
		a.Set("outer")
		inner := signals.RunInTransaction(func() error {
			assert.Equal(t, "outer", a.Get())
			a.Set("inner")
			b.Set("inner")
			return nil
		})
		require.NoError(t, inner)

		failed := signals.RunInTransaction(func() error {
			b.Set("discarded")
			return errors.New("inner failed")
		})
		assert.Error(t, failed)

		signals.RunWithoutTransaction(func() {
			assert.Equal(t, "a", a.Peek())
		})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "inner", a.Peek())
	assert.Equal(t, "inner", b.Peek())
}

func TestFailedConditionWritesNothing(t *testing.T) {
	a := signals.NewValue("a")
	doubled := signals.Computed(func() string { return a.Get() + a.Get() })
	var seen []string
	b := signals.NewValue("b").WithEquality(func(x, y string) bool {
		seen = append(seen, a.Peek())
		return x == y
	})

	err := signals.RunInTransaction(func() error {
		a.Set("a1")
		b.Replace("other", "b1")
		return nil
	})
	assert.ErrorIs(t, err, signals.ErrTransactionAborted)
	assert.ErrorIs(t, err, signals.ErrValueMismatch)
	assert.Equal(t, []string{"a"}, seen)
	assert.Equal(t, "a", a.Peek())
	assert.Equal(t, "aa", doubled.Get())

	a.Set("a2")
	assert.Equal(t, "a2a2", doubled.Get())
}

func TestRevertedWriteIsSeenAsChange(t *testing.T) {
	a := signals.NewValue("a")
	doubled := signals.Computed(func() string { return a.Get() + a.Get() })
	var midCommit signals.Usage
	calls := 0
	var b *signals.ValueSignal[string]
	b = signals.NewValue("b").WithEquality(func(x, y string) bool {
		calls++
		if calls == 2 {
			// The condition passed its check; a writer outside the
			// transaction gets in before the write to b.
			midCommit = signals.Track(func() { a.Get() })
			assert.Equal(t, "a1a1", doubled.Peek())
			b.Set("intruder")
		}
		return x == y
	})

	err := signals.RunInTransaction(func() error {
		a.Set("a1")
		b.Replace("b", "b1")
		return nil
	})
	assert.ErrorIs(t, err, signals.ErrValueMismatch)
	assert.Equal(t, "a", a.Peek())
	assert.Equal(t, "intruder", b.Peek())

	require.NotNil(t, midCommit)
	assert.True(t, midCommit.HasChanges())
	assert.Equal(t, "aa", doubled.Get())

	a.Set("a2")
	assert.True(t, midCommit.HasChanges())
	assert.Equal(t, "a2a2", doubled.Get())
}

func TestRevertNotifiesListeners(t *testing.T) {
	rt := signals.NewRuntime()
	a := signals.NewValue("a")
	var runs []string
	_, err := signals.NewEffect(rt, func(signals.EffectContext) error {
		runs = append(runs, a.Get())
		return nil
	})
	require.NoError(t, err)

	calls := 0
	var b *signals.ValueSignal[string]
	b = signals.NewValue("b").WithEquality(func(x, y string) bool {
		calls++
		if calls == 2 {
			b.Set("intruder")
		}
		return x == y
	})
	err = signals.RunInTransaction(func() error {
		a.Set("a1")
		b.Replace("b", "b1")
		return nil
	})
	assert.ErrorIs(t, err, signals.ErrTransactionAborted)
	assert.Equal(t, []string{"a", "a"}, runs)
	assert.Equal(t, "a", a.Peek())
}
