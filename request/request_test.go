package request

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rwl/blockguard"
)

func TestRequest_HappyPathTransitions(t *testing.T) {
	r := New(Write, blockguard.Range{Start: 0, End: 4096}, []byte("x"))
	assert.Equal(t, Arrived, r.State())

	for _, s := range []State{GuardPending, GuardHeld, AllocPending, Dispatched, BufferPersisted, Appending, Appended, Persisted} {
		require.NoError(t, r.Advance(s))
	}
	require.NoError(t, r.Complete())
	assert.Equal(t, Completed, r.State())
}

func TestRequest_RejectsSkippedState(t *testing.T) {
	r := New(Write, blockguard.Range{Start: 0, End: 4096}, nil)
	err := r.Advance(Dispatched)
	assert.Error(t, err)
	assert.Equal(t, Arrived, r.State())
}

func TestRequest_FailRunsRollbackHooksInLIFOOrder(t *testing.T) {
	r := New(Read, blockguard.Range{Start: 0, End: 4096}, nil)
	require.NoError(t, r.Advance(GuardPending))
	require.NoError(t, r.Advance(GuardHeld))

	var order []int
	r.OnRollback(func() { order = append(order, 1) })
	r.OnRollback(func() { order = append(order, 2) })

	r.Fail(errors.New("boom"))
	assert.Equal(t, []int{2, 1}, order)
	assert.Equal(t, Failed, r.State())
	assert.EqualError(t, r.Err(), "boom")
}

func TestRequest_OnCompleteFiresImmediatelyIfAlreadyTerminal(t *testing.T) {
	r := New(Read, blockguard.Range{Start: 0, End: 4096}, nil)
	r.Fail(errors.New("boom"))

	var got error
	var called bool
	r.OnComplete(func(err error) { called = true; got = err })
	assert.True(t, called)
	assert.EqualError(t, got, "boom")
}

func TestRequest_CompleteBeforePersistedIsRejected(t *testing.T) {
	r := New(Read, blockguard.Range{Start: 0, End: 4096}, nil)
	err := r.Complete()
	assert.Error(t, err)
}

func TestRequest_RollbackHookAfterFailureRunsImmediately(t *testing.T) {
	r := New(Read, blockguard.Range{Start: 0, End: 4096}, nil)
	r.Fail(errors.New("boom"))

	var ran bool
	r.OnRollback(func() { ran = true })
	assert.True(t, ran)
}
