package guest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jamsocket/wasmbox/codec"
)

type fakeResponder struct {
	initErr   error
	handleErr error
	handled   []string
}

func (r *fakeResponder) Initialize() error { return r.initErr }

func (r *fakeResponder) Handle(input string, emit Emit[string]) error {
	r.handled = append(r.handled, input)
	if r.handleErr != nil {
		return r.handleErr
	}
	emit("handled:" + input)
	return nil
}

func TestGlueInitializeSucceeds(t *testing.T) {
	r := &fakeResponder{}
	g := NewSyncGlue[string, string](codec.String(), codec.String(), r)
	require.NotPanics(t, func() { g.Initialize() })
}

func TestGlueInitializePropagatesError(t *testing.T) {
	r := &fakeResponder{initErr: errors.New("boom")}
	g := NewSyncGlue[string, string](codec.String(), codec.String(), r)
	require.PanicsWithValue(t, r.initErr, func() { g.Initialize() })
}

func TestGlueMallocFreeBookkeeping(t *testing.T) {
	g := NewSyncGlue[string, string](codec.String(), codec.String(), &fakeResponder{})

	ptr := g.Malloc(16)
	_, tracked := keepAlive[ptr]
	require.True(t, tracked)

	g.Free(ptr, 16)
	_, stillTracked := keepAlive[ptr]
	require.False(t, stillTracked)
}

func TestResponderHandleErrorIsReturned(t *testing.T) {
	// Send itself can't be exercised off wasm32 (it dereferences a raw
	// pointer into linear memory), so this checks the piece Glue.Send
	// panics on: a Handle error reaching the guest's implementation.
	r := &fakeResponder{handleErr: errors.New("guest failure")}
	err := r.Handle("x", func(string) {})
	require.Error(t, err)
	require.Equal(t, []string{"x"}, r.handled)
}
