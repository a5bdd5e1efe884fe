package host

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jamsocket/wasmbox"
	"github.com/jamsocket/wasmbox/codec"
)

func TestLoadCallsInitializeAndReachesReady(t *testing.T) {
	engine := newFakeEngine(echoBehavior)
	inst, err := Load[string, string](context.Background(), engine, nil, codec.String(), codec.String(), func(string) {})
	require.NoError(t, err)
	require.NotNil(t, inst)
	require.True(t, inst.module.(*fakeGuestInstance).initialized)
	require.Equal(t, stateReady, inst.state)
}

func TestLoadPropagatesInitTrap(t *testing.T) {
	engine := newFakeEngine(echoBehavior)
	engine.failInit = true
	_, err := Load[string, string](context.Background(), engine, nil, codec.String(), codec.String(), func(string) {})
	require.Error(t, err)
	require.True(t, errors.Is(err, wasmbox.ErrInitError))
}

func TestMessageDeliversSingleOutput(t *testing.T) {
	var got []string
	engine := newFakeEngine(echoBehavior)
	inst, err := Load[string, string](context.Background(), engine, nil, codec.String(), codec.String(), func(v string) { got = append(got, v) })
	require.NoError(t, err)

	require.NoError(t, inst.Message(context.Background(), "hello"))
	require.Equal(t, []string{"hello"}, got)
}

func TestMessageOutputsArriveInOrder(t *testing.T) {
	var got []string
	engine := newFakeEngine(fanoutBehavior)
	inst, err := Load[string, string](context.Background(), engine, nil, codec.String(), codec.String(), func(v string) { got = append(got, v) })
	require.NoError(t, err)

	require.NoError(t, inst.Message(context.Background(), "abc"))
	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestMessageAllocTrapPoisonsInstance(t *testing.T) {
	engine := newFakeEngine(echoBehavior)
	engine.failMalloc = true
	inst, err := Load[string, string](context.Background(), engine, nil, codec.String(), codec.String(), func(string) {})
	require.NoError(t, err)

	err = inst.Message(context.Background(), "x")
	require.True(t, errors.Is(err, wasmbox.ErrAllocError))

	err = inst.Message(context.Background(), "y")
	require.True(t, errors.Is(err, wasmbox.ErrInstancePoisoned))
}

func TestMessageSendTrapPoisonsInstance(t *testing.T) {
	engine := newFakeEngine(trappingBehavior)
	inst, err := Load[string, string](context.Background(), engine, nil, codec.String(), codec.String(), func(string) {})
	require.NoError(t, err)

	err = inst.Message(context.Background(), "x")
	require.True(t, errors.Is(err, wasmbox.ErrGuestTrap))

	err = inst.Message(context.Background(), "y")
	require.True(t, errors.Is(err, wasmbox.ErrInstancePoisoned))
}

func TestMessageCallbackDecodeErrorTrapsAndPoisons(t *testing.T) {
	engine := newFakeEngine(badCallbackPayloadBehavior)
	inst, err := Load[string, int](context.Background(), engine, nil, codec.String(), codec.JSON[int](), func(int) {})
	require.NoError(t, err)

	err = inst.Message(context.Background(), "x")
	require.True(t, errors.Is(err, wasmbox.ErrGuestTrap))

	err = inst.Message(context.Background(), "y")
	require.True(t, errors.Is(err, wasmbox.ErrInstancePoisoned))
}

func TestSetTimeRejectedOnPoisonedInstance(t *testing.T) {
	engine := newFakeEngine(trappingBehavior)
	inst, err := Load[string, string](context.Background(), engine, nil, codec.String(), codec.String(), func(string) {})
	require.NoError(t, err)
	require.Error(t, inst.Message(context.Background(), "x"))

	require.True(t, errors.Is(inst.SetTime(10), wasmbox.ErrInstancePoisoned))
}

func TestSnapshotRestoreRoundTripAcrossInstances(t *testing.T) {
	engineA := newFakeEngine(echoBehavior)
	a, err := Load[string, string](context.Background(), engineA, nil, codec.String(), codec.String(), func(string) {})
	require.NoError(t, err)
	require.NoError(t, a.Message(context.Background(), "seed memory"))
	require.NoError(t, a.SetTime(4242))

	var buf bytes.Buffer
	require.NoError(t, a.SnapshotTo(&buf))

	engineB := newFakeEngine(echoBehavior)
	b, err := Load[string, string](context.Background(), engineB, nil, codec.String(), codec.String(), func(string) {})
	require.NoError(t, err)
	require.NoError(t, b.RestoreFrom(bytes.NewReader(buf.Bytes())))

	memA, ok := a.module.Memory().Read(0, a.module.Memory().Size())
	require.True(t, ok)
	memB, ok := b.module.Memory().Read(0, b.module.Memory().Size())
	require.True(t, ok)
	require.Equal(t, memA, memB)
}

func TestRestoreGrowsSmallerInstanceMemory(t *testing.T) {
	engineA := newFakeEngine(echoBehavior)
	a, err := Load[string, string](context.Background(), engineA, nil, codec.String(), codec.String(), func(string) {})
	require.NoError(t, err)
	big := make([]byte, wasmPageSize*3)
	for i := range big {
		big[i] = byte(i)
	}
	a.module.Memory().(*fakeMemory).buf = big

	var buf bytes.Buffer
	require.NoError(t, a.SnapshotTo(&buf))

	engineB := newFakeEngine(echoBehavior)
	b, err := Load[string, string](context.Background(), engineB, nil, codec.String(), codec.String(), func(string) {})
	require.NoError(t, err)
	require.Less(t, b.module.Memory().Size(), uint32(len(big)))

	require.NoError(t, b.RestoreFrom(bytes.NewReader(buf.Bytes())))
	require.GreaterOrEqual(t, b.module.Memory().Size(), uint32(len(big)))
}
