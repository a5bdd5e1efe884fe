package host

import (
	"context"
	"errors"

	"github.com/jamsocket/wasmbox/env"
)

// fakeMemory is an in-process stand-in for a wasm linear memory, used so
// host's own tests can exercise the message pump and snapshot engine
// without compiling a real guest module, which is out of scope for this
// repository.
type fakeMemory struct{ buf []byte }

func (m *fakeMemory) Size() uint32 { return uint32(len(m.buf)) }

func (m *fakeMemory) Read(offset, byteCount uint32) ([]byte, bool) {
	end := uint64(offset) + uint64(byteCount)
	if end > uint64(len(m.buf)) {
		return nil, false
	}
	out := make([]byte, byteCount)
	copy(out, m.buf[offset:end])
	return out, true
}

func (m *fakeMemory) Write(offset uint32, data []byte) bool {
	end := uint64(offset) + uint64(len(data))
	if end > uint64(len(m.buf)) {
		return false
	}
	copy(m.buf[offset:end], data)
	return true
}

func (m *fakeMemory) Grow(deltaPages uint32) (uint32, bool) {
	previousPages := uint32(len(m.buf)) / wasmPageSize
	m.buf = append(m.buf, make([]byte, uint64(deltaPages)*wasmPageSize)...)
	return previousPages, true
}

// fakeBehavior is the guest-side logic a test wires into a fakeGuestInstance:
// given the bytes the host wrote for one wasmbox_send call, it may invoke cb
// any number of times before returning, mirroring what a real guest's
// wasmbox_send export does.
type fakeBehavior func(ctx context.Context, input []byte, cb CallbackFunc) error

var errFakeTrap = errors.New("fake guest trap")

type fakeGuestInstance struct {
	mem         *fakeMemory
	cb          CallbackFunc
	behavior    fakeBehavior
	bump        uint32
	live        map[uint32]uint32
	initialized bool
	closed      bool

	failMalloc bool
	failInit   bool
}

func newFakeGuestInstance(cb CallbackFunc, behavior fakeBehavior) *fakeGuestInstance {
	return &fakeGuestInstance{
		mem:      &fakeMemory{buf: make([]byte, wasmPageSize)},
		cb:       cb,
		behavior: behavior,
		bump:     8,
		live:     map[uint32]uint32{},
	}
}

func (g *fakeGuestInstance) Memory() Memory { return g.mem }

func (g *fakeGuestInstance) Malloc(_ context.Context, length uint32) (uint32, error) {
	if g.failMalloc {
		return 0, errFakeTrap
	}
	for uint64(g.bump)+uint64(length) > uint64(len(g.mem.buf)) {
		g.mem.buf = append(g.mem.buf, make([]byte, wasmPageSize)...)
	}
	ptr := g.bump
	g.bump += length
	g.live[ptr] = length
	return ptr, nil
}

func (g *fakeGuestInstance) Free(_ context.Context, ptr, length uint32) error {
	if got, ok := g.live[ptr]; !ok || got != length {
		return errFakeTrap
	}
	delete(g.live, ptr)
	return nil
}

func (g *fakeGuestInstance) Send(ctx context.Context, ptr, length uint32) error {
	input, ok := g.mem.Read(ptr, length)
	if !ok {
		return errFakeTrap
	}
	return g.behavior(ctx, input, g.cb)
}

func (g *fakeGuestInstance) Initialize(context.Context) error {
	if g.failInit {
		return errFakeTrap
	}
	g.initialized = true
	return nil
}

func (g *fakeGuestInstance) Close(context.Context) error {
	g.closed = true
	return nil
}

type fakeModule struct {
	behavior   fakeBehavior
	failMalloc bool
	failInit   bool
	instance   *fakeGuestInstance
}

func (m *fakeModule) Instantiate(_ context.Context) (GuestInstance, error) {
	inst := newFakeGuestInstance(m.instance.cb, m.behavior)
	inst.failMalloc = m.failMalloc
	inst.failInit = m.failInit
	m.instance = inst
	return inst, nil
}

func (m *fakeModule) Close(context.Context) error { return nil }

// fakeEngine is the Engine test double. It never touches a wasm runtime;
// wasmBytes is ignored, and every Module it loads runs the behavior a test
// registered via newFakeEngine.
type fakeEngine struct {
	behavior   fakeBehavior
	failLoad   bool
	failMalloc bool
	failInit   bool
}

func newFakeEngine(behavior fakeBehavior) *fakeEngine {
	return &fakeEngine{behavior: behavior}
}

func (e *fakeEngine) Load(_ context.Context, _ []byte, _ *env.DeterministicEnv, cb CallbackFunc) (Module, error) {
	if e.failLoad {
		return nil, errFakeTrap
	}
	return &fakeModule{
		behavior:   e.behavior,
		failMalloc: e.failMalloc,
		failInit:   e.failInit,
		instance:   &fakeGuestInstance{cb: cb},
	}, nil
}

func (e *fakeEngine) LoadPrecompiled(ctx context.Context, _ string, wasmBytes []byte, d *env.DeterministicEnv, cb CallbackFunc) (Module, error) {
	return e.Load(ctx, wasmBytes, d, cb)
}

// echoBehavior is a fakeBehavior that calls cb once with the exact bytes it
// received, simulating an echo-style example guest.
func echoBehavior(ctx context.Context, input []byte, cb CallbackFunc) error {
	return cb(ctx, input)
}

// fanoutBehavior calls cb once per byte in input, each call carrying that
// single byte, to exercise output-ordering guarantees.
func fanoutBehavior(ctx context.Context, input []byte, cb CallbackFunc) error {
	for _, b := range input {
		if err := cb(ctx, []byte{b}); err != nil {
			return err
		}
	}
	return nil
}

// trappingBehavior always fails the send, simulating a guest panic.
func trappingBehavior(context.Context, []byte, CallbackFunc) error {
	return errFakeTrap
}

// badCallbackPayloadBehavior sends bytes a test's codec can't decode, to
// exercise callback-decode-error-becomes-trap propagation.
func badCallbackPayloadBehavior(ctx context.Context, _ []byte, cb CallbackFunc) error {
	return cb(ctx, []byte{0xff, 0xff, 0xff, 0xff})
}
