// Package host implements the host façade: the synchronous message pump
// and snapshot engine wired to a swappable wasm Engine. It never depends
// on a concrete wasm runtime directly — production code wires in
// internal/wazeroengine; tests wire in an in-memory fake that honors the
// same ABI contract.
package host

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jamsocket/wasmbox"
	"github.com/jamsocket/wasmbox/codec"
	"github.com/jamsocket/wasmbox/env"
	"github.com/jamsocket/wasmbox/snapshot"
)

type state int

const (
	stateReady state = iota
	statePoisoned
)

// Sink receives one decoded output value per wasmbox_callback invocation,
// in the order the guest produced them.
type Sink[O any] func(O)

// Instance is one loaded, running wasmbox guest. Input and Output are
// compile-time value types constrained to having a codec.Codec, so the
// host never needs to interpret their contents.
type Instance[I, O any] struct {
	mu sync.Mutex

	module GuestInstance
	env    *env.DeterministicEnv

	codecIn  codec.Codec[I]
	codecOut codec.Codec[O]
	sink     Sink[O]

	state state
	log   *logrus.Logger
}

// Option configures Load/LoadPrecompiled.
type Option func(*options)

type options struct {
	envOpts []env.Option
	logger  *logrus.Logger
}

// WithSeed seeds the instance's deterministic environment. See env.WithSeed.
func WithSeed(seed [32]byte) Option {
	return func(o *options) { o.envOpts = append(o.envOpts, env.WithSeed(seed)) }
}

// WithStartTime sets the instance's initial virtual time, in milliseconds
// since epoch. See env.WithStartTime.
func WithStartTime(ms uint64) Option {
	return func(o *options) { o.envOpts = append(o.envOpts, env.WithStartTime(ms)) }
}

// WithLogger overrides the logrus.Logger used for trap/poison diagnostics.
// Defaults to logrus.StandardLogger().
func WithLogger(l *logrus.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Load loads wasmBytes via engine, installs the deterministic environment
// and callback import, instantiates the guest, and calls its
// wasmbox_initialize export exactly once.
func Load[I, O any](ctx context.Context, engine Engine, wasmBytes []byte, codecIn codec.Codec[I], codecOut codec.Codec[O], sink Sink[O], opts ...Option) (*Instance[I, O], error) {
	return load[I, O](ctx, codecIn, codecOut, sink, opts, func(e *env.DeterministicEnv, cb CallbackFunc) (Module, error) {
		return engine.Load(ctx, wasmBytes, e, cb)
	})
}

// LoadPrecompiled is Load, but sourcing the compiled module from an
// engine-native cache directory rather than recompiling wasmBytes from
// scratch.
func LoadPrecompiled[I, O any](ctx context.Context, engine Engine, cacheDir string, wasmBytes []byte, codecIn codec.Codec[I], codecOut codec.Codec[O], sink Sink[O], opts ...Option) (*Instance[I, O], error) {
	return load[I, O](ctx, codecIn, codecOut, sink, opts, func(e *env.DeterministicEnv, cb CallbackFunc) (Module, error) {
		return engine.LoadPrecompiled(ctx, cacheDir, wasmBytes, e, cb)
	})
}

func load[I, O any](ctx context.Context, codecIn codec.Codec[I], codecOut codec.Codec[O], sink Sink[O], opts []Option, openModule func(*env.DeterministicEnv, CallbackFunc) (Module, error)) (*Instance[I, O], error) {
	var cfg options
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logrus.StandardLogger()
	}

	h := &Instance[I, O]{
		env:      env.New(cfg.envOpts...),
		codecIn:  codecIn,
		codecOut: codecOut,
		sink:     sink,
		log:      cfg.logger,
	}

	mod, err := openModule(h.env, h.deliverCallback)
	if err != nil {
		return nil, wrapLoadError(err)
	}

	inst, err := mod.Instantiate(ctx)
	if err != nil {
		_ = mod.Close(ctx)
		return nil, wrapLoadError(err)
	}
	h.module = inst

	if err := inst.Initialize(ctx); err != nil {
		h.poison("wasmbox_initialize trapped")
		return nil, wrapInitError(err)
	}

	return h, nil
}

// deliverCallback is the CallbackFunc every Engine implementation invokes,
// synchronously, once per wasmbox_callback the guest makes. It decodes the
// payload and forwards it to the sink before wasmbox_callback returns to the
// guest, which is what makes output ordering within one message call exact.
func (h *Instance[I, O]) deliverCallback(_ context.Context, payload []byte) error {
	v, err := h.codecOut.Decode(payload)
	if err != nil {
		return wrapDecodeError(err)
	}
	if h.sink != nil {
		h.sink(v)
	}
	return nil
}

// Message delivers one input to the guest and blocks until every output it
// produces in response has reached the sink: encode, malloc, write, send,
// free. It is non-reentrant: concurrent callers serialize behind the
// instance's mutex rather than being rejected outright.
func (h *Instance[I, O]) Message(ctx context.Context, input I) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == statePoisoned {
		return wasmbox.ErrInstancePoisoned
	}

	encoded, err := h.codecIn.Encode(input)
	if err != nil {
		return wrapEncodeError(err)
	}

	ptr, err := h.module.Malloc(ctx, uint32(len(encoded)))
	if err != nil {
		h.poison("wasmbox_malloc trapped")
		return wrapAllocError(err)
	}
	if ptr == 0 {
		return wasmbox.ErrAllocError
	}

	if !h.module.Memory().Write(ptr, encoded) {
		// The buffer is still live; best-effort free it before failing.
		_ = h.module.Free(ctx, ptr, uint32(len(encoded)))
		return wasmbox.ErrMemoryError
	}

	sendErr := h.module.Send(ctx, ptr, uint32(len(encoded)))

	// Step 5: free on every path, guest error or not, unless the instance
	// is already poisoned (the free itself would be on undefined state).
	if h.state != statePoisoned {
		_ = h.module.Free(ctx, ptr, uint32(len(encoded)))
	}

	if sendErr != nil {
		h.poison("wasmbox_send trapped")
		return wrapGuestTrap(sendErr)
	}
	return nil
}

// SetTime updates the instance's virtual-time counter. See
// env.DeterministicEnv.SetTime.
func (h *Instance[I, O]) SetTime(ms uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == statePoisoned {
		return wasmbox.ErrInstancePoisoned
	}
	h.env.SetTime(ms)
	return nil
}

// SnapshotTo captures the instance's linear memory and deterministic
// environment and writes them to w. Valid only at a quiescent point —
// outside any in-flight Message call — which callers get for free since
// Message holds the same mutex SnapshotTo does.
func (h *Instance[I, O]) SnapshotTo(w io.Writer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == statePoisoned {
		return wasmbox.ErrInstancePoisoned
	}

	mem := h.module.Memory()
	image, ok := mem.Read(0, mem.Size())
	if !ok {
		return wasmbox.ErrMemoryError
	}
	memCopy := make([]byte, len(image))
	copy(memCopy, image)

	return snapshot.Write(w, snapshot.Snapshot{
		Memory: memCopy,
		Env:    h.env.Snapshot(),
	})
}

// RestoreFrom thaws a snapshot captured by SnapshotTo (or by another host
// that loaded the same module) into this running instance: linear memory
// is overwritten byte-for-byte and the environment is reset to the
// snapshot's virtual time and PRNG state. A failed restore poisons the
// instance.
func (h *Instance[I, O]) RestoreFrom(r io.Reader) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == statePoisoned {
		return wasmbox.ErrInstancePoisoned
	}

	snap, err := snapshot.Read(r)
	if err != nil {
		h.poison("restore failed")
		return err
	}

	if err := h.restoreMemory(snap.Memory); err != nil {
		h.poison("restore failed")
		return err
	}

	h.env.Restore(snap.Env)
	return nil
}

const wasmPageSize = 65536

func (h *Instance[I, O]) restoreMemory(want []byte) error {
	mem := h.module.Memory()
	current := mem.Size()

	if uint32(len(want)) > current {
		deltaBytes := uint32(len(want)) - current
		deltaPages := (deltaBytes + wasmPageSize - 1) / wasmPageSize
		if _, ok := mem.Grow(deltaPages); !ok {
			return wasmbox.ErrMemoryError
		}
		current = mem.Size()
	}

	if !mem.Write(0, want) {
		return wasmbox.ErrMemoryError
	}

	// Snapshot is smaller than current memory: re-initialize the excess
	// trailing pages to zero.
	if uint32(len(want)) < current {
		zeros := make([]byte, current-uint32(len(want)))
		if !mem.Write(uint32(len(want)), zeros) {
			return wasmbox.ErrMemoryError
		}
	}
	return nil
}

func (h *Instance[I, O]) poison(reason string) {
	h.state = statePoisoned
	h.log.WithField("reason", reason).Warn("wasmbox: instance poisoned")
}

func wrapLoadError(err error) error   { return wrap(wasmbox.ErrLoadError, err) }
func wrapInitError(err error) error   { return wrap(wasmbox.ErrInitError, err) }
func wrapEncodeError(err error) error { return wrap(wasmbox.ErrEncodeError, err) }
func wrapDecodeError(err error) error { return wrap(wasmbox.ErrDecodeError, err) }
func wrapAllocError(err error) error  { return wrap(wasmbox.ErrAllocError, err) }
func wrapGuestTrap(err error) error   { return wrap(wasmbox.ErrGuestTrap, err) }

func wrap(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return &wasmbox.WrapError{Kind: kind, Cause: cause}
}
