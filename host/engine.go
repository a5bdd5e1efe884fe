package host

import (
	"context"

	"github.com/jamsocket/wasmbox/env"
)

// Memory is linear-memory access, abstracted the way wapc-go's
// engines/wazero engine wraps wazero's api.Memory — so the message pump and
// snapshot engine in this package never depend on a specific wasm runtime's
// types.
type Memory interface {
	// Size returns the current memory size in bytes.
	Size() uint32
	// Read returns the byteCount bytes starting at offset, or ok=false if
	// that range is out of bounds.
	Read(offset, byteCount uint32) (data []byte, ok bool)
	// Write writes data starting at offset, or returns ok=false if that
	// range is out of bounds.
	Write(offset uint32, data []byte) (ok bool)
	// Grow grows memory by deltaPages 64KiB pages, returning the previous
	// size in pages, or ok=false if the engine refused the growth.
	Grow(deltaPages uint32) (previousPages uint32, ok bool)
}

// CallbackFunc is invoked synchronously, once per wasmbox_callback call the
// guest makes during a wasmbox_send, with the raw encoded output bytes. A
// CallbackFunc that returns an error causes the Engine implementation to
// trap the enclosing guest call: errors during callback decoding propagate
// as traps to the enclosing call.
type CallbackFunc func(ctx context.Context, payload []byte) error

// GuestInstance is one running instantiation of a compiled guest module: its
// five ABI exports, cached, plus its linear memory.
type GuestInstance interface {
	Memory() Memory
	Malloc(ctx context.Context, length uint32) (ptr uint32, err error)
	Free(ctx context.Context, ptr, length uint32) error
	Send(ctx context.Context, ptr, length uint32) error
	Initialize(ctx context.Context) error
	Close(ctx context.Context) error
}

// Module is a compiled guest, ready to be instantiated exactly once by a
// host.Instance: restore overwrites an existing instance's memory rather
// than creating a new one, so a host instance never instantiates its
// module more than once.
type Module interface {
	Instantiate(ctx context.Context) (GuestInstance, error)
	Close(ctx context.Context) error
}

// Engine loads wasm bytes into a Module, wiring in the deterministic
// environment and the host's callback import at load time so every
// instance the resulting Module produces shares them.
type Engine interface {
	// Load parses and compiles wasmBytes directly.
	Load(ctx context.Context, wasmBytes []byte, e *env.DeterministicEnv, cb CallbackFunc) (Module, error)

	// LoadPrecompiled compiles wasmBytes using an engine-native cache
	// rooted at cacheDir, reusing a prior compilation when one is present.
	// Pre-compiled artifacts are tied to the engine version that produced
	// them.
	LoadPrecompiled(ctx context.Context, cacheDir string, wasmBytes []byte, e *env.DeterministicEnv, cb CallbackFunc) (Module, error)
}
