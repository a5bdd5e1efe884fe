// Package wazeroengine is the production host.Engine, backed by
// tetratelabs/wazero. It plays the same role wapc-go's engines/wazero
// package plays for waPC: translating a fixed ABI of named exports and one
// host import into wazero's api.Module calls, and wiring a deterministic
// clock and random source into the wasm instance's ModuleConfig instead of
// the ambient ones WASI would otherwise supply.
package wazeroengine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/jamsocket/wasmbox/env"
	"github.com/jamsocket/wasmbox/host"
)

const i32 = api.ValueTypeI32

type engine struct{}

// New returns the host.Engine backed by wazero.
func New() host.Engine { return engine{} }

func (engine) Load(ctx context.Context, wasmBytes []byte, e *env.DeterministicEnv, cb host.CallbackFunc) (host.Module, error) {
	r := wazero.NewRuntime(ctx)
	return newModule(ctx, r, wasmBytes, e, cb)
}

func (engine) LoadPrecompiled(ctx context.Context, cacheDir string, wasmBytes []byte, e *env.DeterministicEnv, cb host.CallbackFunc) (host.Module, error) {
	cache, err := wazero.NewCompilationCacheWithDir(cacheDir)
	if err != nil {
		return nil, err
	}
	rc := wazero.NewRuntimeConfig().WithCompilationCache(cache)
	r := wazero.NewRuntimeWithConfig(ctx, rc)
	return newModule(ctx, r, wasmBytes, e, cb)
}

func newModule(ctx context.Context, r wazero.Runtime, wasmBytes []byte, e *env.DeterministicEnv, cb host.CallbackFunc) (host.Module, error) {
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, err
	}

	if _, err := instantiateCallbackHost(ctx, r, cb); err != nil {
		_ = r.Close(ctx)
		return nil, err
	}

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = r.Close(ctx)
		return nil, err
	}

	cfg := wazero.NewModuleConfig().
		WithWalltime(walltimeFunc(e), sys.ClockResolution(env.WalltimeResolutionNs)).
		WithNanotime(nanotimeFunc(e), sys.ClockResolution(env.NanotimeResolutionNs)).
		WithRandSource(e.RandSource())

	return &module{runtime: r, compiled: compiled, config: cfg}, nil
}

func walltimeFunc(e *env.DeterministicEnv) sys.Walltime {
	return func(context.Context) (int64, int32) { return e.Walltime() }
}

func nanotimeFunc(e *env.DeterministicEnv) sys.Nanotime {
	return func(context.Context) int64 { return e.Nanotime() }
}

// module is a compiled guest plus the ModuleConfig its one instance will use.
type module struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	config   wazero.ModuleConfig
}

func (m *module) Instantiate(ctx context.Context) (host.GuestInstance, error) {
	mod, err := m.runtime.InstantiateModule(ctx, m.compiled, m.config)
	if err != nil {
		return nil, err
	}

	inst := &instance{mod: mod, mem: mod.Memory()}
	for name, slot := range map[string]*api.Function{
		host.ExportMalloc:     &inst.malloc,
		host.ExportFree:       &inst.free,
		host.ExportSend:       &inst.send,
		host.ExportInitialize: &inst.initialize,
	} {
		f := mod.ExportedFunction(name)
		if f == nil {
			_ = mod.Close(ctx)
			return nil, fmt.Errorf("wazeroengine: guest module is missing required export %q", name)
		}
		*slot = f
	}
	return inst, nil
}

func (m *module) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}

// instance adapts one wazero api.Module instantiation to host.GuestInstance.
type instance struct {
	mod api.Module
	mem api.Memory

	malloc     api.Function
	free       api.Function
	send       api.Function
	initialize api.Function
}

func (i *instance) Memory() host.Memory { return memory{i.mem} }

func (i *instance) Malloc(ctx context.Context, length uint32) (uint32, error) {
	results, err := i.malloc.Call(ctx, uint64(length))
	if err != nil {
		return 0, err
	}
	return uint32(results[0]), nil
}

func (i *instance) Free(ctx context.Context, ptr, length uint32) error {
	_, err := i.free.Call(ctx, uint64(ptr), uint64(length))
	return err
}

func (i *instance) Send(ctx context.Context, ptr, length uint32) error {
	_, err := i.send.Call(ctx, uint64(ptr), uint64(length))
	return err
}

func (i *instance) Initialize(ctx context.Context) error {
	_, err := i.initialize.Call(ctx)
	return err
}

func (i *instance) Close(ctx context.Context) error {
	return i.mod.Close(ctx)
}

// memory adapts wazero's api.Memory to host.Memory; the two interfaces were
// shaped to line up one for one so this is a pure forward.
type memory struct{ m api.Memory }

func (m memory) Size() uint32                                 { return m.m.Size() }
func (m memory) Read(offset, byteCount uint32) ([]byte, bool) { return m.m.Read(offset, byteCount) }
func (m memory) Write(offset uint32, data []byte) bool        { return m.m.Write(offset, data) }
func (m memory) Grow(deltaPages uint32) (uint32, bool)        { return m.m.Grow(deltaPages) }

// instantiateCallbackHost exports the single host import the ABI requires:
// env.wasmbox_callback(ptr, len). A decode error from cb traps the call by
// panicking, the same mechanism wapc-go's wazero engine relies on for
// surfacing Go-side errors as wasm traps.
func instantiateCallbackHost(ctx context.Context, r wazero.Runtime, cb host.CallbackFunc) (api.Module, error) {
	return r.NewHostModuleBuilder(host.EnvModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			ptr := uint32(stack[0])
			length := uint32(stack[1])

			payload, ok := mod.Memory().Read(ptr, length)
			if !ok {
				panic(fmt.Errorf("wazeroengine: wasmbox_callback payload out of bounds"))
			}
			buf := make([]byte, len(payload))
			copy(buf, payload)

			if err := cb(ctx, buf); err != nil {
				panic(err)
			}
		}), []api.ValueType{i32, i32}, []api.ValueType{}).
		WithParameterNames("ptr", "len").
		Export(host.ImportCallback).
		Instantiate(ctx)
}
