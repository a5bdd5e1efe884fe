package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jamsocket/wasmbox/env"
	"github.com/jamsocket/wasmbox/internal/wazeroengine"
)

// cachedWasmName is where compileCommand copies the source wasm alongside
// the engine-native cache it writes to cacheDir, so runCommand can later
// find both the cache and the bytes it was built from in one directory.
const cachedWasmName = "module.wasm"

var compileCommand = &cobra.Command{
	Use:   "compile <wasm-in> <cache-dir-out>",
	Short: "Precompile a wasm blob into an engine-native cache directory",
	Args:  cobra.ExactArgs(2),
	RunE:  runCompile,
}

// runCompile precompiles a wasm blob: it compiles it to the engine's native
// form and writes it to cacheDir, and executes nothing from it. The produced directory is only valid for the
// tetratelabs/wazero version that produced it.
func runCompile(_ *cobra.Command, args []string) error {
	wasmPath, cacheDir := args[0], args[1]

	wasmBytes, err := os.ReadFile(wasmPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", wasmPath, err)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", cacheDir, err)
	}

	engine := wazeroengine.New()
	mod, err := engine.LoadPrecompiled(context.Background(), cacheDir, wasmBytes, env.New(), noopCallback)
	if err != nil {
		return fmt.Errorf("compiling %s: %w", wasmPath, err)
	}
	defer mod.Close(context.Background())

	cachedWasmPath := filepath.Join(cacheDir, cachedWasmName)
	if err := os.WriteFile(cachedWasmPath, wasmBytes, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", cachedWasmPath, err)
	}

	log.WithField("cacheDir", cacheDir).Info("wasmbox: compiled module")
	return nil
}

func noopCallback(context.Context, []byte) error { return nil }
