package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jamsocket/wasmbox/codec"
	"github.com/jamsocket/wasmbox/host"
	"github.com/jamsocket/wasmbox/internal/wazeroengine"
)

var runFreezeTime bool

var runCommand = &cobra.Command{
	Use:   "run [--freeze-time] [<compiled-module-dir>|<wasm-file>]",
	Short: "Drive a guest instance from a newline-delimited stdin protocol",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	runCommand.Flags().BoolVar(&runFreezeTime, "freeze-time", false, "do not advance virtual time to wall-clock before each message")
}

// runRun drives a guest instance from stdin: each line is either a
// message passed straight to the guest, or one of !!snapshot,
// !!restore <file>, !!clock [<ms>]. Decoded guest outputs print to stdout,
// one per line.
func runRun(_ *cobra.Command, args []string) error {
	ctx := context.Background()
	target := args[0]

	engine := wazeroengine.New()
	sink := func(v string) { fmt.Println(v) }

	inst, err := loadTarget(ctx, engine, target, sink)
	if err != nil {
		return fmt.Errorf("loading %s: %w", target, err)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "!!snapshot":
			if err := takeSnapshot(inst); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		case strings.HasPrefix(line, "!!restore "):
			file := strings.TrimSpace(strings.TrimPrefix(line, "!!restore "))
			if err := restoreSnapshot(inst, file); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		case line == "!!clock" || strings.HasPrefix(line, "!!clock "):
			if err := setClock(inst, line); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		default:
			if !runFreezeTime {
				if err := inst.SetTime(uint64(time.Now().UnixMilli())); err != nil {
					fmt.Fprintln(os.Stderr, err)
					continue
				}
			}
			if err := inst.Message(ctx, line); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		}
	}
	return scanner.Err()
}

// loadTarget dispatches on whether target is a precompiled-cache directory
// (written by compileCommand, holding cachedWasmName alongside the engine's
// native cache) or a raw wasm file.
func loadTarget(ctx context.Context, engine host.Engine, target string, sink host.Sink[string]) (*host.Instance[string, string], error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, err
	}

	if info.IsDir() {
		wasmPath := filepath.Join(target, cachedWasmName)
		wasmBytes, err := os.ReadFile(wasmPath)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", wasmPath, err)
		}
		return host.LoadPrecompiled[string, string](ctx, engine, target, wasmBytes, codec.String(), codec.String(), sink)
	}

	wasmBytes, err := os.ReadFile(target)
	if err != nil {
		return nil, err
	}
	return host.Load[string, string](ctx, engine, wasmBytes, codec.String(), codec.String(), sink)
}

func takeSnapshot(inst *host.Instance[string, string]) error {
	name := fmt.Sprintf("%d-%s.wbxsnap", time.Now().UnixMilli(), uuid.NewString())
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("creating snapshot file: %w", err)
	}
	defer f.Close()

	if err := inst.SnapshotTo(f); err != nil {
		return fmt.Errorf("snapshotting: %w", err)
	}
	log.WithField("file", name).Info("wasmbox: wrote snapshot")
	return nil
}

func restoreSnapshot(inst *host.Instance[string, string], file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("opening snapshot file: %w", err)
	}
	defer f.Close()

	if err := inst.RestoreFrom(f); err != nil {
		return fmt.Errorf("restoring %s: %w", file, err)
	}
	log.WithField("file", file).Info("wasmbox: restored snapshot")
	return nil
}

func setClock(inst *host.Instance[string, string], line string) error {
	arg := strings.TrimSpace(strings.TrimPrefix(line, "!!clock"))
	ms := uint64(time.Now().UnixMilli())
	if arg != "" {
		parsed, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing !!clock argument %q: %w", arg, err)
		}
		ms = parsed
	}
	return inst.SetTime(ms)
}
