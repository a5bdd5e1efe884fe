// Package env implements the sandbox's deterministic environment: a
// seeded PRNG and a virtual clock that replace every source of ambient
// non-determinism the guest could otherwise observe. The only real clock it
// exposes to the guest is the monotonic one, anchored at construction and
// read on every Nanotime call: the one non-deterministic leak this package
// tolerates (WASI requires a monotonic source, and a guest that must be
// fully reproducible simply must not read it).
package env

import (
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jamsocket/wasmbox/internal/chacha12"
)

// defaultSeed is the fixed 32-byte constant baked into the host so that runs
// are reproducible by default. This is intentional, not a placeholder, and
// is carried over verbatim so that anyone who already has expected output
// fixtures keeps them.
var defaultSeed = [32]byte{
	228, 89, 231, 220, 224, 20, 162, 27, 133, 157, 88, 214, 45, 102, 132, 24,
	70, 0, 72, 252, 102, 134, 132, 205, 244, 168, 130, 198, 122, 100, 17, 29,
}

// Snapshot is the environment half of a sandbox snapshot: {virtual time,
// PRNG state}.
type Snapshot struct {
	TimeMs uint64
	Rng    [chacha12.StateSize]byte
}

// DeterministicEnv is the sandbox's sole source of time and randomness. The
// virtual-time counter is shared via an atomic so clock probes never need a
// store round trip, and the PRNG is guarded by a mutex so nested
// sandbox-interface calls can't observe a torn keystream.
type DeterministicEnv struct {
	virtualTimeMs atomic.Uint64

	rngMu sync.Mutex
	rng   *chacha12.Source

	monotonicAnchor time.Time
}

// Option configures a DeterministicEnv at construction.
type Option func(*config)

type config struct {
	seed    [32]byte
	startMs uint64
}

// WithSeed overrides the fixed default seed: reusing one seed across
// unrelated instances correlates their random streams unless re-seeded,
// so this is how a caller re-seeds per instance.
func WithSeed(seed [32]byte) Option {
	return func(c *config) { c.seed = seed }
}

// WithStartTime sets the initial virtual time, in milliseconds since epoch.
// Defaults to 0.
func WithStartTime(ms uint64) Option {
	return func(c *config) { c.startMs = ms }
}

// New builds a DeterministicEnv. With no options it uses the documented
// fixed seed and starts virtual time at 0 — never OS entropy, never the
// real wall clock.
func New(opts ...Option) *DeterministicEnv {
	cfg := config{seed: defaultSeed}
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &DeterministicEnv{
		rng:             chacha12.New(cfg.seed),
		monotonicAnchor: time.Now(),
	}
	e.virtualTimeMs.Store(cfg.startMs)
	return e
}

// Now returns EPOCH + the current virtual-time value, as the sandbox's
// system clock does.
func (e *DeterministicEnv) Now() time.Time {
	ms := e.virtualTimeMs.Load()
	return time.UnixMilli(int64(ms)).UTC()
}

// SetTime updates the virtual-time counter. This succeeds even if ms is
// less than the current value — the guest simply observes the new value —
// though operators are expected not to rewind except via restore.
func (e *DeterministicEnv) SetTime(ms uint64) {
	e.virtualTimeMs.Store(ms)
}

// Walltime implements the function signature wazero.ModuleConfig.WithWalltime
// expects: seconds and nanoseconds since epoch, read with relaxed ordering
// from the shared atomic counter.
func (e *DeterministicEnv) Walltime() (sec int64, nsec int32) {
	ms := int64(e.virtualTimeMs.Load())
	return ms / 1000, int32(ms%1000) * 1_000_000
}

// WalltimeResolutionNs is the resolution reported alongside Walltime: 1ms.
const WalltimeResolutionNs = int64(time.Millisecond)

// Nanotime implements the function signature wazero.ModuleConfig.WithNanotime
// expects. It is anchored at DeterministicEnv construction and advances with
// the host's real monotonic clock — the one deliberately tolerated
// non-determinism this package allows. Guests that must be fully
// deterministic must not read it.
func (e *DeterministicEnv) Nanotime() int64 {
	return time.Since(e.monotonicAnchor).Nanoseconds()
}

// NanotimeResolutionNs is the resolution reported alongside Nanotime.
const NanotimeResolutionNs = int64(time.Nanosecond)

// randReader adapts a mutex-guarded DeterministicEnv into an io.Reader
// suitable for wazero.ModuleConfig.WithRandSource, so nested sandbox-random
// calls serialize behind the same lock a direct Rand call would use.
type randReader struct{ e *DeterministicEnv }

func (r randReader) Read(p []byte) (int, error) {
	r.e.rngMu.Lock()
	defer r.e.rngMu.Unlock()
	return r.e.rng.Read(p)
}

// RandSource returns the io.Reader to wire into
// wazero.ModuleConfig.WithRandSource.
func (e *DeterministicEnv) RandSource() io.Reader {
	return randReader{e}
}

// Snapshot captures the environment's current state: virtual time and PRNG
// state, both byte-for-byte.
func (e *DeterministicEnv) Snapshot() Snapshot {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return Snapshot{
		TimeMs: e.virtualTimeMs.Load(),
		Rng:    e.rng.MarshalState(),
	}
}

// Restore resets the environment to a previously captured Snapshot. No
// external state leaks in: virtual time and the PRNG both become exactly
// what they were when the snapshot was taken.
func (e *DeterministicEnv) Restore(s Snapshot) {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	e.virtualTimeMs.Store(s.TimeMs)
	e.rng.UnmarshalState(s.Rng)
}

// EncodeSnapshot appends the fixed on-disk encoding of s (8-byte LE time,
// then the 44-byte ChaCha12 state) to dst.
func EncodeSnapshot(dst []byte, s Snapshot) []byte {
	var timeBuf [8]byte
	binary.LittleEndian.PutUint64(timeBuf[:], s.TimeMs)
	dst = append(dst, timeBuf[:]...)
	dst = append(dst, s.Rng[:]...)
	return dst
}

// DecodeSnapshot reads the fixed on-disk encoding written by EncodeSnapshot
// from the front of src, returning the remaining bytes.
func DecodeSnapshot(src []byte) (Snapshot, []byte, bool) {
	if len(src) < 8+chacha12.StateSize {
		return Snapshot{}, src, false
	}
	var s Snapshot
	s.TimeMs = binary.LittleEndian.Uint64(src[:8])
	copy(s.Rng[:], src[8:8+chacha12.StateSize])
	return s, src[8+chacha12.StateSize:], true
}
