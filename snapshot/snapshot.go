// Package snapshot implements the on-disk format of C6, the snapshot
// engine: a self-describing capture of a guest's linear memory plus its
// deterministic-environment state.
//
// Layout, all integers little-endian:
//
//	4 bytes   magic "WBX1"
//	4 bytes   version (currently 1)
//	4 bytes   memory length N
//	N bytes   memory image
//	8 bytes   virtual time, ms
//	44 bytes  ChaCha12 state (32-byte key + 8-byte counter + 4-byte position)
//
// The blob is self-describing within one engine version but is explicitly
// not a stable cross-version format; Read refuses anything whose magic or
// version don't match with ErrSnapshotVersion.
package snapshot

import (
	"encoding/binary"
	"io"

	"github.com/jamsocket/wasmbox"
	"github.com/jamsocket/wasmbox/env"
)

// Magic identifies a wasmbox snapshot blob.
var Magic = [4]byte{'W', 'B', 'X', '1'}

// Version is the current snapshot format version.
const Version = uint32(1)

// Snapshot is the full capture: a guest's linear memory plus its
// deterministic-environment state.
type Snapshot struct {
	Memory []byte
	Env    env.Snapshot
}

// NewVersionError wraps cause as a snapshot version mismatch, matchable via
// errors.Is(err, wasmbox.ErrSnapshotVersion).
func NewVersionError(cause error) error {
	return &wasmbox.WrapError{Kind: wasmbox.ErrSnapshotVersion, Cause: cause}
}

// NewFormatError wraps cause as a truncated or malformed snapshot, matchable
// via errors.Is(err, wasmbox.ErrSnapshotFormat).
func NewFormatError(cause error) error {
	return &wasmbox.WrapError{Kind: wasmbox.ErrSnapshotFormat, Cause: cause}
}

type errTruncatedEnv struct{}

func (errTruncatedEnv) Error() string { return "truncated environment state" }

// Write serializes s to w in the format documented above.
func Write(w io.Writer, s Snapshot) error {
	var header [12]byte
	copy(header[0:4], Magic[:])
	binary.LittleEndian.PutUint32(header[4:8], Version)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(s.Memory)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(s.Memory) > 0 {
		if _, err := w.Write(s.Memory); err != nil {
			return err
		}
	}

	tail := env.EncodeSnapshot(nil, s.Env)
	_, err := w.Write(tail)
	return err
}

// Read deserializes a Snapshot written by Write, refusing magic/version
// mismatches with a version error and truncated input with a format error.
func Read(r io.Reader) (Snapshot, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Snapshot{}, NewFormatError(err)
	}
	if [4]byte(header[0:4]) != Magic {
		return Snapshot{}, NewVersionError(errBadMagic{got: [4]byte(header[0:4])})
	}
	version := binary.LittleEndian.Uint32(header[4:8])
	if version != Version {
		return Snapshot{}, NewVersionError(errBadVersion{got: version})
	}

	memLen := binary.LittleEndian.Uint32(header[8:12])
	memory := make([]byte, memLen)
	if memLen > 0 {
		if _, err := io.ReadFull(r, memory); err != nil {
			return Snapshot{}, NewFormatError(err)
		}
	}

	var tail [8 + 44]byte
	if _, err := io.ReadFull(r, tail[:]); err != nil {
		return Snapshot{}, NewFormatError(err)
	}
	envSnap, _, ok := env.DecodeSnapshot(tail[:])
	if !ok {
		return Snapshot{}, NewFormatError(errTruncatedEnv{})
	}

	return Snapshot{Memory: memory, Env: envSnap}, nil
}

type errBadMagic struct{ got [4]byte }

func (e errBadMagic) Error() string {
	return "bad magic " + string(e.got[:]) + ", want " + string(Magic[:])
}

type errBadVersion struct{ got uint32 }

func (e errBadVersion) Error() string {
	return "unsupported snapshot version"
}

// ReadLegacyV0 reads the headerless format older deployments may still have
// on disk: a bare memory image with no magic,
// version, or environment state. Callers must opt into this explicitly —
// RestoreFrom never falls back to it automatically, since a bare byte blob
// can't be distinguished from a v1 snapshot with a coincidentally
// magic-shaped prefix without the caller's say-so. The returned Env is the
// zero env.Snapshot, since v0 captured none of the environment.
func ReadLegacyV0(r io.Reader) (Snapshot, error) {
	memory, err := io.ReadAll(r)
	if err != nil {
		return Snapshot{}, NewFormatError(err)
	}
	return Snapshot{Memory: memory}, nil
}
