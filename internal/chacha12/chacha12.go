// Package chacha12 implements the ChaCha12 stream cipher (the standard
// ChaCha core reduced to 12 rounds, i.e. 6 double-rounds) as a seekable
// keystream source for the deterministic environment's PRNG.
//
// No library in the retrieved pack exposes a round-configurable ChaCha
// implementation (golang.org/x/crypto/chacha20 hard-codes 20 rounds), so
// this is a small hand-rolled core grounded directly in the public ChaCha
// algorithm (RFC 8439's quarter-round, with the round count lowered from 20
// to 12) rather than any pack dependency. See the repository's DESIGN.md for
// the full justification.
package chacha12

import (
	"encoding/binary"
	"math/bits"
)

// rounds is the number of ChaCha rounds (two per "double round"); ChaCha12
// runs 6 double-rounds instead of ChaCha20's 10.
const rounds = 12

// StateSize is the length in bytes of the fixed on-disk PRNG state layout:
// a 32-byte key, an 8-byte little-endian block counter, and a 4-byte
// little-endian in-block read position.
const StateSize = 32 + 8 + 4

// sigma is the standard ChaCha constant "expand 32-byte k".
var sigma = [4]uint32{0x61707865, 0x3320646e, 0x79622d32, 0x6b206574}

// Source is a seekable ChaCha12 keystream, used as both the deterministic
// environment's random-number source and the thing whose state a snapshot
// captures byte-for-byte.
type Source struct {
	key     [8]uint32
	counter uint64 // block index of the next block to generate
	block   [64]byte
	pos     int // next unread offset in block; 64 means the block is exhausted
}

// New returns a Source seeded with the given 32-byte key.
func New(seed [32]byte) *Source {
	s := &Source{pos: 64}
	for i := 0; i < 8; i++ {
		s.key[i] = binary.LittleEndian.Uint32(seed[i*4 : i*4+4])
	}
	return s
}

// Read fills p with keystream bytes. It never fails or returns short.
func (s *Source) Read(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		if s.pos >= 64 {
			s.refill()
		}
		k := copy(p, s.block[s.pos:])
		s.pos += k
		p = p[k:]
	}
	return n, nil
}

func (s *Source) refill() {
	s.block = s.blockAt(s.counter)
	s.counter++
	s.pos = 0
}

// blockAt computes the 64-byte ChaCha12 block for the given block counter
// without mutating s.
func (s *Source) blockAt(counter uint64) [64]byte {
	var x [16]uint32
	x[0], x[1], x[2], x[3] = sigma[0], sigma[1], sigma[2], sigma[3]
	copy(x[4:12], s.key[:])
	x[12] = uint32(counter)
	x[13] = uint32(counter >> 32)
	x[14] = 0
	x[15] = 0

	working := x
	for i := 0; i < rounds/2; i++ {
		quarterRound(&working, 0, 4, 8, 12)
		quarterRound(&working, 1, 5, 9, 13)
		quarterRound(&working, 2, 6, 10, 14)
		quarterRound(&working, 3, 7, 11, 15)
		quarterRound(&working, 0, 5, 10, 15)
		quarterRound(&working, 1, 6, 11, 12)
		quarterRound(&working, 2, 7, 8, 13)
		quarterRound(&working, 3, 4, 9, 14)
	}

	var out [64]byte
	for i := 0; i < 16; i++ {
		binary.LittleEndian.PutUint32(out[i*4:i*4+4], working[i]+x[i])
	}
	return out
}

func quarterRound(x *[16]uint32, a, b, c, d int) {
	x[a] += x[b]
	x[d] ^= x[a]
	x[d] = bits.RotateLeft32(x[d], 16)

	x[c] += x[d]
	x[b] ^= x[c]
	x[b] = bits.RotateLeft32(x[b], 12)

	x[a] += x[b]
	x[d] ^= x[a]
	x[d] = bits.RotateLeft32(x[d], 8)

	x[c] += x[d]
	x[b] ^= x[c]
	x[b] = bits.RotateLeft32(x[b], 7)
}

// MarshalState returns the fixed-layout snapshot of s: key, block counter,
// in-block read position.
func (s *Source) MarshalState() [StateSize]byte {
	var out [StateSize]byte
	for i := 0; i < 8; i++ {
		binary.LittleEndian.PutUint32(out[i*4:i*4+4], s.key[i])
	}
	binary.LittleEndian.PutUint64(out[32:40], s.counter)
	binary.LittleEndian.PutUint32(out[40:44], uint32(s.pos))
	return out
}

// UnmarshalState restores s to exactly the state captured by MarshalState,
// including the in-block read position, so the keystream continues
// byte-for-byte where the snapshot was taken.
func (s *Source) UnmarshalState(in [StateSize]byte) {
	for i := 0; i < 8; i++ {
		s.key[i] = binary.LittleEndian.Uint32(in[i*4 : i*4+4])
	}
	s.counter = binary.LittleEndian.Uint64(in[32:40])
	pos := int(binary.LittleEndian.Uint32(in[40:44]))

	if pos >= 64 {
		s.pos = 64
		return
	}
	// s.counter is the index of the next block to generate; the block the
	// saved position refers to was generated one index earlier.
	used := s.counter - 1
	s.block = s.blockAt(used)
	s.counter = used + 1
	s.pos = pos
}
