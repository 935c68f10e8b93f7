package flit

import (
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
	"github.com/zeebo/xxh3"
)

// DefaultSeed is the seed used by DefaultHasher.
const DefaultSeed uint64 = 0x9e3779b97f4a7c15

// Hasher produces the two independent 64-bit hash values that probe
// positions are derived from.
//
// Implementations must be deterministic: the same input always yields the
// same (h1, h2) pair. Any seeds are fixed when the Hasher is constructed.
type Hasher interface {
	Sum128(data []byte) (h1, h2 uint64)
	Sum128String(s string) (h1, h2 uint64)
}

// DefaultHasher returns the hasher used by New and NewAtomic.
func DefaultHasher() Hasher {
	return XXH3Hasher{Seed: DefaultSeed}
}

// XXH3Hasher splits a seeded 128-bit xxh3 hash into two halves.
type XXH3Hasher struct {
	Seed uint64
}

func (x XXH3Hasher) Sum128(data []byte) (h1, h2 uint64) {
	h := xxh3.Hash128Seed(data, x.Seed)
	return h.Hi, h.Lo
}

func (x XXH3Hasher) Sum128String(s string) (h1, h2 uint64) {
	h := xxh3.HashString128Seed(s, x.Seed)
	return h.Hi, h.Lo
}

// XXHashHasher computes the 64-bit xxHash of the input twice, once per seed.
// Seed1 and Seed2 must differ or h1 and h2 will be identical.
type XXHashHasher struct {
	Seed1 uint64
	Seed2 uint64
}

func (x XXHashHasher) Sum128(data []byte) (h1, h2 uint64) {
	d := xxhash.NewWithSeed(x.Seed1)
	_, _ = d.Write(data)
	h1 = d.Sum64()

	d.ResetWithSeed(x.Seed2)
	_, _ = d.Write(data)
	return h1, d.Sum64()
}

func (x XXHashHasher) Sum128String(s string) (h1, h2 uint64) {
	d := xxhash.NewWithSeed(x.Seed1)
	_, _ = d.WriteString(s)
	h1 = d.Sum64()

	d.ResetWithSeed(x.Seed2)
	_, _ = d.WriteString(s)
	return h1, d.Sum64()
}

// Murmur3Hasher splits a seeded 128-bit MurmurHash3 into two halves.
type Murmur3Hasher struct {
	Seed uint32
}

func (m Murmur3Hasher) Sum128(data []byte) (h1, h2 uint64) {
	return murmur3.Sum128WithSeed(data, m.Seed)
}

// Sum128String hashes s without copying it.
func (m Murmur3Hasher) Sum128String(s string) (h1, h2 uint64) {
	return murmur3.Sum128WithSeed(unsafe.Slice(unsafe.StringData(s), len(s)), m.Seed)
}
