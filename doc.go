// Package flit provides bloom filters built on double hashing.
//
// A bloom filter is a space-efficient probabilistic data structure that tests
// whether an element is a member of a set. False positive matches are possible,
// but false negatives are not – if the filter says an element is not present,
// it definitely is not. If it says an element might be present, it could be a
// false positive.
//
// # Architecture
//
// Each filter owns a fixed array of m bits and sets k of them per item. The
// array is never resized or cleared, so a bit once set stays set; that is
// what rules out false negatives.
//
// Double hashing: Instead of computing k independent hash functions, flit
// hashes each item once into two 64-bit values h1 and h2 and derives the k
// probe positions as
//
//	position_i = (h1 + i*h2) mod m,  i = 0..k-1
//
// Kirsch and Mitzenmacher showed this behaves, for false positive analysis,
// like k independent uniform hash functions.
//
// # Hashers
//
// The hash pair comes from a [Hasher]. Three are provided:
//
//   - [XXH3Hasher] splits a seeded 128-bit xxh3 hash (the default, see
//     [DefaultHasher])
//   - [XXHashHasher] runs 64-bit xxHash with two different seeds
//   - [Murmur3Hasher] splits a seeded 128-bit MurmurHash3
//
// A hasher's seeds are fixed when it is constructed. Two filters with the same
// parameters and the same hasher that see the same adds hold identical bits.
//
// # Implementations
//
// [Filter] is the fastest option for single-threaded workloads and the only
// one that can be serialized with [Filter.MarshalBinary].
//
// [AtomicFilter] provides thread-safety using lock-free atomic operations.
// Multiple goroutines can safely call Add and Test concurrently.
//
// [ShardedAtomicFilter] distributes keys across multiple independent shards
// to reduce contention under heavy parallel writes.
//
// # Choosing Parameters
//
// Use [New] with your expected number of items and desired false positive rate:
//
//	// Filter for 10,000 items with 1% false positive rate
//	f, err := flit.New(10_000, 0.01)
//
// The sizes follow the standard formulas:
//
//	m = ceil(-n * ln(p) / (ln(2))²)
//	k = round(m / n * ln(2))
//
// For 10,000 items at 1% this gives m = 95851 bits and k = 7. [New] fails if
// the rate is not strictly between 0 and 1 or the item count is zero. Use
// [NewWithParams] to choose m and k directly.
//
// Adding more items than the filter was sized for raises the false positive
// rate above the target. Use [Filter.EstimatedFalsePositiveRate] to monitor it.
//
// # Thread Safety
//
// [Filter] is NOT thread-safe. Use external synchronization or choose
// [AtomicFilter] or [ShardedAtomicFilter] for concurrent access.
//
// # References
//
//   - Less Hashing, Same Performance: https://www.eecs.harvard.edu/~michaelm/postscripts/rsa2008.pdf
//   - Bloom filter calculator: https://hur.st/bloomfilter/
package flit
