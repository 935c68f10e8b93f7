package flit

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/bits-and-blooms/bitset"
)

// cacheLineSize is the size of a CPU cache line in bytes.
const cacheLineSize = 64

// Filter is a non-thread-safe bloom filter over an m bit array.
//
// Each item is hashed once into two 64-bit values h1 and h2, and the k probe
// positions are derived by double hashing: position_i = (h1 + i*h2) mod m.
type Filter struct {
	bits   *bitset.BitSet // m bits, only ever set, never cleared
	m      uint64         // Number of bits
	k      uint32         // Number of probes per item
	hasher Hasher         // Fixed for the filter's lifetime
	count  uint64         // Number of items added (approximate)
}

// New creates a new bloom filter sized for the expected number of items and
// desired false positive rate, using DefaultHasher.
//
// It returns an error if expectedItems is zero or fpRate is not strictly
// between 0 and 1.
func New(expectedItems uint64, fpRate float64) (*Filter, error) {
	return NewWithHasher(expectedItems, fpRate, nil)
}

// NewWithHasher is like New but derives probe positions from h.
// A nil h selects DefaultHasher.
func NewWithHasher(expectedItems uint64, fpRate float64, h Hasher) (*Filter, error) {
	m, k, err := OptimalParams(expectedItems, fpRate)
	if err != nil {
		return nil, err
	}
	return NewWithParams(m, k, h), nil
}

// NewWithParams creates a new bloom filter with explicit parameters.
// m is the number of bits and k the number of probes per item. Zero values
// are raised to 1 and m is capped at MaxBits. A nil h selects DefaultHasher.
func NewWithParams(m uint64, k uint32, h Hasher) *Filter {
	m, k, h = normalizeParams(m, k, h)

	return &Filter{
		bits:   bitset.New(uint(m)),
		m:      m,
		k:      k,
		hasher: h,
	}
}

func normalizeParams(m uint64, k uint32, h Hasher) (uint64, uint32, Hasher) {
	m = min(max(m, 1), MaxBits)
	k = max(k, 1)
	if h == nil {
		h = DefaultHasher()
	}
	return m, k, h
}

// Add adds data to the bloom filter.
func (f *Filter) Add(data []byte) {
	h1, h2 := f.hasher.Sum128(data)
	f.addWithHash(h1, h2)
}

// AddString adds a string to the bloom filter.
func (f *Filter) AddString(s string) {
	h1, h2 := f.hasher.Sum128String(s)
	f.addWithHash(h1, h2)
}

// addWithHash sets the k probe bits for a pre-computed hash pair.
func (f *Filter) addWithHash(h1, h2 uint64) {
	// (h1 + i*h2) mod m, stepped incrementally so nothing exceeds 2m.
	pos, step := h1%f.m, h2%f.m
	for i := uint32(0); i < f.k; i++ {
		f.bits.Set(uint(pos))
		pos += step
		if pos >= f.m {
			pos -= f.m
		}
	}

	f.count++
}

// Test checks if data might be in the bloom filter.
// Returns true if the data might be present (with false positive probability),
// or false if the data is definitely not present.
func (f *Filter) Test(data []byte) bool {
	h1, h2 := f.hasher.Sum128(data)
	return f.testWithHash(h1, h2)
}

// TestString checks if a string might be in the bloom filter.
func (f *Filter) TestString(s string) bool {
	h1, h2 := f.hasher.Sum128String(s)
	return f.testWithHash(h1, h2)
}

func (f *Filter) testWithHash(h1, h2 uint64) bool {
	pos, step := h1%f.m, h2%f.m
	for i := uint32(0); i < f.k; i++ {
		if !f.bits.Test(uint(pos)) {
			return false
		}
		pos += step
		if pos >= f.m {
			pos -= f.m
		}
	}

	return true
}

// TestAndAdd reports whether data might already have been present, then adds it.
func (f *Filter) TestAndAdd(data []byte) bool {
	h1, h2 := f.hasher.Sum128(data)
	present := f.testWithHash(h1, h2)
	f.addWithHash(h1, h2)
	return present
}

// TestAndAddString is the string form of TestAndAdd.
func (f *Filter) TestAndAddString(s string) bool {
	h1, h2 := f.hasher.Sum128String(s)
	present := f.testWithHash(h1, h2)
	f.addWithHash(h1, h2)
	return present
}

// M returns the size of the bit array.
func (f *Filter) M() uint64 {
	return f.m
}

// K returns the number of probes per item.
func (f *Filter) K() uint32 {
	return f.k
}

// Count returns the approximate number of items added to the filter.
func (f *Filter) Count() uint64 {
	return f.count
}

// Hasher returns the hasher the filter was built with.
func (f *Filter) Hasher() Hasher {
	return f.hasher
}

// SetBits returns the number of bits currently set.
func (f *Filter) SetBits() uint64 {
	return uint64(f.bits.Count())
}

// EstimatedFillRatio estimates the proportion of bits that are set.
func (f *Filter) EstimatedFillRatio() float64 {
	return float64(f.SetBits()) / float64(f.m)
}

// EstimatedFalsePositiveRate estimates the current false positive rate
// based on the number of items added.
func (f *Filter) EstimatedFalsePositiveRate() float64 {
	return EstimateFalsePositiveRate(f.m, f.k, f.count)
}

// Serialization constants and errors.
const (
	// serializeVersion is the current serialization format version.
	serializeVersion byte = 1

	// headerSize is the size of the serialization header in bytes.
	// Version (1) + K (4) + M (8) + Count (8) = 21 bytes
	headerSize = 21
)

var (
	// ErrInvalidData is returned when the serialized data is invalid or corrupted.
	ErrInvalidData = errors.New("flit: invalid serialized data")

	// ErrUnsupportedVersion is returned when the serialization version is not supported.
	ErrUnsupportedVersion = errors.New("flit: unsupported serialization version")

	// ErrInvalidK is returned when the k value in serialized data is zero.
	ErrInvalidK = errors.New("flit: invalid k value in serialized data")
)

// wordsFor returns the number of 64-bit words backing m bits.
func wordsFor(m uint64) uint64 {
	return (m + 63) / 64
}

// MarshalBinary serializes the bloom filter to a byte slice.
// The serialized format is:
//   - Version (1 byte): serialization format version
//   - K (4 bytes): number of probes (little-endian uint32)
//   - M (8 bytes): number of bits (little-endian uint64)
//   - Count (8 bytes): number of items added (little-endian uint64)
//   - Words (ceil(M/64) * 8 bytes): the bit array (little-endian uint64s)
//
// The hasher is not serialized. Pass an identically seeded Hasher to
// UnmarshalBinary or lookups will not find previously added items.
func (f *Filter) MarshalBinary() ([]byte, error) {
	words := f.bits.Words()
	numWords := wordsFor(f.m)

	buf := make([]byte, headerSize+numWords*8)

	buf[0] = serializeVersion
	binary.LittleEndian.PutUint32(buf[1:5], f.k)
	binary.LittleEndian.PutUint64(buf[5:13], f.m)
	binary.LittleEndian.PutUint64(buf[13:21], f.count)

	offset := headerSize
	for i := range numWords {
		binary.LittleEndian.PutUint64(buf[offset:offset+8], words[i])
		offset += 8
	}

	return buf, nil
}

// UnmarshalBinary deserializes a bloom filter from a byte slice produced by
// MarshalBinary. h must hash exactly like the writer's hasher; nil selects
// DefaultHasher. Returns an error if the data is invalid or corrupted.
func UnmarshalBinary(data []byte, h Hasher) (*Filter, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: data too short (got %d bytes, need at least %d)", ErrInvalidData, len(data), headerSize)
	}

	version := data[0]
	if version != serializeVersion {
		return nil, fmt.Errorf("%w: got version %d, expected %d", ErrUnsupportedVersion, version, serializeVersion)
	}

	k := binary.LittleEndian.Uint32(data[1:5])
	m := binary.LittleEndian.Uint64(data[5:13])
	count := binary.LittleEndian.Uint64(data[13:21])

	if k == 0 {
		return nil, fmt.Errorf("%w: k cannot be zero", ErrInvalidK)
	}
	if m == 0 {
		return nil, fmt.Errorf("%w: m cannot be zero", ErrInvalidData)
	}
	if m > MaxBits {
		return nil, fmt.Errorf("%w: m too large (%d)", ErrInvalidData, m)
	}

	// Safe from overflow now that m is bounded.
	numWords := wordsFor(m)
	expectedTotalLen := headerSize + numWords*8
	if uint64(len(data)) != expectedTotalLen {
		return nil, fmt.Errorf("%w: data length mismatch (got %d bytes, expected %d)", ErrInvalidData, len(data), expectedTotalLen)
	}

	f := NewWithParams(m, k, h)
	f.count = count

	words := f.bits.Words()
	offset := headerSize
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(data[offset : offset+8])
		offset += 8
	}

	// Bits past m in the final word are never set by Add.
	if tail := m % 64; tail != 0 && words[len(words)-1]>>tail != 0 {
		return nil, fmt.Errorf("%w: bits set beyond m=%d", ErrInvalidData, m)
	}

	return f, nil
}

// AtomicFilter is a thread-safe bloom filter using atomic operations.
// It uses the same double hashing scheme as Filter but stores the bit
// array as atomic.Uint64 words.
//
// Bits are only ever set, so a Test that runs after an Add has returned
// always observes every bit that Add set.
type AtomicFilter struct {
	raw    []byte          // Raw allocation to keep aligned memory alive for GC
	words  []atomic.Uint64 // ceil(m/64) words, cache-line aligned
	m      uint64          // Number of bits
	k      uint32          // Number of probes per item
	hasher Hasher          // Fixed for the filter's lifetime
	count  atomic.Uint64   // Number of items added (approximate)
}

// NewAtomic creates a new thread-safe bloom filter sized for the expected
// number of items and desired false positive rate, using DefaultHasher.
func NewAtomic(expectedItems uint64, fpRate float64) (*AtomicFilter, error) {
	return NewAtomicWithHasher(expectedItems, fpRate, nil)
}

// NewAtomicWithHasher is like NewAtomic but derives probe positions from h.
func NewAtomicWithHasher(expectedItems uint64, fpRate float64, h Hasher) (*AtomicFilter, error) {
	m, k, err := OptimalParams(expectedItems, fpRate)
	if err != nil {
		return nil, err
	}
	return NewAtomicWithParams(m, k, h), nil
}

// NewAtomicWithParams creates a new thread-safe bloom filter with explicit parameters.
func NewAtomicWithParams(m uint64, k uint32, h Hasher) *AtomicFilter {
	m, k, h = normalizeParams(m, k, h)

	raw, words := makeAlignedAtomicUint64Slice(int(wordsFor(m)))

	return &AtomicFilter{
		raw:    raw,
		words:  words,
		m:      m,
		k:      k,
		hasher: h,
	}
}

// makeAlignedAtomicUint64Slice allocates a cache-line aligned slice of atomic.Uint64.
// Returns the raw byte slice (to keep alive for GC) and the aligned atomic slice.
func makeAlignedAtomicUint64Slice(n int) ([]byte, []atomic.Uint64) {
	// atomic.Uint64 is the same size as uint64 (8 bytes)
	const atomicSize = 8
	// Allocate with extra space for alignment
	raw := make([]byte, n*atomicSize+cacheLineSize-1)
	addr := uintptr(unsafe.Pointer(&raw[0]))
	offset := (cacheLineSize - int(addr%cacheLineSize)) % cacheLineSize
	aligned := unsafe.Slice((*atomic.Uint64)(unsafe.Pointer(&raw[offset])), n)
	return raw, aligned
}

// Add adds data to the bloom filter atomically.
func (f *AtomicFilter) Add(data []byte) {
	h1, h2 := f.hasher.Sum128(data)
	f.addWithHash(h1, h2)
}

// AddString adds a string to the bloom filter atomically.
func (f *AtomicFilter) AddString(s string) {
	h1, h2 := f.hasher.Sum128String(s)
	f.addWithHash(h1, h2)
}

func (f *AtomicFilter) addWithHash(h1, h2 uint64) {
	pos, step := h1%f.m, h2%f.m
	for i := uint32(0); i < f.k; i++ {
		f.words[pos/64].Or(uint64(1) << (pos % 64))
		pos += step
		if pos >= f.m {
			pos -= f.m
		}
	}

	f.count.Add(1)
}

// Test checks if data might be in the bloom filter.
// This operation is safe to call concurrently with Add.
func (f *AtomicFilter) Test(data []byte) bool {
	h1, h2 := f.hasher.Sum128(data)
	return f.testWithHash(h1, h2)
}

// TestString checks if a string might be in the bloom filter.
func (f *AtomicFilter) TestString(s string) bool {
	h1, h2 := f.hasher.Sum128String(s)
	return f.testWithHash(h1, h2)
}

func (f *AtomicFilter) testWithHash(h1, h2 uint64) bool {
	pos, step := h1%f.m, h2%f.m
	for i := uint32(0); i < f.k; i++ {
		if f.words[pos/64].Load()&(uint64(1)<<(pos%64)) == 0 {
			return false
		}
		pos += step
		if pos >= f.m {
			pos -= f.m
		}
	}

	return true
}

// TestAndAdd reports whether data might already have been present, then adds it.
// The test and the add are not a single atomic step; two goroutines adding
// the same new item may both see false.
func (f *AtomicFilter) TestAndAdd(data []byte) bool {
	h1, h2 := f.hasher.Sum128(data)
	present := f.testWithHash(h1, h2)
	f.addWithHash(h1, h2)
	return present
}

// TestAndAddString is the string form of TestAndAdd.
func (f *AtomicFilter) TestAndAddString(s string) bool {
	h1, h2 := f.hasher.Sum128String(s)
	present := f.testWithHash(h1, h2)
	f.addWithHash(h1, h2)
	return present
}

// M returns the size of the bit array.
func (f *AtomicFilter) M() uint64 {
	return f.m
}

// K returns the number of probes per item.
func (f *AtomicFilter) K() uint32 {
	return f.k
}

// Count returns the approximate number of items added to the filter.
func (f *AtomicFilter) Count() uint64 {
	return f.count.Load()
}

// SetBits returns the number of bits currently set.
func (f *AtomicFilter) SetBits() uint64 {
	var setBits uint64
	for i := range f.words {
		setBits += uint64(bits.OnesCount64(f.words[i].Load()))
	}
	return setBits
}

// EstimatedFillRatio estimates the proportion of bits that are set.
func (f *AtomicFilter) EstimatedFillRatio() float64 {
	return float64(f.SetBits()) / float64(f.m)
}

// EstimatedFalsePositiveRate estimates the current false positive rate.
func (f *AtomicFilter) EstimatedFalsePositiveRate() float64 {
	return EstimateFalsePositiveRate(f.m, f.k, f.count.Load())
}

// ShardedAtomicFilter is a thread-safe bloom filter that distributes writes
// across multiple shards to reduce contention under parallel workloads.
// Each shard is an independent AtomicFilter, and keys are consistently
// routed to shards based on their hash.
type ShardedAtomicFilter struct {
	shards    []*AtomicFilter
	hasher    Hasher
	numShards uint64
	mask      uint64 // numShards - 1, for fast modulo
}

// NewShardedAtomic creates a new sharded thread-safe bloom filter.
// numShards must be a power of 2 (will be rounded up if not).
// The total capacity is distributed evenly across shards.
func NewShardedAtomic(expectedItems uint64, fpRate float64, numShards uint64) (*ShardedAtomicFilter, error) {
	return NewShardedAtomicWithHasher(expectedItems, fpRate, numShards, nil)
}

// NewShardedAtomicWithHasher is like NewShardedAtomic but every shard derives
// probe positions from h.
func NewShardedAtomicWithHasher(expectedItems uint64, fpRate float64, numShards uint64, h Hasher) (*ShardedAtomicFilter, error) {
	// Round up to power of 2 (nextPowerOf2 always returns >= 1)
	numShards = nextPowerOf2(numShards)
	if h == nil {
		h = DefaultHasher()
	}

	// Distribute capacity across shards
	itemsPerShard := (expectedItems + numShards - 1) / numShards

	m, k, err := OptimalParams(itemsPerShard, fpRate)
	if err != nil {
		return nil, err
	}

	shards := make([]*AtomicFilter, numShards)
	for i := range shards {
		shards[i] = NewAtomicWithParams(m, k, h)
	}

	return &ShardedAtomicFilter{
		shards:    shards,
		hasher:    h,
		numShards: numShards,
		mask:      numShards - 1,
	}, nil
}

// NewShardedAtomicDefault creates a sharded filter with a number of shards
// automatically tuned to the current GOMAXPROCS value. This provides good
// parallel performance without over-sharding on smaller machines.
func NewShardedAtomicDefault(expectedItems uint64, fpRate float64) (*ShardedAtomicFilter, error) {
	numShards := max(uint64(runtime.GOMAXPROCS(0)), 4)
	return NewShardedAtomic(expectedItems, fpRate, numShards)
}

// Add adds data to the bloom filter.
func (f *ShardedAtomicFilter) Add(data []byte) {
	h1, h2 := f.hasher.Sum128(data)
	f.shards[f.shardIndex(h1, h2)].addWithHash(h1, h2)
}

// AddString adds a string to the bloom filter.
func (f *ShardedAtomicFilter) AddString(s string) {
	h1, h2 := f.hasher.Sum128String(s)
	f.shards[f.shardIndex(h1, h2)].addWithHash(h1, h2)
}

// Test checks if data might be in the bloom filter.
func (f *ShardedAtomicFilter) Test(data []byte) bool {
	h1, h2 := f.hasher.Sum128(data)
	return f.shards[f.shardIndex(h1, h2)].testWithHash(h1, h2)
}

// TestString checks if a string might be in the bloom filter.
func (f *ShardedAtomicFilter) TestString(s string) bool {
	h1, h2 := f.hasher.Sum128String(s)
	return f.shards[f.shardIndex(h1, h2)].testWithHash(h1, h2)
}

// TestAndAdd reports whether data might already have been present, then adds it.
func (f *ShardedAtomicFilter) TestAndAdd(data []byte) bool {
	h1, h2 := f.hasher.Sum128(data)
	shard := f.shards[f.shardIndex(h1, h2)]
	present := shard.testWithHash(h1, h2)
	shard.addWithHash(h1, h2)
	return present
}

// TestAndAddString is the string form of TestAndAdd.
func (f *ShardedAtomicFilter) TestAndAddString(s string) bool {
	h1, h2 := f.hasher.Sum128String(s)
	shard := f.shards[f.shardIndex(h1, h2)]
	present := shard.testWithHash(h1, h2)
	shard.addWithHash(h1, h2)
	return present
}

// shardIndex selects a shard from the top 16 bits of h1^h2.
func (f *ShardedAtomicFilter) shardIndex(h1, h2 uint64) uint64 {
	return ((h1 ^ h2) >> 48) & f.mask
}

// M returns the total number of bits across all shards.
func (f *ShardedAtomicFilter) M() uint64 {
	var total uint64
	for _, shard := range f.shards {
		total += shard.M()
	}
	return total
}

// K returns the number of probes per item.
func (f *ShardedAtomicFilter) K() uint32 {
	return f.shards[0].K()
}

// Count returns the approximate total number of items added.
func (f *ShardedAtomicFilter) Count() uint64 {
	var total uint64
	for _, shard := range f.shards {
		total += shard.Count()
	}
	return total
}

// NumShards returns the number of shards.
func (f *ShardedAtomicFilter) NumShards() uint64 {
	return f.numShards
}

// SetBits returns the number of bits set across all shards.
func (f *ShardedAtomicFilter) SetBits() uint64 {
	var total uint64
	for _, shard := range f.shards {
		total += shard.SetBits()
	}
	return total
}

// EstimatedFillRatio estimates the fill ratio across all shards.
func (f *ShardedAtomicFilter) EstimatedFillRatio() float64 {
	return float64(f.SetBits()) / float64(f.M())
}

// EstimatedFalsePositiveRate estimates the current false positive rate.
// For sharded filters, this is approximately the average across shards.
func (f *ShardedAtomicFilter) EstimatedFalsePositiveRate() float64 {
	var sum float64
	for _, shard := range f.shards {
		sum += shard.EstimatedFalsePositiveRate()
	}
	return sum / float64(f.numShards)
}

// nextPowerOf2 returns the smallest power of 2 >= n.
func nextPowerOf2(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
