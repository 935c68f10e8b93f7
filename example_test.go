package flit_test

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jcalabro/flit"
)

// This example demonstrates basic bloom filter usage for membership testing.
func Example() {
	// Create a filter for 10,000 items with 1% false positive rate
	f, err := flit.New(10_000, 0.01)
	if err != nil {
		panic(err)
	}

	f.AddString("Hello, world!")

	fmt.Println("Hello, world!:", f.TestString("Hello, world!"))   // true (added)
	fmt.Println("Dogs are cool!:", f.TestString("Dogs are cool!")) // false (not added)

	// Output:
	// Hello, world!: true
	// Dogs are cool!: false
}

// This example shows the error returned for an out of range rate.
func Example_invalidParameters() {
	_, err := flit.New(10_000, 1.0)
	fmt.Println(errors.Is(err, flit.ErrInvalidFalsePositiveRate))

	_, err = flit.New(0, 0.01)
	fmt.Println(errors.Is(err, flit.ErrInvalidExpectedItems))

	// Output:
	// true
	// true
}

// This example plugs in a different hash function.
func Example_customHasher() {
	f, err := flit.NewWithHasher(1000, 0.01, flit.Murmur3Hasher{Seed: 42})
	if err != nil {
		panic(err)
	}

	f.Add([]byte("apple"))
	fmt.Println("apple:", f.Test([]byte("apple")))
	fmt.Println("grape:", f.Test([]byte("grape")))

	// Output:
	// apple: true
	// grape: false
}

// This example demonstrates using AtomicFilter for concurrent access.
func Example_concurrent() {
	// AtomicFilter is safe for concurrent Add and Test
	f, err := flit.NewAtomic(100_000, 0.01)
	if err != nil {
		panic(err)
	}

	var wg sync.WaitGroup

	// Spawn multiple writers
	for i := range 4 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := range 1000 {
				f.AddString(fmt.Sprintf("worker-%d-item-%d", id, j))
			}
		}(i)
	}

	// Spawn multiple readers (can run concurrently with writers)
	for i := range 4 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := range 1000 {
				_ = f.TestString(fmt.Sprintf("worker-%d-item-%d", id, j))
			}
		}(i)
	}

	wg.Wait()
	fmt.Println("Items added:", f.Count())

	// Output:
	// Items added: 4000
}

// This example shows ShardedAtomicFilter for high-throughput concurrent writes.
func Example_sharded() {
	f, err := flit.NewShardedAtomic(1_000_000, 0.01, 16)
	if err != nil {
		panic(err)
	}

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := range 10_000 {
				f.AddString(fmt.Sprintf("key-%d-%d", id, j))
			}
		}(i)
	}

	wg.Wait()
	fmt.Println("Shards:", f.NumShards())
	fmt.Println("Total items:", f.Count())

	// Output:
	// Shards: 16
	// Total items: 80000
}

// This example round-trips a filter through its binary form.
func Example_serialization() {
	f, err := flit.New(1000, 0.01)
	if err != nil {
		panic(err)
	}
	f.AddString("persisted")

	data, err := f.MarshalBinary()
	if err != nil {
		panic(err)
	}

	// The same hasher must be supplied on load.
	restored, err := flit.UnmarshalBinary(data, f.Hasher())
	if err != nil {
		panic(err)
	}

	fmt.Println("persisted:", restored.TestString("persisted"))
	fmt.Println("M:", restored.M(), "K:", restored.K())

	// Output:
	// persisted: true
	// M: 9586 K: 7
}

// This example demonstrates creating a filter with explicit parameters.
func Example_customParameters() {
	f := flit.NewWithParams(1000, 7, nil)

	f.AddString("custom")
	fmt.Println("Contains 'custom':", f.TestString("custom"))
	fmt.Printf("M: %d, K: %d\n", f.M(), f.K())

	// Output:
	// Contains 'custom': true
	// M: 1000, K: 7
}

func ExampleOptimalParams() {
	m, k, err := flit.OptimalParams(10_000, 0.01)
	if err != nil {
		panic(err)
	}

	fmt.Printf("For 10k items at 1%% FP rate:\n")
	fmt.Printf("  Bits (m): %d\n", m)
	fmt.Printf("  Probes (k): %d\n", k)

	// Output:
	// For 10k items at 1% FP rate:
	//   Bits (m): 95851
	//   Probes (k): 7
}

func ExampleEstimateFalsePositiveRate() {
	rate := flit.EstimateFalsePositiveRate(95851, 7, 10_000)
	fmt.Printf("Estimated FP rate: %.2f%%\n", rate*100)

	// Output:
	// Estimated FP rate: 1.00%
}
