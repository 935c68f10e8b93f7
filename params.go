package flit

import (
	"errors"
	"fmt"
	"math"
)

const (
	// MaxBits is the largest bit array a filter will allocate (128 TiB).
	MaxBits = uint64(1) << 50
	// ln2 is the natural logarithm of 2.
	ln2 = math.Ln2
	// ln2Squared is ln(2)^2.
	ln2Squared = math.Ln2 * math.Ln2
)

var (
	// ErrInvalidFalsePositiveRate is returned when the false positive rate
	// is not strictly between 0 and 1.
	ErrInvalidFalsePositiveRate = errors.New("flit: false positive rate must be between 0 and 1 (exclusive)")

	// ErrInvalidExpectedItems is returned when the expected number of items is zero.
	ErrInvalidExpectedItems = errors.New("flit: expected items must be greater than zero")

	// ErrTooLarge is returned when the derived bit array would exceed MaxBits.
	ErrTooLarge = errors.New("flit: filter too large")
)

// OptimalParams calculates the bit array size m and the number of probes k
// for expectedItems insertions at the desired false positive rate.
//
//	m = ceil(-n * ln(p) / ln(2)^2)
//	k = round(m / n * ln(2))
//
// Both are at least 1.
func OptimalParams(expectedItems uint64, fpRate float64) (m uint64, k uint32, err error) {
	if expectedItems == 0 {
		return 0, 0, ErrInvalidExpectedItems
	}
	// Written as a negated range check so NaN is rejected too.
	if !(fpRate > 0 && fpRate < 1) {
		return 0, 0, fmt.Errorf("%w: got %v", ErrInvalidFalsePositiveRate, fpRate)
	}

	n := float64(expectedItems)
	mFloat := math.Ceil(-(n * math.Log(fpRate)) / ln2Squared)
	if mFloat > float64(MaxBits) {
		return 0, 0, fmt.Errorf("%w: %d items at rate %v needs %.0f bits (max %d)",
			ErrTooLarge, expectedItems, fpRate, mFloat, MaxBits)
	}
	m = max(uint64(mFloat), 1)

	k = uint32(math.Round(float64(m) / n * ln2))
	k = max(k, 1)

	return m, k, nil
}

// EstimateFalsePositiveRate estimates the false positive rate of an m bit
// filter using k probes after itemsAdded insertions.
// Formula: (1 - e^(-kn/m))^k
func EstimateFalsePositiveRate(m uint64, k uint32, itemsAdded uint64) float64 {
	if m == 0 || itemsAdded == 0 {
		return 0
	}

	mf := float64(m)
	n := float64(itemsAdded)
	kf := float64(k)

	return math.Pow(1-math.Exp(-kf*n/mf), kf)
}
