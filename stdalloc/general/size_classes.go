package general

import (
	"math"

	"github.com/cockroachdb/errors"
)

// SizeClassConfig defines how free-block sizes map to size-hash buckets.
// Small sizes get linear buckets, larger sizes logarithmic ones, and everything
// from MediumMax up shares the last bucket.
type SizeClassConfig struct {
	// Name for this configuration (for reports and config files)
	Name string

	// Small block settings (linear increments)
	SmallMin       int32 // Smallest free block (a header plus one unit)
	SmallMax       int32 // Max for linear increments
	SmallIncrement int32 // Increment between linear buckets

	// Medium/Large block settings (logarithmic growth)
	MediumMax    int32   // Max before the shared large bucket
	GrowthFactor float64 // Exponential growth factor (1.5, 2.0, etc.)
}

// Predefined configurations.
var (
	// FineGrained: many small buckets, shortest chains, largest table.
	ConfigFineGrained = SizeClassConfig{
		Name:           "fine",
		SmallMin:       32,
		SmallMax:       1024,
		SmallIncrement: 16,
		MediumMax:      1 << 20,
		GrowthFactor:   1.25,
	}

	// Balanced: good balance between table size and chain length.
	ConfigBalanced = SizeClassConfig{
		Name:           "balanced",
		SmallMin:       32,
		SmallMax:       512,
		SmallIncrement: 16,
		MediumMax:      1 << 20,
		GrowthFactor:   1.5,
	}

	// Coarse: few buckets, longer chains to probe.
	ConfigCoarse = SizeClassConfig{
		Name:           "coarse",
		SmallMin:       32,
		SmallMax:       512,
		SmallIncrement: 64,
		MediumMax:      1 << 20,
		GrowthFactor:   2.0,
	}

	// DefaultSizeClasses is used when Options leaves the config empty.
	DefaultSizeClasses = ConfigBalanced
)

// ErrUnknownSizeClasses is returned by SizeClassesByName.
var ErrUnknownSizeClasses = errors.New("general: unknown size class config")

// SizeClassesByName returns one of the predefined configurations.
func SizeClassesByName(name string) (SizeClassConfig, error) {
	switch name {
	case "", ConfigBalanced.Name:
		return ConfigBalanced, nil
	case ConfigFineGrained.Name:
		return ConfigFineGrained, nil
	case ConfigCoarse.Name:
		return ConfigCoarse, nil
	}
	return SizeClassConfig{}, errors.Wrapf(ErrUnknownSizeClasses, "%q", name)
}

// sizeClassTable holds the computed bucket boundaries.
type sizeClassTable struct {
	config     SizeClassConfig
	boundaries []int32 // Upper bound for each bucket
	numClasses int
}

// newSizeClassTable computes bucket boundaries from config.
func newSizeClassTable(config SizeClassConfig) *sizeClassTable {
	table := &sizeClassTable{
		config:     config,
		boundaries: make([]int32, 0, 64),
	}

	// Phase 1: linear increments
	for size := config.SmallMin; size < config.SmallMax; size += config.SmallIncrement {
		table.boundaries = append(table.boundaries, size+config.SmallIncrement-1)
	}

	// Phase 2: logarithmic growth
	if config.SmallMax < config.MediumMax {
		size := config.SmallMax
		for size < config.MediumMax {
			nextSize := int32(math.Ceil(float64(size) * config.GrowthFactor))
			if nextSize <= size {
				nextSize = size + 1 // Ensure progress
			}
			table.boundaries = append(table.boundaries, nextSize-1)
			size = nextSize
		}
	}

	table.numClasses = len(table.boundaries)
	return table
}

// getSizeClass returns the bucket index for a block size.
// Returns numClasses for sizes above every boundary (the shared large bucket).
func (t *sizeClassTable) getSizeClass(size int32) int {
	lo, hi := 0, t.numClasses-1

	for lo <= hi {
		mid := (lo + hi) / 2
		if size <= t.boundaries[mid] {
			if mid == 0 || size > t.boundaries[mid-1] {
				return mid
			}
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}

	return t.numClasses
}

// String returns the configuration name.
func (t *sizeClassTable) String() string {
	return t.config.Name
}

// NumBuckets returns the number of buckets including the large one.
func (t *sizeClassTable) NumBuckets() int {
	return t.numClasses + 1
}
