// Package rng provides the seedable random source a model owns and threads
// through every agent operation.
package rng

import "math/rand/v2"

// streamSalt decorrelates the second PCG word from the seed.
const streamSalt = 0x9e3779b97f4a7c15

// Source is a deterministic pseudo-random source. A Source is seeded exactly
// once and must not be shared across goroutines.
type Source struct {
	r    *rand.Rand
	seed uint64
}

// New creates a Source seeded with seed.
func New(seed uint64) *Source {
	return &Source{
		r:    rand.New(rand.NewPCG(seed, seed^streamSalt)),
		seed: seed,
	}
}

// Seed returns the seed the source was created with.
func (s *Source) Seed() uint64 {
	return s.seed
}

// Float64 returns a uniform sample in [0, 1).
func (s *Source) Float64() float64 {
	return s.r.Float64()
}

// IntN returns a uniform sample in [0, n). It panics if n <= 0.
func (s *Source) IntN(n int) int {
	return s.r.IntN(n)
}

// Shuffle pseudo-randomizes the order of n elements using swap.
func (s *Source) Shuffle(n int, swap func(i, j int)) {
	s.r.Shuffle(n, swap)
}

// Perm returns a uniform random permutation of [0, n).
func (s *Source) Perm(n int) []int {
	return s.r.Perm(n)
}

// Pick returns a uniformly chosen element of items. The second result is
// false, and no sample is drawn, when items is empty.
func Pick[T any](s *Source, items []T) (T, bool) {
	if len(items) == 0 {
		var zero T
		return zero, false
	}
	return items[s.IntN(len(items))], true
}
