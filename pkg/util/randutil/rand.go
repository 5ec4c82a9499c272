// Copyright 2014 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package randutil

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"
)

// envSeed lets a failing test be reproduced with the seed it logged.
const envSeed = "COCKROACH_RANDOM_SEED"

// NewPseudoSeed generates a seed from the current time, or from the
// COCKROACH_RANDOM_SEED environment variable when it is set.
func NewPseudoSeed() int64 {
	if s, ok := os.LookupEnv(envSeed); ok {
		seed, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			panic(fmt.Sprintf("could not parse %s=%q: %v", envSeed, s, err))
		}
		return seed
	}
	return time.Now().UnixNano()
}

// NewPseudoRand returns an instance of math/rand.Rand seeded from
// NewPseudoSeed, and the seed used so that it can be logged.
func NewPseudoRand() (*rand.Rand, int64) {
	seed := NewPseudoSeed()
	return rand.New(rand.NewSource(seed)), seed
}

// NewTestRand is like NewPseudoRand, but logs the seed to t so that failures
// can be reproduced.
func NewTestRand(t interface{ Logf(string, ...interface{}) }) (*rand.Rand, int64) {
	rng, seed := NewPseudoRand()
	t.Logf("random seed: %d", seed)
	return rng, seed
}
