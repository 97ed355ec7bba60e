// Package testutil provides testing utilities for treemem.
//
// This package is intended for use in tests and benchmarks only.
// It provides seeded generators for item and query tensors.
//
//	rng := testutil.NewRNG(seed)
//	items := rng.Gaussian(4, 9, 16)         // [B, N, D]
//	clustered := rng.Clustered(4, 9, 16, 3) // items around 3 centers
package testutil
