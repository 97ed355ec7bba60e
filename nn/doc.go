// Package nn provides the transformer building blocks used by the memory
// modules: linear layers, layer normalization, feed-forward sublayers and
// masked multi-head cross-attention.
//
// Normalization placement (pre-norm or post-norm) is a structural choice made
// once at construction through NewNorm; the returned Norm wraps sublayers
// without branching per call.
package nn
