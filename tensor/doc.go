// Package tensor provides dense float32 tensors with reverse-mode automatic
// differentiation.
//
// Tensors are flat, row-major slices plus a shape. Every operation returns a
// new tensor; inputs are never mutated, so reshape views share their backing
// data safely. When any input requires gradients the result records its
// parents and a backward closure, and Backward walks that graph in reverse
// topological order accumulating into Grad.
//
// # Usage
//
//	w := tensor.Randn(rng, 0.02, 4, 8).RequireGrad()
//	x := tensor.FromData(data, 2, 8)
//	y := tensor.Linear(x, w, nil)
//	loss := tensor.Mean(y)
//	tensor.Backward(loss)
//	// w.Grad now holds d(loss)/d(w)
//
// Shape errors are programming errors: operations panic with an error that
// wraps ErrShape. Callers validating user input should do so before building
// the graph.
package tensor
