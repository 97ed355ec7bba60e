// Package math32 provides the float32 vector kernels used by the tensor package.
// This is an internal package - external users should use the tensor package.
package math32

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	n := len(a)
	b = b[:n]

	var s0, s1, s2, s3 float32
	i := 0
	for ; i+4 <= n; i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}
	for ; i < n; i++ {
		s0 += a[i] * b[i]
	}

	return s0 + s1 + s2 + s3
}

// Axpy computes y += alpha * x in place.
func Axpy(alpha float32, x, y []float32) {
	n := len(x)
	y = y[:n]

	i := 0
	for ; i+4 <= n; i += 4 {
		y[i] += alpha * x[i]
		y[i+1] += alpha * x[i+1]
		y[i+2] += alpha * x[i+2]
		y[i+3] += alpha * x[i+3]
	}
	for ; i < n; i++ {
		y[i] += alpha * x[i]
	}
}

// AddInPlace computes dst += src element-wise.
func AddInPlace(dst, src []float32) {
	Axpy(1, src, dst)
}

// ScaleInPlace multiplies all elements of a by scalar.
func ScaleInPlace(a []float32, scalar float32) {
	for i := range a {
		a[i] *= scalar
	}
}

// Sum returns the sum of all elements.
func Sum(a []float32) float32 {
	var s float32
	for _, v := range a {
		s += v
	}

	return s
}

// Max returns the largest element and its index.
// Returns -1 for an empty slice.
func Max(a []float32) (float32, int) {
	if len(a) == 0 {
		return 0, -1
	}

	best, idx := a[0], 0
	for i := 1; i < len(a); i++ {
		if a[i] > best {
			best, idx = a[i], i
		}
	}

	return best, idx
}
