package main

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

var (
	// ErrShapeMismatch indicates incompatible tensor shapes for an operation.
	ErrShapeMismatch = errors.New("tensor: shape mismatch")

	// ErrInvalidShape indicates an invalid tensor shape.
	ErrInvalidShape = errors.New("tensor: invalid shape")
)

// Tensor represents a multi-dimensional array of float64 values stored in
// row-major order, together with a gradient buffer of the same size.
//
// Tensor is not safe for concurrent use.
type Tensor struct {
	data  []float64
	shape []int
	grad  []float64
}

// NewTensor creates a zero tensor with the given shape.
// Panics if the shape is empty or contains non-positive dimensions: shape
// errors inside the math are programmer bugs, not runtime conditions.
func NewTensor(shape ...int) *Tensor {
	size := shapeSize(shape)
	return &Tensor{
		data:  make([]float64, size),
		shape: append([]int(nil), shape...),
		grad:  make([]float64, size),
	}
}

// NewTensorFrom wraps data (not copied) in a tensor of the given shape.
func NewTensorFrom(data []float64, shape ...int) *Tensor {
	size := shapeSize(shape)
	if len(data) != size {
		panic(fmt.Sprintf("tensor: %d values do not fill shape %v", len(data), shape))
	}
	return &Tensor{
		data:  data,
		shape: append([]int(nil), shape...),
		grad:  make([]float64, size),
	}
}

// NewTensorUniform fills a tensor with draws from U(-bound, bound).
func NewTensorUniform(rng *rand.Rand, bound float64, shape ...int) *Tensor {
	t := NewTensor(shape...)
	for i := range t.data {
		t.data[i] = (2*rng.Float64() - 1) * bound
	}
	return t
}

func shapeSize(shape []int) int {
	if len(shape) == 0 {
		panic("tensor: shape cannot be empty")
	}
	size := 1
	for i, dim := range shape {
		if dim <= 0 {
			panic(fmt.Sprintf("tensor: shape[%d] must be positive, got %d", i, dim))
		}
		size *= dim
	}
	return size
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

// Dims returns the rank of the tensor.
func (t *Tensor) Dims() int {
	return len(t.shape)
}

// Size returns the total number of elements.
func (t *Tensor) Size() int {
	return len(t.data)
}

// Data exposes the underlying storage.
func (t *Tensor) Data() []float64 {
	return t.data
}

// Grad exposes the gradient buffer.
func (t *Tensor) Grad() []float64 {
	return t.grad
}

// At returns the element at the given indices.
func (t *Tensor) At(indices ...int) float64 {
	return t.data[t.flatIndex(indices)]
}

// Set sets the element at the given indices.
func (t *Tensor) Set(value float64, indices ...int) {
	t.data[t.flatIndex(indices)] = value
}

func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != len(t.shape) {
		panic(fmt.Sprintf("tensor: expected %d indices, got %d", len(t.shape), len(indices)))
	}

	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index[%d]=%d out of bounds [0,%d)", i, indices[i], t.shape[i]))
		}
		idx += indices[i] * stride
		stride *= t.shape[i]
	}
	return idx
}

// Row returns a view of row i of a 2D tensor.
func (t *Tensor) Row(i int) []float64 {
	if len(t.shape) != 2 {
		panic("tensor: Row requires 2D tensor")
	}
	cols := t.shape[1]
	return t.data[i*cols : (i+1)*cols]
}

// ZeroGrad clears the gradient buffer.
func (t *Tensor) ZeroGrad() {
	for i := range t.grad {
		t.grad[i] = 0
	}
}

// AccumulateGrad adds g to the gradient buffer.
func (t *Tensor) AccumulateGrad(g *Tensor) {
	if !shapeEqual(t.shape, g.shape) {
		panic(fmt.Sprintf("tensor: cannot accumulate grad %v into %v", g.shape, t.shape))
	}
	for i := range t.grad {
		t.grad[i] += g.data[i]
	}
}

// Clone creates a deep copy of the values (the gradient starts at zero).
func (t *Tensor) Clone() *Tensor {
	c := NewTensor(t.shape...)
	copy(c.data, t.data)
	return c
}

// Reshape returns a view with a different shape sharing data and gradient.
func (t *Tensor) Reshape(newShape ...int) *Tensor {
	if shapeSize(newShape) != len(t.data) {
		panic(fmt.Sprintf("tensor: cannot reshape size %d to %v", len(t.data), newShape))
	}
	return &Tensor{
		data:  t.data,
		shape: append([]int(nil), newShape...),
		grad:  t.grad,
	}
}

// Slice2D returns a copy of entry i of a 3D tensor as a 2D tensor.
func (t *Tensor) Slice2D(i int) *Tensor {
	if len(t.shape) != 3 {
		panic("tensor: Slice2D requires 3D tensor")
	}
	rows, cols := t.shape[1], t.shape[2]
	out := NewTensor(rows, cols)
	copy(out.data, t.data[i*rows*cols:(i+1)*rows*cols])
	return out
}

// String returns a short description for debugging.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, size=%d)", t.shape, len(t.data))
}

// ===========================================================================
// OPERATIONS
// ===========================================================================

// Add performs element-wise addition.
func Add(a, b *Tensor) *Tensor {
	if !shapeEqual(a.shape, b.shape) {
		panic(fmt.Sprintf("tensor: cannot add shapes %v and %v", a.shape, b.shape))
	}
	out := NewTensor(a.shape...)
	for i := range out.data {
		out.data[i] = a.data[i] + b.data[i]
	}
	return out
}

// Mul performs element-wise multiplication.
func Mul(a, b *Tensor) *Tensor {
	if !shapeEqual(a.shape, b.shape) {
		panic(fmt.Sprintf("tensor: cannot multiply shapes %v and %v", a.shape, b.shape))
	}
	out := NewTensor(a.shape...)
	for i := range out.data {
		out.data[i] = a.data[i] * b.data[i]
	}
	return out
}

// Scale multiplies all elements by a scalar.
func Scale(a *Tensor, scalar float64) *Tensor {
	out := NewTensor(a.shape...)
	for i := range out.data {
		out.data[i] = a.data[i] * scalar
	}
	return out
}

// ScaleRows multiplies row i of a 2D tensor by w[i].
func ScaleRows(a *Tensor, w []float64) *Tensor {
	if len(a.shape) != 2 || a.shape[0] != len(w) {
		panic(fmt.Sprintf("tensor: cannot scale rows of %v by %d weights", a.shape, len(w)))
	}
	out := NewTensor(a.shape...)
	cols := a.shape[1]
	for i, wi := range w {
		for j := 0; j < cols; j++ {
			out.data[i*cols+j] = a.data[i*cols+j] * wi
		}
	}
	return out
}

// Transpose returns the transpose of a 2D matrix.
func Transpose(a *Tensor) *Tensor {
	if len(a.shape) != 2 {
		panic("tensor: Transpose requires 2D tensor")
	}
	m, n := a.shape[0], a.shape[1]
	out := NewTensor(n, m)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			out.data[j*m+i] = a.data[i*n+j]
		}
	}
	return out
}

// ReLU applies max(0, x).
func ReLU(x *Tensor) *Tensor {
	out := NewTensor(x.shape...)
	for i, v := range x.data {
		out.data[i] = math.Max(0, v)
	}
	return out
}

// Softmax applies a numerically stable softmax to every row of a 2D tensor.
func Softmax(x *Tensor) *Tensor {
	if len(x.shape) != 2 {
		panic("tensor: Softmax requires 2D tensor")
	}
	out := NewTensor(x.shape...)
	for r := 0; r < x.shape[0]; r++ {
		softmaxInto(out.Row(r), x.Row(r))
	}
	return out
}

// softmaxInto writes softmax(src) into dst, subtracting the max first.
func softmaxInto(dst, src []float64) {
	maxVal := src[0]
	for _, v := range src[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	sum := 0.0
	for i, v := range src {
		e := math.Exp(v - maxVal)
		dst[i] = e
		sum += e
	}
	for i := range dst {
		dst[i] /= sum
	}
}

// ===========================================================================
// HELPERS
// ===========================================================================

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// addBias adds a bias vector to each row of a 2D tensor in place.
func addBias(x, bias *Tensor) {
	if len(x.shape) != 2 || len(bias.shape) != 1 || x.shape[1] != bias.shape[0] {
		panic(fmt.Sprintf("addBias: cannot add bias %v to %v", bias.shape, x.shape))
	}
	cols := x.shape[1]
	for i := range x.data {
		x.data[i] += bias.data[i%cols]
	}
}

// columns copies columns [start, start+width) of a 2D tensor.
func columns(x *Tensor, start, width int) *Tensor {
	rows, cols := x.shape[0], x.shape[1]
	out := NewTensor(rows, width)
	for i := 0; i < rows; i++ {
		copy(out.data[i*width:(i+1)*width], x.data[i*cols+start:i*cols+start+width])
	}
	return out
}

// setColumns writes src into columns [start, start+width) of dst.
func setColumns(dst, src *Tensor, start int) {
	rows, cols := dst.shape[0], dst.shape[1]
	width := src.shape[1]
	for i := 0; i < rows; i++ {
		copy(dst.data[i*cols+start:i*cols+start+width], src.data[i*width:(i+1)*width])
	}
}

func argmax(data []float64) int {
	if len(data) == 0 {
		return -1
	}
	maxIdx := 0
	for i := 1; i < len(data); i++ {
		if data[i] > data[maxIdx] {
			maxIdx = i
		}
	}
	return maxIdx
}
