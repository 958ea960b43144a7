package gam

// A Tensor3 is a dense, row-major, 3-dimensional float64 tensor. It backs
// both the padded per-call input (`[B, t, F]`) and the node buffer
// (`[B, N, F]`).
type Tensor3 struct {
	D0, D1, D2 int
	Data       []float64
}

// NewTensor3 creates a zero-filled tensor with the given dimensions.
func NewTensor3(d0, d1, d2 int) Tensor3 {
	return Tensor3{
		D0:   d0,
		D1:   d1,
		D2:   d2,
		Data: make([]float64, d0*d1*d2),
	}
}

// At returns the element at [i, j, k].
func (t Tensor3) At(i, j, k int) float64 {
	return t.Data[(i*t.D1+j)*t.D2+k]
}

// Set assigns the element at [i, j, k].
func (t Tensor3) Set(i, j, k int, v float64) {
	t.Data[(i*t.D1+j)*t.D2+k] = v
}

// Row returns the feature vector at [i, j] as a slice aliasing the tensor
// storage. Writing through the slice writes the tensor.
func (t Tensor3) Row(i, j int) []float64 {
	start := (i*t.D1 + j) * t.D2
	return t.Data[start : start+t.D2]
}

// Clone deep-copies the tensor.
func (t Tensor3) Clone() Tensor3 {
	c := t
	c.Data = make([]float64, len(t.Data))
	copy(c.Data, t.Data)
	return c
}

// A Matrix is a dense, row-major, 2-dimensional float64 tensor. The
// flattened node table handed to the GNN is a Matrix, one row per live node.
type Matrix struct {
	Rows, Cols int
	Data       []float64
}

// NewMatrix creates a zero-filled matrix with the given dimensions.
func NewMatrix(rows, cols int) Matrix {
	return Matrix{
		Rows: rows,
		Cols: cols,
		Data: make([]float64, rows*cols),
	}
}

// Row returns row i as a slice aliasing the matrix storage.
func (m Matrix) Row(i int) []float64 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// Clone deep-copies the matrix.
func (m Matrix) Clone() Matrix {
	c := m
	c.Data = make([]float64, len(m.Data))
	copy(c.Data, m.Data)
	return c
}
