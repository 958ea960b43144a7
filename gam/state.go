// Package gam implements a fixed-capacity, batched temporal graph that
// serves as a rolling memory for sequential agents. Each timestep's
// observation becomes a graph node, pluggable selectors connect the nodes,
// and a graph neural network is queried to produce a memory-conditioned
// output for every new node.
package gam

// An EdgeList is a sparse directed edge list in `[2, E]` layout: Src[i] and
// Dst[i] are the endpoints of edge i. Endpoints are grid indices
// (`batch*capacity + slot`), the stable numbering that survives across
// calls. Every edge must point forward in time: Src[i] < Dst[i], with both
// endpoints in the same batch block.
type EdgeList struct {
	Src []int
	Dst []int
}

// Len returns the number of edges.
func (e EdgeList) Len() int {
	return len(e.Src)
}

// Append adds one edge.
func (e *EdgeList) Append(src, dst int) {
	e.Src = append(e.Src, src)
	e.Dst = append(e.Dst, dst)
}

// Clone deep-copies the edge list.
func (e EdgeList) Clone() EdgeList {
	c := EdgeList{
		Src: make([]int, len(e.Src)),
		Dst: make([]int, len(e.Dst)),
	}
	copy(c.Src, e.Src)
	copy(c.Dst, e.Dst)
	return c
}

// A State is the hidden state threaded between engine steps. It owns the
// node buffer, the edges and weights accumulated so far, and the per-batch
// live-node counts. Only slots `[0, T[b])` of batch row b hold real nodes;
// the rest of the row is zero-filled reserved space.
type State struct {
	// Nodes is the `[B, N, F]` node buffer, holding raw, untransformed
	// node content.
	Nodes Tensor3

	// Edges holds directed causal links in grid numbering.
	Edges EdgeList

	// Weights holds one scalar per edge, or is empty for an unweighted
	// graph.
	Weights []float64

	// T is the per-batch live-node count, monotonically non-decreasing
	// and bounded by the capacity.
	T []int
}

// NewState creates the empty hidden state for a fresh sequence.
func NewState(batch, capacity, feats int) *State {
	return &State{
		Nodes: NewTensor3(batch, capacity, feats),
		T:     make([]int, batch),
	}
}

// Batch returns the number of batch rows.
func (s *State) Batch() int {
	return s.Nodes.D0
}

// Capacity returns the fixed node capacity of each batch row.
func (s *State) Capacity() int {
	return s.Nodes.D1
}

// Feats returns the node feature width.
func (s *State) Feats() int {
	return s.Nodes.D2
}

// LiveNodes returns the total number of live nodes across all batch rows.
func (s *State) LiveNodes() int {
	n := 0
	for _, t := range s.T {
		n += t
	}
	return n
}

// Clone deep-copies the state. The engine clones before every mutation so
// that the state a caller retains is never written through.
func (s *State) Clone() *State {
	c := &State{
		Nodes:   s.Nodes.Clone(),
		Edges:   s.Edges.Clone(),
		Weights: make([]float64, len(s.Weights)),
		T:       make([]int, len(s.T)),
	}
	copy(c.Weights, s.Weights)
	copy(c.T, s.T)
	return c
}
