package gam

// A GNN is the graph neural network the engine queries once per step. It
// consumes one disjoint graph: a flat node table, an edge list in the flat
// numbering of the call, and one weight per edge (or none). It must return
// exactly one output row per input node; the edge list is its only
// information-flow channel.
type GNN interface {
	Apply(nodes Matrix, edges EdgeList, weights []float64) (Matrix, error)
}

// A NodeTransform is a pure per-node feature transform, used for both
// preprocessing and positional encoding. It may change the feature width
// but must preserve the batch and node-count dimensions. Transforms are
// applied to a working copy of the node buffer; the state returned to the
// caller keeps raw node content.
type NodeTransform interface {
	Transform(nodes Tensor3) (Tensor3, error)
}

// An EdgeSelector decides which edges connect the nodes of the graph. It
// receives the (possibly transformed) node buffer, the existing edges and
// weights, the live counts T, and the new-node counts taus, and returns the
// augmented edge list and weights.
//
// A selector may only add edges, only between nodes of the same batch row,
// and only from a strictly earlier node to a strictly later one. Endpoints
// use grid numbering (`batch*capacity + slot`); the engine renumbers them
// for the GNN call.
type EdgeSelector interface {
	SelectEdges(
		nodes Tensor3,
		edges EdgeList,
		weights []float64,
		T, taus []int,
	) (EdgeList, []float64, error)
}
