package gam

// FlattenNodes converts the batched, padded node buffer into the single
// disjoint graph the GNN consumes. It concatenates each batch row's live
// prefix (slots `[0, T[b]+taus[b])`) in batch order, skipping the reserved
// suffix so that padding never appears as a graph node.
//
// It returns the flat node table, the flat row of every newly written node
// (in PlanNodeWrites order, for slicing the GNN output), and a grid→flat
// index map of length B*N holding -1 for dead slots, used to renumber edges
// into the flat numbering of this call.
func FlattenNodes(nodes Tensor3, T, taus []int) (Matrix, []int, []int) {
	total := 0
	for b := range T {
		total += T[b] + taus[b]
	}

	flat := NewMatrix(total, nodes.D2)
	gridToFlat := make([]int, nodes.D0*nodes.D1)
	for i := range gridToFlat {
		gridToFlat[i] = -1
	}
	newRows := make([]int, 0, sumInts(taus))

	row := 0
	for b := 0; b < nodes.D0; b++ {
		live := T[b] + taus[b]
		for slot := 0; slot < live; slot++ {
			copy(flat.Row(row), nodes.Row(b, slot))
			gridToFlat[b*nodes.D1+slot] = row
			if slot >= T[b] {
				newRows = append(newRows, row)
			}
			row++
		}
	}

	return flat, newRows, gridToFlat
}

// renumberEdges translates an edge list from the stable grid numbering to
// the flat numbering of the current call. An endpoint that maps to a dead
// slot references a node that is not live, which means the state was
// corrupted upstream.
func renumberEdges(edges EdgeList, gridToFlat []int) (EdgeList, error) {
	flat := EdgeList{
		Src: make([]int, edges.Len()),
		Dst: make([]int, edges.Len()),
	}

	for i := 0; i < edges.Len(); i++ {
		src := gridToFlat[edges.Src[i]]
		dst := gridToFlat[edges.Dst[i]]
		if src < 0 || dst < 0 {
			return EdgeList{}, CausalityViolationError{
				Src:    edges.Src[i],
				Dst:    edges.Dst[i],
				Reason: "edge references a node outside the live region",
			}
		}
		flat.Src[i] = src
		flat.Dst[i] = dst
	}

	return flat, nil
}
