package gam

// An EvictionPolicy frees room in batch rows whose live region would exceed
// capacity once the new timesteps are written. Evict mutates s, which the
// engine has already cloned, and returns the number of nodes dropped per
// batch row. A policy must preserve relative temporal order among retained
// nodes, keep retained edges causal, renumber edge endpoints consistently,
// and never touch a batch row that has not overflowed.
type EvictionPolicy interface {
	Evict(s *State, taus []int) []int
}

// SlideEviction is the wrap-around policy: for each overflowing batch row
// it shifts the live prefix left by the overflow amount, dropping the
// oldest nodes and every edge incident to them, and renumbering the
// surviving in-row edge endpoints down by the same amount.
type SlideEviction struct{}

// Evict implements EvictionPolicy.
func (SlideEviction) Evict(s *State, taus []int) []int {
	capacity := s.Capacity()

	evicted := make([]int, s.Batch())
	overflowed := false
	for b := range evicted {
		over := s.T[b] + taus[b] - capacity
		if over > 0 {
			if over > s.T[b] {
				// Cannot free more nodes than exist; the engine
				// reports the residual overflow after eviction.
				over = s.T[b]
			}
			evicted[b] = over
			overflowed = true
		}
	}
	if !overflowed {
		return evicted
	}

	for b, k := range evicted {
		if k > 0 {
			slideRow(s.Nodes, b, s.T[b], k)
		}
	}

	dropEdges(s, evicted)

	for b, k := range evicted {
		s.T[b] -= k
	}

	return evicted
}

// slideRow shifts the live prefix of one batch row left by k slots and
// zeroes the freed tail so it rejoins the reserved region.
func slideRow(nodes Tensor3, b, live, k int) {
	for slot := 0; slot < live-k; slot++ {
		copy(nodes.Row(b, slot), nodes.Row(b, slot+k))
	}
	for slot := live - k; slot < live; slot++ {
		row := nodes.Row(b, slot)
		for i := range row {
			row[i] = 0
		}
	}
}

// dropEdges removes edges incident to evicted slots and shifts the
// endpoints of surviving edges down within their batch block. Weights are
// filtered in sync when the graph is weighted.
func dropEdges(s *State, evicted []int) {
	capacity := s.Capacity()
	weighted := len(s.Weights) == s.Edges.Len()

	kept := EdgeList{}
	var keptWeights []float64

	for i := 0; i < s.Edges.Len(); i++ {
		b := s.Edges.Src[i] / capacity
		k := evicted[b]
		srcSlot := s.Edges.Src[i] - b*capacity
		dstSlot := s.Edges.Dst[i] - b*capacity

		if srcSlot < k || dstSlot < k {
			continue
		}

		kept.Append(b*capacity+srcSlot-k, b*capacity+dstSlot-k)
		if weighted {
			keptWeights = append(keptWeights, s.Weights[i])
		}
	}

	s.Edges = kept
	if weighted {
		s.Weights = keptWeights
	}
}
