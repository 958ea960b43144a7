package gam

import (
	"math"
	"time"

	"github.com/graphmem/gam/hooking"
)

// A Named object is an object that has a name.
type Named interface {
	Name() string
}

// An Engine owns the per-step protocol of the graph memory: it validates
// the hidden state, writes the new timesteps into the node buffer, runs the
// edge-selector and feature-transform collaborators, flattens the batch
// into one disjoint graph, queries the GNN, and returns the dense padded
// output together with the advanced hidden state.
//
// An Engine holds no per-sequence state of its own. Steps on different
// State values are independent; concurrent steps that share one State are a
// caller error.
type Engine struct {
	hooking.HookableBase

	name     string
	capacity int

	gnn               GNN
	preprocessor      NodeTransform
	positionalEncoder NodeTransform
	edgeSelector      EdgeSelector
	auxEdgeSelector   EdgeSelector
	eviction          EvictionPolicy
}

// NewEngine creates a memory engine with the given per-batch-row node
// capacity and GNN collaborator. All other collaborators are optional and
// attached with the With methods.
func NewEngine(name string, capacity int, gnn GNN) *Engine {
	if capacity <= 0 {
		panic("graph capacity must be positive")
	}
	if gnn == nil {
		panic("a GNN collaborator is required")
	}

	return &Engine{
		name:     name,
		capacity: capacity,
		gnn:      gnn,
	}
}

// WithPreprocessor sets the transform applied to the working node buffer
// before the positional encoder.
func (e *Engine) WithPreprocessor(t NodeTransform) *Engine {
	e.preprocessor = t
	return e
}

// WithPositionalEncoder sets the transform that imposes a temporal ordering
// on the node features.
func (e *Engine) WithPositionalEncoder(t NodeTransform) *Engine {
	e.positionalEncoder = t
	return e
}

// WithEdgeSelector sets the selector invoked on raw node features, before
// any transform runs.
func (e *Engine) WithEdgeSelector(s EdgeSelector) *Engine {
	e.edgeSelector = s
	return e
}

// WithAuxEdgeSelector sets the selector invoked after preprocessing and
// positional encoding. Intended for learned priors that read transformed
// features.
func (e *Engine) WithAuxEdgeSelector(s EdgeSelector) *Engine {
	e.auxEdgeSelector = s
	return e
}

// WithEvictionPolicy engages wrap-around: instead of failing on overflow,
// the engine asks the policy to free room first.
func (e *Engine) WithEvictionPolicy(p EvictionPolicy) *Engine {
	e.eviction = p
	return e
}

// Name returns the name of the engine.
func (e *Engine) Name() string {
	return e.name
}

// Capacity returns the per-batch-row node capacity.
func (e *Engine) Capacity() int {
	return e.capacity
}

// NewState returns the empty hidden state for a fresh sequence with the
// given batch size and feature width.
func (e *Engine) NewState(batch, feats int) *State {
	return NewState(batch, e.capacity, feats)
}

// Step inserts one padded chunk of observations into the graph memory and
// queries it. x is `[B, t, F]`, left-aligned and zero-padded; taus gives
// each batch row's true number of new timesteps. A nil prev starts a new
// sequence.
//
// Step returns the dense `[B, t, F']` output, holding the GNN result at
// every real position and zero at padding, and the advanced hidden state.
// prev is never mutated; the returned state shares no storage with it.
func (e *Engine) Step(
	x Tensor3,
	taus []int,
	prev *State,
) (Tensor3, *State, error) {
	start := time.Now()

	if err := e.validateInput(x, taus, prev); err != nil {
		return Tensor3{}, nil, err
	}

	if prev == nil {
		prev = NewState(x.D0, e.capacity, x.D2)
	}
	s := prev.Clone()

	if e.NumHooks() > 0 {
		e.InvokeHook(hooking.HookCtx{
			Domain: e,
			Pos:    HookPosStepStart,
			Item: StepInfo{
				Engine:    e.name,
				Batch:     s.Batch(),
				NewNodes:  sumInts(taus),
				LiveNodes: s.LiveNodes(),
				Edges:     s.Edges.Len(),
			},
		})
	}

	if err := e.checkEdges(s.Edges, len(s.Weights), s.Batch()); err != nil {
		return Tensor3{}, nil, err
	}

	evicted := make([]int, s.Batch())
	if e.eviction != nil {
		evicted = e.eviction.Evict(s, taus)
		e.reportEvictions(s, evicted)
	}

	writes := PlanNodeWrites(s.T, taus)
	entries := NonPaddedEntries(taus)
	for i, w := range writes {
		if w.Slot >= e.capacity {
			return Tensor3{}, nil, CapacityOverflowError{
				Batch:    w.Batch,
				Slot:     w.Slot,
				Capacity: e.capacity,
			}
		}

		copy(s.Nodes.Row(w.Batch, w.Slot), x.Row(entries[i].Batch, entries[i].Time))
	}

	if e.NumHooks() > 0 {
		e.InvokeHook(hooking.HookCtx{
			Domain: e,
			Pos:    HookPosNodesWritten,
			Item:   writes,
		})
	}

	// Collaborators mutate only this working copy. The buffer kept in the
	// returned state holds raw node content.
	dirty := s.Nodes.Clone()
	edges := s.Edges.Clone()
	weights := append([]float64(nil), s.Weights...)

	var err error
	if e.edgeSelector != nil {
		edges, weights, err = e.runSelector(
			e.edgeSelector, dirty, edges, weights, s.T, taus)
		if err != nil {
			return Tensor3{}, nil, err
		}
	}

	if e.preprocessor != nil {
		dirty, err = e.runTransform("preprocessor", e.preprocessor, dirty)
		if err != nil {
			return Tensor3{}, nil, err
		}
	}
	if e.positionalEncoder != nil {
		dirty, err = e.runTransform(
			"positional encoder", e.positionalEncoder, dirty)
		if err != nil {
			return Tensor3{}, nil, err
		}
	}

	if e.auxEdgeSelector != nil {
		edges, weights, err = e.runSelector(
			e.auxEdgeSelector, dirty, edges, weights, s.T, taus)
		if err != nil {
			return Tensor3{}, nil, err
		}
	}

	flat, newRows, gridToFlat := FlattenNodes(dirty, s.T, taus)

	flatEdges, err := renumberEdges(edges, gridToFlat)
	if err != nil {
		return Tensor3{}, nil, err
	}

	feats, err := e.gnn.Apply(flat, flatEdges, weights)
	if err != nil {
		return Tensor3{}, nil, err
	}
	if feats.Rows != flat.Rows {
		return Tensor3{}, nil, ShapeMismatchError{
			What: "GNN output",
			Want: []int{flat.Rows, feats.Cols},
			Got:  []int{feats.Rows, feats.Cols},
		}
	}

	out := NewTensor3(x.D0, x.D1, feats.Cols)
	for i, entry := range entries {
		row := feats.Row(newRows[i])
		for col, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return Tensor3{}, nil, NumericalInstabilityError{
					Row:   newRows[i],
					Col:   col,
					Value: v,
				}
			}
		}
		copy(out.Row(entry.Batch, entry.Time), row)
	}

	for b := range s.T {
		s.T[b] += taus[b]
	}
	s.Edges = edges
	s.Weights = weights

	if e.NumHooks() > 0 {
		e.InvokeHook(hooking.HookCtx{
			Domain: e,
			Pos:    HookPosStepEnd,
			Item: StepInfo{
				Engine:    e.name,
				Batch:     s.Batch(),
				NewNodes:  sumInts(taus),
				LiveNodes: s.LiveNodes(),
				Edges:     s.Edges.Len(),
				Evicted:   sumInts(evicted),
				Duration:  time.Since(start),
			},
		})
	}

	return out, s, nil
}

func (e *Engine) validateInput(x Tensor3, taus []int, prev *State) error {
	if len(x.Data) != x.D0*x.D1*x.D2 {
		return ShapeMismatchError{
			What: "input storage",
			Want: []int{x.D0 * x.D1 * x.D2},
			Got:  []int{len(x.Data)},
		}
	}

	if len(taus) != x.D0 {
		return ShapeMismatchError{
			What: "taus",
			Want: []int{x.D0},
			Got:  []int{len(taus)},
		}
	}

	for b, tau := range taus {
		if tau < 0 || tau > x.D1 {
			return ShapeMismatchError{
				What: "taus",
				Want: []int{0, x.D1},
				Got:  []int{b, tau},
			}
		}
	}

	if prev == nil {
		return nil
	}

	if prev.Batch() != x.D0 || prev.Capacity() != e.capacity ||
		prev.Feats() != x.D2 {
		return ShapeMismatchError{
			What: "hidden state nodes",
			Want: []int{x.D0, e.capacity, x.D2},
			Got:  []int{prev.Batch(), prev.Capacity(), prev.Feats()},
		}
	}

	if len(prev.T) != x.D0 {
		return ShapeMismatchError{
			What: "hidden state T",
			Want: []int{x.D0},
			Got:  []int{len(prev.T)},
		}
	}

	for b, t := range prev.T {
		if t < 0 || t > e.capacity {
			return ShapeMismatchError{
				What: "hidden state T",
				Want: []int{0, e.capacity},
				Got:  []int{b, t},
			}
		}
	}

	return nil
}

// checkEdges verifies bounds, causality, and batch isolation over a full
// edge list. A violation on entry to a step means the state was corrupted
// after a previous step returned it; a violation after a selector ran means
// the selector misbehaved. Both are fatal.
func (e *Engine) checkEdges(edges EdgeList, numWeights, batch int) error {
	if numWeights != 0 && numWeights != edges.Len() {
		return ShapeMismatchError{
			What: "edge weights",
			Want: []int{edges.Len()},
			Got:  []int{numWeights},
		}
	}

	for i := 0; i < edges.Len(); i++ {
		src, dst := edges.Src[i], edges.Dst[i]
		if src < 0 || dst >= batch*e.capacity {
			return CausalityViolationError{
				Src:    src,
				Dst:    dst,
				Reason: "edge endpoint outside the node buffer",
			}
		}
		if src >= dst {
			return CausalityViolationError{
				Src:    src,
				Dst:    dst,
				Reason: "source does not strictly precede destination",
			}
		}
		if src/e.capacity != dst/e.capacity {
			return CausalityViolationError{
				Src:    src,
				Dst:    dst,
				Reason: "edge crosses batch rows",
			}
		}
	}

	return nil
}

func (e *Engine) runSelector(
	sel EdgeSelector,
	nodes Tensor3,
	edges EdgeList,
	weights []float64,
	T, taus []int,
) (EdgeList, []float64, error) {
	newEdges, newWeights, err := sel.SelectEdges(nodes, edges, weights, T, taus)
	if err != nil {
		return EdgeList{}, nil, err
	}

	if err := e.checkEdges(newEdges, len(newWeights), nodes.D0); err != nil {
		return EdgeList{}, nil, err
	}

	return newEdges, newWeights, nil
}

func (e *Engine) runTransform(
	what string,
	t NodeTransform,
	nodes Tensor3,
) (Tensor3, error) {
	out, err := t.Transform(nodes)
	if err != nil {
		return Tensor3{}, err
	}

	if out.D0 != nodes.D0 || out.D1 != nodes.D1 {
		return Tensor3{}, ShapeMismatchError{
			What: what,
			Want: []int{nodes.D0, nodes.D1},
			Got:  []int{out.D0, out.D1},
		}
	}

	return out, nil
}

func (e *Engine) reportEvictions(s *State, evicted []int) {
	if e.NumHooks() == 0 {
		return
	}

	for b, k := range evicted {
		if k == 0 {
			continue
		}

		e.InvokeHook(hooking.HookCtx{
			Domain: e,
			Pos:    HookPosEviction,
			Item: EvictionInfo{
				Engine:  e.name,
				Batch:   b,
				Dropped: k,
				Live:    s.T[b],
			},
		})
	}
}
