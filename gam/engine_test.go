package gam

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	gomock "go.uber.org/mock/gomock"

	"github.com/graphmem/gam/hooking"
)

// identityGNN returns every node's features unchanged.
type identityGNN struct{}

func (identityGNN) Apply(
	nodes Matrix,
	edges EdgeList,
	weights []float64,
) (Matrix, error) {
	return nodes.Clone(), nil
}

// sumGNN adds, to every node, the features of its direct predecessors. The
// edge list is the only channel it reads, so it exercises causal
// information flow.
type sumGNN struct{}

func (sumGNN) Apply(
	nodes Matrix,
	edges EdgeList,
	weights []float64,
) (Matrix, error) {
	out := nodes.Clone()
	for i := 0; i < edges.Len(); i++ {
		dst := out.Row(edges.Dst[i])
		src := nodes.Row(edges.Src[i])
		for k := range dst {
			dst[k] += src[k]
		}
	}
	return out, nil
}

// prevNodeSelector links every new node to the node one timestep before it
// in the same batch row.
type prevNodeSelector struct {
	capacity int
}

func (s prevNodeSelector) SelectEdges(
	nodes Tensor3,
	edges EdgeList,
	weights []float64,
	T, taus []int,
) (EdgeList, []float64, error) {
	out := edges.Clone()
	for b := range taus {
		for i := 0; i < taus[b]; i++ {
			slot := T[b] + i
			if slot == 0 {
				continue
			}
			out.Append(b*s.capacity+slot-1, b*s.capacity+slot)
		}
	}
	return out, append([]float64(nil), weights...), nil
}

// staticEdgeSelector always returns the same edge list, regardless of the
// graph it is shown.
type staticEdgeSelector struct {
	edges EdgeList
}

func (s staticEdgeSelector) SelectEdges(
	nodes Tensor3,
	edges EdgeList,
	weights []float64,
	T, taus []int,
) (EdgeList, []float64, error) {
	return s.edges.Clone(), nil, nil
}

// recordingHook collects every hook invocation for later inspection.
type recordingHook struct {
	ctxs []hooking.HookCtx
}

func (h *recordingHook) Func(ctx hooking.HookCtx) {
	h.ctxs = append(h.ctxs, ctx)
}

func (h *recordingHook) at(pos *hooking.HookPos) []hooking.HookCtx {
	var out []hooking.HookCtx
	for _, ctx := range h.ctxs {
		if ctx.Pos == pos {
			out = append(out, ctx)
		}
	}
	return out
}

var _ = Describe("Engine", func() {
	It("should panic on invalid construction", func() {
		Expect(func() { NewEngine("Mem", 0, identityGNN{}) }).To(Panic())
		Expect(func() { NewEngine("Mem", 4, nil) }).To(Panic())
	})

	Context("with an identity GNN", func() {
		var engine *Engine

		BeforeEach(func() {
			engine = NewEngine("Mem", 4, identityGNN{})
		})

		It("should pass the first chunk through and advance T", func() {
			x := NewTensor3(2, 2, 1)
			x.Set(0, 0, 0, 1)
			x.Set(0, 1, 0, 2)
			x.Set(1, 0, 0, 3)

			out, s, err := engine.Step(x, []int{2, 1}, nil)

			Expect(err).ToNot(HaveOccurred())
			Expect(s.T).To(Equal([]int{2, 1}))

			Expect(s.Nodes.At(0, 0, 0)).To(Equal(1.0))
			Expect(s.Nodes.At(0, 1, 0)).To(Equal(2.0))
			Expect(s.Nodes.At(1, 0, 0)).To(Equal(3.0))

			Expect(out.At(0, 0, 0)).To(Equal(1.0))
			Expect(out.At(0, 1, 0)).To(Equal(2.0))
			Expect(out.At(1, 0, 0)).To(Equal(3.0))

			// Padding position stays zero.
			Expect(out.At(1, 1, 0)).To(Equal(0.0))
		})

		It("should leave idle rows dark", func() {
			x := NewTensor3(2, 1, 1)
			x.Set(0, 0, 0, 1)
			_, s, err := engine.Step(x, []int{1, 0}, nil)
			Expect(err).ToNot(HaveOccurred())

			x2 := NewTensor3(2, 1, 1)
			x2.Set(1, 0, 0, 5)
			out, s2, err := engine.Step(x2, []int{0, 1}, s)

			Expect(err).ToNot(HaveOccurred())
			Expect(out.At(0, 0, 0)).To(Equal(0.0))
			Expect(s2.T).To(Equal([]int{1, 1}))
		})

		It("should advance T by exactly taus on every step", func() {
			var s *State
			T := []int{0, 0, 0}
			tauSeq := [][]int{{1, 2, 0}, {2, 0, 1}, {0, 1, 1}}

			for _, taus := range tauSeq {
				t := 0
				for _, tau := range taus {
					if tau > t {
						t = tau
					}
				}
				x := NewTensor3(3, t, 2)

				var err error
				_, s, err = engine.Step(x, taus, s)
				Expect(err).ToNot(HaveOccurred())

				for b := range T {
					T[b] += taus[b]
				}
				Expect(s.T).To(Equal(T))
			}
		})

		It("should never mutate the state the caller holds", func() {
			x := NewTensor3(1, 1, 1)
			x.Set(0, 0, 0, 1)
			_, s, err := engine.Step(x, []int{1}, nil)
			Expect(err).ToNot(HaveOccurred())

			nodesBefore := append([]float64(nil), s.Nodes.Data...)
			tBefore := append([]int(nil), s.T...)

			x2 := NewTensor3(1, 1, 1)
			x2.Set(0, 0, 0, 2)
			_, s2, err := engine.Step(x2, []int{1}, s)
			Expect(err).ToNot(HaveOccurred())

			Expect(s.Nodes.Data).To(Equal(nodesBefore))
			Expect(s.T).To(Equal(tBefore))
			Expect(s2.T).To(Equal([]int{2}))
		})

		It("should reject taus that disagree with the batch", func() {
			x := NewTensor3(2, 1, 1)
			_, _, err := engine.Step(x, []int{1}, nil)

			Expect(err).To(BeAssignableToTypeOf(ShapeMismatchError{}))
		})

		It("should reject taus beyond the padded time dimension", func() {
			x := NewTensor3(1, 2, 1)
			_, _, err := engine.Step(x, []int{3}, nil)

			Expect(err).To(BeAssignableToTypeOf(ShapeMismatchError{}))
		})

		It("should reject a state sized for another engine", func() {
			x := NewTensor3(1, 1, 1)
			_, _, err := engine.Step(x, []int{1}, NewState(1, 16, 1))

			Expect(err).To(BeAssignableToTypeOf(ShapeMismatchError{}))
		})

		It("should reject a corrupted edge list", func() {
			x := NewTensor3(1, 1, 1)
			s := NewState(1, 4, 1)
			s.T[0] = 2
			s.Nodes.Set(0, 0, 0, 1)
			s.Nodes.Set(0, 1, 0, 2)
			s.Edges.Append(1, 0)

			_, _, err := engine.Step(x, []int{1}, s)

			Expect(err).To(BeAssignableToTypeOf(CausalityViolationError{}))
		})

		It("should reject edges crossing batch rows", func() {
			x := NewTensor3(2, 1, 1)
			s := NewState(2, 4, 1)
			s.T = []int{1, 1}
			s.Edges.Append(0, 4)

			_, _, err := engine.Step(x, []int{1, 1}, s)

			Expect(err).To(BeAssignableToTypeOf(CausalityViolationError{}))
		})

		It("should reject edges with negative endpoints", func() {
			x := NewTensor3(1, 1, 1)
			s := NewState(1, 4, 1)
			s.T[0] = 1
			s.Edges.Append(-1, 0)

			_, _, err := engine.Step(x, []int{1}, s)

			Expect(err).To(BeAssignableToTypeOf(CausalityViolationError{}))
		})

		It("should reject a selector that points past the node buffer", func() {
			rogue := EdgeList{}
			rogue.Append(8, 9)
			engine = NewEngine("Mem", 4, identityGNN{}).
				WithEdgeSelector(staticEdgeSelector{edges: rogue})

			x := NewTensor3(2, 1, 1)

			_, _, err := engine.Step(x, []int{1, 1}, nil)

			Expect(err).To(BeAssignableToTypeOf(CausalityViolationError{}))
		})
	})

	Context("when the graph fills up", func() {
		newChunk := func(v float64) Tensor3 {
			x := NewTensor3(1, 1, 1)
			x.Set(0, 0, 0, v)
			return x
		}

		It("should fail with an overflow without a policy", func() {
			engine := NewEngine("Mem", 2, identityGNN{})

			_, s, err := engine.Step(newChunk(1), []int{1}, nil)
			Expect(err).ToNot(HaveOccurred())
			_, s, err = engine.Step(newChunk(2), []int{1}, s)
			Expect(err).ToNot(HaveOccurred())

			_, _, err = engine.Step(newChunk(3), []int{1}, s)

			Expect(err).To(BeAssignableToTypeOf(CapacityOverflowError{}))
			overflow := err.(CapacityOverflowError)
			Expect(overflow.Batch).To(Equal(0))
			Expect(overflow.Slot).To(Equal(2))
			Expect(overflow.Capacity).To(Equal(2))
		})

		It("should wrap around with SlideEviction", func() {
			engine := NewEngine("Mem", 2, identityGNN{}).
				WithEvictionPolicy(SlideEviction{})

			var s *State
			var err error
			for v := 1.0; v <= 3.0; v++ {
				_, s, err = engine.Step(newChunk(v), []int{1}, s)
				Expect(err).ToNot(HaveOccurred())
			}

			Expect(s.T).To(Equal([]int{2}))
			Expect(s.Nodes.At(0, 0, 0)).To(Equal(2.0))
			Expect(s.Nodes.At(0, 1, 0)).To(Equal(3.0))
		})

		It("should keep wrapped edges causal", func() {
			engine := NewEngine("Mem", 2, sumGNN{}).
				WithEdgeSelector(prevNodeSelector{capacity: 2}).
				WithEvictionPolicy(SlideEviction{})

			var s *State
			var err error
			for v := 1.0; v <= 5.0; v++ {
				_, s, err = engine.Step(newChunk(v), []int{1}, s)
				Expect(err).ToNot(HaveOccurred())
			}

			for i := 0; i < s.Edges.Len(); i++ {
				Expect(s.Edges.Src[i]).To(BeNumerically("<", s.Edges.Dst[i]))
			}
		})
	})

	Context("with causal edges and a summing GNN", func() {
		var engine *Engine

		BeforeEach(func() {
			engine = NewEngine("Mem", 8, sumGNN{}).
				WithEdgeSelector(prevNodeSelector{capacity: 8})
		})

		It("should preserve causality across steps", func() {
			var s *State
			var err error
			for step := 0; step < 3; step++ {
				x := NewTensor3(2, 2, 1)
				_, s, err = engine.Step(x, []int{2, 1}, s)
				Expect(err).ToNot(HaveOccurred())
			}

			Expect(s.Edges.Len()).To(BeNumerically(">", 0))
			for i := 0; i < s.Edges.Len(); i++ {
				Expect(s.Edges.Src[i]).To(BeNumerically("<", s.Edges.Dst[i]))
			}
		})

		It("should produce the same output chunked or whole", func() {
			value := func(b, k int) float64 { return float64(10*b + k + 1) }

			// One call holding the full sequence.
			whole := NewTensor3(2, 4, 1)
			for b := 0; b < 2; b++ {
				for k := 0; k < 4; k++ {
					whole.Set(b, k, 0, value(b, k))
				}
			}
			wholeOut, _, err := engine.Step(whole, []int{4, 4}, nil)
			Expect(err).ToNot(HaveOccurred())

			// The same sequence in two ragged chunks.
			chunk1 := NewTensor3(2, 2, 1)
			chunk1.Set(0, 0, 0, value(0, 0))
			chunk1.Set(0, 1, 0, value(0, 1))
			chunk1.Set(1, 0, 0, value(1, 0))

			chunk2 := NewTensor3(2, 3, 1)
			chunk2.Set(0, 0, 0, value(0, 2))
			chunk2.Set(0, 1, 0, value(0, 3))
			chunk2.Set(1, 0, 0, value(1, 1))
			chunk2.Set(1, 1, 0, value(1, 2))
			chunk2.Set(1, 2, 0, value(1, 3))

			out1, s, err := engine.Step(chunk1, []int{2, 1}, nil)
			Expect(err).ToNot(HaveOccurred())
			out2, _, err := engine.Step(chunk2, []int{2, 3}, s)
			Expect(err).ToNot(HaveOccurred())

			// Reassemble the chunked outputs into [B, 4, F].
			chunked := NewTensor3(2, 4, 1)
			chunked.Set(0, 0, 0, out1.At(0, 0, 0))
			chunked.Set(0, 1, 0, out1.At(0, 1, 0))
			chunked.Set(1, 0, 0, out1.At(1, 0, 0))
			chunked.Set(0, 2, 0, out2.At(0, 0, 0))
			chunked.Set(0, 3, 0, out2.At(0, 1, 0))
			chunked.Set(1, 1, 0, out2.At(1, 0, 0))
			chunked.Set(1, 2, 0, out2.At(1, 1, 0))
			chunked.Set(1, 3, 0, out2.At(1, 2, 0))

			Expect(chunked.Data).To(Equal(wholeOut.Data))
		})
	})

	Context("with mocked collaborators", func() {
		var (
			mockCtrl *gomock.Controller
			gnn      *MockGNN
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
			gnn = NewMockGNN(mockCtrl)
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		It("should hand the GNN only live nodes", func() {
			engine := NewEngine("Mem", 8, gnn)

			gnn.EXPECT().
				Apply(gomock.Any(), gomock.Any(), gomock.Any()).
				DoAndReturn(func(
					nodes Matrix, edges EdgeList, w []float64,
				) (Matrix, error) {
					Expect(nodes.Rows).To(Equal(3))
					return nodes.Clone(), nil
				})

			x := NewTensor3(2, 2, 1)
			_, _, err := engine.Step(x, []int{2, 1}, nil)
			Expect(err).ToNot(HaveOccurred())
		})

		It("should run collaborators in protocol order", func() {
			pre := NewMockNodeTransform(mockCtrl)
			pos := NewMockNodeTransform(mockCtrl)
			sel := NewMockEdgeSelector(mockCtrl)
			aux := NewMockEdgeSelector(mockCtrl)

			engine := NewEngine("Mem", 8, gnn).
				WithPreprocessor(pre).
				WithPositionalEncoder(pos).
				WithEdgeSelector(sel).
				WithAuxEdgeSelector(aux)

			passNodes := func(nodes Tensor3) (Tensor3, error) {
				return nodes, nil
			}
			passEdges := func(
				nodes Tensor3, edges EdgeList, w []float64, T, taus []int,
			) (EdgeList, []float64, error) {
				return edges, w, nil
			}

			selCall := sel.EXPECT().
				SelectEdges(gomock.Any(), gomock.Any(), gomock.Any(),
					gomock.Any(), gomock.Any()).
				DoAndReturn(passEdges)
			preCall := pre.EXPECT().
				Transform(gomock.Any()).
				DoAndReturn(passNodes).
				After(selCall)
			posCall := pos.EXPECT().
				Transform(gomock.Any()).
				DoAndReturn(passNodes).
				After(preCall)
			auxCall := aux.EXPECT().
				SelectEdges(gomock.Any(), gomock.Any(), gomock.Any(),
					gomock.Any(), gomock.Any()).
				DoAndReturn(passEdges).
				After(posCall)
			gnn.EXPECT().
				Apply(gomock.Any(), gomock.Any(), gomock.Any()).
				DoAndReturn(func(
					nodes Matrix, edges EdgeList, w []float64,
				) (Matrix, error) {
					return nodes.Clone(), nil
				}).
				After(auxCall)

			x := NewTensor3(1, 1, 1)
			_, _, err := engine.Step(x, []int{1}, nil)
			Expect(err).ToNot(HaveOccurred())
		})

		It("should keep transformed features out of the returned state", func() {
			pre := NewMockNodeTransform(mockCtrl)
			engine := NewEngine("Mem", 4, gnn).WithPreprocessor(pre)

			pre.EXPECT().
				Transform(gomock.Any()).
				DoAndReturn(func(nodes Tensor3) (Tensor3, error) {
					out := nodes.Clone()
					for i := range out.Data {
						out.Data[i] *= 2
					}
					return out, nil
				})
			gnn.EXPECT().
				Apply(gomock.Any(), gomock.Any(), gomock.Any()).
				DoAndReturn(func(
					nodes Matrix, edges EdgeList, w []float64,
				) (Matrix, error) {
					return nodes.Clone(), nil
				})

			x := NewTensor3(1, 1, 1)
			x.Set(0, 0, 0, 3)

			out, s, err := engine.Step(x, []int{1}, nil)

			Expect(err).ToNot(HaveOccurred())
			Expect(out.At(0, 0, 0)).To(Equal(6.0))
			Expect(s.Nodes.At(0, 0, 0)).To(Equal(3.0))
		})

		It("should reject a transform that drops nodes", func() {
			pre := NewMockNodeTransform(mockCtrl)
			engine := NewEngine("Mem", 4, gnn).WithPreprocessor(pre)

			pre.EXPECT().
				Transform(gomock.Any()).
				Return(NewTensor3(1, 2, 1), nil)

			x := NewTensor3(1, 1, 1)
			_, _, err := engine.Step(x, []int{1}, nil)

			Expect(err).To(BeAssignableToTypeOf(ShapeMismatchError{}))
		})

		It("should reject a GNN that drops nodes", func() {
			engine := NewEngine("Mem", 4, gnn)

			gnn.EXPECT().
				Apply(gomock.Any(), gomock.Any(), gomock.Any()).
				Return(NewMatrix(0, 1), nil)

			x := NewTensor3(1, 1, 1)
			_, _, err := engine.Step(x, []int{1}, nil)

			Expect(err).To(BeAssignableToTypeOf(ShapeMismatchError{}))
		})

		It("should reject non-finite memory output", func() {
			engine := NewEngine("Mem", 4, gnn)

			gnn.EXPECT().
				Apply(gomock.Any(), gomock.Any(), gomock.Any()).
				DoAndReturn(func(
					nodes Matrix, edges EdgeList, w []float64,
				) (Matrix, error) {
					out := nodes.Clone()
					out.Data[0] = math.NaN()
					return out, nil
				})

			x := NewTensor3(1, 1, 1)
			_, _, err := engine.Step(x, []int{1}, nil)

			Expect(err).To(BeAssignableToTypeOf(NumericalInstabilityError{}))
		})
	})

	Context("hook events", func() {
		It("should report step start, node writes, and step end", func() {
			engine := NewEngine("Mem", 4, identityGNN{})
			hook := &recordingHook{}
			engine.AcceptHook(hook)

			x := NewTensor3(2, 2, 1)
			_, _, err := engine.Step(x, []int{2, 1}, nil)
			Expect(err).ToNot(HaveOccurred())

			Expect(hook.at(HookPosStepStart)).To(HaveLen(1))
			Expect(hook.at(HookPosNodesWritten)).To(HaveLen(1))

			ends := hook.at(HookPosStepEnd)
			Expect(ends).To(HaveLen(1))

			info := ends[0].Item.(StepInfo)
			Expect(info.Engine).To(Equal("Mem"))
			Expect(info.NewNodes).To(Equal(3))
			Expect(info.LiveNodes).To(Equal(3))
		})

		It("should report evictions", func() {
			engine := NewEngine("Mem", 2, identityGNN{}).
				WithEvictionPolicy(SlideEviction{})
			hook := &recordingHook{}
			engine.AcceptHook(hook)

			var s *State
			var err error
			for i := 0; i < 3; i++ {
				x := NewTensor3(1, 1, 1)
				_, s, err = engine.Step(x, []int{1}, s)
				Expect(err).ToNot(HaveOccurred())
			}

			evictions := hook.at(HookPosEviction)
			Expect(evictions).To(HaveLen(1))

			info := evictions[0].Item.(EvictionInfo)
			Expect(info.Batch).To(Equal(0))
			Expect(info.Dropped).To(Equal(1))
		})
	})
})
