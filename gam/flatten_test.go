package gam

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Graph flattening", func() {
	var nodes Tensor3

	BeforeEach(func() {
		// B=2, N=4, F=1; row 0 holds 10,11,12 and row 1 holds 20.
		nodes = NewTensor3(2, 4, 1)
		nodes.Set(0, 0, 0, 10)
		nodes.Set(0, 1, 0, 11)
		nodes.Set(0, 2, 0, 12)
		nodes.Set(1, 0, 0, 20)
	})

	It("should concatenate only the live prefixes", func() {
		flat, _, _ := FlattenNodes(nodes, []int{2, 0}, []int{1, 1})

		Expect(flat.Rows).To(Equal(4))
		Expect(flat.Data).To(Equal([]float64{10, 11, 12, 20}))
	})

	It("should report the flat rows of newly written nodes", func() {
		_, newRows, _ := FlattenNodes(nodes, []int{2, 0}, []int{1, 1})

		Expect(newRows).To(Equal([]int{2, 3}))
	})

	It("should map live grid slots and mark dead ones", func() {
		_, _, gridToFlat := FlattenNodes(nodes, []int{2, 0}, []int{1, 1})

		Expect(gridToFlat).To(Equal([]int{
			0, 1, 2, -1,
			3, -1, -1, -1,
		}))
	})

	It("should renumber edges into the flat numbering", func() {
		_, _, gridToFlat := FlattenNodes(nodes, []int{2, 0}, []int{1, 1})

		edges := EdgeList{Src: []int{0, 1}, Dst: []int{2, 2}}
		flatEdges, err := renumberEdges(edges, gridToFlat)

		Expect(err).ToNot(HaveOccurred())
		Expect(flatEdges.Src).To(Equal([]int{0, 1}))
		Expect(flatEdges.Dst).To(Equal([]int{2, 2}))
	})

	It("should reject edges that touch dead slots", func() {
		_, _, gridToFlat := FlattenNodes(nodes, []int{2, 0}, []int{1, 1})

		edges := EdgeList{Src: []int{1}, Dst: []int{3}}
		_, err := renumberEdges(edges, gridToFlat)

		Expect(err).To(BeAssignableToTypeOf(CausalityViolationError{}))
	})
})
