package gam

import "fmt"

// A CapacityOverflowError reports a planned node write that falls outside
// the fixed-capacity node buffer of a batch row, with no eviction policy
// engaged to free room.
type CapacityOverflowError struct {
	Batch    int
	Slot     int
	Capacity int
}

func (e CapacityOverflowError) Error() string {
	return fmt.Sprintf(
		"graph capacity overflow: batch row %d needs slot %d, capacity is %d",
		e.Batch, e.Slot, e.Capacity)
}

// A CausalityViolationError reports an edge whose endpoints do not respect
// the causal ordering of the graph. It indicates state corruption or a
// misbehaving edge selector, not a recoverable condition.
type CausalityViolationError struct {
	Src    int
	Dst    int
	Reason string
}

func (e CausalityViolationError) Error() string {
	return fmt.Sprintf("edge %d -> %d: %s", e.Src, e.Dst, e.Reason)
}

// A NumericalInstabilityError reports a non-finite value in the GNN output.
// It usually means an unbounded collaborator; saturating activations such
// as tanh keep the memory output finite.
type NumericalInstabilityError struct {
	Row   int
	Col   int
	Value float64
}

func (e NumericalInstabilityError) Error() string {
	return fmt.Sprintf(
		"non-finite value %v in memory output at row %d, feature %d; "+
			"consider a saturating activation such as tanh",
		e.Value, e.Row, e.Col)
}

// A ShapeMismatchError reports an input or collaborator result that
// violates its declared tensor-shape contract. It is raised at the
// boundary, before any state is mutated.
type ShapeMismatchError struct {
	What string
	Want []int
	Got  []int
}

func (e ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch in %s: want %v, got %v",
		e.What, e.Want, e.Got)
}
