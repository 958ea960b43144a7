package gam

// A WriteIndex identifies the absolute buffer slot one new node occupies:
// batch row Batch, slot T[b]+offset within that row.
type WriteIndex struct {
	Batch, Slot int
}

// An InputIndex identifies one real (non-padding) entry of a padded
// `[B, t, F]` input tensor.
type InputIndex struct {
	Batch, Time int
}

// PlanNodeWrites computes, for every new node implied by taus, the buffer
// position it must be written to. Positions are absolute: a batch row that
// already holds T[b] live nodes receives its new nodes at slots T[b],
// T[b]+1, and so on. Rows with taus[b] == 0 contribute nothing.
//
// The result is ordered batch-major with ascending slots, element-wise
// aligned with NonPaddedEntries for the same taus.
func PlanNodeWrites(T, taus []int) []WriteIndex {
	writes := make([]WriteIndex, 0, sumInts(taus))
	for b := range taus {
		for i := 0; i < taus[b]; i++ {
			writes = append(writes, WriteIndex{Batch: b, Slot: T[b] + i})
		}
	}
	return writes
}

// NonPaddedEntries computes which entries of a padded `[B, t, F]` tensor
// hold real data: entry (b, time) is real iff time < taus[b]. The result is
// ordered batch-major with ascending time, element-wise aligned with
// PlanNodeWrites for the same taus. It is used both to gather input rows
// into planned buffer slots and to scatter per-new-node output back into
// dense padded form.
func NonPaddedEntries(taus []int) []InputIndex {
	entries := make([]InputIndex, 0, sumInts(taus))
	for b := range taus {
		for i := 0; i < taus[b]; i++ {
			entries = append(entries, InputIndex{Batch: b, Time: i})
		}
	}
	return entries
}

func sumInts(xs []int) int {
	n := 0
	for _, x := range xs {
		n += x
	}
	return n
}
