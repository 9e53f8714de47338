package vm

// Flags holds the two status booleans spec.md §3 defines: ZF (zero/equal)
// and SF (signed less-than). Only compare instructions (register/register
// and memory/memory) and the heap allocator's result set them.
type Flags struct {
	ZF bool
	SF bool
}

// SetCompare implements CMP's contract: ZF = (a==b), SF = (a<b).
func (f *Flags) SetCompare(a, b int32) {
	f.ZF = a == b
	f.SF = a < b
}

// SetFromHeapResult implements the heap allocator's flag contract (spec.md
// §4.4): ZF = (result == 0), SF = (result < 0).
func (f *Flags) SetFromHeapResult(result int32) {
	f.ZF = result == 0
	f.SF = result < 0
}
