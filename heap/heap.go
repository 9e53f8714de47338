// Package heap implements MicroASM's heap allocator: a first-fit free-list
// allocator over an explicit region of the VM's linear RAM.
//
// spec.md §4.4 specifies the policy (first-fit, splitting on allocation,
// coalescing adjacent free blocks on free) and the flag-setting contract
// but not an implementation; no allocator source survived retrieval filtering
// from original_source/ (see DESIGN.md), so this design follows the classic
// free-list shape directly from spec.md and its §8 testable properties.
package heap

import (
	"fmt"
	"sort"
)

// FailedAlloc is the sentinel address Alloc returns on failure — negative,
// so the VM's SF flag convention (SF = result < 0) holds without a special
// case.
const FailedAlloc = int32(-1)

// ErrDoubleFree is returned by Free when ptr does not name a live block.
var ErrDoubleFree = fmt.Errorf("heap: free of unknown or already-freed pointer")

type block struct {
	addr, size int
}

// Allocator manages a [start, start+size) region of RAM as a free list of
// blocks, split on allocation and coalesced on free.
type Allocator struct {
	start, size int
	free        []block // sorted by addr, non-adjacent after coalescing
	live        map[int]int
}

// New creates an allocator over the given region. The region is assumed to
// be otherwise unused RAM; the allocator does not touch RAM contents itself
// (callers use MALLOC/FREE operand results to read/write the returned
// addresses through the VM's memory component).
func New(start, size int) *Allocator {
	return &Allocator{
		start: start,
		size:  size,
		free:  []block{{addr: start, size: size}},
		live:  make(map[int]int),
	}
}

// Alloc returns the address of a block of exactly size bytes, or
// FailedAlloc if no free block is large enough. First-fit: the first free
// block (in address order) large enough to hold size is used, split if it
// has bytes left over.
func (a *Allocator) Alloc(size int) int32 {
	if size <= 0 {
		return FailedAlloc
	}
	for i, b := range a.free {
		if b.size < size {
			continue
		}
		addr := b.addr
		remaining := b.size - size
		if remaining > 0 {
			a.free[i] = block{addr: addr + size, size: remaining}
		} else {
			a.free = append(a.free[:i], a.free[i+1:]...)
		}
		a.live[addr] = size
		return int32(addr)
	}
	return FailedAlloc
}

// Free releases the block at ptr. It returns nil (the VM's FREE op then
// reports 0) on success, or ErrDoubleFree if ptr is not a live block's
// address.
func (a *Allocator) Free(ptr int) error {
	size, ok := a.live[ptr]
	if !ok {
		return ErrDoubleFree
	}
	delete(a.live, ptr)
	a.insertFree(block{addr: ptr, size: size})
	return nil
}

// insertFree inserts b into the free list in address order and coalesces it
// with any adjacent neighbors.
func (a *Allocator) insertFree(b block) {
	a.free = append(a.free, b)
	sort.Slice(a.free, func(i, j int) bool { return a.free[i].addr < a.free[j].addr })

	merged := a.free[:0]
	for _, cur := range a.free {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			if last.addr+last.size == cur.addr {
				last.size += cur.size
				continue
			}
		}
		merged = append(merged, cur)
	}
	a.free = merged
}

// LiveBlocks returns the addresses of every currently-allocated block, for
// the unfreed-block report the VM prints at shutdown (spec.md §4.4/§4.8).
func (a *Allocator) LiveBlocks() []int {
	addrs := make([]int, 0, len(a.live))
	for addr := range a.live {
		addrs = append(addrs, addr)
	}
	sort.Ints(addrs)
	return addrs
}

// IsLive reports whether ptr names a currently-allocated block.
func (a *Allocator) IsLive(ptr int) bool {
	_, ok := a.live[ptr]
	return ok
}
