package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocDisjointBlocks(t *testing.T) {
	a := New(1000, 256)
	p1 := a.Alloc(16)
	p2 := a.Alloc(16)
	if p1 == FailedAlloc || p2 == FailedAlloc {
		t.Fatalf("unexpected allocation failure: p1=%d p2=%d", p1, p2)
	}
	if p1 == p2 {
		t.Fatalf("expected disjoint blocks, got same address %d", p1)
	}
	// Non-overlapping: p2 must be outside [p1, p1+16).
	if p2 >= p1 && p2 < p1+16 {
		t.Fatalf("blocks overlap: p1=%d p2=%d", p1, p2)
	}
}

func TestAllocExhaustsRegion(t *testing.T) {
	a := New(0, 32)
	if a.Alloc(33) != FailedAlloc {
		t.Fatal("expected failure allocating more than the region size")
	}
}

func TestFreeThenReallocate(t *testing.T) {
	a := New(0, 32)
	p := a.Alloc(32)
	if p == FailedAlloc {
		t.Fatal("alloc failed")
	}
	if err := a.Free(int(p)); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if a.IsLive(int(p)) {
		t.Fatalf("block at %d should not be live after Free", p)
	}
	p2 := a.Alloc(32)
	if p2 != p {
		t.Errorf("expected reallocation at freed address %d, got %d", p, p2)
	}
}

func TestDoubleFreeReturnsErrorAndLeavesHeapUnchanged(t *testing.T) {
	a := New(0, 64)
	p := a.Alloc(16)
	before := a.LiveBlocks()
	if err := a.Free(int(p) + 1000); err == nil {
		t.Fatal("expected error freeing an unknown pointer")
	}
	after := a.LiveBlocks()
	if len(before) != len(after) || before[0] != after[0] {
		t.Errorf("heap state changed after failed free: before=%v after=%v", before, after)
	}
}

func TestCoalesceAdjacentFreedBlocks(t *testing.T) {
	a := New(0, 48)
	p1 := a.Alloc(16)
	p2 := a.Alloc(16)
	p3 := a.Alloc(16)
	_ = a.Free(int(p1))
	_ = a.Free(int(p2))
	_ = a.Free(int(p3))
	// Fully coalesced back into a single 48-byte block able to satisfy one
	// allocation of the whole region.
	p := a.Alloc(48)
	if p == FailedAlloc {
		t.Fatal("expected coalesced free list to satisfy a full-region allocation")
	}
}

func TestLiveBlocksMatchUnfreedSet(t *testing.T) {
	a := New(0, 64)
	p1 := a.Alloc(8)
	p2 := a.Alloc(8)
	_ = a.Free(int(p1))
	live := a.LiveBlocks()
	if len(live) != 1 || live[0] != int(p2) {
		t.Errorf("live blocks = %v, want [%d]", live, p2)
	}
}

func TestAlloc_SizeClasses(t *testing.T) {
	tests := []struct {
		name   string
		region int
		size   int
		wantOK bool
	}{
		{"fits exactly", 64, 64, true},
		{"fits with room to split", 64, 16, true},
		{"one byte over region", 64, 65, false},
		{"zero-size request is rejected", 64, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(0, tt.region)
			p := a.Alloc(tt.size)
			if tt.wantOK {
				require.NotEqual(t, FailedAlloc, p, "expected allocation to succeed")
				assert.True(t, a.IsLive(int(p)), "freshly allocated block should be live")
			} else {
				assert.Equal(t, FailedAlloc, p, "expected allocation to fail")
			}
		})
	}
}
