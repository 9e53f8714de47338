package vm

import (
	"fmt"
	"io"
	"sort"
)

// Statistics tracks per-opcode execution counts for an optional run
// summary, adapted from the teacher's PerformanceStatistics down to the
// subset SPEC_FULL.md's domain-stack section actually calls for: total
// instructions and a per-mnemonic breakdown.
type Statistics struct {
	TotalInstructions uint64
	Counts            map[Opcode]uint64
}

// NewStatistics returns a zeroed Statistics instance ready for
// RecordInstruction calls.
func NewStatistics() *Statistics {
	return &Statistics{Counts: make(map[Opcode]uint64)}
}

// RecordInstruction tallies one executed opcode.
func (s *Statistics) RecordInstruction(op Opcode) {
	s.TotalInstructions++
	s.Counts[op]++
}

// WriteSummary prints a total-instructions line followed by a per-opcode
// breakdown sorted by descending frequency.
func (s *Statistics) WriteSummary(w io.Writer) {
	fmt.Fprintf(w, "Instructions executed: %d\n", s.TotalInstructions)
	type row struct {
		op    Opcode
		count uint64
	}
	rows := make([]row, 0, len(s.Counts))
	for op, count := range s.Counts {
		rows = append(rows, row{op, count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return rows[i].op < rows[j].op
	})
	for _, r := range rows {
		fmt.Fprintf(w, "  %-8s %d\n", r.op.Name(), r.count)
	}
}
