// Package loader turns a decoded binary image into a ready-to-run VM: it
// seeds the code segment, copies data records into RAM, and resolves
// debug labels, mirroring the teacher's loader (which did the equivalent
// job of turning a parsed program into live VM memory) but against
// MicroASM's simpler load model, which has no segments, relocation, or
// literal pools to place.
package loader

import (
	"fmt"

	"github.com/fynite/microasm/image"
	"github.com/fynite/microasm/vm"
)

// FromImage constructs a VM from an already-decoded image: Code becomes
// the VM's instruction stream, Data records are copied into RAM verbatim,
// and Debug records populate the label table the debugger and trap
// reporter resolve addresses against (spec.md §4.1, §4.7, §4.8).
func FromImage(img *image.Image, ramSize, heapStart, heapSize int, programArgs []string) (*vm.VM, error) {
	v := vm.New(img.Code, ramSize, heapStart, heapSize, programArgs)

	if err := image.LoadDataSegment(v.Mem, img); err != nil {
		return nil, fmt.Errorf("loader: loading data segment: %w", err)
	}
	for name, addr := range image.DebugMap(img) {
		v.Labels[name] = addr
	}

	return v, nil
}

// LoadFile decodes raw image bytes and builds a VM from them in one step,
// for callers that only have a byte slice read from disk.
func LoadFile(raw []byte, ramSize, heapStart, heapSize int, programArgs []string) (*vm.VM, *image.Image, error) {
	img, err := image.Decode(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("loader: decoding image: %w", err)
	}
	v, err := FromImage(img, ramSize, heapStart, heapSize, programArgs)
	if err != nil {
		return nil, nil, err
	}
	return v, img, nil
}
