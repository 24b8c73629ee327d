package mm

import "math"

// Frame describes a physical memory page index.
type Frame uint32

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint32)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address of the first byte in this Frame.
func (f Frame) Address() uint32 {
	return uint32(f) << PageShift
}

// Page describes a virtual memory page index.
type Page uint32

// Address returns the virtual address of the first byte in this Page.
func (p Page) Address() uint32 {
	return uint32(p) << PageShift
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. This function can handle both page-aligned and not aligned virtual
// addresses. in the latter case, the input address will be rounded down to the
// page that contains it.
func PageFromAddress(virtAddr uint32) Page {
	return Page((virtAddr &^ (PageSize - 1)) >> PageShift)
}

// PageOffset returns the offset within its page of the supplied address.
func PageOffset(addr uint32) uint32 {
	return addr & (PageSize - 1)
}
