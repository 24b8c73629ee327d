package mm

const (
	// PointerSize is the width in bytes of a pointer on the simulated
	// machine. User programs are 32-bit.
	PointerSize = uint32(4)

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uint32(7)

	// PageSize defines the page size in bytes. It matches the disk sector
	// size so that a page can be moved to and from swap in one transfer.
	PageSize = uint32(1 << PageShift)
)

// PagesFor returns the number of pages needed to hold size bytes.
func PagesFor(size uint32) uint32 {
	return (size + PageSize - 1) >> PageShift
}
