package vmm

import (
	"nachos/kernel"
	"nachos/kernel/kfmt"
	"nachos/kernel/mm"
	"nachos/kernel/sync"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	errPageIndexOutOfRange = &kernel.Error{Module: "vmm", Message: "page table index out of range"}

	// panicFn is used by tests to observe invariant violations without
	// halting the test binary.
	panicFn = kfmt.Panic
)

// PageTable is the linear page table of an address space. Entry i holds the
// translation for virtual page i. The number of entries is fixed when the
// table is created.
//
// Indexing a page outside the table is treated as a kernel bug: it reflects
// a broken invariant in the caller rather than bad user input, so PageTable
// halts the kernel via kfmt.Panic instead of returning an error.
type PageTable struct {
	lock    sync.Spinlock
	entries []PageTableEntry
}

// NewPageTable returns a page table with numPages invalid entries.
func NewPageTable(numPages uint32) *PageTable {
	pt := &PageTable{entries: make([]PageTableEntry, numPages)}
	for i := range pt.entries {
		pt.entries[i].VirtualPage = mm.Page(i)
		pt.entries[i].PhysicalPage = mm.InvalidFrame
	}

	return pt
}

// Len returns the number of entries in the page table.
func (pt *PageTable) Len() uint32 {
	return uint32(len(pt.entries))
}

// Contains returns true if the page can be indexed in this table.
func (pt *PageTable) Contains(page mm.Page) bool {
	return uint32(page) < uint32(len(pt.entries))
}

func (pt *PageTable) checkIndex(page mm.Page) bool {
	if !pt.Contains(page) {
		kfmt.Printf("[vmm] page %d outside page table with %d entries\n", page, len(pt.entries))
		panicFn(errPageIndexOutOfRange)
		return false
	}

	return true
}

// Entry returns a copy of the entry for the supplied page.
func (pt *PageTable) Entry(page mm.Page) PageTableEntry {
	if !pt.checkIndex(page) {
		return PageTableEntry{PhysicalPage: mm.InvalidFrame}
	}

	pt.lock.Acquire()
	defer pt.lock.Release()

	return pt.entries[page]
}

// SetEntry overwrites the entry for the supplied page. The VirtualPage field
// of the stored entry always matches page.
func (pt *PageTable) SetEntry(page mm.Page, entry PageTableEntry) {
	if !pt.checkIndex(page) {
		return
	}

	pt.lock.Acquire()
	defer pt.lock.Release()

	entry.VirtualPage = page
	pt.entries[page] = entry
}

// SetFlags sets flags on the entry for the supplied page.
func (pt *PageTable) SetFlags(page mm.Page, flags PageTableEntryFlag) {
	if !pt.checkIndex(page) {
		return
	}

	pt.lock.Acquire()
	pt.entries[page].SetFlags(flags)
	pt.lock.Release()
}

// ClearFlags clears flags on the entry for the supplied page.
func (pt *PageTable) ClearFlags(page mm.Page, flags PageTableEntryFlag) {
	if !pt.checkIndex(page) {
		return
	}

	pt.lock.Acquire()
	pt.entries[page].ClearFlags(flags)
	pt.lock.Release()
}

// SetValid sets or clears the valid flag for the supplied page.
func (pt *PageTable) SetValid(page mm.Page, valid bool) {
	if valid {
		pt.SetFlags(page, FlagValid)
		return
	}
	pt.ClearFlags(page, FlagValid)
}

// SetDirty sets or clears the dirty flag for the supplied page.
func (pt *PageTable) SetDirty(page mm.Page, dirty bool) {
	if dirty {
		pt.SetFlags(page, FlagDirty)
		return
	}
	pt.ClearFlags(page, FlagDirty)
}

// Map points page to frame and marks the entry as valid with the supplied
// extra flags. Use and dirty bits are cleared.
func (pt *PageTable) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) {
	pt.SetEntry(page, PageTableEntry{
		PhysicalPage: frame,
		Flags:        FlagValid | (flags &^ (FlagUse | FlagDirty)),
	})
}

// Unmap invalidates the entry for page and returns the frame that backed it.
// The second return value is false if the page was not mapped.
func (pt *PageTable) Unmap(page mm.Page) (mm.Frame, bool) {
	if !pt.checkIndex(page) {
		return mm.InvalidFrame, false
	}

	pt.lock.Acquire()
	defer pt.lock.Release()

	entry := &pt.entries[page]
	if !entry.Valid() {
		return mm.InvalidFrame, false
	}

	frame := entry.PhysicalPage
	entry.ClearFlags(FlagValid)
	return frame, true
}

// PageForFrame performs a reverse lookup returning the virtual page whose
// valid entry points to frame. The lookup is a linear scan of the table.
func (pt *PageTable) PageForFrame(frame mm.Frame) (mm.Page, bool) {
	pt.lock.Acquire()
	defer pt.lock.Release()

	for i := range pt.entries {
		if pt.entries[i].Valid() && pt.entries[i].PhysicalPage == frame {
			return mm.Page(i), true
		}
	}

	return 0, false
}

// MappedFrames returns the frames referenced by valid entries in virtual
// page order.
func (pt *PageTable) MappedFrames() []mm.Frame {
	pt.lock.Acquire()
	defer pt.lock.Release()

	var frames []mm.Frame
	for i := range pt.entries {
		if pt.entries[i].Valid() {
			frames = append(frames, pt.entries[i].PhysicalPage)
		}
	}

	return frames
}

// Walk invokes visitor for each entry in virtual page order until visitor
// returns false. The visitor receives a snapshot of the table so it may call
// back into the page table.
func (pt *PageTable) Walk(visitor func(page mm.Page, entry PageTableEntry) bool) {
	pt.lock.Acquire()
	snapshot := make([]PageTableEntry, len(pt.entries))
	copy(snapshot, pt.entries)
	pt.lock.Release()

	for i, entry := range snapshot {
		if !visitor(mm.Page(i), entry) {
			return
		}
	}
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address. Translate does not update the
// use or dirty flags.
func (pt *PageTable) Translate(virtAddr uint32) (uint32, *kernel.Error) {
	page := mm.PageFromAddress(virtAddr)
	if !pt.Contains(page) {
		return 0, ErrInvalidMapping
	}

	entry := pt.Entry(page)
	if !entry.Valid() {
		return 0, ErrInvalidMapping
	}

	// Calculate the physical address by taking the physical frame address and
	// appending the offset from the virtual address
	return entry.PhysicalPage.Address() + mm.PageOffset(virtAddr), nil
}
