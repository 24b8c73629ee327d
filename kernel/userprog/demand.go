package userprog

import (
	"nachos/kernel"
	"nachos/kernel/kfmt"
	"nachos/kernel/mm"
	"nachos/kernel/mm/vmm"
)

var (
	// ErrFaultOutOfRange is returned when a faulting address lies outside
	// the address space.
	ErrFaultOutOfRange = &kernel.Error{Module: "userprog", Message: "faulting address outside the address space"}

	// ErrFaultPageValid is returned when a page that is already mapped is
	// loaded on demand.
	ErrFaultPageValid = &kernel.Error{Module: "userprog", Message: "page is already mapped"}

	// ErrFaultFrameNotReserved is returned when a page is loaded into a
	// frame that the caller has not reserved from the frame allocator.
	ErrFaultFrameNotReserved = &kernel.Error{Module: "userprog", Message: "target frame is not reserved"}

	// ErrFaultFrameMapped is returned when a page is loaded into a frame
	// that already backs another page of the address space.
	ErrFaultFrameMapped = &kernel.Error{Module: "userprog", Message: "target frame already backs a mapped page"}

	// ErrFaultNoSwap is returned when paging is requested for an address
	// space without a swap store.
	ErrFaultNoSwap = &kernel.Error{Module: "userprog", Message: "address space has no swap store"}

	// ErrFaultNotInSwap is returned when a page that was never evicted is
	// loaded on demand.
	ErrFaultNotInSwap = &kernel.Error{Module: "userprog", Message: "page not present in swap"}

	// ErrFaultNoFreeFrame is returned when a page fault cannot be served
	// because every frame is reserved.
	ErrFaultNoFreeFrame = &kernel.Error{Module: "userprog", Message: "no free frame to serve page fault"}

	// ErrPageNotMapped is returned when an unmapped page is evicted.
	ErrPageNotMapped = &kernel.Error{Module: "userprog", Message: "page is not mapped"}
)

// Entry returns a copy of the page table entry for page.
func (as *AddrSpace) Entry(page mm.Page) vmm.PageTableEntry {
	return as.table().Entry(page)
}

// SetEntry overwrites the page table entry for page.
func (as *AddrSpace) SetEntry(page mm.Page, entry vmm.PageTableEntry) {
	as.table().SetEntry(page, entry)
}

// SetValid sets or clears the valid bit of page.
func (as *AddrSpace) SetValid(page mm.Page, valid bool) {
	as.table().SetValid(page, valid)
}

// SetDirty sets or clears the dirty bit of page.
func (as *AddrSpace) SetDirty(page mm.Page, dirty bool) {
	as.table().SetDirty(page, dirty)
}

// PageForFrame returns the virtual page mapped to frame, if any.
func (as *AddrSpace) PageForFrame(frame mm.Frame) (mm.Page, bool) {
	return as.table().PageForFrame(frame)
}

// LoadPageOnDemand reads the evicted contents of page from swap into frame
// and maps page to it. The caller must have reserved frame from the frame
// allocator beforehand; ownership passes to the address space on success.
func (as *AddrSpace) LoadPageOnDemand(page mm.Page, frame mm.Frame) *kernel.Error {
	pt := as.table()

	entry := pt.Entry(page)
	if entry.Valid() {
		return ErrFaultPageValid
	}

	if !as.frames.IsReserved(frame) {
		return ErrFaultFrameNotReserved
	}

	if owner, mapped := pt.PageForFrame(frame); mapped {
		kfmt.Debugf('a', "[userprog] frame %d already backs page %d\n", frame, owner)
		return ErrFaultFrameMapped
	}

	if as.swap == nil {
		return ErrFaultNoSwap
	}

	// The frame is only overwritten once the whole page has been read.
	buf := make([]byte, mm.PageSize)
	found, err := as.swap.ReadPage(page, buf)
	switch {
	case err != nil:
		return err
	case !found:
		return ErrFaultNotInSwap
	}
	kernel.Memcopy(buf, as.machine.FrameBytes(frame))

	pt.Map(page, frame, entry.Flags&vmm.FlagReadOnly)
	kfmt.Debugf('a', "[userprog] paged in page %d to frame %d\n", page, frame)
	return nil
}

// EvictPage pages out page and returns the frame it occupied to the frame
// allocator. The page contents are written to swap unless an identical copy
// is already there.
func (as *AddrSpace) EvictPage(page mm.Page) (mm.Frame, *kernel.Error) {
	pt := as.table()

	entry := pt.Entry(page)
	if !entry.Valid() {
		return mm.InvalidFrame, ErrPageNotMapped
	}

	if as.swap == nil {
		return mm.InvalidFrame, ErrFaultNoSwap
	}

	if entry.Dirty() || !as.swap.Contains(page) {
		if err := as.swap.WritePage(page, as.machine.FrameBytes(entry.PhysicalPage)); err != nil {
			return mm.InvalidFrame, err
		}
	}

	frame, _ := pt.Unmap(page)
	if err := as.frames.FreeFrame(frame); err != nil {
		kfmt.Printf("[userprog] evicting page %d: frame %d: %s\n", page, frame, err.Message)
		kfmt.Panic(errFrameAccounting)
	}

	kfmt.Debugf('a', "[userprog] paged out page %d from frame %d\n", page, frame)
	return frame, nil
}

// HandlePageFault serves a page fault at virtAddr by reserving a free frame
// and loading the faulting page into it from swap.
func (as *AddrSpace) HandlePageFault(virtAddr uint32) *kernel.Error {
	page := mm.PageFromAddress(virtAddr)
	if !as.table().Contains(page) {
		return ErrFaultOutOfRange
	}

	frame, err := as.frames.AllocFrame()
	if err != nil {
		return ErrFaultNoFreeFrame
	}

	if err = as.LoadPageOnDemand(page, frame); err != nil {
		if freeErr := as.frames.FreeFrame(frame); freeErr != nil {
			kfmt.Printf("[userprog] returning frame %d after failed fault: %s\n", frame, freeErr.Message)
			kfmt.Panic(errFrameAccounting)
		}
		return err
	}

	return nil
}
