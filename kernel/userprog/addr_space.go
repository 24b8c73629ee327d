// Package userprog builds and manages the address spaces of user programs.
//
// An AddrSpace owns a linear page table that maps every virtual page of a
// program to a physical frame reserved from a FrameAllocator shared by all
// address spaces. Initialize sizes the address space from a NOFF executable,
// reserves its frames, zero-fills them and copies the code and initialized
// data segments in. CopyArguments then marshals the program arguments into
// the argument block that sits right below the stack.
//
// Pages can later be evicted to a SwapStore and faulted back in; the policy
// that picks which page to evict is left to the caller.
package userprog

import (
	"io"

	"nachos/kernel"
	"nachos/kernel/kfmt"
	"nachos/kernel/mm"
	"nachos/kernel/mm/vmm"
	"nachos/kernel/noff"
)

const (
	// UserStackSize is the number of bytes reserved for the user stack.
	UserStackSize = uint32(1024)

	// argPadding leaves room for aligning the argument block to the
	// pointer size.
	argPadding = uint32(4)
)

var (
	// ErrSegmentOutOfRange is returned when an executable segment does not
	// fit inside the address space sized for it.
	ErrSegmentOutOfRange = &kernel.Error{Module: "userprog", Message: "executable segment lies outside the address space"}

	// ErrTooBig is returned when the address space needs more pages than
	// the machine has physical frames.
	ErrTooBig = &kernel.Error{Module: "userprog", Message: "address space larger than physical memory"}

	// ErrNotEnoughFrames is returned when the address space needs more
	// pages than there are free frames.
	ErrNotEnoughFrames = &kernel.Error{Module: "userprog", Message: "not enough free frames for address space"}

	// ErrTruncatedExecutable is returned when a segment cannot be read in
	// full from the executable.
	ErrTruncatedExecutable = &kernel.Error{Module: "userprog", Message: "executable segment is truncated"}

	// ErrArgumentWrite is returned when the argument block cannot be
	// written to the address space.
	ErrArgumentWrite = &kernel.Error{Module: "userprog", Message: "argument block does not fit in mapped pages"}

	errAlreadyInitialized = &kernel.Error{Module: "userprog", Message: "address space already initialized"}
	errNotInitialized     = &kernel.Error{Module: "userprog", Message: "address space not initialized"}
	errFrameAccounting    = &kernel.Error{Module: "userprog", Message: "frame ownership out of sync with page table"}
)

// FrameAllocator reserves physical frames on behalf of address spaces. It is
// shared by all address spaces and must be safe for concurrent use.
type FrameAllocator interface {
	TotalFrames() uint32
	FreeCount() uint32
	IsReserved(frame mm.Frame) bool
	AllocFrame() (mm.Frame, *kernel.Error)
	ReserveFrames(count uint32) ([]mm.Frame, *kernel.Error)
	FreeFrame(frame mm.Frame) *kernel.Error
	ReleaseFrames(frames []mm.Frame) *kernel.Error
}

// Machine is the part of the simulated CPU that an address space drives.
type Machine interface {
	NumPhysPages() uint32
	FrameBytes(frame mm.Frame) []byte
	ReadRegister(reg int) int32
	WriteRegister(reg int, value int32)
	WriteMem(addr uint32, size int, value uint32) bool
	InstallPageTable(pt *vmm.PageTable)
	ActivePageTable() *vmm.PageTable
}

// SwapStore keeps copies of evicted pages.
type SwapStore interface {
	Contains(page mm.Page) bool
	WritePage(page mm.Page, src []byte) *kernel.Error
	ReadPage(page mm.Page, dst []byte) (bool, *kernel.Error)
}

// AddrSpace is the virtual address space of a user program.
type AddrSpace struct {
	frames  FrameAllocator
	machine Machine
	swap    SwapStore

	numPages  uint32
	pageTable *vmm.PageTable

	// executable is only set while Initialize runs.
	executable io.ReaderAt
}

// NewAddrSpace returns an empty address space. The swap store may be nil if
// the address space will never be paged out.
func NewAddrSpace(frames FrameAllocator, m Machine, swap SwapStore) *AddrSpace {
	return &AddrSpace{
		frames:  frames,
		machine: m,
		swap:    swap,
	}
}

// NumPages returns the number of pages in the address space.
func (as *AddrSpace) NumPages() uint32 {
	return as.numPages
}

// PageTable returns the page table of the address space or nil if the
// address space has not been initialized.
func (as *AddrSpace) PageTable() *vmm.PageTable {
	return as.pageTable
}

// Initialize loads the NOFF executable exe into the address space, leaving
// room for the argument block of args and the user stack. It returns the
// virtual address where CopyArguments must place the argument block.
//
// Frames are reserved from the shared allocator in a single step, lowest
// index first. If Initialize fails, every reserved frame is released and the
// address space is left empty.
func (as *AddrSpace) Initialize(exe io.ReaderAt, args []string) (uint32, *kernel.Error) {
	if as.pageTable != nil {
		return 0, errAlreadyInitialized
	}

	hdr, err := noff.ReadHeader(exe)
	if err != nil {
		return 0, err
	}

	argSize := ArgumentSize(args)
	kfmt.Debugf('a', "[userprog] argument block size: %d\n", argSize)

	size := hdr.MemorySize() + UserStackSize + argSize + argPadding
	numPages := mm.PagesFor(size)
	size = numPages * mm.PageSize

	for _, seg := range []noff.Segment{hdr.Code, hdr.InitData, hdr.UninitData} {
		if seg.Size != 0 && (seg.End() < seg.VirtualAddr || seg.End() > size) {
			return 0, ErrSegmentOutOfRange
		}
	}

	if numPages > as.frames.TotalFrames() || numPages > as.machine.NumPhysPages() {
		return 0, ErrTooBig
	}

	frames, err := as.frames.ReserveFrames(numPages)
	if err != nil {
		kfmt.Debugf('a', "[userprog] %d pages requested; %d frames free\n", numPages, as.frames.FreeCount())
		return 0, ErrNotEnoughFrames
	}

	kfmt.Debugf('a', "[userprog] initializing address space, numPages: %d, size: 0x%x\n", numPages, size)

	pt := vmm.NewPageTable(numPages)
	for page, frame := range frames {
		kernel.Memset(as.machine.FrameBytes(frame), 0)
		pt.Map(mm.Page(page), frame, 0)
	}

	as.pageTable, as.numPages, as.executable = pt, numPages, exe
	defer func() { as.executable = nil }()

	if err = as.copySegment("code", hdr.Code); err == nil {
		err = as.copySegment("data", hdr.InitData)
	}

	if err != nil {
		as.Release()
		return 0, err
	}

	return (size - UserStackSize - argSize) &^ (mm.PointerSize - 1), nil
}

// Load initializes the address space from exe and copies args into it. It
// returns the address of the argument block. If any step fails the address
// space is released.
func (as *AddrSpace) Load(exe io.ReaderAt, args []string) (uint32, *kernel.Error) {
	argBase, err := as.Initialize(exe, args)
	if err != nil {
		return 0, err
	}

	if err = as.CopyArguments(args, argBase); err != nil {
		as.Release()
		return 0, err
	}

	return argBase, nil
}

// Release frees every frame mapped by the address space and drops its page
// table, uninstalling it from the machine if active. Calling Release on an
// empty address space is a no-op.
func (as *AddrSpace) Release() {
	if as.pageTable == nil {
		return
	}

	frames := as.pageTable.MappedFrames()
	if as.machine.ActivePageTable() == as.pageTable {
		as.machine.InstallPageTable(nil)
	}
	as.pageTable, as.numPages = nil, 0

	if err := as.frames.ReleaseFrames(frames); err != nil {
		kfmt.Printf("[userprog] releasing frames %v failed: %s\n", frames, err.Message)
		kfmt.Panic(errFrameAccounting)
	}

	kfmt.Debugf('a', "[userprog] released %d frames\n", len(frames))
}

// table returns the page table, halting the kernel if the address space has
// not been initialized.
func (as *AddrSpace) table() *vmm.PageTable {
	if as.pageTable == nil {
		kfmt.Panic(errNotInitialized)
	}

	return as.pageTable
}
