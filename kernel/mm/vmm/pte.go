package vmm

import "nachos/kernel/mm"

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uint8

const (
	// FlagValid is set when the virtual page is backed by a physical frame.
	FlagValid PageTableEntryFlag = 1 << iota

	// FlagReadOnly is set when writes to the page must fault.
	FlagReadOnly

	// FlagUse is set by the MMU every time the page is referenced.
	FlagUse

	// FlagDirty is set by the MMU every time the page is modified.
	FlagDirty
)

// PageTableEntry describes the translation of a virtual page to a physical
// frame together with its status flags.
type PageTableEntry struct {
	VirtualPage  mm.Page
	PhysicalPage mm.Frame
	Flags        PageTableEntryFlag
}

// HasFlags returns true if this entry has all the input flags set.
func (pte PageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return pte.Flags&flags == flags
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *PageTableEntry) SetFlags(flags PageTableEntryFlag) {
	pte.Flags |= flags
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *PageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	pte.Flags &^= flags
}

// Valid returns true if the entry points to a physical frame.
func (pte PageTableEntry) Valid() bool { return pte.HasFlags(FlagValid) }

// Dirty returns true if the page was modified since it was last mapped.
func (pte PageTableEntry) Dirty() bool { return pte.HasFlags(FlagDirty) }

// Use returns true if the page was referenced since it was last mapped.
func (pte PageTableEntry) Use() bool { return pte.HasFlags(FlagUse) }

// ReadOnly returns true if the page cannot be written.
func (pte PageTableEntry) ReadOnly() bool { return pte.HasFlags(FlagReadOnly) }
