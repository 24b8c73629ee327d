package pmm

import (
	"nachos/kernel"
	"nachos/kernel/kfmt"
	"nachos/kernel/mm"
)

var (
	// FrameAllocator is the BitmapAllocator instance that tracks frame
	// ownership for every address space in the system.
	FrameAllocator BitmapAllocator

	errNoPhysicalMemory = &kernel.Error{Module: "pmm", Message: "machine has no physical frames"}
)

// Init sets up the physical memory allocation sub-system for a machine with
// numFrames physical frames.
func Init(numFrames uint32) *kernel.Error {
	if numFrames == 0 {
		return errNoPhysicalMemory
	}

	FrameAllocator.Init(numFrames)

	kfmt.Printf("[pmm] physical memory: %d frames x %d bytes\n", numFrames, mm.PageSize)
	return nil
}
