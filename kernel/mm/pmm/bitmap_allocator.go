package pmm

import (
	"math/bits"

	"nachos/kernel"
	"nachos/kernel/kfmt"
	"nachos/kernel/mm"
	"nachos/kernel/sync"
)

var (
	errBitmapAllocOutOfMemory     = &kernel.Error{Module: "bitmap_alloc", Message: "out of memory"}
	errBitmapAllocFrameNotManaged = &kernel.Error{Module: "bitmap_alloc", Message: "frame not managed by this allocator"}
	errBitmapAllocDoubleFree      = &kernel.Error{Module: "bitmap_alloc", Message: "frame is already free"}
)

type markAs bool

const (
	markReserved markAs = false
	markFree     markAs = true
)

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations using a bitmap. Bit i of the bitmap is set iff frame i is
// currently assigned to a page in some address space.
//
// All methods are safe for concurrent use. Multi-frame requests are served
// within a single critical section so concurrently created address spaces
// can never be handed the same frame.
type BitmapAllocator struct {
	lock sync.Spinlock

	// totalFrames tracks the number of frames managed by the allocator.
	totalFrames uint32

	// reservedFrames tracks the number of reserved frames.
	reservedFrames uint32

	// freeBitmap tracks used/free frames. Frame i maps to bit (63 - i%64)
	// of block i/64 so a first-fit scan can use a leading-zero count.
	freeBitmap []uint64
}

// Init sets up the allocator to manage numFrames frames, all initially free.
func (alloc *BitmapAllocator) Init(numFrames uint32) {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	alloc.totalFrames = numFrames
	alloc.reservedFrames = 0
	alloc.freeBitmap = make([]uint64, (numFrames+63)>>6)
}

// TotalFrames returns the number of frames managed by the allocator.
func (alloc *BitmapAllocator) TotalFrames() uint32 {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	return alloc.totalFrames
}

// FreeCount returns the number of frames that are currently free.
func (alloc *BitmapAllocator) FreeCount() uint32 {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	return alloc.totalFrames - alloc.reservedFrames
}

// IsReserved returns true if the frame is currently reserved.
func (alloc *BitmapAllocator) IsReserved(frame mm.Frame) bool {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	return alloc.isReserved(frame)
}

// AllocFrame reserves and returns the free frame with the lowest index.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	frame := alloc.firstFree()
	if !frame.Valid() {
		return mm.InvalidFrame, errBitmapAllocOutOfMemory
	}

	alloc.markFrame(frame, markReserved)
	kfmt.Debugf('p', "[pmm] reserved frame %d\n", frame)
	return frame, nil
}

// ReserveFrames reserves count frames using a first-fit scan and returns them
// in ascending order. The request is all-or-nothing: if fewer than count
// frames are free, no frame is reserved and an error is returned.
func (alloc *BitmapAllocator) ReserveFrames(count uint32) ([]mm.Frame, *kernel.Error) {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	if count > alloc.totalFrames-alloc.reservedFrames {
		return nil, errBitmapAllocOutOfMemory
	}

	frames := make([]mm.Frame, 0, count)
	for ; count > 0; count-- {
		frame := alloc.firstFree()
		alloc.markFrame(frame, markReserved)
		frames = append(frames, frame)
	}

	kfmt.Debugf('p', "[pmm] reserved frames %v; %d free\n", frames, alloc.totalFrames-alloc.reservedFrames)
	return frames, nil
}

// FreeFrame releases a frame previously reserved via a call to AllocFrame or
// ReserveFrames.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) *kernel.Error {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	if err := alloc.checkReserved(frame); err != nil {
		return err
	}

	alloc.markFrame(frame, markFree)
	kfmt.Debugf('p', "[pmm] released frame %d\n", frame)
	return nil
}

// ReleaseFrames frees all supplied frames. The request is all-or-nothing: if
// any frame is not managed by the allocator or is not reserved, no frame is
// released and an error is returned.
func (alloc *BitmapAllocator) ReleaseFrames(frames []mm.Frame) *kernel.Error {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	for _, frame := range frames {
		if err := alloc.checkReserved(frame); err != nil {
			return err
		}
	}

	for _, frame := range frames {
		alloc.markFrame(frame, markFree)
	}

	kfmt.Debugf('p', "[pmm] released frames %v; %d free\n", frames, alloc.totalFrames-alloc.reservedFrames)
	return nil
}

func (alloc *BitmapAllocator) checkReserved(frame mm.Frame) *kernel.Error {
	switch {
	case uint32(frame) >= alloc.totalFrames:
		return errBitmapAllocFrameNotManaged
	case !alloc.isReserved(frame):
		return errBitmapAllocDoubleFree
	}
	return nil
}

func (alloc *BitmapAllocator) isReserved(frame mm.Frame) bool {
	if uint32(frame) >= alloc.totalFrames {
		return false
	}

	block := frame >> 6
	mask := uint64(1 << (63 - (frame & 63)))
	return alloc.freeBitmap[block]&mask != 0
}

// firstFree returns the free frame with the lowest index or InvalidFrame if
// all frames are reserved.
func (alloc *BitmapAllocator) firstFree() mm.Frame {
	for blockIndex, block := range alloc.freeBitmap {
		if block == ^uint64(0) {
			continue
		}

		frame := mm.Frame(blockIndex<<6 + bits.LeadingZeros64(^block))
		if uint32(frame) >= alloc.totalFrames {
			break
		}
		return frame
	}

	return mm.InvalidFrame
}

// markFrame updates the reservation flag for the bitmap entry that
// corresponds to the supplied frame and adjusts the reservation counter.
// Frames outside the managed range are ignored.
func (alloc *BitmapAllocator) markFrame(frame mm.Frame, flag markAs) {
	if uint32(frame) >= alloc.totalFrames {
		return
	}

	block := frame >> 6
	mask := uint64(1 << (63 - (frame & 63)))

	switch flag {
	case markFree:
		if alloc.freeBitmap[block]&mask != 0 {
			alloc.reservedFrames--
		}
		alloc.freeBitmap[block] &^= mask
	case markReserved:
		if alloc.freeBitmap[block]&mask == 0 {
			alloc.reservedFrames++
		}
		alloc.freeBitmap[block] |= mask
	}
}
