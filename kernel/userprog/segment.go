package userprog

import (
	"nachos/kernel"
	"nachos/kernel/kfmt"
	"nachos/kernel/mm"
	"nachos/kernel/noff"
)

// copySegment copies seg from the executable into the frames that back its
// virtual pages. The first chunk starts at the segment's offset within its
// first page; every following chunk fills at most one page.
func (as *AddrSpace) copySegment(name string, seg noff.Segment) *kernel.Error {
	if seg.Size == 0 {
		return nil
	}

	kfmt.Debugf('a', "[userprog] initializing %s segment, virtAddr: 0x%x, inFileAddr: 0x%x, size: 0x%x\n",
		name, seg.VirtualAddr, seg.InFileAddr, seg.Size)

	var (
		page   = mm.PageFromAddress(seg.VirtualAddr)
		offset = mm.PageOffset(seg.VirtualAddr)
		copied uint32
	)

	for ; copied < seg.Size; page, offset = page+1, 0 {
		chunk := mm.PageSize - offset
		if remaining := seg.Size - copied; remaining < chunk {
			chunk = remaining
		}

		frame := as.pageTable.Entry(page).PhysicalPage
		dst := as.machine.FrameBytes(frame)[offset : offset+chunk]

		n, err := as.executable.ReadAt(dst, int64(seg.InFileAddr)+int64(copied))
		copied += uint32(n)
		if uint32(n) < chunk {
			kfmt.Printf("[userprog] %s segment truncated: read %d of %d bytes: %v\n", name, copied, seg.Size, err)
			return ErrTruncatedExecutable
		}
	}

	return nil
}
