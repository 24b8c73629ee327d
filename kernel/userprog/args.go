package userprog

import (
	"encoding/binary"

	"nachos/kernel"
	"nachos/kernel/kfmt"
	"nachos/kernel/machine"
	"nachos/kernel/mm"
)

// ArgumentSize returns the size of the argument block for args: one pointer
// slot per argument followed by the null-terminated argument strings.
func ArgumentSize(args []string) uint32 {
	size := uint32(len(args)) * mm.PointerSize
	for _, arg := range args {
		size += uint32(len(arg)) + 1
	}

	return size
}

// argumentBlock lays out args as they must appear in memory when the block
// starts at virtual address base. Pointer slots use the machine's
// little-endian word order.
func argumentBlock(args []string, base uint32) []byte {
	var (
		block      = make([]byte, ArgumentSize(args))
		slotOffset uint32
		dataOffset = uint32(len(args)) * mm.PointerSize
	)

	for _, arg := range args {
		binary.LittleEndian.PutUint32(block[slotOffset:], base+dataOffset)
		copy(block[dataOffset:], arg)

		slotOffset += mm.PointerSize
		dataOffset += uint32(len(arg)) + 1
	}

	return block
}

// CopyArguments writes the argument block for args at virtual address base,
// one byte at a time through the machine's MMU. If another address space's
// page table is installed it is swapped out for the duration of the copy and
// restored afterwards along with the faulting address register it relies on.
func (as *AddrSpace) CopyArguments(args []string, base uint32) *kernel.Error {
	pt := as.table()
	block := argumentBlock(args, base)

	if active := as.machine.ActivePageTable(); active != pt {
		badVAddr := as.machine.ReadRegister(machine.BadVAddrReg)
		as.machine.InstallPageTable(pt)
		defer func() {
			as.machine.InstallPageTable(active)
			as.machine.WriteRegister(machine.BadVAddrReg, badVAddr)
		}()
	}

	for i, b := range block {
		if addr := base + uint32(i); !as.machine.WriteMem(addr, 1, uint32(b)) {
			kfmt.Printf("[userprog] argument write to 0x%x failed; block spans 0x%x-0x%x\n", addr, base, base+uint32(len(block)))
			return ErrArgumentWrite
		}
	}

	kfmt.Debugf('a', "[userprog] copied %d arguments (%d bytes) to 0x%x\n", len(args), len(block), base)
	return nil
}
