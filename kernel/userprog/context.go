package userprog

import (
	"nachos/kernel/kfmt"
	"nachos/kernel/machine"
	"nachos/kernel/mm"
)

// stackSafetyMargin keeps the initial stack pointer clear of the last mapped
// byte.
const stackSafetyMargin = uint32(16)

// InitRegisters clears the register file and points the CPU at the program
// entry, which is always the first byte of the code segment (address 0).
// NextPCReg is seeded with the following instruction to account for branch
// delay slots and the stack pointer is set to the top of the address space.
func (as *AddrSpace) InitRegisters() {
	for reg := 0; reg < machine.NumTotalRegs; reg++ {
		as.machine.WriteRegister(reg, 0)
	}

	as.machine.WriteRegister(machine.PCReg, 0)
	as.machine.WriteRegister(machine.NextPCReg, 4)

	sp := as.numPages*mm.PageSize - stackSafetyMargin
	as.machine.WriteRegister(machine.StackReg, int32(sp))
	kfmt.Debugf('a', "[userprog] initializing stack register to 0x%x\n", sp)
}

// SaveState is called when the address space is switched out. The page table
// is the only translation state and it lives in the address space already.
func (as *AddrSpace) SaveState() {}

// RestoreState installs the page table of the address space in the MMU.
func (as *AddrSpace) RestoreState() {
	as.machine.InstallPageTable(as.table())
}
