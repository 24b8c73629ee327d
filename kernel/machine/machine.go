// Package machine simulates the parts of a MIPS-like CPU that user programs
// touch: the register file, physical memory and the page-table driven MMU.
package machine

import (
	"encoding/binary"
	"math"

	"nachos/kernel"
	"nachos/kernel/kfmt"
	"nachos/kernel/mm"
	"nachos/kernel/mm/vmm"
	"nachos/kernel/sync"
)

// Register indices. The first NumGPRegs registers are the general purpose
// registers; the rest hold the special state used by the simulator.
const (
	NumGPRegs    = 32
	ArgReg0      = 4
	ArgReg1      = 5
	StackReg     = 29
	RetAddrReg   = 31
	HiReg        = 32
	LoReg        = 33
	PCReg        = 34
	NextPCReg    = 35
	PrevPCReg    = 36
	LoadReg      = 37
	LoadValueReg = 38
	BadVAddrReg  = 39
	NumTotalRegs = 40
)

// MaxPhysPages is the largest number of frames whose physical addresses fit
// in 32 bits.
const MaxPhysPages = uint32(math.MaxUint32 >> mm.PageShift)

var (
	// ErrAddress is returned for unaligned accesses and for addresses past
	// the end of the installed page table.
	ErrAddress = &kernel.Error{Module: "machine", Message: "unaligned or out-of-range virtual address"}

	// ErrPageFault is returned when the referenced page is not valid.
	ErrPageFault = &kernel.Error{Module: "machine", Message: "reference to an invalid page"}

	// ErrReadOnly is returned when writing to a read-only page.
	ErrReadOnly = &kernel.Error{Module: "machine", Message: "write to a read-only page"}

	// ErrBus is returned when a page table entry points past the end of
	// physical memory.
	ErrBus = &kernel.Error{Module: "machine", Message: "translation points outside physical memory"}

	errNoPageTable      = &kernel.Error{Module: "machine", Message: "no page table installed"}
	errNoPhysicalMemory = &kernel.Error{Module: "machine", Message: "physical page count must be greater than zero"}
	errTooManyPhysPages = &kernel.Error{Module: "machine", Message: "physical memory exceeds the 32-bit address space"}
	errAllocMemory      = &kernel.Error{Module: "machine", Message: "unable to allocate physical memory"}
	errFreeMemory       = &kernel.Error{Module: "machine", Message: "unable to release physical memory"}

	// the following functions are mocked by tests.
	allocMemoryFn = allocMemory
	freeMemoryFn  = freeMemory
)

// Machine is a single-CPU simulated machine.
type Machine struct {
	registers    [NumTotalRegs]int32
	mainMemory   []byte
	numPhysPages uint32

	// lock guards pageTable which is swapped on every context switch.
	lock      sync.Spinlock
	pageTable *vmm.PageTable
}

// New returns a machine with numPhysPages frames of physical memory. The
// memory is zero-filled.
func New(numPhysPages uint32) (*Machine, *kernel.Error) {
	switch {
	case numPhysPages == 0:
		return nil, errNoPhysicalMemory
	case numPhysPages > MaxPhysPages:
		return nil, errTooManyPhysPages
	}

	size := int(numPhysPages) * int(mm.PageSize)
	mem, err := allocMemoryFn(size)
	if err != nil {
		kfmt.Printf("[machine] allocating %d bytes of main memory failed: %s\n", size, err.Error())
		return nil, errAllocMemory
	}

	kfmt.Debugf('m', "[machine] %d bytes of main memory at frame size %d\n", len(mem), mm.PageSize)
	return &Machine{
		mainMemory:   mem,
		numPhysPages: numPhysPages,
	}, nil
}

// Close releases the machine's physical memory. The machine must not be used
// after Close returns.
func (m *Machine) Close() *kernel.Error {
	if m.mainMemory == nil {
		return nil
	}

	err := freeMemoryFn(m.mainMemory)
	m.mainMemory = nil
	if err != nil {
		kfmt.Printf("[machine] releasing main memory failed: %s\n", err.Error())
		return errFreeMemory
	}

	return nil
}

// NumPhysPages returns the number of physical frames.
func (m *Machine) NumPhysPages() uint32 {
	return m.numPhysPages
}

// MainMemory returns the machine's physical memory.
func (m *Machine) MainMemory() []byte {
	return m.mainMemory
}

// FrameBytes returns the slice of physical memory backing frame.
func (m *Machine) FrameBytes(frame mm.Frame) []byte {
	start := frame.Address()
	return m.mainMemory[start : start+mm.PageSize : start+mm.PageSize]
}

// ReadRegister returns the contents of a register.
func (m *Machine) ReadRegister(reg int) int32 {
	return m.registers[reg]
}

// WriteRegister stores value into a register.
func (m *Machine) WriteRegister(reg int, value int32) {
	m.registers[reg] = value
}

// InstallPageTable makes pt the sole source of address translation. The
// page table length is taken from pt.Len(). Passing nil uninstalls the
// current page table.
func (m *Machine) InstallPageTable(pt *vmm.PageTable) {
	m.lock.Acquire()
	m.pageTable = pt
	m.lock.Release()
}

// ActivePageTable returns the installed page table.
func (m *Machine) ActivePageTable() *vmm.PageTable {
	m.lock.Acquire()
	defer m.lock.Release()

	return m.pageTable
}

// Translate converts a virtual address into a physical address using the
// installed page table. Accesses of size 2 and 4 must be aligned. A
// successful translation sets the use flag of the page and, when writing,
// the dirty flag.
func (m *Machine) Translate(virtAddr uint32, size int, writing bool) (uint32, *kernel.Error) {
	switch {
	case size == 4 && virtAddr&3 != 0,
		size == 2 && virtAddr&1 != 0,
		size != 1 && size != 2 && size != 4:
		return 0, ErrAddress
	}

	pt := m.ActivePageTable()
	if pt == nil {
		return 0, errNoPageTable
	}

	page := mm.PageFromAddress(virtAddr)
	if !pt.Contains(page) {
		return 0, ErrAddress
	}

	physAddr, err := pt.Translate(virtAddr)
	if err != nil {
		return 0, ErrPageFault
	}

	entry := pt.Entry(page)
	switch {
	case writing && entry.ReadOnly():
		return 0, ErrReadOnly
	case uint32(entry.PhysicalPage) >= m.numPhysPages:
		return 0, ErrBus
	}

	flags := vmm.FlagUse
	if writing {
		flags |= vmm.FlagDirty
	}
	pt.SetFlags(page, flags)

	return physAddr, nil
}

// ReadMem reads size (1, 2 or 4) bytes from the virtual address addr. It
// returns false if the translation fails; in that case the faulting address
// is stored in BadVAddrReg.
func (m *Machine) ReadMem(addr uint32, size int) (uint32, bool) {
	physAddr, err := m.Translate(addr, size, false)
	if err != nil {
		m.raise(addr, err)
		return 0, false
	}

	switch size {
	case 1:
		return uint32(m.mainMemory[physAddr]), true
	case 2:
		return uint32(binary.LittleEndian.Uint16(m.mainMemory[physAddr:])), true
	default:
		return binary.LittleEndian.Uint32(m.mainMemory[physAddr:]), true
	}
}

// WriteMem writes the low size (1, 2 or 4) bytes of value to the virtual
// address addr. It returns false if the translation fails; in that case the
// faulting address is stored in BadVAddrReg.
func (m *Machine) WriteMem(addr uint32, size int, value uint32) bool {
	physAddr, err := m.Translate(addr, size, true)
	if err != nil {
		m.raise(addr, err)
		return false
	}

	switch size {
	case 1:
		m.mainMemory[physAddr] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(m.mainMemory[physAddr:], uint16(value))
	default:
		binary.LittleEndian.PutUint32(m.mainMemory[physAddr:], value)
	}

	return true
}

func (m *Machine) raise(badVAddr uint32, err *kernel.Error) {
	m.registers[BadVAddrReg] = int32(badVAddr)
	kfmt.Debugf('m', "[machine] exception at 0x%x: %s\n", badVAddr, err.Message)
}
