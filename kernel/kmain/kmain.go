// Package kmain boots the simulated machine and runs user programs on it.
package kmain

import (
	"os"

	"nachos/kernel"
	"nachos/kernel/kfmt"
	"nachos/kernel/machine"
	"nachos/kernel/mm/pmm"
	"nachos/kernel/swap"
	"nachos/kernel/userprog"
)

var (
	errNotInitialized = &kernel.Error{Module: "kmain", Message: "kernel not initialized"}
	errOpenExecutable = &kernel.Error{Module: "kmain", Message: "unable to open executable"}

	// The machine the kernel runs on; set by Init.
	activeMachine *machine.Machine
	swapDir       string

	// Overridden by tests.
	newMachineFn = machine.New
	createSwapFn = swap.Create
	openFn       = os.Open
)

// Process is a user program loaded into its own address space.
type Process struct {
	Space *userprog.AddrSpace

	swap *swap.Store
}

// Init brings up the machine described by cfg and the physical memory
// allocator that hands out its frames.
func Init(cfg machine.Config) *kernel.Error {
	kfmt.SetDebugFlags(cfg.DebugFlags)

	m, err := newMachineFn(cfg.NumPhysPages)
	if err != nil {
		return err
	}

	if err = pmm.Init(cfg.NumPhysPages); err != nil {
		m.Close()
		return err
	}

	activeMachine, swapDir = m, cfg.SwapDir
	return nil
}

// Machine returns the machine set up by Init.
func Machine() *machine.Machine {
	return activeMachine
}

// Exec loads the executable at path into a new address space, passes it args
// and makes it the running program. On return the CPU registers hold the
// initial state of the program with argc in ArgReg0 and argv in ArgReg1.
func Exec(path string, args []string) (*Process, *kernel.Error) {
	if activeMachine == nil {
		return nil, errNotInitialized
	}

	f, ferr := openFn(path)
	if ferr != nil {
		kfmt.Printf("[kmain] opening %q failed: %s\n", path, ferr.Error())
		return nil, errOpenExecutable
	}
	defer f.Close()

	store, err := createSwapFn(swapDir)
	if err != nil {
		return nil, err
	}

	space := userprog.NewAddrSpace(&pmm.FrameAllocator, activeMachine, store)
	argBase, err := space.Load(f, args)
	if err != nil {
		kfmt.Printf("[kmain] loading %q failed: %s\n", path, err.Message)
		store.Close()
		return nil, err
	}

	space.InitRegisters()
	activeMachine.WriteRegister(machine.ArgReg0, int32(len(args)))
	activeMachine.WriteRegister(machine.ArgReg1, int32(argBase))
	space.RestoreState()

	kfmt.Debugf('a', "[kmain] started %q with %d pages\n", path, space.NumPages())
	return &Process{Space: space, swap: store}, nil
}

// HandlePageFault serves the page fault whose address the machine recorded
// in BadVAddrReg.
func (p *Process) HandlePageFault() *kernel.Error {
	return p.Space.HandlePageFault(uint32(activeMachine.ReadRegister(machine.BadVAddrReg)))
}

// Exit tears down the address space of p and removes its swap file.
func Exit(p *Process) *kernel.Error {
	p.Space.Release()
	return p.swap.Close()
}

// Shutdown releases the machine set up by Init.
func Shutdown() *kernel.Error {
	if activeMachine == nil {
		return nil
	}

	err := activeMachine.Close()
	activeMachine = nil
	return err
}
