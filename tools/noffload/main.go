package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"nachos/kernel/kfmt"
	"nachos/kernel/kmain"
	"nachos/kernel/machine"
	"nachos/kernel/mm"
	"nachos/kernel/mm/vmm"
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[noffload] error: %s\n", err.Error())
	os.Exit(1)
}

// dump writes the page table of p and the registers of m to w.
func dump(w io.Writer, m *machine.Machine, p *kmain.Process) {
	fmt.Fprintf(w, "page table (%d pages):\n", p.Space.NumPages())
	fmt.Fprintf(w, "  %5s %5s  %s\n", "page", "frame", "flags")
	p.Space.PageTable().Walk(func(page mm.Page, entry vmm.PageTableEntry) bool {
		fmt.Fprintf(w, "  %5d %5d  %s\n", page, entry.PhysicalPage, flagString(entry))
		return true
	})

	fmt.Fprintln(w, "registers:")
	for _, reg := range []struct {
		name  string
		index int
	}{
		{"pc", machine.PCReg},
		{"npc", machine.NextPCReg},
		{"sp", machine.StackReg},
		{"a0", machine.ArgReg0},
		{"a1", machine.ArgReg1},
	} {
		fmt.Fprintf(w, "  %-3s 0x%08x\n", reg.name, uint32(m.ReadRegister(reg.index)))
	}
}

func flagString(entry vmm.PageTableEntry) string {
	out := []byte("----")
	for i, f := range []struct {
		set bool
		c   byte
	}{
		{entry.Valid(), 'v'},
		{entry.ReadOnly(), 'r'},
		{entry.Use(), 'u'},
		{entry.Dirty(), 'd'},
	} {
		if f.set {
			out[i] = f.c
		}
	}
	return string(out)
}

// physPages validates the -phys-pages flag value.
func physPages(n uint) (uint32, error) {
	if n == 0 || uint64(n) > uint64(machine.MaxPhysPages) {
		return 0, fmt.Errorf("-phys-pages must be between 1 and %d; got %d", machine.MaxPhysPages, n)
	}
	return uint32(n), nil
}

func run(w io.Writer, cfg machine.Config, path string, args []string) error {
	if err := kmain.Init(cfg); err != nil {
		return err
	}
	defer kmain.Shutdown()

	p, err := kmain.Exec(path, append([]string{path}, args...))
	if err != nil {
		return err
	}
	defer kmain.Exit(p)

	dump(w, kmain.Machine(), p)
	return nil
}

func main() {
	cfg := machine.ConfigFromEnv()

	numPhysPages := flag.Uint("phys-pages", uint(cfg.NumPhysPages), "number of physical frames")
	flag.StringVar(&cfg.DebugFlags, "d", cfg.DebugFlags, "debug flags (a: address spaces, m: machine, p: frames, s: swap, +: all)")
	flag.StringVar(&cfg.SwapDir, "swap-dir", cfg.SwapDir, "directory for swap files")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] executable [args...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		exit(errors.New("missing executable"))
	}
	var err error
	if cfg.NumPhysPages, err = physPages(*numPhysPages); err != nil {
		exit(err)
	}

	kfmt.SetOutputSink(&kfmt.PrefixWriter{Sink: os.Stderr, Prefix: []byte("[nachos] ")})

	if err := run(os.Stdout, cfg, flag.Arg(0), flag.Args()[1:]); err != nil {
		exit(err)
	}
}
