package userprog

import (
	"bytes"
	"encoding/binary"
	"sync"
	"testing"

	"nachos/kernel"
	"nachos/kernel/machine"
	"nachos/kernel/mm"
	"nachos/kernel/mm/pmm"
	"nachos/kernel/noff"
)

// executable describes the segments of a test NOFF image.
type executable struct {
	code, data       []byte
	codeVA, dataVA   uint32
	uninitSize       uint32
	order            binary.ByteOrder
	truncateSegments int
}

func (e executable) image() []byte {
	order := e.order
	if order == nil {
		order = binary.LittleEndian
	}

	hdr := noff.Header{
		Magic:      noff.Magic,
		Code:       noff.Segment{Size: uint32(len(e.code)), VirtualAddr: e.codeVA, InFileAddr: noff.HeaderSize},
		InitData:   noff.Segment{Size: uint32(len(e.data)), VirtualAddr: e.dataVA, InFileAddr: noff.HeaderSize + uint32(len(e.code))},
		UninitData: noff.Segment{Size: e.uninitSize, VirtualAddr: e.dataVA + uint32(len(e.data))},
	}

	image := append(hdr.Encode(order), e.code...)
	image = append(image, e.data...)
	return image[:len(image)-e.truncateSegments]
}

func pattern(size int, seed byte) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = seed + byte(i*7)
	}
	return buf
}

func newTestEnv(t *testing.T, numFrames uint32) (*machine.Machine, *pmm.BitmapAllocator) {
	t.Helper()

	m, err := machine.New(numFrames)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close() })

	alloc := new(pmm.BitmapAllocator)
	alloc.Init(numFrames)
	return m, alloc
}

// readVirtual reads size bytes starting at virtAddr through the MMU.
func readVirtual(t *testing.T, m *machine.Machine, virtAddr, size uint32) []byte {
	t.Helper()

	out := make([]byte, size)
	for i := range out {
		v, ok := m.ReadMem(virtAddr+uint32(i), 1)
		if !ok {
			t.Fatalf("unable to read virtual address 0x%x", virtAddr+uint32(i))
		}
		out[i] = byte(v)
	}
	return out
}

func TestInitialize(t *testing.T) {
	var (
		code = pattern(20, 0x10)
		data = pattern(8, 0x80)
		args = []string{"a", "bb"}
	)

	for specIndex, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		m, alloc := newTestEnv(t, 32)
		as := NewAddrSpace(alloc, m, nil)

		exe := executable{code: code, data: data, dataVA: 20, order: order}
		argBase, err := as.Initialize(bytes.NewReader(exe.image()), args)
		if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}

		if exp, got := uint32(13), ArgumentSize(args); got != exp {
			t.Errorf("[spec %d] expected argument size %d; got %d", specIndex, exp, got)
		}

		if exp, got := uint32(9), as.NumPages(); got != exp {
			t.Errorf("[spec %d] expected %d pages; got %d", specIndex, exp, got)
		}

		if exp := uint32(112); argBase != exp {
			t.Errorf("[spec %d] expected argument base 0x%x; got 0x%x", specIndex, exp, argBase)
		}

		if exp, got := uint32(32-9), alloc.FreeCount(); got != exp {
			t.Errorf("[spec %d] expected %d free frames; got %d", specIndex, exp, got)
		}

		for page := mm.Page(0); page < mm.Page(as.NumPages()); page++ {
			entry := as.Entry(page)
			if entry.VirtualPage != page || entry.PhysicalPage != mm.Frame(page) {
				t.Errorf("[spec %d] expected page %d to map to frame %d; got %+v", specIndex, page, page, entry)
			}

			if !entry.Valid() || entry.ReadOnly() || entry.Use() || entry.Dirty() {
				t.Errorf("[spec %d] expected page %d to be valid, writable, unused and clean; got flags %04b", specIndex, page, entry.Flags)
			}
		}

		as.RestoreState()
		if got := readVirtual(t, m, 0, 28); !bytes.Equal(got, append(append([]byte{}, code...), data...)) {
			t.Errorf("[spec %d] expected code and data to be copied; got %x", specIndex, got)
		}

		if got := readVirtual(t, m, 28, 9*mm.PageSize-28); !bytes.Equal(got, make([]byte, len(got))) {
			t.Errorf("[spec %d] expected memory past the data segment to be zeroed", specIndex)
		}
	}
}

func TestInitializeErrors(t *testing.T) {
	goodExe := executable{code: pattern(20, 1), data: pattern(8, 2), dataVA: 20}

	badMagic := goodExe.image()
	binary.LittleEndian.PutUint32(badMagic, 0xfeedface)

	specs := []struct {
		descr     string
		numFrames uint32
		preAlloc  uint32
		image     []byte
		expErr    *kernel.Error
	}{
		// 9 pages are needed
		{"bad magic", 32, 0, badMagic, noff.ErrBadMagic},
		{"short header", 32, 0, goodExe.image()[:10], noff.ErrShortHeader},
		{"larger than physical memory", 8, 0, goodExe.image(), ErrTooBig},
		{"one frame short", 9, 1, goodExe.image(), ErrNotEnoughFrames},
		{"truncated code", 32, 0, executable{code: pattern(300, 1)}.truncated(250), ErrTruncatedExecutable},
		{"truncated data", 32, 0, executable{code: pattern(20, 1), data: pattern(200, 2), dataVA: 20}.truncated(1), ErrTruncatedExecutable},
		{"segment out of range", 32, 0, executable{code: pattern(20, 1), codeVA: 0x10000}.image(), ErrSegmentOutOfRange},
	}

	for specIndex, spec := range specs {
		m, alloc := newTestEnv(t, spec.numFrames)
		for i := uint32(0); i < spec.preAlloc; i++ {
			if _, err := alloc.AllocFrame(); err != nil {
				t.Fatal(err)
			}
		}
		freeBefore := alloc.FreeCount()

		as := NewAddrSpace(alloc, m, nil)
		if _, err := as.Initialize(bytes.NewReader(spec.image), []string{"a", "bb"}); err != spec.expErr {
			t.Errorf("[spec %d: %s] expected error %v; got %v", specIndex, spec.descr, spec.expErr, err)
			continue
		}

		if got := alloc.FreeCount(); got != freeBefore {
			t.Errorf("[spec %d: %s] expected free frame count to remain %d; got %d", specIndex, spec.descr, freeBefore, got)
		}

		if as.NumPages() != 0 || as.PageTable() != nil {
			t.Errorf("[spec %d: %s] expected address space to stay empty", specIndex, spec.descr)
		}
	}
}

func (e executable) truncated(n int) []byte {
	e.truncateSegments = n
	return e.image()
}

func TestInitializeTwice(t *testing.T) {
	m, alloc := newTestEnv(t, 32)
	as := NewAddrSpace(alloc, m, nil)
	image := executable{code: pattern(20, 1)}.image()

	if _, err := as.Initialize(bytes.NewReader(image), nil); err != nil {
		t.Fatal(err)
	}

	if _, err := as.Initialize(bytes.NewReader(image), nil); err != errAlreadyInitialized {
		t.Fatalf("expected error %v; got %v", errAlreadyInitialized, err)
	}
}

func TestSegmentCopyAcrossPages(t *testing.T) {
	m, alloc := newTestEnv(t, 32)

	// Scatter the free frames so that virtual and physical pages differ.
	var held []mm.Frame
	for i := 0; i < 16; i++ {
		frame, _ := alloc.AllocFrame()
		held = append(held, frame)
	}
	for i := 0; i < len(held); i += 2 {
		if err := alloc.FreeFrame(held[i]); err != nil {
			t.Fatal(err)
		}
	}

	var (
		code = pattern(300, 0x21)
		data = pattern(200, 0x55)
		exe  = executable{code: code, data: data, codeVA: 100, dataVA: 500}
	)

	as := NewAddrSpace(alloc, m, nil)
	if _, err := as.Initialize(bytes.NewReader(exe.image()), nil); err != nil {
		t.Fatal(err)
	}

	if exp, got := mm.Frame(2), as.Entry(1).PhysicalPage; got != exp {
		t.Fatalf("expected page 1 to map to frame %d; got %d", exp, got)
	}

	as.RestoreState()

	specs := []struct {
		descr   string
		virt    uint32
		expData []byte
	}{
		{"bytes before code", 0, make([]byte, 100)},
		{"code", 100, code},
		{"gap", 400, make([]byte, 100)},
		{"data", 500, data},
		{"bytes after data", 700, make([]byte, as.NumPages()*mm.PageSize-700)},
	}

	for specIndex, spec := range specs {
		if got := readVirtual(t, m, spec.virt, uint32(len(spec.expData))); !bytes.Equal(got, spec.expData) {
			t.Errorf("[spec %d: %s] memory at 0x%x does not match expected contents", specIndex, spec.descr, spec.virt)
		}
	}
}

func TestReleaseRestoresFreeFrames(t *testing.T) {
	m, alloc := newTestEnv(t, 32)
	image := executable{code: pattern(20, 1), data: pattern(8, 2), dataVA: 20}.image()

	for round := 0; round < 3; round++ {
		as := NewAddrSpace(alloc, m, nil)
		if _, err := as.Load(bytes.NewReader(image), []string{"prog"}); err != nil {
			t.Fatalf("[round %d] unexpected error: %v", round, err)
		}

		as.RestoreState()
		as.Release()

		if exp, got := uint32(32), alloc.FreeCount(); got != exp {
			t.Fatalf("[round %d] expected %d free frames after Release; got %d", round, exp, got)
		}

		if m.ActivePageTable() != nil {
			t.Fatalf("[round %d] expected Release to uninstall the active page table", round)
		}
	}

	// Releasing an empty address space is a no-op.
	NewAddrSpace(alloc, m, nil).Release()
}

func TestAddressSpacesDoNotShareFrames(t *testing.T) {
	m, alloc := newTestEnv(t, 32)
	image := executable{code: pattern(20, 1)}.image()

	spaces := make([]*AddrSpace, 3)
	for i := range spaces {
		spaces[i] = NewAddrSpace(alloc, m, nil)
		if _, err := spaces[i].Initialize(bytes.NewReader(image), nil); err != nil {
			t.Fatal(err)
		}
	}

	spaces[1].Release()

	reused := NewAddrSpace(alloc, m, nil)
	if _, err := reused.Initialize(bytes.NewReader(image), nil); err != nil {
		t.Fatal(err)
	}
	spaces[1] = reused

	owner := make(map[mm.Frame]int)
	for i, as := range spaces {
		for _, frame := range as.PageTable().MappedFrames() {
			if prev, seen := owner[frame]; seen {
				t.Fatalf("frame %d is mapped by address spaces %d and %d", frame, prev, i)
			}
			owner[frame] = i
		}
	}

	if exp, got := uint32(32)-3*spaces[0].NumPages(), alloc.FreeCount(); got != exp {
		t.Fatalf("expected %d free frames; got %d", exp, got)
	}
}

func TestConcurrentInitialize(t *testing.T) {
	const numSpaces = 8

	m, alloc := newTestEnv(t, 128)
	image := executable{code: pattern(200, 1), data: pattern(60, 2), dataVA: 200}.image()

	var (
		wg     sync.WaitGroup
		spaces [numSpaces]*AddrSpace
		errs   [numSpaces]*kernel.Error
	)

	for i := 0; i < numSpaces; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			spaces[i] = NewAddrSpace(alloc, m, nil)
			_, errs[i] = spaces[i].Initialize(bytes.NewReader(image), []string{"x"})
		}(i)
	}
	wg.Wait()

	seen := make(map[mm.Frame]bool)
	for i := 0; i < numSpaces; i++ {
		if errs[i] != nil {
			t.Fatalf("[space %d] unexpected error: %v", i, errs[i])
		}

		for _, frame := range spaces[i].PageTable().MappedFrames() {
			if seen[frame] {
				t.Fatalf("frame %d handed out twice", frame)
			}
			seen[frame] = true
		}
	}

	if exp, got := uint32(128-len(seen)), alloc.FreeCount(); got != exp {
		t.Fatalf("expected %d free frames; got %d", exp, got)
	}
}

func TestUninitializedAccessPanics(t *testing.T) {
	m, alloc := newTestEnv(t, 4)
	as := NewAddrSpace(alloc, m, nil)

	defer func() {
		if err := recover(); err != errNotInitialized {
			t.Fatalf("expected panic with %v; got %v", errNotInitialized, err)
		}
	}()

	as.RestoreState()
	t.Fatal("expected RestoreState on an empty address space to halt")
}
