// Package noff reads and writes the header of NOFF ("Nachos Object File
// Format") executables.
//
// A NOFF file starts with a 40 byte header: a 4 byte magic number followed by
// the descriptors of the code, initialized data and uninitialized data
// segments. Each descriptor holds three 32-bit words: the segment size, the
// virtual address where the segment is loaded and the segment's offset inside
// the file. Headers are normally stored little-endian; headers written in the
// opposite byte order are detected through the magic number and converted.
package noff

import (
	"encoding/binary"
	"io"
	"math/bits"

	"nachos/kernel"
)

const (
	// Magic identifies a NOFF executable.
	Magic = uint32(0x00badfad)

	// HeaderSize is the encoded size of a Header in bytes.
	HeaderSize = 40
)

var (
	// ErrBadMagic is returned when the header magic does not match in
	// either byte order.
	ErrBadMagic = &kernel.Error{Module: "noff", Message: "bad magic number; not a NOFF executable"}

	// ErrShortHeader is returned when the executable is too short to hold
	// a header.
	ErrShortHeader = &kernel.Error{Module: "noff", Message: "executable too short to hold a NOFF header"}
)

// Segment describes a contiguous region of the executable.
type Segment struct {
	// Size is the segment length in bytes.
	Size uint32

	// VirtualAddr is the address where the segment is loaded.
	VirtualAddr uint32

	// InFileAddr is the offset of the segment contents in the file.
	InFileAddr uint32
}

// End returns the virtual address right past the last byte of the segment.
func (s Segment) End() uint32 {
	return s.VirtualAddr + s.Size
}

// Header is a decoded NOFF header with all fields in host order.
type Header struct {
	Magic      uint32
	Code       Segment
	InitData   Segment
	UninitData Segment
}

// MemorySize returns the number of bytes occupied in memory by all three
// segments.
func (h *Header) MemorySize() uint32 {
	return h.Code.Size + h.InitData.Size + h.UninitData.Size
}

// ReadHeader reads and validates the header stored at the start of r. If the
// magic number only matches after swapping its bytes, every header field is
// swapped before ReadHeader returns.
func ReadHeader(r io.ReaderAt) (*Header, *kernel.Error) {
	var buf [HeaderSize]byte
	if n, _ := r.ReadAt(buf[:], 0); n < HeaderSize {
		return nil, ErrShortHeader
	}

	hdr := decode(buf[:])
	if hdr.Magic != Magic && bits.ReverseBytes32(hdr.Magic) == Magic {
		hdr.swapBytes()
	}

	if hdr.Magic != Magic {
		return nil, ErrBadMagic
	}

	return hdr, nil
}

// Encode returns the header encoded in the requested byte order.
func (h *Header) Encode(order binary.ByteOrder) []byte {
	buf := make([]byte, HeaderSize)
	for i, word := range h.words() {
		order.PutUint32(buf[i*4:], *word)
	}

	return buf
}

func decode(buf []byte) *Header {
	hdr := new(Header)
	for i, word := range hdr.words() {
		*word = binary.LittleEndian.Uint32(buf[i*4:])
	}

	return hdr
}

func (h *Header) swapBytes() {
	for _, word := range h.words() {
		*word = bits.ReverseBytes32(*word)
	}
}

// words returns pointers to the header fields in their on-disk order.
func (h *Header) words() [HeaderSize / 4]*uint32 {
	return [HeaderSize / 4]*uint32{
		&h.Magic,
		&h.Code.Size, &h.Code.VirtualAddr, &h.Code.InFileAddr,
		&h.InitData.Size, &h.InitData.VirtualAddr, &h.InitData.InFileAddr,
		&h.UninitData.Size, &h.UninitData.VirtualAddr, &h.UninitData.InFileAddr,
	}
}
