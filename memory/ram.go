package memory

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var ErrOutOfRange = errors.New("guest physical address out of range")

// Poison is the ARM "udf #0" instruction. It fills memory to make a guest
// that runs off into unloaded RAM trap immediately.
const Poison = "\xf0\x00\xf0\xe7"

// RAM is a window of guest physical memory backed by an anonymous mapping.
type RAM struct {
	Base uint64
	buf  []byte
}

func NewRAM(base uint64, size int) (*RAM, error) {
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap guest ram of %#x bytes: %w", size, err)
	}

	return &RAM{Base: base, buf: buf}, nil
}

func (r *RAM) Size() uint64 { return uint64(len(r.buf)) }

// Bytes returns the host mapping of the whole window.
func (r *RAM) Bytes() []byte { return r.buf }

func (r *RAM) Contains(gpa uint64) bool {
	return gpa >= r.Base && gpa-r.Base < r.Size()
}

// Poison fills the window with Poison.
func (r *RAM) Poison() {
	for i := 0; i+len(Poison) <= len(r.buf); i += len(Poison) {
		copy(r.buf[i:], Poison)
	}
}

func (r *RAM) slice(gpa uint64, n int) ([]byte, error) {
	if !r.Contains(gpa) || gpa-r.Base+uint64(n) > r.Size() {
		return nil, fmt.Errorf("%w: %#x+%#x", ErrOutOfRange, gpa, n)
	}

	off := gpa - r.Base

	return r.buf[off : off+uint64(n)], nil
}

// Load copies data to offset off of the window.
func (r *RAM) Load(off uint64, data []byte) error {
	dst, err := r.slice(r.Base+off, len(data))
	if err != nil {
		return err
	}

	copy(dst, data)

	return nil
}

func (r *RAM) ReadAt(p []byte, gpa uint64) error {
	src, err := r.slice(gpa, len(p))
	if err != nil {
		return err
	}

	copy(p, src)

	return nil
}

func (r *RAM) WriteAt(p []byte, gpa uint64) error {
	dst, err := r.slice(gpa, len(p))
	if err != nil {
		return err
	}

	copy(dst, p)

	return nil
}

// Word reads a little-endian 32-bit word.
func (r *RAM) Word(gpa uint64) (uint32, error) {
	b, err := r.slice(gpa, 4)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b), nil
}

func (r *RAM) Close() error {
	if r.buf == nil {
		return nil
	}

	err := unix.Munmap(r.buf)
	r.buf = nil

	return err
}
