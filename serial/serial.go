// Package serial emulates an ARM PL011 UART backed by a terminal.
package serial

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bobuhiro11/govmm/device"
)

const (
	Addr = 0x1c090000
	Size = 0x1000
	IRQ  = 37

	rxBufSize = 1024
)

// register offsets
const (
	regDR     = 0x0
	regFR     = 0x18
	regIBRD   = 0x24
	regFBRD   = 0x28
	regLCRH   = 0x2c
	regCR     = 0x30
	regIFLS   = 0x34
	regIMSC   = 0x38
	regMIS    = 0x40
	regICR    = 0x44
	regPeriph = 0xfe0
	regPCell  = 0xff0
)

const (
	frRXFE = 1 << 4
	frTXFE = 1 << 6

	irqRX = 1 << 4
	irqTX = 1 << 5
)

var (
	periphID = [4]uint16{0x11, 0x10, 0x14, 0x0}
	pcellID  = [4]uint16{0xd, 0xf0, 0x5, 0xb1}
)

var ErrBadAccess = errors.New("UART")

type Terminal interface {
	Avail() bool
	Read(p []byte) int
	Write(p []byte) (int, error)
}

type Injector interface {
	RegisterIRQ(irq uint32, d device.Device, eoi bool) error
	InjectIRQ(irq uint32) error
}

type Serial struct {
	device.Base

	term Terminal
	gic  Injector

	mu    sync.Mutex
	ibrd  uint16
	fbrd  uint16
	lcrH  uint16
	imsc  uint16
	ris   uint16
	cr    uint16
	dropN uint64

	inputChan chan byte
}

func New(term Terminal, gic Injector) (*Serial, error) {
	s := &Serial{
		Base:      device.NewBase("Pl011", Addr, Size),
		term:      term,
		gic:       gic,
		imsc:      0b1111,
		cr:        0x300,
		inputChan: make(chan byte, rxBufSize),
	}

	if err := gic.RegisterIRQ(IRQ, s, false); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Serial) readChar() uint16 {
	select {
	case b := <-s.inputChan:
		return uint16(b)
	default:
		return 0
	}
}

func (s *Serial) get(off uint64) (uint16, bool) {
	switch {
	case off >= regPeriph && off < regPeriph+16 && off%4 == 0:
		return periphID[(off-regPeriph)/4], true
	case off >= regPCell && off < regPCell+16 && off%4 == 0:
		return pcellID[(off-regPCell)/4], true
	}

	switch off {
	case regDR:
		return s.readChar(), true
	case regFR:
		if len(s.inputChan) == 0 {
			return frRXFE, true
		}

		return frTXFE, true
	case regMIS:
		return s.ris & s.imsc, true
	case regCR:
		return s.cr, true
	case regIMSC:
		return s.imsc, true
	case regFBRD:
		return s.fbrd, true
	case regIBRD:
		return s.ibrd, true
	case regLCRH:
		return s.lcrH, true
	}

	return 0, false
}

func (s *Serial) Read16(off uint64) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.get(off)
	if !ok {
		return 0, fmt.Errorf("%w: halfword read of offset %x", ErrBadAccess, off)
	}

	return v, nil
}

func (s *Serial) Read32(off uint64) (uint32, error) {
	v, err := s.Read16(off)

	return uint32(v), err
}

func (s *Serial) Write8(off uint64, v uint8) error {
	if off != regDR {
		return fmt.Errorf("%w: byte write %x to offset %x", ErrBadAccess, v, off)
	}

	_, err := s.term.Write([]byte{v})

	return err
}

func (s *Serial) Write16(off uint64, v uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch off {
	case regDR:
		_, err := s.term.Write([]byte{byte(v)})

		return err
	case regFBRD:
		s.fbrd = v
	case regIMSC:
		return s.maskIRQs(v)
	case regIBRD:
		s.ibrd = v
	case regLCRH:
		s.lcrH = v
	case regICR:
		s.ris &^= v
	case regCR:
		s.cr = v
	case regIFLS:
	default:
		return fmt.Errorf("%w: halfword write %x to offset %x", ErrBadAccess, v, off)
	}

	return nil
}

// maskIRQs raises the interrupts that become unmasked while their
// condition already holds. The transmitter is always ready.
func (s *Serial) maskIRQs(mask uint16) error {
	var err error

	if mask&irqTX != 0 && s.imsc&irqTX == 0 {
		err = s.gic.InjectIRQ(IRQ)
		s.ris |= irqTX
	}

	if mask&irqRX != 0 && s.imsc&irqRX == 0 && len(s.inputChan) > 0 {
		err = errors.Join(err, s.gic.InjectIRQ(IRQ))
		s.ris |= irqRX
	}

	s.imsc = mask

	return err
}

// HandleInput moves the available terminal input into the receive buffer
// and raises the receive interrupt. Bytes beyond the buffer are dropped.
func (s *Serial) HandleInput() error {
	if !s.term.Avail() {
		return nil
	}

	var buf [64]byte

	s.mu.Lock()

	for s.term.Avail() {
		n := s.term.Read(buf[:])
		if n == 0 {
			break
		}

		for _, b := range buf[:n] {
			select {
			case s.inputChan <- b:
			default:
				s.dropN++
			}
		}
	}

	s.ris |= irqRX
	s.mu.Unlock()

	return s.gic.InjectIRQ(IRQ)
}

// Dropped is the number of input bytes lost to a full receive buffer.
func (s *Serial) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dropN
}
