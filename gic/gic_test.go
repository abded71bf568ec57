package gic_test

import (
	"errors"
	"io"
	"testing"

	"github.com/bobuhiro11/govmm/arm"
	"github.com/bobuhiro11/govmm/device"
	"github.com/bobuhiro11/govmm/gic"
	"github.com/sirupsen/logrus"
)

type vm struct {
	state      arm.State
	interrupts int
}

func (v *vm) State() *arm.State { return &v.state }
func (v *vm) Interrupt()        { v.interrupts++ }

type dev struct {
	device.Base

	enabled, disabled, handled []uint32
}

func (d *dev) IRQEnabled(irq uint32)  { d.enabled = append(d.enabled, irq) }
func (d *dev) IRQDisabled(irq uint32) { d.disabled = append(d.disabled, irq) }
func (d *dev) IRQHandled(irq uint32)  { d.handled = append(d.handled, irq) }

func newGic(t *testing.T) (*gic.Gic, *vm) {
	t.Helper()

	l := logrus.New()
	l.Out = io.Discard

	v := &vm{}
	v.state.GIC.ELRSR0 = 0b1111

	g := gic.New(v, logrus.NewEntry(l))
	if err := g.Write32(0x0, 1); err != nil {
		t.Fatal(err)
	}

	return g, v
}

// enable sets the distributor enable bit of irq.
func enable(t *testing.T, g *gic.Gic, irq uint32) {
	t.Helper()

	if err := g.Write32(0x100+uint64(irq/32)*4, 1<<(irq%32)); err != nil {
		t.Fatalf("enable IRQ %d: %v", irq, err)
	}
}

func TestDistributorRegisters(t *testing.T) {
	t.Parallel()

	g, _ := newGic(t)

	for off, want := range map[uint64]uint32{
		0x0:   1,
		0x4:   0b101,
		0x800: 0x01010101,
		0xc08: 0,
		0x100: 0, // SGIs are not enabled yet
	} {
		got, err := g.Read32(off)
		if err != nil {
			t.Fatalf("Read32(%#x): %v", off, err)
		}

		if got != want {
			t.Fatalf("Read32(%#x): got %#x, want %#x", off, got, want)
		}
	}

	if _, err := g.Read32(0x400); !errors.Is(err, gic.ErrUnsupportedOffset) {
		t.Fatalf("Read32(IPRIORITYR): got %v, want %v", err, gic.ErrUnsupportedOffset)
	}

	if err := g.Write32(0x800, 0x02020202); !errors.Is(err, gic.ErrUnsupportedOffset) {
		t.Fatalf("ITARGETSR to cpu1: got %v, want %v", err, gic.ErrUnsupportedOffset)
	}

	if err := g.Write32(0xc08, 0xffffffff); !errors.Is(err, gic.ErrUnsupportedOffset) {
		t.Fatalf("edge triggered ICFGR: got %v, want %v", err, gic.ErrUnsupportedOffset)
	}

	if err := g.Write32(0x400, 0xa0a0a0a0); err != nil {
		t.Fatalf("IPRIORITYR write: %v", err)
	}

	if _, err := g.Read16(0x0); !errors.Is(err, device.ErrUnsupportedWidth) {
		t.Fatalf("Read16: got %v, want %v", err, device.ErrUnsupportedWidth)
	}
}

func TestEnableDisable(t *testing.T) {
	t.Parallel()

	g, v := newGic(t)
	d := &dev{Base: device.NewBase("d", 0, 0)}

	if err := g.RegisterIRQ(gic.TimerIRQ, d, true); err != nil {
		t.Fatal(err)
	}

	enable(t, g, gic.TimerIRQ)
	enable(t, g, gic.TimerIRQ)

	if len(d.enabled) != 1 || !v.state.Timer.IRQ {
		t.Fatalf("enable: hooks=%v timer irq=%v, want one call and true", d.enabled, v.state.Timer.IRQ)
	}

	got, _ := g.Read32(0x100)
	if got != 1<<gic.TimerIRQ {
		t.Fatalf("ISENABLER0: got %#x, want %#x", got, uint32(1<<gic.TimerIRQ))
	}

	if err := g.Write32(0x180, 1<<gic.TimerIRQ); err != nil {
		t.Fatal(err)
	}

	if g.Enabled(gic.TimerIRQ) || v.state.Timer.IRQ || len(d.disabled) != 1 {
		t.Fatal("ICENABLER did not disable the timer IRQ")
	}

	if err := g.Write32(0x104, 1<<5); !errors.Is(err, gic.ErrUnknownIRQ) {
		t.Fatalf("enable unregistered IRQ 37: got %v, want %v", err, gic.ErrUnknownIRQ)
	}
}

func TestInjectAndEOI(t *testing.T) {
	t.Parallel()

	g, v := newGic(t)
	d := &dev{Base: device.NewBase("timer", 0, 0)}

	if err := g.RegisterIRQ(gic.TimerIRQ, d, true); err != nil {
		t.Fatal(err)
	}

	enable(t, g, gic.TimerIRQ)

	if err := g.InjectIRQ(gic.TimerIRQ); err != nil {
		t.Fatalf("InjectIRQ: %v", err)
	}

	s := &v.state

	if s.GIC.ELRSR0 != 0b1110 {
		t.Fatalf("ELRSR0: got %#b, want %#b", s.GIC.ELRSR0, 0b1110)
	}

	wantLR := uint32(gic.TimerIRQ | (1<<9)<<10 | 1<<28)
	if s.GIC.LR[0] != wantLR {
		t.Fatalf("LR0: got %#x, want %#x", s.GIC.LR[0], wantLR)
	}

	if v.interrupts != 1 || s.Timer.IRQ {
		t.Fatalf("inject: interrupts=%d timer irq=%v, want 1 false", v.interrupts, s.Timer.IRQ)
	}

	if err := g.InjectIRQ(gic.TimerIRQ); !errors.Is(err, gic.ErrAlreadyPending) {
		t.Fatalf("second InjectIRQ: got %v, want %v", err, gic.ErrAlreadyPending)
	}

	// The guest acknowledged list register 0.
	s.GIC.MISR = 1
	s.GIC.EISR = 1
	s.GIC.IRQ = gic.MaintenanceIRQ

	if err := g.IRQOccurred(); err != nil {
		t.Fatalf("IRQOccurred: %v", err)
	}

	if s.GIC.LR[0] != 0 || s.GIC.ELRSR0 != 0b1111 || s.GIC.MISR != 0 {
		t.Fatalf("EOI: LR0=%#x ELRSR0=%#b MISR=%d", s.GIC.LR[0], s.GIC.ELRSR0, s.GIC.MISR)
	}

	if !s.Timer.IRQ || len(d.handled) != 1 {
		t.Fatalf("EOI: timer irq=%v handled=%v", s.Timer.IRQ, d.handled)
	}

	if err := g.InjectIRQ(gic.TimerIRQ); err != nil {
		t.Fatalf("InjectIRQ after EOI: %v", err)
	}
}

func TestInjectQueueFull(t *testing.T) {
	t.Parallel()

	g, v := newGic(t)
	d := &dev{Base: device.NewBase("d", 0, 0)}

	for irq := uint32(32); irq < 37; irq++ {
		if err := g.RegisterIRQ(irq, d, false); err != nil {
			t.Fatal(err)
		}
	}

	if err := g.Write32(0x104, 0b11111); err != nil {
		t.Fatal(err)
	}

	for irq := uint32(32); irq < 36; irq++ {
		if err := g.InjectIRQ(irq); err != nil {
			t.Fatalf("InjectIRQ(%d): %v", irq, err)
		}
	}

	// Already queued, no new slot needed.
	if err := g.InjectIRQ(33); err != nil {
		t.Fatalf("re-inject queued IRQ: %v", err)
	}

	if err := g.InjectIRQ(36); !errors.Is(err, gic.ErrQueueFull) {
		t.Fatalf("fifth IRQ: got %v, want %v", err, gic.ErrQueueFull)
	}

	if v.state.GIC.ELRSR0 != 0 {
		t.Fatalf("ELRSR0: got %#b, want 0", v.state.GIC.ELRSR0)
	}
}

func TestInjectDisabled(t *testing.T) {
	t.Parallel()

	g, v := newGic(t)
	d := &dev{Base: device.NewBase("d", 0, 0)}

	if err := g.RegisterIRQ(37, d, false); err != nil {
		t.Fatal(err)
	}

	if err := g.InjectIRQ(37); err != nil {
		t.Fatalf("InjectIRQ of disabled IRQ: %v", err)
	}

	if v.interrupts != 0 || v.state.GIC.ELRSR0 != 0b1111 {
		t.Fatal("disabled IRQ reached the list registers")
	}

	if err := g.RegisterIRQ(40, d, true); err != nil {
		t.Fatal(err)
	}

	// A masked EOI IRQ does not turn pending, so it can be injected again.
	for i := 0; i < 2; i++ {
		if err := g.InjectIRQ(40); err != nil {
			t.Fatalf("InjectIRQ #%d of disabled EOI IRQ: %v", i, err)
		}
	}

	enable(t, g, 40)

	if err := g.InjectIRQ(40); err != nil || v.interrupts != 1 {
		t.Fatalf("InjectIRQ after enable: err=%v interrupts=%d", err, v.interrupts)
	}

	if err := g.InjectIRQ(40); !errors.Is(err, gic.ErrAlreadyPending) {
		t.Fatalf("second InjectIRQ after enable: got %v, want %v", err, gic.ErrAlreadyPending)
	}

	if err := g.InjectIRQ(38); !errors.Is(err, gic.ErrUnknownIRQ) {
		t.Fatalf("unregistered IRQ: got %v, want %v", err, gic.ErrUnknownIRQ)
	}
}

func TestUnknownIRQOccurred(t *testing.T) {
	t.Parallel()

	g, v := newGic(t)
	v.state.GIC.IRQ = 99

	if err := g.IRQOccurred(); !errors.Is(err, gic.ErrUnknownIRQ) {
		t.Fatalf("IRQOccurred: got %v, want %v", err, gic.ErrUnknownIRQ)
	}
}
