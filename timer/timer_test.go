package timer_test

import (
	"io"
	"testing"
	"time"

	"github.com/bobuhiro11/govmm/arm"
	"github.com/bobuhiro11/govmm/device"
	"github.com/bobuhiro11/govmm/gic"
	"github.com/bobuhiro11/govmm/signal"
	"github.com/bobuhiro11/govmm/timer"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
)

func discard() *logrus.Entry {
	l := logrus.New()
	l.Out = io.Discard

	return logrus.NewEntry(l)
}

type vm struct{ state arm.State }

func (v *vm) State() *arm.State { return &v.state }

type irqc struct {
	registered map[uint32]bool
	injected   []uint32
}

func (c *irqc) RegisterIRQ(irq uint32, _ device.Device, eoi bool) error {
	c.registered[irq] = eoi

	return nil
}

func (c *irqc) InjectIRQ(irq uint32) error {
	c.injected = append(c.injected, irq)

	return nil
}

type sched struct{ us []uint64 }

func (s *sched) TriggerOnce(us uint64) { s.us = append(s.us, us) }

func TestGenericTimer(t *testing.T) {
	t.Parallel()

	v := &vm{}
	c := &irqc{registered: map[uint32]bool{}}
	s := &sched{}

	gt, err := timer.NewGeneric(v, c, s)
	if err != nil {
		t.Fatal(err)
	}

	if eoi, ok := c.registered[gic.TimerIRQ]; !ok || !eoi {
		t.Fatalf("timer IRQ registration: registered=%v eoi=%v", ok, eoi)
	}

	v.state.Timer.Ctrl = 1
	v.state.Timer.Val = 2400

	gt.ScheduleTimeout()

	if diff := cmp.Diff([]uint64{100}, s.us); diff != "" {
		t.Fatalf("TriggerOnce mismatch (-want +got):\n%s", diff)
	}

	if err := gt.Timeout(); err != nil {
		t.Fatal(err)
	}

	if v.state.Timer.Ctrl != 5 || v.state.Timer.Val != 0xffffffff {
		t.Fatalf("after timeout: ctrl=%d val=%#x", v.state.Timer.Ctrl, v.state.Timer.Val)
	}

	if diff := cmp.Diff([]uint32{gic.TimerIRQ}, c.injected); diff != "" {
		t.Fatalf("InjectIRQ mismatch (-want +got):\n%s", diff)
	}

	// An expired, enabled timer is not rescheduled.
	gt.ScheduleTimeout()

	if len(s.us) != 1 {
		t.Fatalf("expired timer rescheduled: %v", s.us)
	}
}

func TestConnectionFires(t *testing.T) {
	t.Parallel()

	src := signal.NewSource()
	r := signal.NewReceiver(src)

	cap, err := r.Manage(signal.NewHandler(nil))
	if err != nil {
		t.Fatal(err)
	}

	c := timer.NewConnection(discard())
	defer c.Close()

	c.Sigh(signal.NewTransmitter(src, cap))
	c.TriggerOnce(1000)

	done := make(chan error, 1)

	go func() { done <- r.BlockForSignal() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout signal not delivered")
	}

	if _, err := r.PendingSignal(); err != nil {
		t.Fatalf("PendingSignal: %v", err)
	}
}
