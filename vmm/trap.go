package vmm

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bobuhiro11/govmm/arm"
	"github.com/bobuhiro11/govmm/device"
	"github.com/bobuhiro11/govmm/snapshot"
	"github.com/sirupsen/logrus"
)

var (
	ErrHyperCall         = errors.New("unknown hyper call")
	ErrUnknownTrap       = errors.New("unknown trap")
	ErrCuriousException  = errors.New("curious exception")
	ErrWFENotImplemented = errors.New("WFE not implemented yet")
)

// code captured around ip in a crash dump
const codeWindow = 64

// FatalError stops the guest for good.
type FatalError struct {
	IP        uint32
	Exception arm.Exception
	Err       error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("ip %#x, exception %s: %v", e.IP, e.Exception, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// handleVM handles a pending exit of the vCPU, runs fn and resumes the
// vCPU. All VM signals go through here, on the entrypoint.
func (v *VMM) handleVM(fn func() error) {
	if v.halted {
		return
	}

	if err := v.dispatch(fn); err != nil {
		v.fail(err)
	}
}

func (v *VMM) dispatch(fn func() error) error {
	if v.vm.Active() {
		if err := v.vm.Pause(); err != nil {
			return err
		}

		s := v.vm.State()

		switch s.Exception {
		case arm.ExceptionIRQ:
			if err := v.gic.IRQOccurred(); err != nil {
				return err
			}
		case arm.ExceptionTrap:
			if err := v.handleTrap(); err != nil {
				return err
			}
		case arm.ExceptionNone:
		default:
			return fmt.Errorf("%w: %s", ErrCuriousException, s.Exception)
		}

		// consumed, a later asynchronous pause finds nothing to do
		s.Exception = arm.ExceptionNone
	}

	if err := fn(); err != nil {
		return err
	}

	return v.vm.Run()
}

func (v *VMM) handleTrap() error {
	s := v.vm.State()

	switch s.EC() {
	case arm.ECHVC:
		return ErrHyperCall
	case arm.ECCP15:
		return v.cp15.HandleTrap(s)
	case arm.ECDataAbort:
		return v.handleDataAbort()
	case arm.ECWFI:
		return v.handleWFI()
	}

	return fmt.Errorf("%w: EC %v", ErrUnknownTrap, s.EC())
}

func (v *VMM) handleDataAbort() error {
	s := v.vm.State()

	d, err := v.devices.Find(s.FaultPage())
	if err != nil {
		return err
	}

	if err := device.HandleMemoryAccess(d, s); err != nil {
		return err
	}

	s.SkipInst()

	return nil
}

func (v *VMM) handleWFI() error {
	s := v.vm.State()

	if arm.Bit(s.HSR, 0) {
		return ErrWFENotImplemented
	}

	v.vm.WaitForInterrupt()
	v.timer.ScheduleTimeout()
	s.SkipInst()

	return nil
}

// fail leaves the guest paused, dumps its state and reports err to Boot.
func (v *VMM) fail(err error) {
	s := v.vm.State()
	fatal := &FatalError{IP: s.IP, Exception: s.Exception, Err: err}

	v.halted = true
	v.vm.WaitForInterrupt()

	log := v.Log.WithFields(logrus.Fields{
		"ip":        fmt.Sprintf("%#x", s.IP),
		"exception": s.Exception.String(),
	})
	log.WithError(err).Error("guest stopped")

	var buf bytes.Buffer

	v.vm.Dump(&buf)

	for _, l := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		log.Error(l)
	}

	if v.CrashDump != "" {
		if err := snapshot.WriteFile(v.CrashDump, v.crashDump(err)); err != nil {
			log.WithError(err).Warn("writing crash dump")
		} else {
			log.Infof("crash dump written to %s", v.CrashDump)
		}
	}

	select {
	case v.failed <- fatal:
	default:
	}
}

func (v *VMM) crashDump(reason error) *snapshot.Dump {
	s := v.vm.State()

	d := &snapshot.Dump{
		Time:   time.Now(),
		Reason: reason.Error(),
		State:  *s,
	}

	d.Instruction, d.Asm, _ = v.vm.Inst()

	base := uint64(s.IP) &^ (codeWindow - 1)
	code := make([]byte, codeWindow)

	if err := v.ram.ReadAt(code, base); err == nil {
		d.CodeBase, d.Code = base, code
	}

	return d
}
