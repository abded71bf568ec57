// Package vmm wires the guest devices to a hypervisor session and
// dispatches the traps of the guest on a single entrypoint.
package vmm

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/bobuhiro11/govmm/coproc"
	"github.com/bobuhiro11/govmm/device"
	"github.com/bobuhiro11/govmm/entrypoint"
	"github.com/bobuhiro11/govmm/gic"
	"github.com/bobuhiro11/govmm/iodev"
	"github.com/bobuhiro11/govmm/machine"
	"github.com/bobuhiro11/govmm/memory"
	"github.com/bobuhiro11/govmm/serial"
	"github.com/bobuhiro11/govmm/signal"
	"github.com/bobuhiro11/govmm/timer"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoSession = errors.New("no vm session configured")
	ErrNoConsole = errors.New("no console configured")
)

// Console is the terminal behind the UART.
type Console interface {
	serial.Terminal
	ReadAvailSigh(tx signal.Transmitter)
}

type Config struct {
	Name   string
	Kernel string
	DTB    string

	RAMBase uint64
	RAMSize int

	Policy entrypoint.Policy

	// CrashDump is the file a crash dump is written to when the guest
	// stops on an error. Empty disables crash dumps.
	CrashDump string

	Session machine.Session
	Console Console

	// Stop ends Boot when closed, e.g. on the console escape sequence.
	Stop <-chan struct{}

	Log *logrus.Entry
}

type VMM struct {
	Config

	env *entrypoint.Env
	ep  *entrypoint.Entrypoint

	ram     *memory.RAM
	vm      *machine.Vm
	cp15    *coproc.Registry
	gic     *gic.Gic
	conn    *timer.Connection
	timer   *timer.Generic
	sysregs *iodev.SystemRegister
	uart    *serial.Serial
	devices *device.Registry
	phys    *memory.AddressSpace

	vmHandler    *signal.Handler
	timerHandler *signal.Handler
	uartHandler  *signal.Handler

	// set on the entrypoint once the guest stopped on an error
	halted bool
	failed chan error
}

func New(c Config) *VMM {
	if c.Name == "" {
		c.Name = "vmm"
	}

	if c.RAMBase == 0 {
		c.RAMBase = machine.RAMAddr
	}

	if c.RAMSize == 0 {
		c.RAMSize = machine.RAMSize
	}

	if c.Log == nil {
		c.Log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &VMM{
		Config: c,
		failed: make(chan error, 1),
	}
}

// call runs fn on the entrypoint.
func (v *VMM) call(fn func() error) error {
	var err error

	if cerr := v.ep.Call(context.Background(), func() { err = fn() }); cerr != nil {
		return cerr
	}

	return err
}

// Init instantiates the entrypoint, the guest RAM, the vCPU and all
// devices.
func (v *VMM) Init() error {
	if v.Session == nil {
		return ErrNoSession
	}

	if v.Console == nil {
		return ErrNoConsole
	}

	kernel, err := os.ReadFile(v.Kernel)
	if err != nil {
		return err
	}

	dtb, err := os.ReadFile(v.DTB)
	if err != nil {
		return err
	}

	v.env = entrypoint.NewEnv(v.Log)

	v.ep, err = entrypoint.New(v.env, entrypoint.Config{Name: v.Name, Policy: v.Policy})
	if err != nil {
		return err
	}

	if v.ram, err = memory.NewRAM(v.RAMBase, v.RAMSize); err != nil {
		return err
	}

	return v.call(func() error { return v.initDevices(kernel, dtb) })
}

func (v *VMM) initDevices(kernel, dtb []byte) error {
	var err error

	if v.vm, err = machine.New(v.Session, v.ram, kernel, dtb, v.Log); err != nil {
		return err
	}

	if v.cp15, err = coproc.NewCp15(v.vm.State()); err != nil {
		return err
	}

	v.gic = gic.New(v.vm, v.Log)
	v.conn = timer.NewConnection(v.Log)

	if v.timer, err = timer.NewGeneric(v.vm, v.gic, v.conn); err != nil {
		return err
	}

	v.sysregs = iodev.NewSystemRegister(v.conn)

	if v.uart, err = serial.New(v.Console, v.gic); err != nil {
		return err
	}

	// the timer has no MMIO window
	v.devices = device.NewRegistry()

	v.phys = memory.NewAddressSpace("guest", 0, 1<<32)

	if err := v.phys.AddAddress(memory.NewAddressSpace("ram", v.ram.Base, v.ram.Size())); err != nil {
		return err
	}

	for _, d := range []device.Device{v.gic, v.sysregs, v.uart} {
		if err := v.phys.AddAddress(memory.NewAddressSpace(d.Name(), d.Addr(), d.Size())); err != nil {
			return err
		}

		if err := v.devices.Insert(d); err != nil {
			return err
		}
	}

	v.vmHandler = signal.NewHandler(func() { v.handleVM(func() error { return nil }) })
	v.timerHandler = signal.NewHandler(func() { v.handleVM(v.timer.Timeout) })
	v.uartHandler = signal.NewHandler(func() { v.handleVM(v.uart.HandleInput) })

	v.Session.ExitHandler(v.ep.Transmitter(v.ep.Manage(v.vmHandler)))
	v.conn.Sigh(v.ep.Transmitter(v.ep.Manage(v.timerHandler)))
	v.Console.ReadAvailSigh(v.ep.Transmitter(v.ep.Manage(v.uartHandler)))

	return nil
}

// Setup loads the guest images and starts the vCPU.
func (v *VMM) Setup() error {
	return v.call(func() error {
		v.ram.Poison()

		if err := v.vm.Start(); err != nil {
			return err
		}

		return v.vm.Run()
	})
}

var errFinished = errors.New("finished")

func until(ctx context.Context, ch <-chan struct{}) func() error {
	return func() error {
		select {
		case <-ch:
			return errFinished
		case <-ctx.Done():
			return nil
		}
	}
}

// Boot waits until the session ended, the guest stopped on an error, Stop
// was closed or ctx is done. Only a guest error is returned.
func (v *VMM) Boot(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(until(ctx, v.Session.Done()))

	if v.Stop != nil {
		g.Go(until(ctx, v.Stop))
	}

	g.Go(func() error {
		select {
		case err := <-v.failed:
			return err
		case <-ctx.Done():
			return nil
		}
	})

	if err := g.Wait(); !errors.Is(err, errFinished) {
		return err
	}

	return nil
}

// Close releases the entrypoint, the host timer and the guest RAM.
func (v *VMM) Close() error {
	var errs []error

	if v.ep != nil {
		errs = append(errs, v.ep.Close())
	}

	if v.conn != nil {
		v.conn.Close()
	}

	if v.ram != nil {
		errs = append(errs, v.ram.Close())
	}

	return errors.Join(errs...)
}

func (v *VMM) Vm() *machine.Vm { return v.vm }

func (v *VMM) Devices() *device.Registry { return v.devices }

func (v *VMM) String() string {
	return fmt.Sprintf("%s: ram %#x+%#x", v.Name, v.RAMBase, v.RAMSize)
}
