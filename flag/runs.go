package flag

import (
	"context"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"
	"github.com/bobuhiro11/govmm/entrypoint"
	"github.com/bobuhiro11/govmm/machine"
	"github.com/bobuhiro11/govmm/snapshot"
	"github.com/bobuhiro11/govmm/term"
	"github.com/bobuhiro11/govmm/vmm"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
)

const (
	defaultKernel   = "./linux"
	defaultDTB      = "./dtb"
	defaultMemSize  = "128M"
	defaultLogLevel = "info"
)

func Parse() error {
	c := CLI{}

	programName := "govmm"
	programDesc := "govmm is a small ARMv7 virtual machine monitor"

	ctx := kong.Parse(&c,
		kong.Name(programName),
		kong.Description(programDesc),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	if p := startProfile(c.Profile, c.ProfileDir); p != nil {
		defer p.Stop()
	}

	err := ctx.Run()

	return err
}

func startProfile(mode, dir string) interface{ Stop() } {
	opts := []func(*profile.Profile){profile.ProfilePath(dir), profile.NoShutdownHook, profile.Quiet}

	switch mode {
	case "cpu":
		opts = append(opts, profile.CPUProfile)
	case "mem":
		opts = append(opts, profile.MemProfile)
	case "clock":
		opts = append(opts, profile.ClockProfile)
	default:
		return nil
	}

	return profile.Start(opts...)
}

func (d *InspectCMD) Run() error {
	dump, err := snapshot.ReadFile(d.Dump)
	if err != nil {
		return err
	}

	dump.Print(os.Stdout)

	return nil
}

// Config merges the command line with the board file into the VMM
// configuration. Session and console are left to the caller.
func (r *ReplayCMD) Config() (vmm.Config, error) {
	board, err := LoadConfig(r.Board)
	if err != nil {
		return vmm.Config{}, err
	}

	memSize, err := ParseSize(pick(r.MemSize, board.RAMSize, defaultMemSize), "m")
	if err != nil {
		return vmm.Config{}, err
	}

	policy, err := entrypoint.ParsePolicy(pick(r.Policy, board.Policy, ""))
	if err != nil {
		return vmm.Config{}, err
	}

	level, err := logrus.ParseLevel(pick(r.LogLevel, board.LogLevel, defaultLogLevel))
	if err != nil {
		return vmm.Config{}, err
	}

	log := logrus.New()
	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	return vmm.Config{
		Name:      "vmm",
		Kernel:    pick(r.Kernel, board.Kernel, defaultKernel),
		DTB:       pick(r.DTB, board.DTB, defaultDTB),
		RAMBase:   board.RAMBase,
		RAMSize:   memSize,
		Policy:    policy,
		CrashDump: pick(r.CrashDump, board.CrashDump, ""),
		Log:       logrus.NewEntry(log),
	}, nil
}

func (r *ReplayCMD) Run() error {
	c, err := r.Config()
	if err != nil {
		return err
	}

	script, err := machine.LoadScript(r.Script)
	if err != nil {
		return err
	}

	if term.IsTerminal() {
		restoreMode, err := term.SetRawMode()
		if err != nil {
			return err
		}

		defer restoreMode()
	} else {
		c.Log.Warn("this is not terminal and does not accept input")
	}

	console := term.New(os.Stdin, os.Stdout, c.Log)

	c.Session = machine.NewReplay(script)
	c.Console = console
	c.Stop = console.Escaped()

	v := vmm.New(c)
	defer v.Close()

	if err := v.Init(); err != nil {
		return err
	}

	if err := v.Setup(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return v.Boot(ctx)
}
