package flag

type CLI struct {
	Profile    string `enum:"none,cpu,mem,clock" default:"none" help:"profile the run: none, cpu, mem or clock"`
	ProfileDir string `default:"." help:"directory for the profile output" type:"path"`

	Replay  ReplayCMD  `cmd:"" help:"Run a guest on a recorded exit script."`
	Inspect InspectCMD `cmd:"" help:"Print a crash dump."`
}

type ReplayCMD struct {
	Script    string `arg:"" help:"exit script (YAML)" type:"existingfile"`
	Board     string `short:"f" name:"config" help:"board file (YAML)" type:"existingfile"`
	Kernel    string `short:"k" help:"kernel image path"`
	DTB       string `short:"d" name:"dtb" help:"device tree blob path"`
	MemSize   string `short:"m" help:"memory size: as number[gGmMkK], optional units, defaults to M"`
	Policy    string `help:"signal dispatch policy: one-per-wakeup or drain-pending"`
	CrashDump string `help:"write a crash dump here when the guest stops on an error"`
	LogLevel  string `short:"l" help:"log level"`
}

type InspectCMD struct {
	Dump string `arg:"" help:"crash dump file" type:"existingfile"`
}
