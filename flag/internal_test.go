package flag

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStartProfile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	if p := startProfile("none", dir); p != nil {
		t.Fatal("profiling started for mode none")
	}

	p := startProfile("mem", dir)
	if p == nil {
		t.Fatal("profiling not started for mode mem")
	}

	p.Stop()

	if _, err := os.Stat(filepath.Join(dir, "mem.pprof")); err != nil {
		t.Fatalf("memory profile: %v", err)
	}
}
