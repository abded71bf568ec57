package signal_test

import (
	"errors"
	"testing"
	"time"

	"github.com/bobuhiro11/govmm/signal"
	"github.com/google/go-cmp/cmp"
)

type counter struct {
	level signal.Level
	nums  []uint32
}

func (c *counter) Dispatch(num uint32) { c.nums = append(c.nums, num) }
func (c *counter) Level() signal.Level { return c.level }

func TestSubmitAccumulates(t *testing.T) {
	t.Parallel()

	src := signal.NewSource()
	r := signal.NewReceiver(src)

	c := &counter{level: signal.LevelIO}

	cap, err := r.Manage(c)
	if err != nil {
		t.Fatalf("Manage: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := src.Submit(cap, 1); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	sig, err := r.PendingSignal()
	if err != nil {
		t.Fatalf("PendingSignal: %v", err)
	}

	want := signal.Signal{Capability: cap, Num: 3, Level: signal.LevelIO}
	if diff := cmp.Diff(want, sig); diff != "" {
		t.Fatalf("PendingSignal mismatch (-want +got):\n%s", diff)
	}

	if _, err := r.PendingSignal(); !errors.Is(err, signal.ErrNotPending) {
		t.Fatalf("second PendingSignal: got %v, want %v", err, signal.ErrNotPending)
	}
}

func TestPendingSignalRoundRobin(t *testing.T) {
	t.Parallel()

	src := signal.NewSource()
	r := signal.NewReceiver(src)

	a, _ := r.Manage(&counter{})
	b, _ := r.Manage(&counter{})

	var got []signal.Capability

	for round := 0; round < 3; round++ {
		// a is always submitted first, it must not starve b.
		_ = src.Submit(a, 1)
		_ = src.Submit(b, 1)

		sig, err := r.PendingSignal()
		if err != nil {
			t.Fatalf("PendingSignal: %v", err)
		}

		got = append(got, sig.Capability)
	}

	want := []signal.Capability{a, b, a}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("delivery order mismatch (-want +got):\n%s", diff)
	}
}

func TestDissolvedContextIsStale(t *testing.T) {
	t.Parallel()

	src := signal.NewSource()
	r := signal.NewReceiver(src)

	c := &counter{}
	cap, _ := r.Manage(c)

	if got := r.Dissolve(c); got != cap {
		t.Fatalf("Dissolve: got %d, want %d", got, cap)
	}

	if got := r.Dissolve(c); got.Valid() {
		t.Fatalf("second Dissolve: got %d, want invalid capability", got)
	}

	if err := src.Submit(cap, 1); !errors.Is(err, signal.ErrStaleContext) {
		t.Fatalf("Submit: got %v, want %v", err, signal.ErrStaleContext)
	}

	if _, ok := r.Lookup(cap); ok {
		t.Fatalf("Lookup resolved a dissolved context")
	}
}

func TestManageTwice(t *testing.T) {
	t.Parallel()

	r := signal.NewReceiver(signal.NewSource())
	h := signal.NewHandler(nil)

	first, err := r.Manage(h)
	if err != nil {
		t.Fatal(err)
	}

	second, err := r.Manage(h)
	if !errors.Is(err, signal.ErrAlreadyManaged) {
		t.Fatalf("Manage: got %v, want %v", err, signal.ErrAlreadyManaged)
	}

	if first != second {
		t.Fatalf("capability changed: got %d, want %d", second, first)
	}
}

func TestBlockForSignal(t *testing.T) {
	t.Parallel()

	src := signal.NewSource()
	r := signal.NewReceiver(src)
	cap, _ := r.Manage(signal.NewIOHandler(nil))

	woke := make(chan error, 1)

	go func() { woke <- r.BlockForSignal() }()

	if err := signal.NewTransmitter(src, cap).Submit(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-woke:
		if err != nil {
			t.Fatalf("BlockForSignal: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("BlockForSignal did not return after Submit")
	}

	go func() { woke <- r.BlockForSignal() }()

	r.UnblockSignalWaiter()

	select {
	case <-woke:
	case <-time.After(5 * time.Second):
		t.Fatal("UnblockSignalWaiter did not wake the waiter")
	}
}

func TestCloseWakesWaiters(t *testing.T) {
	t.Parallel()

	src := signal.NewSource()
	r := signal.NewReceiver(src)
	cap, _ := r.Manage(signal.NewHandler(nil))

	woke := make(chan error, 1)

	go func() { woke <- r.BlockForSignal() }()

	r.Close()

	select {
	case err := <-woke:
		if !errors.Is(err, signal.ErrClosed) {
			t.Fatalf("BlockForSignal: got %v, want %v", err, signal.ErrClosed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not wake the waiter")
	}

	if err := src.Submit(cap, 1); !errors.Is(err, signal.ErrStaleContext) {
		t.Fatalf("Submit after Close: got %v, want %v", err, signal.ErrStaleContext)
	}
}

func TestZeroTransmitter(t *testing.T) {
	t.Parallel()

	var tx signal.Transmitter
	if err := tx.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}
