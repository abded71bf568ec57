// Package term connects the guest console to a byte stream, usually the
// controlling terminal.
package term

import (
	"bufio"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/bobuhiro11/govmm/signal"
	"github.com/sirupsen/logrus"
	xterm "golang.org/x/term"
)

// escape sequence: Ctrl-A x
const (
	escapePrefix = 0x1
	escapeKey    = 'x'
)

func IsTerminal() bool {
	return xterm.IsTerminal(int(os.Stdin.Fd()))
}

// SetRawMode puts stdin into raw mode and returns a function restoring the
// previous mode.
func SetRawMode() (func(), error) {
	fd := int(os.Stdin.Fd())

	old, err := xterm.MakeRaw(fd)
	if err != nil {
		return func() {}, err
	}

	return func() {
		_ = xterm.Restore(fd, old)
	}, nil
}

// Terminal buffers input read from in and signals its availability.
type Terminal struct {
	out io.Writer
	log *logrus.Entry

	mu   sync.Mutex
	buf  []byte
	sigh signal.Transmitter

	escape chan struct{}
	done   chan struct{}
}

func New(in io.Reader, out io.Writer, log *logrus.Entry) *Terminal {
	t := &Terminal{
		out:    out,
		log:    log,
		escape: make(chan struct{}),
		done:   make(chan struct{}),
	}

	go t.readLoop(bufio.NewReader(in))

	return t
}

func (t *Terminal) readLoop(in *bufio.Reader) {
	defer close(t.done)

	var before byte

	for {
		b, err := in.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.log.WithError(err).Warn("terminal input")
			}

			return
		}

		if before == escapePrefix && b == escapeKey {
			close(t.escape)

			return
		}

		before = b

		t.mu.Lock()
		t.buf = append(t.buf, b)
		sigh := t.sigh
		t.mu.Unlock()

		if err := sigh.Submit(); err != nil {
			t.log.WithError(err).Warn("read-avail signal dropped")
		}
	}
}

// ReadAvailSigh installs the transmitter signalled whenever input arrives.
func (t *Terminal) ReadAvailSigh(tx signal.Transmitter) {
	t.mu.Lock()
	t.sigh = tx
	pending := len(t.buf) > 0
	t.mu.Unlock()

	if pending {
		_ = tx.Submit()
	}
}

func (t *Terminal) Avail() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.buf) > 0
}

// Read takes up to len(p) buffered input bytes without blocking.
func (t *Terminal) Read(p []byte) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := copy(p, t.buf)
	t.buf = t.buf[n:]

	return n
}

func (t *Terminal) Write(p []byte) (int, error) {
	return t.out.Write(p)
}

// Escaped is closed once the user typed the escape sequence.
func (t *Terminal) Escaped() <-chan struct{} { return t.escape }

// Done is closed when the input stream ended.
func (t *Terminal) Done() <-chan struct{} { return t.done }
