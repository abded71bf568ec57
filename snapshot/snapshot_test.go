package snapshot_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bobuhiro11/govmm/arm"
	"github.com/bobuhiro11/govmm/snapshot"
	"github.com/google/go-cmp/cmp"
)

func sample() *snapshot.Dump {
	d := &snapshot.Dump{
		Time:        time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Reason:      "No device at IPA 0x1c0f0000",
		Instruction: 0xe5801000,
		Asm:         "str r1, [r0]",
		CodeBase:    0x80008000,
		Code:        []byte{0x00, 0x10, 0x80, 0xe5},
	}

	d.State.GPR[1] = 0x41
	d.State.IP = 0x80008000
	d.State.Exception = arm.ExceptionTrap
	d.State.GIC.LR[2] = 0x1000001b

	return d
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	want := sample()

	if err := snapshot.Write(&buf, want); err != nil {
		t.Fatal(err)
	}

	got, err := snapshot.Read(&buf)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("dump mismatch (-want +got):\n%s", diff)
	}
}

func TestFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "crash.dump")

	if err := snapshot.WriteFile(path, sample()); err != nil {
		t.Fatal(err)
	}

	d, err := snapshot.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer

	d.Print(&out)

	for _, want := range []string{
		"No device at IPA 0x1c0f0000",
		"r1         = 0x00000041",
		"exception  = trap",
		"inst       = e5801000 str r1, [r0]",
		"80008000  00 10 80 e5",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output lacks %q:\n%s", want, out.String())
		}
	}
}

func TestTruncated(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	if err := snapshot.Write(&buf, sample()); err != nil {
		t.Fatal(err)
	}

	b := buf.Bytes()

	// drop the MsgDone trailer
	if _, err := snapshot.Read(bytes.NewReader(b[:len(b)-12])); !errors.Is(err, io.EOF) {
		t.Fatalf("Read without trailer: got %v, want %v", err, io.EOF)
	}
}

func TestUnexpectedMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	if err := snapshot.NewSender(&buf).SendDone(); err != nil {
		t.Fatal(err)
	}

	if _, err := snapshot.Read(&buf); !errors.Is(err, snapshot.ErrUnexpectedMessage) {
		t.Fatalf("got %v, want %v", err, snapshot.ErrUnexpectedMessage)
	}
}

func TestOversizedPayload(t *testing.T) {
	t.Parallel()

	hdr := make([]byte, 12)
	binary.BigEndian.PutUint32(hdr[0:4], uint32(snapshot.MsgDump))
	binary.BigEndian.PutUint64(hdr[4:12], 1<<40)

	if _, _, err := snapshot.NewReceiver(bytes.NewReader(hdr)).Next(); !errors.Is(err, snapshot.ErrPayloadTooLarge) {
		t.Fatalf("got %v, want %v", err, snapshot.ErrPayloadTooLarge)
	}
}
