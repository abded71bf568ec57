// Package snapshot writes and reads crash dumps of a stopped guest.
//
// Wire format for each message:
//
//	[4-byte big-endian type][8-byte big-endian payload length][payload bytes]
//
// A dump is one MsgDump followed by an optional MsgCode and a MsgDone.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bobuhiro11/govmm/arm"
)

type MsgType uint32

const (
	MsgDump MsgType = 1 // gob-encoded Dump
	MsgCode MsgType = 2 // raw guest memory around ip
	MsgDone MsgType = 3
)

// maxPayload bounds a single message so a corrupt header cannot make Next
// allocate arbitrary amounts of memory.
const maxPayload = 64 << 20

var (
	ErrUnexpectedMessage = errors.New("unexpected message")
	ErrPayloadTooLarge   = errors.New("payload too large")
)

// Dump is the state of the guest at the moment its handling failed.
type Dump struct {
	Time        time.Time
	Reason      string
	State       arm.State
	Instruction uint32
	Asm         string

	// CodeBase is the guest physical address of Code.
	CodeBase uint64
	Code     []byte
}

type Sender struct {
	w io.Writer
}

func NewSender(w io.Writer) *Sender { return &Sender{w: w} }

func (s *Sender) send(t MsgType, payload []byte) error {
	hdr := make([]byte, 12)
	binary.BigEndian.PutUint32(hdr[0:4], uint32(t))
	binary.BigEndian.PutUint64(hdr[4:12], uint64(len(payload)))

	if _, err := s.w.Write(hdr); err != nil {
		return fmt.Errorf("send header: %w", err)
	}

	if len(payload) > 0 {
		if _, err := s.w.Write(payload); err != nil {
			return fmt.Errorf("send payload: %w", err)
		}
	}

	return nil
}

func (s *Sender) SendDump(d *Dump) error {
	var buf bytes.Buffer

	if err := gob.NewEncoder(&buf).Encode(d); err != nil {
		return fmt.Errorf("encode dump: %w", err)
	}

	return s.send(MsgDump, buf.Bytes())
}

func (s *Sender) SendCode(code []byte) error { return s.send(MsgCode, code) }

func (s *Sender) SendDone() error { return s.send(MsgDone, nil) }

type Receiver struct {
	r io.Reader
}

func NewReceiver(r io.Reader) *Receiver { return &Receiver{r: r} }

// Next reads the next message header and returns the type and full payload.
func (r *Receiver) Next() (MsgType, []byte, error) {
	hdr := make([]byte, 12)
	if _, err := io.ReadFull(r.r, hdr); err != nil {
		return 0, nil, fmt.Errorf("read header: %w", err)
	}

	t := MsgType(binary.BigEndian.Uint32(hdr[0:4]))
	length := binary.BigEndian.Uint64(hdr[4:12])

	if length == 0 {
		return t, nil, nil
	}

	if length > maxPayload {
		return 0, nil, fmt.Errorf("%w: type=%d len=%d", ErrPayloadTooLarge, t, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return 0, nil, fmt.Errorf("read payload (type=%d len=%d): %w", t, length, err)
	}

	return t, payload, nil
}

func DecodeDump(payload []byte) (*Dump, error) {
	d := &Dump{}

	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(d); err != nil {
		return nil, fmt.Errorf("decode dump: %w", err)
	}

	return d, nil
}

// Write streams d to w.
func Write(w io.Writer, d *Dump) error {
	s := NewSender(w)

	// the code travels raw in its own message
	hdr := *d
	hdr.Code = nil

	if err := s.SendDump(&hdr); err != nil {
		return err
	}

	if len(d.Code) > 0 {
		if err := s.SendCode(d.Code); err != nil {
			return err
		}
	}

	return s.SendDone()
}

// Read reads a dump written by Write.
func Read(r io.Reader) (*Dump, error) {
	recv := NewReceiver(r)

	t, payload, err := recv.Next()
	if err != nil {
		return nil, err
	}

	if t != MsgDump {
		return nil, fmt.Errorf("%w: got type %d, want %d", ErrUnexpectedMessage, t, MsgDump)
	}

	d, err := DecodeDump(payload)
	if err != nil {
		return nil, err
	}

	for {
		t, payload, err := recv.Next()
		if err != nil {
			return nil, err
		}

		switch t {
		case MsgCode:
			d.Code = payload
		case MsgDone:
			return d, nil
		default:
			return nil, fmt.Errorf("%w: type %d", ErrUnexpectedMessage, t)
		}
	}
}

func WriteFile(path string, d *Dump) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := Write(f, d); err != nil {
		f.Close()

		return err
	}

	return f.Close()
}

func ReadFile(path string) (*Dump, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Read(f)
}

// Print writes d in the same layout the live VMM uses.
func (d *Dump) Print(w io.Writer) {
	fmt.Fprintf(w, "crash at %s: %s\n", d.Time.Format(time.RFC3339), d.Reason)
	d.State.Fprint(w)
	fmt.Fprintf(w, "  %-10s = %08x %s\n", "inst", d.Instruction, d.Asm)

	for off := 0; off < len(d.Code); off += 16 {
		end := min(off+16, len(d.Code))
		fmt.Fprintf(w, "  %08x  % x\n", d.CodeBase+uint64(off), d.Code[off:end])
	}
}
