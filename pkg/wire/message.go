// Package wire defines the logical message types exchanged over a
// negotiated session and their binary encoding: a 4-byte length prefix,
// a 1-byte command code, a 1-byte flag byte, then the command's payload.
package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4"

	"github.com/driftmesh/node/pkg/binio"
	"github.com/driftmesh/node/pkg/nid"
	"github.com/driftmesh/node/pkg/pid"
)

// Command identifies the payload shape following the frame header.
type Command byte

const (
	CmdHello Command = iota + 1
	CmdInventory
	CmdRefsAnnouncement
	CmdFetchRequest
	CmdFetchResponse
)

func (c Command) String() string {
	switch c {
	case CmdHello:
		return "Hello"
	case CmdInventory:
		return "Inventory"
	case CmdRefsAnnouncement:
		return "RefsAnnouncement"
	case CmdFetchRequest:
		return "FetchRequest"
	case CmdFetchResponse:
		return "FetchResponse"
	default:
		return "Unknown"
	}
}

// flagCompressed marks a frame whose payload is LZ4-compressed.
const flagCompressed byte = 1 << 0

// compressThreshold is the payload size above which a frame is
// eligible for compression; small Hello/FetchRequest frames never pay
// the LZ4 framing overhead.
const compressThreshold = 512

// maxFrameLen bounds a single frame against a corrupt or hostile
// length prefix.
const maxFrameLen = 64 << 20

// Message is anything that can appear as a frame payload.
type Message interface {
	Command() Command
	Encode(w *binio.BinWriter)
	Decode(r *binio.BinReader)
}

// Hello is the first frame sent after a transport connects.
type Hello struct {
	Version   uint32
	NID       nid.ID
	Features  uint32
	Timestamp int64
}

// Command implements Message.
func (*Hello) Command() Command { return CmdHello }

// Encode implements Message.
func (h *Hello) Encode(w *binio.BinWriter) {
	w.WriteU32LE(h.Version)
	w.WriteBytes(h.NID[:])
	w.WriteU32LE(h.Features)
	w.WriteU64LE(uint64(h.Timestamp))
}

// Decode implements Message.
func (h *Hello) Decode(r *binio.BinReader) {
	h.Version = r.ReadU32LE()
	r.ReadBytes(h.NID[:])
	h.Features = r.ReadU32LE()
	h.Timestamp = int64(r.ReadU64LE())
}

// InventoryEntry is one (project, head reference) claim.
type InventoryEntry struct {
	PID  pid.ID
	Head string
}

// Inventory is a peer's claim about which projects it hosts, tagged
// with a monotonically non-decreasing version number.
type Inventory struct {
	Version uint64
	Entries []InventoryEntry
}

// Command implements Message.
func (*Inventory) Command() Command { return CmdInventory }

// Encode implements Message.
func (inv *Inventory) Encode(w *binio.BinWriter) {
	w.WriteU64LE(inv.Version)
	w.WriteVarUint(uint64(len(inv.Entries)))
	for _, e := range inv.Entries {
		w.WriteBytes(e.PID[:])
		w.WriteString(e.Head)
	}
}

// Decode implements Message.
func (inv *Inventory) Decode(r *binio.BinReader) {
	inv.Version = r.ReadU64LE()
	n := r.ReadVarUint()
	// Cap the preallocation: n comes off the wire and may be huge.
	capHint := n
	if capHint > 1024 {
		capHint = 1024
	}
	inv.Entries = make([]InventoryEntry, 0, capHint)
	for i := uint64(0); i < n && r.Err == nil; i++ {
		var e InventoryEntry
		r.ReadBytes(e.PID[:])
		e.Head = r.ReadString()
		inv.Entries = append(inv.Entries, e)
	}
}

// RefsAnnouncement is sent when a repository's signed refs change.
type RefsAnnouncement struct {
	PID       pid.ID
	Head      string
	Signature []byte
}

// Command implements Message.
func (*RefsAnnouncement) Command() Command { return CmdRefsAnnouncement }

// Encode implements Message.
func (a *RefsAnnouncement) Encode(w *binio.BinWriter) {
	w.WriteBytes(a.PID[:])
	w.WriteString(a.Head)
	w.WriteVarBytes(a.Signature)
}

// Decode implements Message.
func (a *RefsAnnouncement) Decode(r *binio.BinReader) {
	r.ReadBytes(a.PID[:])
	a.Head = r.ReadString()
	a.Signature = r.ReadVarBytes()
}

// FetchRequest asks a peer to serve a project out-of-band from gossip.
type FetchRequest struct {
	PID pid.ID
}

// Command implements Message.
func (*FetchRequest) Command() Command { return CmdFetchRequest }

// Encode implements Message.
func (f *FetchRequest) Encode(w *binio.BinWriter) {
	w.WriteBytes(f.PID[:])
}

// Decode implements Message.
func (f *FetchRequest) Decode(r *binio.BinReader) {
	r.ReadBytes(f.PID[:])
}

// FetchResponse reports the outcome of a FetchRequest.
type FetchResponse struct {
	PID     pid.ID
	Success bool
	Reason  string
}

// Command implements Message.
func (*FetchResponse) Command() Command { return CmdFetchResponse }

// Encode implements Message.
func (f *FetchResponse) Encode(w *binio.BinWriter) {
	w.WriteBytes(f.PID[:])
	w.WriteBool(f.Success)
	w.WriteString(f.Reason)
}

// Decode implements Message.
func (f *FetchResponse) Decode(r *binio.BinReader) {
	r.ReadBytes(f.PID[:])
	f.Success = r.ReadBool()
	f.Reason = r.ReadString()
}

// NewByCommand returns a zero-valued Message for the given command, or
// nil if cmd is not recognized.
func NewByCommand(cmd Command) Message {
	switch cmd {
	case CmdHello:
		return &Hello{}
	case CmdInventory:
		return &Inventory{}
	case CmdRefsAnnouncement:
		return &RefsAnnouncement{}
	case CmdFetchRequest:
		return &FetchRequest{}
	case CmdFetchResponse:
		return &FetchResponse{}
	default:
		return nil
	}
}

// WriteFrame encodes msg's payload, optionally LZ4-compresses it when
// it exceeds compressThreshold, and writes the length-prefixed frame.
func WriteFrame(w io.Writer, msg Message) error {
	bw := binio.NewBufBinWriter()
	msg.Encode(bw.BinWriter)
	if err := bw.Error(); err != nil {
		return fmt.Errorf("wire: encode %s: %w", msg.Command(), err)
	}
	payload := bw.Bytes()

	flags := byte(0)
	if len(payload) > compressThreshold {
		compressed, err := lz4Compress(payload)
		if err == nil && len(compressed) < len(payload) {
			payload = compressed
			flags |= flagCompressed
		}
	}

	frame := binio.NewBufBinWriter()
	frame.WriteB(byte(msg.Command()))
	frame.WriteB(flags)
	frame.WriteBytes(payload)
	if err := frame.Error(); err != nil {
		return fmt.Errorf("wire: frame %s: %w", msg.Command(), err)
	}
	body := frame.Bytes()

	lw := binio.NewBinWriterFromIO(w)
	lw.WriteU32LE(uint32(len(body)))
	lw.WriteBytes(body)
	if err := lw.Error(); err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and decodes it into the
// Message its command byte names.
func ReadFrame(r io.Reader) (Message, error) {
	lr := binio.NewBinReaderFromIO(r)
	length := lr.ReadU32LE()
	if lr.Err != nil {
		return nil, fmt.Errorf("wire: read frame length: %w", lr.Err)
	}
	if length < 2 || length > maxFrameLen {
		return nil, fmt.Errorf("wire: frame length %d out of bounds", length)
	}
	body := make([]byte, length)
	lr.ReadBytes(body)
	if lr.Err != nil {
		return nil, fmt.Errorf("wire: read frame body: %w", lr.Err)
	}

	cmd := Command(body[0])
	flags := body[1]
	payload := body[2:]
	if flags&flagCompressed != 0 {
		decompressed, err := lz4Decompress(payload)
		if err != nil {
			return nil, fmt.Errorf("wire: decompress %s: %w", cmd, err)
		}
		payload = decompressed
	}

	msg := NewByCommand(cmd)
	if msg == nil {
		return nil, fmt.Errorf("wire: unknown command %d", cmd)
	}
	pr := binio.NewBinReaderFromBuf(payload)
	msg.Decode(pr)
	if pr.Err != nil {
		return nil, fmt.Errorf("wire: decode %s: %w", cmd, pr.Err)
	}
	return msg, nil
}

func lz4Compress(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lz4Decompress(b []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(b))
	return io.ReadAll(zr)
}
