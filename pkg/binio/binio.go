// Package binio provides small-allocation binary encoding primitives
// for the wire codec: a BinWriter that accumulates an error instead of
// returning one from every call, and a BinReader with the same
// sticky-error discipline, so a long chain of Write*/Read* calls can be
// checked once at the end instead of after every field.
package binio

import (
	"encoding/binary"
	"errors"
	"io"
)

// BinWriter writes primitive values to an underlying io.Writer, LE
// unless a BE variant is named. Once w.err is set, every further
// Write* call is a no-op so callers never need to check errors inline.
type BinWriter struct {
	w   io.Writer
	err error
	uv  [9]byte
}

// NewBinWriterFromIO wraps an arbitrary io.Writer.
func NewBinWriterFromIO(iow io.Writer) *BinWriter {
	return &BinWriter{w: iow}
}

// Err returns the first error encountered, if any.
func (w *BinWriter) Err() error {
	return w.err
}

// Error is an alias of Err kept for callers that spell it that way.
func (w *BinWriter) Error() error {
	return w.err
}

// SetError injects an error, short-circuiting all further writes. Used
// by callers that detect a problem outside of binio itself (e.g. a
// value too large to encode).
func (w *BinWriter) SetError(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *BinWriter) writeBytes(p []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(p)
}

// WriteU64LE writes a little-endian uint64.
func (w *BinWriter) WriteU64LE(val uint64) {
	binary.LittleEndian.PutUint64(w.uv[:8], val)
	w.writeBytes(w.uv[:8])
}

// WriteU32LE writes a little-endian uint32.
func (w *BinWriter) WriteU32LE(val uint32) {
	binary.LittleEndian.PutUint32(w.uv[:4], val)
	w.writeBytes(w.uv[:4])
}

// WriteU16LE writes a little-endian uint16.
func (w *BinWriter) WriteU16LE(val uint16) {
	binary.LittleEndian.PutUint16(w.uv[:2], val)
	w.writeBytes(w.uv[:2])
}

// WriteU16BE writes a big-endian uint16.
func (w *BinWriter) WriteU16BE(val uint16) {
	binary.BigEndian.PutUint16(w.uv[:2], val)
	w.writeBytes(w.uv[:2])
}

// WriteB writes a single byte.
func (w *BinWriter) WriteB(val byte) {
	w.uv[0] = val
	w.writeBytes(w.uv[:1])
}

// WriteBool writes a byte: 1 for true, 0 for false.
func (w *BinWriter) WriteBool(val bool) {
	if val {
		w.WriteB(1)
	} else {
		w.WriteB(0)
	}
}

// WriteVarUint writes val using a Bitcoin-style variable-length
// encoding: values under 0xfd encode as a single byte; 0xfd/0xfe/0xff
// prefix a following 2/4/8-byte little-endian value.
func (w *BinWriter) WriteVarUint(val uint64) {
	if w.err != nil {
		return
	}
	switch {
	case val < 0xfd:
		w.WriteB(byte(val))
	case val <= 0xffff:
		w.WriteB(0xfd)
		w.WriteU16LE(uint16(val))
	case val <= 0xffffffff:
		w.WriteB(0xfe)
		w.WriteU32LE(uint32(val))
	default:
		w.WriteB(0xff)
		w.WriteU64LE(val)
	}
}

// WriteVarBytes writes len(b) as a VarUint followed by b itself.
func (w *BinWriter) WriteVarBytes(b []byte) {
	w.WriteVarUint(uint64(len(b)))
	w.writeBytes(b)
}

// WriteBytes writes b with no length prefix; the caller is expected to
// know the length at the read side (e.g. a fixed-size identifier).
func (w *BinWriter) WriteBytes(b []byte) {
	w.writeBytes(b)
}

// WriteString writes s as a length-prefixed VarBytes.
func (w *BinWriter) WriteString(s string) {
	w.WriteVarBytes([]byte(s))
}

// BufBinWriter is a BinWriter backed by an in-memory buffer, used
// wherever the caller wants the encoded bytes directly rather than
// streaming them to a socket or file.
type BufBinWriter struct {
	*BinWriter
	buf *growBuf
}

type growBuf struct {
	b []byte
}

func (g *growBuf) Write(p []byte) (int, error) {
	g.b = append(g.b, p...)
	return len(p), nil
}

// NewBufBinWriter creates a BufBinWriter ready for use.
func NewBufBinWriter() *BufBinWriter {
	buf := &growBuf{}
	return &BufBinWriter{BinWriter: NewBinWriterFromIO(buf), buf: buf}
}

// Bytes returns the bytes written so far, or nil if an error occurred.
func (w *BufBinWriter) Bytes() []byte {
	if w.err != nil {
		return nil
	}
	out := make([]byte, len(w.buf.b))
	copy(out, w.buf.b)
	return out
}

// Len returns the number of bytes written so far.
func (w *BufBinWriter) Len() int {
	return len(w.buf.b)
}

// Reset clears the buffer and any stored error, ready for reuse.
func (w *BufBinWriter) Reset() {
	w.buf.b = w.buf.b[:0]
	w.err = nil
}

// BinReader mirrors BinWriter on the decode side: a sticky Err field
// that, once set, turns every further Read* call into a zero-value
// no-op.
type BinReader struct {
	r   io.Reader
	Err error
	uv  [9]byte
}

// NewBinReaderFromIO wraps an arbitrary io.Reader.
func NewBinReaderFromIO(ior io.Reader) *BinReader {
	return &BinReader{r: ior}
}

// NewBinReaderFromBuf wraps an in-memory byte slice.
func NewBinReaderFromBuf(b []byte) *BinReader {
	return NewBinReaderFromIO(&sliceReader{b: b})
}

type sliceReader struct {
	b []byte
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if len(s.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.b)
	s.b = s.b[n:]
	return n, nil
}

func (r *BinReader) readFull(n int) []byte {
	if r.Err != nil {
		return nil
	}
	buf := r.uv[:n]
	_, err := io.ReadFull(r.r, buf)
	if err != nil {
		r.Err = err
		return nil
	}
	return buf
}

// ReadU64LE reads a little-endian uint64.
func (r *BinReader) ReadU64LE() uint64 {
	b := r.readFull(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// ReadU32LE reads a little-endian uint32.
func (r *BinReader) ReadU32LE() uint32 {
	b := r.readFull(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// ReadU16LE reads a little-endian uint16.
func (r *BinReader) ReadU16LE() uint16 {
	b := r.readFull(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// ReadU16BE reads a big-endian uint16.
func (r *BinReader) ReadU16BE() uint16 {
	b := r.readFull(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

// ReadB reads a single byte.
func (r *BinReader) ReadB() byte {
	b := r.readFull(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// ReadBool reads a byte and reports whether it was non-zero.
func (r *BinReader) ReadBool() bool {
	return r.ReadB() != 0
}

// ReadVarUint reads the inverse of WriteVarUint.
func (r *BinReader) ReadVarUint() uint64 {
	if r.Err != nil {
		return 0
	}
	b := r.ReadB()
	switch b {
	case 0xfd:
		return uint64(r.ReadU16LE())
	case 0xfe:
		return uint64(r.ReadU32LE())
	case 0xff:
		return r.ReadU64LE()
	default:
		return uint64(b)
	}
}

// maxVarBytesLen bounds a single VarBytes allocation against a
// malformed or hostile length prefix arriving over the wire.
const maxVarBytesLen = 32 << 20

// ReadVarBytes reads a VarUint length followed by that many bytes. An
// optional limit names the exact expected length, failing with an error
// if the encoded length differs from it (used by callers that know the
// exact expected size, e.g. a fixed-size digest).
func (r *BinReader) ReadVarBytes(limit ...int) []byte {
	n := r.ReadVarUint()
	if r.Err != nil {
		return []byte{}
	}
	if n > maxVarBytesLen {
		r.Err = errors.New("binio: var bytes length exceeds maximum")
		return []byte{}
	}
	if len(limit) > 0 && int(n) != limit[0] {
		r.Err = errors.New("binio: var bytes length does not match expected size")
		return []byte{}
	}
	buf := make([]byte, n)
	r.ReadBytes(buf)
	if r.Err != nil {
		return []byte{}
	}
	return buf
}

// ReadBytes fills buf completely or sets Err.
func (r *BinReader) ReadBytes(buf []byte) {
	if r.Err != nil || len(buf) == 0 {
		return
	}
	_, err := io.ReadFull(r.r, buf)
	if err != nil {
		r.Err = err
	}
}

// ReadString reads the inverse of WriteString.
func (r *BinReader) ReadString() string {
	b := r.ReadVarBytes()
	if r.Err != nil {
		return ""
	}
	return string(b)
}
