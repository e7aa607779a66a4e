// Package wire implements the binary serialization format used for every
// packet body on the network. All multi-byte values are little-endian;
// strings and variable-length sequences carry a uint32 count prefix, fixed
// arrays carry none.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// ErrorKind classifies decode failures.
type ErrorKind int

const (
	// KindTruncated indicates the input ended before the value was complete.
	KindTruncated ErrorKind = iota
	// KindBadDiscriminant indicates an unknown tagged-union discriminant.
	KindBadDiscriminant
	// KindBadUTF8 indicates string bytes that are not valid UTF-8.
	KindBadUTF8
	// KindTrailing indicates leftover bytes after a complete value.
	KindTrailing
	// KindBadValue indicates a structurally valid but out-of-range value.
	KindBadValue
)

func (k ErrorKind) String() string {
	switch k {
	case KindTruncated:
		return "truncated input"
	case KindBadDiscriminant:
		return "invalid discriminant"
	case KindBadUTF8:
		return "invalid utf-8"
	case KindTrailing:
		return "trailing bytes"
	case KindBadValue:
		return "invalid value"
	default:
		return "unknown"
	}
}

// DecodeError is returned for any malformed input. Decoding never panics.
type DecodeError struct {
	// Kind is the failure class.
	Kind ErrorKind
	// Offset is the byte offset at which decoding failed.
	Offset int
	// Detail describes what was being decoded.
	Detail string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("wire: %s at offset %d: %s", e.Kind, e.Offset, e.Detail)
}

// Writer appends encoded values to a growing buffer.
// The zero value is ready to use.
type Writer struct {
	buf []byte
}

// Bytes returns the encoded buffer. The slice is owned by the Writer until
// the caller stops appending.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of encoded bytes so far.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) Uint8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) Uint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) Uint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) Uint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) Int8(v int8)   { w.Uint8(uint8(v)) }
func (w *Writer) Int16(v int16) { w.Uint16(uint16(v)) }
func (w *Writer) Int32(v int32) { w.Uint32(uint32(v)) }
func (w *Writer) Int64(v int64) { w.Uint64(uint64(v)) }

func (w *Writer) Bool(v bool) {
	if v {
		w.Uint8(1)
	} else {
		w.Uint8(0)
	}
}

func (w *Writer) Float32(v float32) { w.Uint32(math.Float32bits(v)) }
func (w *Writer) Float64(v float64) { w.Uint64(math.Float64bits(v)) }

// String writes a uint32 length prefix followed by the UTF-8 bytes of s.
func (w *Writer) String(s string) {
	w.Uint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// Bytes32 writes a uint32 count prefix followed by the raw bytes of b.
func (w *Writer) Bytes32(b []byte) {
	w.Uint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// Raw writes b with no prefix. Used for fixed-size arrays.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// Array16 writes a fixed 16-byte array with no prefix.
func (w *Writer) Array16(b [16]byte) { w.buf = append(w.buf, b[:]...) }

// Reader consumes encoded values from a byte slice.
type Reader struct {
	data []byte
	off  int
}

// NewReader returns a Reader over data. The Reader does not copy data.
func NewReader(data []byte) *Reader { return &Reader{data: data} }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.off }

// Offset returns the current read position.
func (r *Reader) Offset() int { return r.off }

// Done returns a trailing-bytes error if any input remains unread.
func (r *Reader) Done() error {
	if r.off != len(r.data) {
		return &DecodeError{Kind: KindTrailing, Offset: r.off,
			Detail: fmt.Sprintf("%d bytes left", len(r.data)-r.off)}
	}
	return nil
}

func (r *Reader) need(n int, what string) error {
	if r.Remaining() < n {
		return &DecodeError{Kind: KindTruncated, Offset: r.off,
			Detail: fmt.Sprintf("need %d bytes for %s, have %d", n, what, r.Remaining())}
	}
	return nil
}

func (r *Reader) Uint8() (uint8, error) {
	if err := r.need(1, "uint8"); err != nil {
		return 0, err
	}
	v := r.data[r.off]
	r.off++
	return v, nil
}

func (r *Reader) Uint16() (uint16, error) {
	if err := r.need(2, "uint16"); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v, nil
}

func (r *Reader) Uint32() (uint32, error) {
	if err := r.need(4, "uint32"); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

func (r *Reader) Uint64() (uint64, error) {
	if err := r.need(8, "uint64"); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v, nil
}

func (r *Reader) Int8() (int8, error) {
	v, err := r.Uint8()
	return int8(v), err
}

func (r *Reader) Int16() (int16, error) {
	v, err := r.Uint16()
	return int16(v), err
}

func (r *Reader) Int32() (int32, error) {
	v, err := r.Uint32()
	return int32(v), err
}

func (r *Reader) Int64() (int64, error) {
	v, err := r.Uint64()
	return int64(v), err
}

func (r *Reader) Bool() (bool, error) {
	v, err := r.Uint8()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, &DecodeError{Kind: KindBadValue, Offset: r.off - 1,
			Detail: fmt.Sprintf("bool byte 0x%02x", v)}
	}
}

func (r *Reader) Float32() (float32, error) {
	v, err := r.Uint32()
	return math.Float32frombits(v), err
}

func (r *Reader) Float64() (float64, error) {
	v, err := r.Uint64()
	return math.Float64frombits(v), err
}

// String reads a uint32 length prefix and that many bytes, and verifies
// the result is valid UTF-8.
func (r *Reader) String() (string, error) {
	n, err := r.Uint32()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n), "string body"); err != nil {
		return "", err
	}
	b := r.data[r.off : r.off+int(n)]
	if !utf8.Valid(b) {
		return "", &DecodeError{Kind: KindBadUTF8, Offset: r.off, Detail: "string body"}
	}
	r.off += int(n)
	return string(b), nil
}

// Bytes32 reads a uint32 count prefix and that many raw bytes.
// The returned slice is a copy.
func (r *Reader) Bytes32() ([]byte, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n), "byte slice body"); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, r.data[r.off:])
	r.off += int(n)
	return b, nil
}

// Array16 reads a fixed 16-byte array with no prefix.
func (r *Reader) Array16() ([16]byte, error) {
	var out [16]byte
	if err := r.need(16, "16-byte array"); err != nil {
		return out, err
	}
	copy(out[:], r.data[r.off:])
	r.off += 16
	return out, nil
}
