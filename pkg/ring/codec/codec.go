// Package codec implements the deterministic binary encoding shared by
// every wire type in the token-ring overlay: fixed-length arrays,
// length-prefixed byte vectors, length-prefixed element vectors,
// big-endian integers, length-prefixed UTF-8 strings, and socket
// addresses.
package codec

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"unicode/utf8"

	"github.com/ringcast/ringd/pkg/ring"
)

// Writer accumulates encoded bytes. It never fails; callers size buffers
// with Cap estimates or let it grow.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with buf as its backing array, cleared.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf[:0]}
}

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) PutByte(b byte) { w.buf = append(w.buf, b) }

func (w *Writer) PutUint16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *Writer) PutUint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *Writer) PutUint64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

// PutFixed writes raw bytes verbatim (a fixed-length array field).
func (w *Writer) PutFixed(b []byte) { w.buf = append(w.buf, b...) }

// PutBytes writes a 2-byte big-endian length prefix followed by b.
func (w *Writer) PutBytes(b []byte) {
	w.PutUint16(uint16(len(b)))
	w.buf = append(w.buf, b...)
}

// PutString writes a length-prefixed UTF-8 string.
func (w *Writer) PutString(s string) { w.PutBytes([]byte(s)) }

// PutVecCount writes a 4-byte big-endian element count, for callers that
// then write each element themselves.
func (w *Writer) PutVecCount(n int) { w.PutUint32(uint32(n)) }

// PutAddrPort encodes a socket address as tag(1) || octets || port(2).
func (w *Writer) PutAddrPort(addr netip.AddrPort) {
	a := addr.Addr()
	if a.Is4() || a.Is4In6() {
		w.PutByte(0)
		b := a.As4()
		w.PutFixed(b[:])
	} else {
		w.PutByte(1)
		b := a.As16()
		w.PutFixed(b[:])
	}
	w.PutUint16(addr.Port())
}

// Reader consumes bytes left-to-right, failing with ring.ErrInvalidPacketHeader
// on truncation or malformed content.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) remaining() int { return len(r.buf) - r.pos }

// Remaining reports how many undecoded bytes are left. Callers decoding a
// count-prefixed vector use it to bound allocation against the actual
// datagram size rather than trusting an attacker-controlled count.
func (r *Reader) Remaining() int { return r.remaining() }

func (r *Reader) errf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ring.ErrInvalidPacketHeader}, args...)...)
}

func (r *Reader) GetByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, r.errf("truncated byte")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *Reader) GetFixed(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, r.errf("truncated fixed field (want %d, have %d)", n, r.remaining())
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) GetUint16() (uint16, error) {
	b, err := r.GetFixed(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) GetUint32() (uint32, error) {
	b, err := r.GetFixed(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) GetUint64() (uint64, error) {
	b, err := r.GetFixed(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// GetBytes reads a 2-byte length prefix, then that many bytes, returning a
// copy (never an alias into the input buffer).
func (r *Reader) GetBytes() ([]byte, error) {
	n, err := r.GetUint16()
	if err != nil {
		return nil, err
	}
	b, err := r.GetFixed(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// GetString reads a length-prefixed byte vector and validates it as UTF-8.
func (r *Reader) GetString() (string, error) {
	b, err := r.GetBytes()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", r.errf("invalid utf-8 string")
	}
	return string(b), nil
}

// GetVecCount reads a 4-byte element count.
func (r *Reader) GetVecCount() (int, error) {
	n, err := r.GetUint32()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// GetAddrPort decodes a socket address encoded by Writer.PutAddrPort.
func (r *Reader) GetAddrPort() (netip.AddrPort, error) {
	tag, err := r.GetByte()
	if err != nil {
		return netip.AddrPort{}, err
	}
	var ip net.IP
	switch tag {
	case 0:
		b, err := r.GetFixed(4)
		if err != nil {
			return netip.AddrPort{}, err
		}
		ip = net.IP(b)
	case 1:
		b, err := r.GetFixed(16)
		if err != nil {
			return netip.AddrPort{}, err
		}
		ip = net.IP(b)
	default:
		return netip.AddrPort{}, r.errf("unknown address tag %d", tag)
	}
	port, err := r.GetUint16()
	if err != nil {
		return netip.AddrPort{}, err
	}
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.AddrPort{}, r.errf("malformed address bytes")
	}
	return netip.AddrPortFrom(addr, port), nil
}

// Done reports whether every byte has been consumed.
func (r *Reader) Done() bool { return r.remaining() == 0 }
