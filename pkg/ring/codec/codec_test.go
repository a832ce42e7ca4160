package codec

import (
	"bytes"
	"net/netip"
	"testing"
)

func TestBytesRoundTrip(t *testing.T) {
	for _, c := range [][]byte{
		nil,
		{},
		{0x01},
		bytes.Repeat([]byte{0xAB}, 300),
	} {
		w := NewWriter(nil)
		w.PutBytes(c)
		r := NewReader(w.Bytes())
		got, err := r.GetBytes()
		if err != nil {
			t.Fatalf("GetBytes(%v): %v", c, err)
		}
		if !bytes.Equal(got, c) && !(len(got) == 0 && len(c) == 0) {
			t.Errorf("round trip %v: got %v", c, got)
		}
		if !r.Done() {
			t.Errorf("round trip %v: trailing bytes", c)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, s := range []string{"", "a", "hello", "unicode ☃ snowman"} {
		w := NewWriter(nil)
		w.PutString(s)
		r := NewReader(w.Bytes())
		got, err := r.GetString()
		if err != nil {
			t.Fatalf("GetString(%q): %v", s, err)
		}
		if got != s {
			t.Errorf("round trip %q: got %q", s, got)
		}
	}
}

func TestInvalidUTF8(t *testing.T) {
	w := NewWriter(nil)
	w.PutBytes([]byte{0xff, 0xfe})
	r := NewReader(w.Bytes())
	if _, err := r.GetString(); err == nil {
		t.Errorf("expected error decoding invalid utf-8")
	}
}

func TestTruncated(t *testing.T) {
	r := NewReader([]byte{0x00, 0x05, 0x01, 0x02})
	if _, err := r.GetBytes(); err == nil {
		t.Errorf("expected truncation error")
	}
}

func TestAddrPortRoundTrip(t *testing.T) {
	for _, s := range []string{"1.2.3.4:80", "[::1]:443", "[2001:db8::1]:9000"} {
		addr := netip.MustParseAddrPort(s)
		w := NewWriter(nil)
		w.PutAddrPort(addr)
		r := NewReader(w.Bytes())
		got, err := r.GetAddrPort()
		if err != nil {
			t.Fatalf("GetAddrPort(%s): %v", s, err)
		}
		if got.Port() != addr.Port() {
			t.Errorf("%s: port mismatch: got %d", s, got.Port())
		}
		if got.Addr().As16() != addr.Addr().As16() {
			t.Errorf("%s: address mismatch: got %s", s, got.Addr())
		}
	}
}

func TestUnknownAddrTag(t *testing.T) {
	r := NewReader([]byte{0x02, 0, 0, 0, 0})
	if _, err := r.GetAddrPort(); err == nil {
		t.Errorf("expected error for unknown address tag")
	}
}

func TestIntRoundTrip(t *testing.T) {
	w := NewWriter(nil)
	w.PutUint16(0xBEEF)
	w.PutUint32(0xDEADBEEF)
	w.PutUint64(0x0102030405060708)
	r := NewReader(w.Bytes())
	if v, err := r.GetUint16(); err != nil || v != 0xBEEF {
		t.Errorf("GetUint16: got %#x, %v", v, err)
	}
	if v, err := r.GetUint32(); err != nil || v != 0xDEADBEEF {
		t.Errorf("GetUint32: got %#x, %v", v, err)
	}
	if v, err := r.GetUint64(); err != nil || v != 0x0102030405060708 {
		t.Errorf("GetUint64: got %#x, %v", v, err)
	}
}
