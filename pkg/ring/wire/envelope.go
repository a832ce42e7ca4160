// Package wire defines the on-wire message types of the token-ring
// overlay: the signed envelope, packets, and tokens, along with their
// codec.Writer/codec.Reader bindings.
package wire

import (
	"github.com/ringcast/ringd/pkg/ring"
	"github.com/ringcast/ringd/pkg/ring/codec"
)

// Encodable is implemented by every value that can live inside a Signed
// envelope.
type Encodable interface {
	WriteTo(w *codec.Writer)
}

// Signed wraps a value with the public key and detached signature that
// authenticate it. The signature is computed once, at construction, over
// the value's serialized bytes; those bytes are retained verbatim so
// Verify stays a byte-exact check even after a round trip.
type Signed[T Encodable] struct {
	PublicKey [32]byte
	Signature [64]byte
	Value     T
	raw       []byte
}

// NewSigned serializes value once and signs the result.
func NewSigned[T Encodable](kp ring.Keypair, value T) Signed[T] {
	w := codec.NewWriter(nil)
	value.WriteTo(w)
	raw := w.Bytes()
	sig := kp.Sign(raw)
	s := Signed[T]{PublicKey: kp.PublicKeyArray(), Value: value, raw: raw}
	copy(s.Signature[:], sig)
	return s
}

// Verify checks the stored signature against the stored bytes.
func (s Signed[T]) Verify() bool {
	return ring.Verify(s.PublicKey, s.raw, s.Signature[:])
}

// WriteTo appends the envelope wire form: public_key(32) || signature(64)
// || length-prefixed serialized value.
func (s Signed[T]) WriteTo(w *codec.Writer) {
	w.PutFixed(s.PublicKey[:])
	w.PutFixed(s.Signature[:])
	w.PutBytes(s.raw)
}

// ReadSigned parses an envelope, re-parsing the inner bytes with decode.
// The raw bytes are retained so a later Verify call remains byte-exact.
func ReadSigned[T Encodable](r *codec.Reader, decode func(*codec.Reader) (T, error)) (Signed[T], error) {
	var s Signed[T]
	pub, err := r.GetFixed(32)
	if err != nil {
		return s, err
	}
	copy(s.PublicKey[:], pub)

	sig, err := r.GetFixed(64)
	if err != nil {
		return s, err
	}
	copy(s.Signature[:], sig)

	raw, err := r.GetBytes()
	if err != nil {
		return s, err
	}
	s.raw = raw

	val, err := decode(codec.NewReader(raw))
	if err != nil {
		return s, err
	}
	s.Value = val
	return s, nil
}
