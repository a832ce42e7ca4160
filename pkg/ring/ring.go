// Package ring implements the station-id and keypair primitives shared by
// every layer of the token-ring overlay.
package ring

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by the protocol engine. Callers may test against
// these with errors.Is; the accompanying text carries the offending
// id/address for the log line.
var (
	ErrInvalidPacketHeader    = errors.New("ring: invalid packet header")
	ErrInvalidSignature       = errors.New("ring: invalid signature")
	ErrStationNotRegistered   = errors.New("ring: station not registered")
	ErrInvalidWorkStationID   = errors.New("ring: unexpected station id")
	ErrInvalidSocketAddress   = errors.New("ring: unexpected socket address")
	ErrInvalidToken           = errors.New("ring: invalid token")
	ErrNotConnected           = errors.New("ring: not connected")
	ErrAlreadyConnected       = errors.New("ring: already connected")
	ErrRejectedJoinAttempt    = errors.New("ring: join attempt rejected")
	ErrFailedJoinAttempt      = errors.New("ring: join attempt denied by monitor")
	ErrEmptyRing              = errors.New("ring: no stations to pass to")
	ErrTokenPending           = errors.New("ring: token not ready")
)

// IDLen is the maximum length, in bytes, of a WorkStationID once truncated.
const IDLen = 8

// WorkStationID is a short, case-insensitive label identifying a station
// for the lifetime of its process.
type WorkStationID string

// NewWorkStationID truncates s to IDLen bytes and normalizes it to
// lowercase so two ids compare equal regardless of case.
func NewWorkStationID(s string) WorkStationID {
	if len(s) > IDLen {
		s = s[:IDLen]
	}
	return WorkStationID(strings.ToLower(s))
}

func (id WorkStationID) String() string { return string(id) }

// Keypair is an Ed25519 signing keypair held privately by a station.
type Keypair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeypair creates a fresh Ed25519 keypair using a CSPRNG.
func GenerateKeypair() (Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, fmt.Errorf("ring: generate keypair: %w", err)
	}
	return Keypair{Public: pub, Private: priv}, nil
}

// Sign produces a detached signature over msg.
func (k Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.Private, msg)
}

// PublicKeyArray returns the public key as a fixed 32-byte array, the wire
// representation used throughout the codec.
func (k Keypair) PublicKeyArray() [32]byte {
	var out [32]byte
	copy(out[:], k.Public)
	return out
}

// Verify checks a detached Ed25519 signature. It never panics on malformed
// input; a bad-length key or signature simply fails verification.
func Verify(pub [32]byte, msg, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig)
}
