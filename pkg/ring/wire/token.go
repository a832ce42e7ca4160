package wire

import (
	"fmt"

	"github.com/ringcast/ringd/pkg/ring"
	"github.com/ringcast/ringd/pkg/ring/codec"
)

// TokenHeader names the station that minted a token and when.
type TokenHeader struct {
	Origin    ring.WorkStationID
	Timestamp uint64 // seconds since the Unix epoch
}

func (h TokenHeader) WriteTo(w *codec.Writer) {
	w.PutString(string(h.Origin))
	w.PutUint64(h.Timestamp)
}

func readTokenHeader(r *codec.Reader) (TokenHeader, error) {
	origin, err := r.GetString()
	if err != nil {
		return TokenHeader{}, err
	}
	ts, err := r.GetUint64()
	if err != nil {
		return TokenHeader{}, err
	}
	return TokenHeader{Origin: ring.WorkStationID(origin), Timestamp: ts}, nil
}

// TokenFrameID identifies the producer and mint time of a frame.
type TokenFrameID struct {
	Source    ring.WorkStationID
	Timestamp uint64
}

func (id TokenFrameID) WriteTo(w *codec.Writer) {
	w.PutString(string(id.Source))
	w.PutUint64(id.Timestamp)
}

func readTokenFrameID(r *codec.Reader) (TokenFrameID, error) {
	source, err := r.GetString()
	if err != nil {
		return TokenFrameID{}, err
	}
	ts, err := r.GetUint64()
	if err != nil {
		return TokenFrameID{}, err
	}
	return TokenFrameID{Source: ring.WorkStationID(source), Timestamp: ts}, nil
}

// TokenFrameKind is the discriminator byte of the TokenFrame union.
type TokenFrameKind byte

const (
	FrameEmpty        TokenFrameKind = 0
	FrameData         TokenFrameKind = 1
	FrameDataReceived TokenFrameKind = 2
)

// SendMode selects unicast vs. broadcast delivery for a Data frame.
type SendMode byte

const (
	SendUnicast   SendMode = 0
	SendBroadcast SendMode = 1
)

// TokenFrame is one unit of application payload (or acknowledgement)
// carried by a Token.
type TokenFrame struct {
	ID   TokenFrameID
	Kind TokenFrameKind

	// Data fields.
	Mode    SendMode
	Dest    ring.WorkStationID // meaningful only when Mode == SendUnicast
	Seq     uint16
	Payload []byte

	// DataReceived fields.
	AckSource ring.WorkStationID
	AckSeq    uint16
}

func (f TokenFrame) WriteTo(w *codec.Writer) {
	f.ID.WriteTo(w)
	w.PutByte(byte(f.Kind))
	switch f.Kind {
	case FrameEmpty:
	case FrameData:
		w.PutByte(byte(f.Mode))
		if f.Mode == SendUnicast {
			w.PutString(string(f.Dest))
		}
		w.PutUint16(f.Seq)
		w.PutBytes(f.Payload)
	case FrameDataReceived:
		w.PutString(string(f.AckSource))
		w.PutUint16(f.AckSeq)
	}
}

func readTokenFrame(r *codec.Reader) (TokenFrame, error) {
	id, err := readTokenFrameID(r)
	if err != nil {
		return TokenFrame{}, err
	}
	kindByte, err := r.GetByte()
	if err != nil {
		return TokenFrame{}, err
	}
	f := TokenFrame{ID: id, Kind: TokenFrameKind(kindByte)}
	switch f.Kind {
	case FrameEmpty:
	case FrameData:
		modeByte, err := r.GetByte()
		if err != nil {
			return TokenFrame{}, err
		}
		f.Mode = SendMode(modeByte)
		switch f.Mode {
		case SendUnicast:
			dest, err := r.GetString()
			if err != nil {
				return TokenFrame{}, err
			}
			f.Dest = ring.WorkStationID(dest)
		case SendBroadcast:
		default:
			return TokenFrame{}, fmt.Errorf("%w: unknown send mode %d", ring.ErrInvalidPacketHeader, modeByte)
		}
		seq, err := r.GetUint16()
		if err != nil {
			return TokenFrame{}, err
		}
		f.Seq = seq
		payload, err := r.GetBytes()
		if err != nil {
			return TokenFrame{}, err
		}
		f.Payload = payload
	case FrameDataReceived:
		src, err := r.GetString()
		if err != nil {
			return TokenFrame{}, err
		}
		f.AckSource = ring.WorkStationID(src)
		seq, err := r.GetUint16()
		if err != nil {
			return TokenFrame{}, err
		}
		f.AckSeq = seq
	default:
		return TokenFrame{}, fmt.Errorf("%w: unknown frame kind %d", ring.ErrInvalidPacketHeader, kindByte)
	}
	return f, nil
}

// Token is a signed capability granting its holder the right to append
// frames; possession rotates round-robin under the passer's control.
type Token struct {
	Header Signed[TokenHeader]
	Frames []TokenFrame
}

func (t Token) WriteTo(w *codec.Writer) {
	t.Header.WriteTo(w)
	w.PutVecCount(len(t.Frames))
	for _, f := range t.Frames {
		f.WriteTo(w)
	}
}

// minFrameSize is the smallest possible encoding of a TokenFrame: an
// empty-string source id (2-byte length prefix), an 8-byte timestamp, and
// a 1-byte kind with no payload (FrameEmpty).
const minFrameSize = 2 + 8 + 1

// ReadToken decodes a Token, including its signed header.
func ReadToken(r *codec.Reader) (Token, error) {
	header, err := ReadSigned(r, readTokenHeader)
	if err != nil {
		return Token{}, err
	}
	n, err := r.GetVecCount()
	if err != nil {
		return Token{}, err
	}
	// n comes straight off the wire and is not yet trustworthy: cap the
	// pre-allocation at what the remaining bytes could possibly hold so a
	// forged huge count can't force a multi-gigabyte allocation before a
	// single frame has been validated.
	if maxFrames := r.Remaining() / minFrameSize; n > maxFrames {
		return Token{}, fmt.Errorf("%w: frame count %d exceeds %d remaining bytes", ring.ErrInvalidPacketHeader, n, r.Remaining())
	}
	frames := make([]TokenFrame, 0, n)
	for i := 0; i < n; i++ {
		f, err := readTokenFrame(r)
		if err != nil {
			return Token{}, err
		}
		frames = append(frames, f)
	}
	return Token{Header: header, Frames: frames}, nil
}

// NewToken mints a fresh, signed, empty-framed token attributed to origin.
func NewToken(kp ring.Keypair, origin ring.WorkStationID, nowUnix uint64) Token {
	return Token{Header: NewSigned(kp, TokenHeader{Origin: origin, Timestamp: nowUnix})}
}
