package wire

import (
	"fmt"

	"github.com/ringcast/ringd/pkg/ring"
	"github.com/ringcast/ringd/pkg/ring/codec"
)

// PacketHeader carries only the sender's station id. It is always
// transmitted inside a Signed envelope.
type PacketHeader struct {
	Source ring.WorkStationID
}

func (h PacketHeader) WriteTo(w *codec.Writer) { w.PutString(string(h.Source)) }

func readPacketHeader(r *codec.Reader) (PacketHeader, error) {
	s, err := r.GetString()
	if err != nil {
		return PacketHeader{}, err
	}
	return PacketHeader{Source: ring.WorkStationID(s)}, nil
}

// PacketKind is the discriminator byte of the tagged Packet union.
type PacketKind byte

const (
	PacketJoinRequest PacketKind = 0
	PacketJoinReply   PacketKind = 1
	PacketTokenPass   PacketKind = 2
	PacketLeave       PacketKind = 3
)

// Packet is the tagged union of every message that crosses the wire.
// Exactly one of the typed fields is meaningful, selected by Kind.
type Packet struct {
	Header Signed[PacketHeader]
	Kind   PacketKind

	JoinRequestPassword string
	JoinReplyConfirmID  ring.WorkStationID
	JoinReplyDeny       bool
	JoinReplyReason     string
	Token               Token
}

func (p Packet) SourceID() ring.WorkStationID { return p.Header.Value.Source }

// WriteTo serializes the packet to w.
func (p Packet) WriteTo(w *codec.Writer) {
	p.Header.WriteTo(w)
	w.PutByte(byte(p.Kind))
	switch p.Kind {
	case PacketJoinRequest:
		w.PutString(p.JoinRequestPassword)
	case PacketJoinReply:
		if p.JoinReplyDeny {
			w.PutByte(1)
			w.PutString(p.JoinReplyReason)
		} else {
			w.PutByte(0)
			w.PutString(string(p.JoinReplyConfirmID))
		}
	case PacketTokenPass:
		p.Token.WriteTo(w)
	case PacketLeave:
		// no payload
	}
}

// ReadPacket decodes a full packet, including the outer signed envelope.
func ReadPacket(r *codec.Reader) (Packet, error) {
	header, err := ReadSigned(r, readPacketHeader)
	if err != nil {
		return Packet{}, err
	}
	kindByte, err := r.GetByte()
	if err != nil {
		return Packet{}, err
	}
	p := Packet{Header: header, Kind: PacketKind(kindByte)}
	switch p.Kind {
	case PacketJoinRequest:
		pw, err := r.GetString()
		if err != nil {
			return Packet{}, err
		}
		p.JoinRequestPassword = pw
	case PacketJoinReply:
		tag, err := r.GetByte()
		if err != nil {
			return Packet{}, err
		}
		if tag == 1 {
			reason, err := r.GetString()
			if err != nil {
				return Packet{}, err
			}
			p.JoinReplyDeny = true
			p.JoinReplyReason = reason
		} else if tag == 0 {
			id, err := r.GetString()
			if err != nil {
				return Packet{}, err
			}
			p.JoinReplyConfirmID = ring.WorkStationID(id)
		} else {
			return Packet{}, fmt.Errorf("%w: unknown join reply tag %d", ring.ErrInvalidPacketHeader, tag)
		}
	case PacketTokenPass:
		tok, err := ReadToken(r)
		if err != nil {
			return Packet{}, err
		}
		p.Token = tok
	case PacketLeave:
		// no payload
	default:
		return Packet{}, fmt.Errorf("%w: unknown packet kind %d", ring.ErrInvalidPacketHeader, kindByte)
	}
	return p, nil
}

// NewJoinRequest builds a signed JoinRequest packet.
func NewJoinRequest(kp ring.Keypair, source ring.WorkStationID, password string) Packet {
	return Packet{
		Header:              NewSigned(kp, PacketHeader{Source: source}),
		Kind:                PacketJoinRequest,
		JoinRequestPassword: password,
	}
}

// NewJoinReplyConfirm builds a signed JoinReply(Confirm) packet.
func NewJoinReplyConfirm(kp ring.Keypair, source, monitorID ring.WorkStationID) Packet {
	return Packet{
		Header:             NewSigned(kp, PacketHeader{Source: source}),
		Kind:               PacketJoinReply,
		JoinReplyConfirmID: monitorID,
	}
}

// NewJoinReplyDeny builds a signed JoinReply(Deny) packet.
func NewJoinReplyDeny(kp ring.Keypair, source ring.WorkStationID, reason string) Packet {
	return Packet{
		Header:          NewSigned(kp, PacketHeader{Source: source}),
		Kind:            PacketJoinReply,
		JoinReplyDeny:   true,
		JoinReplyReason: reason,
	}
}

// NewTokenPass builds a signed TokenPass packet carrying tok.
func NewTokenPass(kp ring.Keypair, source ring.WorkStationID, tok Token) Packet {
	return Packet{
		Header: NewSigned(kp, PacketHeader{Source: source}),
		Kind:   PacketTokenPass,
		Token:  tok,
	}
}

// NewLeave builds a signed Leave packet.
func NewLeave(kp ring.Keypair, source ring.WorkStationID) Packet {
	return Packet{
		Header: NewSigned(kp, PacketHeader{Source: source}),
		Kind:   PacketLeave,
	}
}
