// Package station implements the passive station: a ring member that
// connects to a monitor, relays the token, and stages application frames
// between token arrivals.
package station

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/rs/zerolog"

	"github.com/ringcast/ringd/pkg/ring"
	"github.com/ringcast/ringd/pkg/ring/metrics"
	"github.com/ringcast/ringd/pkg/ring/transport"
	"github.com/ringcast/ringd/pkg/ring/wire"
)

// connState is the passive station's connection lifecycle.
type connState int

const (
	Offline connState = iota
	Pending
	Connected
)

// Station is the passive-station state machine. It is driven by a single
// application-loop goroutine; none of its methods are safe to call
// concurrently with each other.
type Station struct {
	self ring.WorkStationID
	kp   ring.Keypair
	sock *transport.Socket
	log  zerolog.Logger
	met  *metrics.Station

	state         connState
	monitorAddr   netip.AddrPort
	monitorID     ring.WorkStationID
	password      string

	staged []wire.TokenFrame
	held   *wire.Token

	now func() time.Time
}

// New constructs a Station identified by self. met may be nil to skip
// metrics (used by protocol-only tests).
func New(self ring.WorkStationID, kp ring.Keypair, sock *transport.Socket, log zerolog.Logger, met *metrics.Station) *Station {
	return &Station{self: self, kp: kp, sock: sock, log: log, met: met, now: time.Now}
}

// State reports the current connection lifecycle state.
func (s *Station) State() connState { return s.state }

// Connect emits a JoinRequest to monitorAddr and transitions to Pending.
func (s *Station) Connect(monitorAddr netip.AddrPort, password string) error {
	if s.state == Connected {
		return ring.ErrAlreadyConnected
	}
	s.monitorAddr = monitorAddr
	s.password = password
	s.state = Pending
	s.sock.Enqueue(transport.Outbound{
		Packet: wire.NewJoinRequest(s.kp, s.self, password),
		Addr:   monitorAddr,
	})
	if s.met != nil {
		s.met.PacketsSent("join_request").Inc()
	}
	return nil
}

// RecvNext pops at most one packet from the inbound queue and processes
// it according to the current connection state.
func (s *Station) RecvNext() error {
	select {
	case in := <-s.sock.Inbound():
		return s.process(in)
	default:
		return nil
	}
}

func (s *Station) process(in transport.Inbound) error {
	pkt := in.Packet
	if !pkt.Header.Verify() {
		s.log.Warn().Stringer("addr", in.Addr).Msg("dropping packet with invalid signature")
		return ring.ErrInvalidSignature
	}

	switch s.state {
	case Connected:
		if in.Addr != s.monitorAddr {
			return ring.ErrInvalidSocketAddress
		}
		if pkt.SourceID() != s.monitorID {
			return ring.ErrInvalidWorkStationID
		}
		switch pkt.Kind {
		case wire.PacketTokenPass:
			if s.met != nil {
				s.met.PacketsReceived("token_pass").Inc()
			}
			s.recvTokenPass(pkt.Token)
			return nil
		default:
			s.log.Warn().Int("kind", int(pkt.Kind)).Msg("discarding unexpected packet while connected")
			return nil
		}
	case Pending, Offline:
		if pkt.Kind != wire.PacketJoinReply {
			return ring.ErrNotConnected
		}
		if pkt.JoinReplyDeny {
			s.log.Info().Str("reason", pkt.JoinReplyReason).Msg("join request denied")
			return fmt.Errorf("%w: %s", ring.ErrFailedJoinAttempt, pkt.JoinReplyReason)
		}
		s.monitorID = pkt.JoinReplyConfirmID
		s.state = Connected
		return nil
	}
	return nil
}

func (s *Station) recvTokenPass(tok wire.Token) {
	if s.held != nil {
		s.log.Warn().Msg("overwriting previously held token; prior pass was presumably lost")
	}
	tok.Frames = append(tok.Frames, s.staged...)
	s.staged = s.staged[:0]
	t := tok
	s.held = &t
	if s.met != nil {
		s.met.TokensHeld.Inc()
	}
}

// AppendFrame stages a frame to be merged into the next token this
// station holds.
func (s *Station) AppendFrame(kind wire.TokenFrameKind, build func(*wire.TokenFrame)) {
	f := wire.TokenFrame{
		ID:   wire.TokenFrameID{Source: s.self, Timestamp: uint64(s.now().Unix())},
		Kind: kind,
	}
	if build != nil {
		build(&f)
	}
	s.staged = append(s.staged, f)
	if s.met != nil {
		s.met.FramesStaged.Inc()
	}
}

// PassOnToken emits the held token back to the monitor. Returns
// ring.ErrTokenPending if no token is currently held.
func (s *Station) PassOnToken() error {
	if s.held == nil {
		return ring.ErrTokenPending
	}
	tok := *s.held
	s.held = nil
	s.sock.Enqueue(transport.Outbound{
		Packet: wire.NewTokenPass(s.kp, s.self, tok),
		Addr:   s.monitorAddr,
	})
	if s.met != nil {
		s.met.PacketsSent("token_pass").Inc()
	}
	return nil
}

// HeldToken returns the currently held token, if any.
func (s *Station) HeldToken() (wire.Token, bool) {
	if s.held == nil {
		return wire.Token{}, false
	}
	return *s.held, true
}

// Shutdown emits a Leave, gives the sender loop a moment to drain, and
// transitions to Offline.
func (s *Station) Shutdown() {
	if s.state == Connected || s.state == Pending {
		s.sock.Enqueue(transport.Outbound{Packet: wire.NewLeave(s.kp, s.self), Addr: s.monitorAddr})
	}
	time.Sleep(2 * time.Second)
	s.state = Offline
}
