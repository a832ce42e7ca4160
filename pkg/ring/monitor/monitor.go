// Package monitor implements the active station: the single ring member
// that admits new stations, owns the membership table, and drives the
// token-pass fairness engine.
package monitor

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/rs/zerolog"

	"github.com/ringcast/ringd/internal/audit"
	"github.com/ringcast/ringd/pkg/ring"
	"github.com/ringcast/ringd/pkg/ring/metrics"
	"github.com/ringcast/ringd/pkg/ring/orderedmap"
	"github.com/ringcast/ringd/pkg/ring/passer"
	"github.com/ringcast/ringd/pkg/ring/transport"
	"github.com/ringcast/ringd/pkg/ring/wire"
)

// Config bundles the monitor's admission policy.
type Config struct {
	ID                ring.WorkStationID
	Password          string
	AcceptConnections bool
	MaxConnections    int
	MaxPassoverTime   time.Duration
}

// Monitor is the active station. It owns the membership table, the
// rotation-status table (via Passer), and the outbound socket queue. It
// is driven by a single application-loop goroutine; none of its methods
// are safe to call concurrently with each other.
type Monitor struct {
	cfg    Config
	kp     ring.Keypair
	sock   *transport.Socket
	passer *passer.Passer
	log    zerolog.Logger
	met    *metrics.Monitor
	aud    *audit.Log

	membership *orderedmap.Map[ring.WorkStationID, netip.AddrPort]

	now func() time.Time
}

// New constructs a Monitor. aud and met may be nil, in which case
// auditing/metrics are skipped (used by tests that only exercise
// protocol logic).
func New(cfg Config, kp ring.Keypair, sock *transport.Socket, log zerolog.Logger, met *metrics.Monitor, aud *audit.Log) *Monitor {
	return &Monitor{
		cfg:        cfg,
		kp:         kp,
		sock:       sock,
		passer:     passer.New(cfg.MaxPassoverTime),
		log:        log,
		met:        met,
		aud:        aud,
		membership: orderedmap.New[ring.WorkStationID, netip.AddrPort](),
		now:        time.Now,
	}
}

func (m *Monitor) countRecv(kind string) {
	if m.met != nil {
		m.met.PacketsReceived(kind).Inc()
	}
}

func (m *Monitor) countSent(kind string) {
	if m.met != nil {
		m.met.PacketsSent(kind).Inc()
	}
}

func (m *Monitor) countDrop(reason string) {
	if m.met != nil {
		m.met.PacketsDropped(reason).Inc()
	}
}

func (m *Monitor) record(kind audit.Kind, id ring.WorkStationID, remote netip.AddrPort, detail string) {
	if m.aud != nil {
		m.aud.Record(kind, string(id), remote.String(), detail)
	}
}

// RecvJoinRequest implements admission. A request is denied, with a Deny
// reply sent to addr, when the id is already joined from addr, the monitor
// is closed for admission, the ring is at capacity, or the password is
// wrong (checked in that order).
func (m *Monitor) RecvJoinRequest(addr netip.AddrPort, id ring.WorkStationID, password string) error {
	if existing, ok := m.membership.Get(id); ok && existing == addr {
		m.denyJoin(addr, id, "already joined")
		return fmt.Errorf("%w: %s already joined", ring.ErrRejectedJoinAttempt, id)
	}
	if !m.cfg.AcceptConnections {
		m.denyJoin(addr, id, "monitor is not accepting connections")
		return fmt.Errorf("%w: monitor closed to new connections", ring.ErrRejectedJoinAttempt)
	}
	if m.membership.Len() >= m.cfg.MaxConnections {
		m.denyJoin(addr, id, "ring is full")
		return fmt.Errorf("%w: ring is full", ring.ErrRejectedJoinAttempt)
	}
	if password != m.cfg.Password {
		m.denyJoin(addr, id, "incorrect password")
		return fmt.Errorf("%w: incorrect password", ring.ErrRejectedJoinAttempt)
	}

	isNew := !m.membership.Has(id)
	m.membership.Set(id, addr)
	if isNew {
		m.passer.AddStation(id)
	}
	if m.met != nil {
		m.met.SetStationsConnected(m.membership.Len())
	}

	m.sock.Enqueue(transport.Outbound{
		Packet: wire.NewJoinReplyConfirm(m.kp, m.cfg.ID, m.cfg.ID),
		Addr:   addr,
	})
	m.countSent("join_reply")
	m.record(audit.JoinAccepted, id, addr, "")
	return nil
}

func (m *Monitor) denyJoin(addr netip.AddrPort, id ring.WorkStationID, reason string) {
	m.sock.Enqueue(transport.Outbound{
		Packet: wire.NewJoinReplyDeny(m.kp, m.cfg.ID, reason),
		Addr:   addr,
	})
	m.countSent("join_reply")
	m.countDrop("join_denied")
	if m.met != nil {
		m.met.JoinDenied(reason).Inc()
	}
	m.record(audit.JoinDenied, id, addr, reason)
}

func (m *Monitor) recvTokenPass(addr netip.AddrPort, id ring.WorkStationID, tok wire.Token) error {
	expectedAddr, ok := m.membership.Get(id)
	if !ok || expectedAddr != addr {
		m.countDrop("invalid_token_source")
		return fmt.Errorf("%w: %s sent token pass from unexpected address", ring.ErrInvalidToken, id)
	}
	wasComplete := m.passer.RoundComplete()
	if err := m.passer.RecvToken(tok, id); err != nil {
		m.countDrop("invalid_token")
		return err
	}
	if !wasComplete && m.passer.RoundComplete() {
		if m.met != nil {
			m.met.RoundsCompleted.Inc()
		}
		m.record(audit.RoundCompleted, m.cfg.ID, addr, "")
	}
	return nil
}

func (m *Monitor) recvLeave(addr netip.AddrPort, id ring.WorkStationID) error {
	existing, ok := m.membership.Get(id)
	if !ok || existing != addr {
		m.countDrop("unregistered_leave")
		return fmt.Errorf("%w: leave from unregistered %s/%s", ring.ErrStationNotRegistered, id, addr)
	}
	m.membership.Delete(id)
	m.passer.RemoveStation(id)
	if m.met != nil {
		m.met.SetStationsConnected(m.membership.Len())
	}
	m.record(audit.Leave, id, addr, "")
	return nil
}

// RecvAll drains every packet currently queued by the socket's receiver
// loop. Per-packet failures are logged and do not interrupt the drain.
func (m *Monitor) RecvAll() {
	for {
		select {
		case in := <-m.sock.Inbound():
			m.dispatch(in)
		default:
			return
		}
	}
}

func (m *Monitor) dispatch(in transport.Inbound) {
	pkt := in.Packet
	id := pkt.SourceID()

	if !pkt.Header.Verify() {
		m.countDrop("invalid_signature")
		m.log.Warn().Stringer("addr", in.Addr).Msg("dropping packet with invalid signature")
		return
	}

	if pkt.Kind != wire.PacketJoinRequest {
		if addr, ok := m.membership.Get(id); !ok || addr != in.Addr {
			m.countDrop("unregistered")
			m.log.Warn().Str("id", string(id)).Stringer("addr", in.Addr).Msg("dropping packet from unregistered station")
			return
		}
	}

	switch pkt.Kind {
	case wire.PacketJoinRequest:
		m.countRecv("join_request")
		if err := m.RecvJoinRequest(in.Addr, id, pkt.JoinRequestPassword); err != nil {
			m.log.Info().Err(err).Str("id", string(id)).Msg("join request rejected")
		}
	case wire.PacketJoinReply:
		m.countDrop("unexpected_join_reply")
		m.log.Warn().Str("id", string(id)).Msg("monitor received unexpected join reply")
	case wire.PacketTokenPass:
		m.countRecv("token_pass")
		if err := m.recvTokenPass(in.Addr, id, pkt.Token); err != nil {
			m.log.Warn().Err(err).Str("id", string(id)).Msg("token pass rejected")
		}
	case wire.PacketLeave:
		m.countRecv("leave")
		if err := m.recvLeave(in.Addr, id); err != nil {
			m.log.Warn().Err(err).Str("id", string(id)).Msg("leave rejected")
		}
	}
}

// PollTokenPass advances the rotation by one step if the passer is ready.
// Returns ring.ErrTokenPending (benign) if not, ring.ErrEmptyRing if
// there are no members.
func (m *Monitor) PollTokenPass() error {
	if !m.passer.PassReady() {
		return ring.ErrTokenPending
	}

	if holder, timedOut := m.passer.TimedOutHolder(); timedOut {
		if m.met != nil {
			m.met.TokenTimeouts.Inc()
		}
		if addr, ok := m.membership.Get(holder); ok {
			m.record(audit.StationTimedOut, holder, addr, "")
		}
	}

	next, ok := m.passer.SelectNextStation()
	if !ok {
		return ring.ErrEmptyRing
	}

	addr, ok := m.membership.Get(next)
	if !ok {
		return fmt.Errorf("%w: selected %s has no known address", ring.ErrEmptyRing, next)
	}

	var tok wire.Token
	if current, ok := m.passer.CurrentToken(); ok {
		tok = current
	} else {
		tok = wire.NewToken(m.kp, m.cfg.ID, uint64(m.now().Unix()))
	}

	m.passer.PassToken(next)
	m.sock.Enqueue(transport.Outbound{Packet: wire.NewTokenPass(m.kp, m.cfg.ID, tok), Addr: addr})
	m.countSent("token_pass")
	return nil
}

// MemberCount returns the number of currently admitted stations.
func (m *Monitor) MemberCount() int { return m.membership.Len() }

// Shutdown marks the monitor's metrics gauge at zero members; the socket
// itself is owned and closed by the caller.
func (m *Monitor) Shutdown() {
	if m.met != nil {
		m.met.SetStationsConnected(0)
	}
}
