// Package transport bridges a UDP socket to the protocol engine with a
// pair of cooperative loops: a sender that drains an outbound queue and a
// receiver that pushes decoded packets onto an inbound queue. Neither
// loop interprets packets; they are pure byte <-> packet bridges.
package transport

import (
	"errors"
	"net"
	"net/netip"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/ringcast/ringd/pkg/ring/codec"
	"github.com/ringcast/ringd/pkg/ring/wire"
)

// recvBufSize is the fixed receive buffer size; datagrams larger than
// this are truncated by the OS and will fail to decode.
const recvBufSize = 4096

// sockBufSize is the SO_RCVBUF/SO_SNDBUF size requested on the underlying
// UDP socket. The token-pass workload bursts packets in short runs (a
// full rotation's worth of joins or token passes in one tick), so the
// kernel default is sized generously rather than left to tune itself.
const sockBufSize = 1 << 20

// setSockBuf raises the socket's receive and send buffers. Failures are
// non-fatal: the OS default still works, just with more drop risk under
// burst, so an error here is logged by the caller and otherwise ignored.
func setSockBuf(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, sockBufSize); e != nil {
			sockErr = e
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, sockBufSize)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// Outbound is one item of the sender queue: a packet and the address it
// should be sent to.
type Outbound struct {
	Packet wire.Packet
	Addr   netip.AddrPort
}

// Inbound is one item of the receiver queue: a decoded packet tagged with
// its source address.
type Inbound struct {
	Packet wire.Packet
	Addr   netip.AddrPort
}

// Socket owns one UDP connection shared disjointly by a Sender loop and a
// Receiver loop: the send half and receive half of the API never touch
// the same mutable state, so no mutex guards the conn itself.
type Socket struct {
	conn    *net.UDPConn
	running atomic.Bool

	outbound chan Outbound
	inbound  chan Inbound

	log zerolog.Logger

	RxCount    atomic.Uint64
	RxBytes    atomic.Uint64
	TxCount    atomic.Uint64
	TxBytes    atomic.Uint64
	TxErrCount atomic.Uint64
	DropCount  atomic.Uint64
}

// Listen opens a UDP socket bound to addr and returns a Socket ready to
// run its Sender and Receiver loops.
func Listen(addr netip.AddrPort, log zerolog.Logger) (*Socket, error) {
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(addr))
	if err != nil {
		return nil, err
	}
	if err := setSockBuf(conn); err != nil {
		log.Warn().Err(err).Msg("failed to raise socket buffer sizes")
	}
	s := &Socket{
		conn:     conn,
		outbound: make(chan Outbound, 256),
		inbound:  make(chan Inbound, 256),
		log:      log,
	}
	s.running.Store(true)
	return s, nil
}

// LocalAddr returns the bound local address.
func (s *Socket) LocalAddr() netip.AddrPort {
	return s.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Enqueue submits a packet for the sender loop to transmit. The queue is
// a buffered channel: when it is full, the call blocks until the sender
// loop frees a slot. After Close, the packet is discarded.
func (s *Socket) Enqueue(out Outbound) {
	if !s.running.Load() {
		return
	}
	s.outbound <- out
}

// Inbound returns the channel the receiver loop publishes decoded packets
// to. Callers drain it non-blockingly with a select/default.
func (s *Socket) Inbound() <-chan Inbound { return s.inbound }

// Close signals both loops to stop and closes the socket. It does not
// wait for the loops to exit: RunReceiver returns once its read fails on
// the closed socket, and RunSender returns only after CloseSender.
func (s *Socket) Close() error {
	s.running.Store(false)
	return s.conn.Close()
}

// RunSender drains the outbound queue until CloseSender has closed it and
// every queued item has been taken. Socket errors are counted and
// skipped (logged while the socket is running); this loop never retries.
func (s *Socket) RunSender() {
	for out := range s.outbound {
		w := codec.NewWriter(make([]byte, 0, 256))
		out.Packet.WriteTo(w)
		buf := w.Bytes()

		n, err := s.conn.WriteToUDPAddrPort(buf, out.Addr)
		if err != nil {
			s.TxErrCount.Add(1)
			if s.running.Load() {
				s.log.Warn().Err(err).Stringer("addr", out.Addr).Msg("send failed")
			}
			continue
		}
		s.TxCount.Add(1)
		s.TxBytes.Add(uint64(n))

		if !s.running.Load() && len(s.outbound) == 0 {
			return
		}
	}
}

// RunReceiver reads datagrams until the socket is closed, decoding each
// into a Packet and publishing it on the inbound channel. Malformed
// datagrams are dropped with a warning; the loop never stops on a
// per-packet decode failure.
func (s *Socket) RunReceiver() {
	buf := make([]byte, recvBufSize)
	for {
		n, addr, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn().Err(err).Msg("receive failed")
			continue
		}
		s.RxCount.Add(1)
		s.RxBytes.Add(uint64(n))

		pkt, err := wire.ReadPacket(codec.NewReader(buf[:n]))
		if err != nil {
			s.DropCount.Add(1)
			s.log.Warn().Err(err).Stringer("addr", addr).Msg("dropping malformed packet")
			continue
		}

		select {
		case s.inbound <- Inbound{Packet: pkt, Addr: addr}:
		default:
			s.DropCount.Add(1)
			s.log.Warn().Stringer("addr", addr).Msg("inbound queue full, dropping packet")
		}
	}
}

// CloseSender closes the outbound channel so RunSender can drain and
// return. Call after the application loop stops enqueueing.
func (s *Socket) CloseSender() { close(s.outbound) }
