package monitor

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ringcast/ringd/pkg/ring"
	"github.com/ringcast/ringd/pkg/ring/station"
	"github.com/ringcast/ringd/pkg/ring/transport"
)

func loopbackSocket(t *testing.T) *transport.Socket {
	t.Helper()
	sock, err := transport.Listen(netip.MustParseAddrPort("127.0.0.1:0"), zerolog.Nop())
	if err != nil {
		t.Fatalf("transport.Listen: %v", err)
	}
	go sock.RunReceiver()
	go sock.RunSender()
	t.Cleanup(func() {
		sock.CloseSender()
		sock.Close()
	})
	return sock
}

func newTestMonitor(t *testing.T, cfg Config) (*Monitor, *transport.Socket) {
	t.Helper()
	kp, err := ring.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	sock := loopbackSocket(t)
	m := New(cfg, kp, sock, zerolog.Nop(), nil, nil)
	return m, sock
}

func newTestStation(t *testing.T, id ring.WorkStationID) (*station.Station, *transport.Socket) {
	t.Helper()
	kp, err := ring.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	sock := loopbackSocket(t)
	return station.New(id, kp, sock, zerolog.Nop(), nil), sock
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestJoinAcceptedThenRejoinDenied(t *testing.T) {
	m, msock := newTestMonitor(t, Config{
		ID: "monitor", Password: "hunter2", AcceptConnections: true,
		MaxConnections: 2, MaxPassoverTime: time.Second,
	})
	addr := msock.LocalAddr()

	if err := m.RecvJoinRequest(addr, "alice", "hunter2"); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if got := m.MemberCount(); got != 1 {
		t.Fatalf("member count = %d, want 1", got)
	}

	if err := m.RecvJoinRequest(addr, "alice", "hunter2"); err == nil {
		t.Error("rejoin from the same id/address should be denied as already joined")
	}
	if got := m.MemberCount(); got != 1 {
		t.Errorf("member count changed on denied rejoin: got %d", got)
	}
}

func TestJoinWrongPasswordDenied(t *testing.T) {
	m, msock := newTestMonitor(t, Config{
		ID: "monitor", Password: "hunter2", AcceptConnections: true,
		MaxConnections: 2, MaxPassoverTime: time.Second,
	})
	bob, _ := newTestStation(t, "bob")

	if err := bob.Connect(msock.LocalAddr(), "wrong"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		m.RecvAll()
		time.Sleep(time.Millisecond)
	}
	if m.MemberCount() != 0 {
		t.Errorf("membership should stay empty on wrong password, got %d", m.MemberCount())
	}
	if err := bob.RecvNext(); !errors.Is(err, ring.ErrFailedJoinAttempt) {
		t.Fatalf("bob RecvNext: got %v, want ErrFailedJoinAttempt", err)
	}
	if bob.State() != station.Pending {
		t.Errorf("bob should remain Pending after a denied join, got %v", bob.State())
	}
}

func TestTokenTimeoutSkipsSilentHolder(t *testing.T) {
	m, msock := newTestMonitor(t, Config{
		ID: "monitor", Password: "", AcceptConnections: true,
		MaxConnections: 2, MaxPassoverTime: 50 * time.Millisecond,
	})
	alice, _ := newTestStation(t, "alice")
	bob, _ := newTestStation(t, "bob")

	if err := alice.Connect(msock.LocalAddr(), ""); err != nil {
		t.Fatalf("alice connect: %v", err)
	}
	waitFor(t, time.Second, func() bool { m.RecvAll(); return m.MemberCount() == 1 })
	if err := bob.Connect(msock.LocalAddr(), ""); err != nil {
		t.Fatalf("bob connect: %v", err)
	}
	waitFor(t, time.Second, func() bool { m.RecvAll(); return m.MemberCount() == 2 })

	// First pass goes to alice (insertion order). She never replies.
	if err := m.PollTokenPass(); err != nil {
		t.Fatalf("PollTokenPass: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	// The pass to alice has now timed out; the monitor must move on to
	// bob instead of re-sending to alice forever.
	if err := m.PollTokenPass(); err != nil {
		t.Fatalf("PollTokenPass after timeout: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		bob.RecvNext()
		_, ok := bob.HeldToken()
		return ok
	})

	if _, ok := alice.HeldToken(); ok {
		t.Error("alice should never receive the token in this scenario")
	}
}

func TestRotationEndToEnd(t *testing.T) {
	m, msock := newTestMonitor(t, Config{
		ID: "monitor", Password: "", AcceptConnections: true,
		MaxConnections: 2, MaxPassoverTime: 5 * time.Second,
	})
	alice, _ := newTestStation(t, "alice")
	bob, _ := newTestStation(t, "bob")

	if err := alice.Connect(msock.LocalAddr(), ""); err != nil {
		t.Fatalf("alice connect: %v", err)
	}
	waitFor(t, time.Second, func() bool { m.RecvAll(); return m.MemberCount() == 1 })
	if err := bob.Connect(msock.LocalAddr(), ""); err != nil {
		t.Fatalf("bob connect: %v", err)
	}
	waitFor(t, time.Second, func() bool { m.RecvAll(); return m.MemberCount() == 2 })

	waitFor(t, time.Second, func() bool { alice.RecvNext(); return alice.State() == station.Connected })
	waitFor(t, time.Second, func() bool { bob.RecvNext(); return bob.State() == station.Connected })

	if err := m.PollTokenPass(); err != nil {
		t.Fatalf("PollTokenPass: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		alice.RecvNext()
		_, ok := alice.HeldToken()
		return ok
	})

	if err := alice.PassOnToken(); err != nil {
		t.Fatalf("alice PassOnToken: %v", err)
	}

	waitFor(t, time.Second, func() bool { m.RecvAll(); return m.PollTokenPass() == nil })

	waitFor(t, time.Second, func() bool {
		bob.RecvNext()
		_, ok := bob.HeldToken()
		return ok
	})
}
