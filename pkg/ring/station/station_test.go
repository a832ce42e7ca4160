package station

import (
	"net/netip"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ringcast/ringd/pkg/ring"
	"github.com/ringcast/ringd/pkg/ring/transport"
	"github.com/ringcast/ringd/pkg/ring/wire"
)

func newTestSocket(t *testing.T) *transport.Socket {
	t.Helper()
	sock, err := transport.Listen(netip.MustParseAddrPort("127.0.0.1:0"), zerolog.Nop())
	if err != nil {
		t.Fatalf("transport.Listen: %v", err)
	}
	t.Cleanup(func() { sock.Close() })
	return sock
}

func newTestStation(t *testing.T) *Station {
	t.Helper()
	kp, err := ring.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	return New("alice", kp, newTestSocket(t), zerolog.Nop(), nil)
}

func TestPassOnTokenWithoutHeldReturnsPending(t *testing.T) {
	s := newTestStation(t)
	if err := s.PassOnToken(); err != ring.ErrTokenPending {
		t.Errorf("got %v, want ErrTokenPending", err)
	}
}

func TestAppendFrameStagesUntilTokenArrival(t *testing.T) {
	s := newTestStation(t)
	s.AppendFrame(wire.FrameData, func(f *wire.TokenFrame) {
		f.Mode = wire.SendBroadcast
		f.Payload = []byte("hi")
	})
	if len(s.staged) != 1 {
		t.Fatalf("got %d staged frames, want 1", len(s.staged))
	}

	kp, _ := ring.GenerateKeypair()
	tok := wire.NewToken(kp, "monitor", 1)
	s.recvTokenPass(tok)

	held, ok := s.HeldToken()
	if !ok {
		t.Fatal("expected a held token")
	}
	if len(held.Frames) != 1 {
		t.Fatalf("got %d frames on held token, want 1", len(held.Frames))
	}
	if len(s.staged) != 0 {
		t.Error("staging buffer should be drained once merged")
	}
}

func TestRecvTokenOverwritesHeldToken(t *testing.T) {
	s := newTestStation(t)
	kp, _ := ring.GenerateKeypair()
	first := wire.NewToken(kp, "monitor", 1)
	second := wire.NewToken(kp, "monitor", 2)

	s.recvTokenPass(first)
	s.recvTokenPass(second)

	held, ok := s.HeldToken()
	if !ok || held.Header.Value.Timestamp != 2 {
		t.Errorf("expected the newer token to win, got %+v, ok=%v", held, ok)
	}
}
