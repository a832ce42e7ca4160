package passer

import (
	"testing"
	"time"

	"github.com/ringcast/ringd/pkg/ring"
)

func newTestPasser(maxPassover time.Duration) (*Passer, *time.Time) {
	p := New(maxPassover)
	now := time.Now()
	p.now = func() time.Time { return now }
	return p, &now
}

func TestSelectNextStationFairness(t *testing.T) {
	p, now := newTestPasser(time.Second)
	p.AddStation("a")
	p.AddStation("b")
	p.AddStation("c")

	var got []ring.WorkStationID
	for i := 0; i < 5; i++ {
		next, ok := p.SelectNextStation()
		if !ok {
			t.Fatalf("round %d: SelectNextStation returned false", i)
		}
		got = append(got, next)
		p.PassToken(next)
		tok := signedTokenFrom(t, next)
		*now = now.Add(time.Millisecond)
		if err := p.RecvToken(tok, next); err != nil {
			t.Fatalf("round %d: RecvToken: %v", i, err)
		}
	}

	want := []ring.WorkStationID{"a", "b", "c", "c", "a"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRecvTokenRejectsUnregistered(t *testing.T) {
	p, _ := newTestPasser(time.Second)
	p.AddStation("a")
	p.PassToken("a")
	tok := signedTokenFrom(t, "ghost")
	if err := p.RecvToken(tok, "ghost"); err == nil {
		t.Error("expected error for unregistered sender")
	}
}

func TestRecvTokenRejectsWrongSender(t *testing.T) {
	p, _ := newTestPasser(time.Second)
	p.AddStation("a")
	p.AddStation("b")
	p.PassToken("a")
	tok := signedTokenFrom(t, "b")
	if err := p.RecvToken(tok, "b"); err == nil {
		t.Error("expected error: b replied but a was expected")
	}
}

func TestTimeoutAllowsSkip(t *testing.T) {
	p, now := newTestPasser(100 * time.Millisecond)
	p.AddStation("a")
	p.AddStation("b")

	next, _ := p.SelectNextStation()
	if next != "a" {
		t.Fatalf("expected a first, got %s", next)
	}
	p.PassToken("a")

	if p.PassReady() {
		t.Fatal("should not be ready immediately after pass")
	}

	*now = now.Add(200 * time.Millisecond)
	if !p.PassReady() {
		t.Fatal("should be ready after timeout elapses")
	}
	if holder, ok := p.TimedOutHolder(); !ok || holder != "a" {
		t.Errorf("TimedOutHolder() = %q, %v, want \"a\", true", holder, ok)
	}

	next2, _ := p.SelectNextStation()
	if next2 != "b" {
		t.Errorf("timed-out holder should be skipped in favor of the next station: got %s", next2)
	}
}

func TestEmptyRing(t *testing.T) {
	p, _ := newTestPasser(time.Second)
	if _, ok := p.SelectNextStation(); ok {
		t.Error("expected no station from an empty ring")
	}
}

func TestRemoveStationClearsInFlight(t *testing.T) {
	p, _ := newTestPasser(time.Second)
	p.AddStation("a")
	p.PassToken("a")
	p.RemoveStation("a")
	if !p.PassReady() {
		t.Error("removing the in-flight holder should make the passer ready again")
	}
}
