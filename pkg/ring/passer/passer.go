// Package passer implements the monitor's token-pass fairness engine: the
// bookkeeping that decides who holds the token next, detects a silent
// holder via timeout, and tracks whether the current rotation has
// completed.
package passer

import (
	"fmt"
	"time"

	"github.com/ringcast/ringd/pkg/ring"
	"github.com/ringcast/ringd/pkg/ring/orderedmap"
	"github.com/ringcast/ringd/pkg/ring/wire"
)

// Mode tracks the passer's view of the current token's lifecycle.
type Mode int

const (
	Idle Mode = iota
	Passed
	Received
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Passed:
		return "passed"
	case Received:
		return "received"
	default:
		return "unknown"
	}
}

type inFlight struct {
	expected ring.WorkStationID
	sentAt   time.Time
}

// Passer holds the monitor's per-rotation state. It is not safe for
// concurrent use; the monitor's application loop owns it exclusively.
type Passer struct {
	maxPassoverTime time.Duration
	status          *orderedmap.Map[ring.WorkStationID, bool]
	mode            Mode
	flight          *inFlight
	current         *wire.Token
	now             func() time.Time
}

// New constructs a Passer with the given per-pass timeout.
func New(maxPassoverTime time.Duration) *Passer {
	return &Passer{
		maxPassoverTime: maxPassoverTime,
		status:          orderedmap.New[ring.WorkStationID, bool](),
		now:             time.Now,
	}
}

// AddStation registers a new member with held_this_round = false. It is a
// no-op if the station is already tracked.
func (p *Passer) AddStation(id ring.WorkStationID) {
	if !p.status.Has(id) {
		p.status.Set(id, false)
	}
}

// RemoveStation drops a member from the rotation.
func (p *Passer) RemoveStation(id ring.WorkStationID) {
	p.status.Delete(id)
	if p.flight != nil && p.flight.expected == id {
		p.flight = nil
	}
}

// Mode reports the passer's current lifecycle mode.
func (p *Passer) Mode() Mode { return p.mode }

// TimedOutHolder reports the station a token was passed to if that pass
// is still outstanding and has exceeded max_passover_time, i.e. the
// holder the monitor is about to silently skip.
func (p *Passer) TimedOutHolder() (ring.WorkStationID, bool) {
	if p.mode == Received || p.flight == nil {
		return "", false
	}
	if p.now().Sub(p.flight.sentAt) <= p.maxPassoverTime {
		return "", false
	}
	return p.flight.expected, true
}

// CurrentToken returns the most recently received token, if any. Tokens
// minted by the monitor are not recorded here until they come back.
func (p *Passer) CurrentToken() (wire.Token, bool) {
	if p.current == nil {
		return wire.Token{}, false
	}
	return *p.current, true
}

// RecvToken validates and records a TokenPass from sender. It enforces:
// the sender is tracked, something is actually in flight, the elapsed
// time since the pass is within budget, and the sender matches who the
// token was sent to.
func (p *Passer) RecvToken(newToken wire.Token, sender ring.WorkStationID) error {
	if !p.status.Has(sender) {
		return fmt.Errorf("%w: unregistered sender %s", ring.ErrInvalidToken, sender)
	}
	if p.flight == nil {
		return fmt.Errorf("%w: no pass in flight", ring.ErrInvalidToken)
	}
	if p.now().Sub(p.flight.sentAt) > p.maxPassoverTime {
		return fmt.Errorf("%w: pass to %s timed out", ring.ErrInvalidToken, sender)
	}
	if p.flight.expected != sender {
		return fmt.Errorf("%w: expected %s, got %s", ring.ErrInvalidToken, p.flight.expected, sender)
	}
	if !newToken.Header.Verify() {
		return fmt.Errorf("%w: bad token signature from %s", ring.ErrInvalidToken, sender)
	}

	p.status.Set(sender, true)
	p.mode = Received
	p.flight = nil
	t := newToken
	p.current = &t
	return nil
}

// PassReady reports whether the monitor may perform another pass: either
// a token was just received, nothing is outstanding yet, or the
// in-flight pass has timed out.
func (p *Passer) PassReady() bool {
	if p.mode == Received {
		return true
	}
	if p.flight == nil {
		return true
	}
	return p.now().Sub(p.flight.sentAt) > p.maxPassoverTime
}

// SelectNextStation picks the next station to receive the token,
// following insertion order and the round-completion tie-break: if any
// member has not yet held the token this round, the first such member
// (in insertion order) is chosen; otherwise the round is complete, every
// member's flag resets, and the last-inserted member is chosen to start
// the new round.
//
// If the previous pass is still outstanding and has exceeded
// max_passover_time, its holder is skipped over: the silent station is
// left with held_this_round = false (it is still owed a turn) but the
// token moves on to the next eligible station instead of being re-sent
// to the same unresponsive holder forever.
func (p *Passer) SelectNextStation() (ring.WorkStationID, bool) {
	if p.status.Len() == 0 {
		return "", false
	}

	skip, hasSkip := p.TimedOutHolder()

	var pending ring.WorkStationID
	found := false
	p.status.Range(func(id ring.WorkStationID, held bool) bool {
		if held || (hasSkip && id == skip) {
			return true
		}
		pending = id
		found = true
		return false
	})
	if found {
		return pending, true
	}

	// Round complete: reset and restart with the last-inserted member.
	for _, id := range p.status.Keys() {
		p.status.Set(id, false)
	}
	last, ok := p.status.Last()
	if !ok {
		return "", false
	}
	return last, true
}

// PassToken records that the token has been handed to id and is awaiting
// return.
func (p *Passer) PassToken(id ring.WorkStationID) {
	p.flight = &inFlight{expected: id, sentAt: p.now()}
	p.mode = Passed
}

// RoundComplete reports whether every tracked station has held the token
// this round (used by callers to emit a round-completed audit event).
func (p *Passer) RoundComplete() bool {
	complete := p.status.Len() > 0
	p.status.Range(func(_ ring.WorkStationID, held bool) bool {
		if !held {
			complete = false
			return false
		}
		return true
	})
	return complete
}
