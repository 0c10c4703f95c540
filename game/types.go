// Package game runs the round state machine of one player.
package game

import (
	"errors"
	"time"
)

var (
	ErrBusy         = errors.New("a guess is already in progress")
	ErrInvalidPhase = errors.New("invalid phase for action")
	ErrGameOver     = errors.New("game over")
	ErrClosed       = errors.New("controller closed")
)

type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseArmed            Phase = "armed"
	PhaseAwaitingResponse Phase = "awaiting_response"
	PhaseResolved         Phase = "resolved"
)

// Resolution reasons
const (
	ReasonGuessed = "guessed"
	ReasonTimeout = "timeout"
	ReasonError   = "error"
)

// Outcome is the result of a resolved round
type Outcome struct {
	Round     int
	AIGuessed bool
	Reason    string
	Word      string
	LastRound bool
	Err       error
}

// Ticker is the part of time.Ticker the countdown uses
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func newRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}
