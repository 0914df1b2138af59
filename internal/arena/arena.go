// Package arena holds the matchmaking and turn-synchronization state machine: Sessions,
// Matches and the Coordinator that owns the pools between them.
//
// Nothing in this package is safe for concurrent use. Every method must be called from the
// single goroutine that owns the Coordinator (see internal/reactor).
package arena

import (
	"fmt"
	"time"

	"github.com/park285/fray/internal/msgcat"
	"github.com/park285/fray/internal/wire"
)

// Conn is the outbound half of a client connection. Send must not block; Close flushes
// already queued replies and then drops the connection.
type Conn interface {
	Send(r wire.Reply) error
	Close() error
}

// Credentials verifies a team login. Implementations must answer from local state.
type Credentials interface {
	Check(team, secret string) bool
}

// ScoringAuthority is told who currently holds champion status. An empty team means none.
type ScoringAuthority interface {
	SetChampion(team string) error
}

// Move is one participant's submission for a round.
type Move struct {
	Team  string
	Value string
}

// Resolution is what a match type decides at the end of a round. When Over is false the
// round repeats. When Over is true and Winner is empty the match ends without a winner.
type Resolution struct {
	Over   bool
	Winner string
	Detail string
}

// Rules is the match-type plugin: the only place game-specific logic enters the core.
type Rules interface {
	Name() string
	// Seats returns the roster bounds (minPerMatch, maxPerMatch).
	Seats() (min, max int)
	// ParseMove validates a match command and returns the canonical move value.
	ParseMove(cmd wire.Command) (string, error)
	// ResolveRound is called once per round with every remaining participant's move,
	// in roster order.
	ResolveRound(round int, moves []Move) Resolution
}

// Options tunes a Coordinator. Zero values pick the defaults noted per field.
type Options struct {
	MinPerMatch int // default: Rules.Seats()
	MaxPerMatch int // default: Rules.Seats()

	IdleTimeout  time.Duration // default 10s
	MoveTimeout  time.Duration // default 2s
	MatchTimeout time.Duration // default 6s; negative disables

	MaxPending   int // undelivered inbound lines before a session is dropped; default 10
	MaxBadLogins int // default 3

	Messages *msgcat.Catalog
	Now      func() time.Time
}

func (o Options) withDefaults(rules Rules) (Options, error) {
	lo, hi := rules.Seats()
	if o.MinPerMatch == 0 {
		o.MinPerMatch = lo
	}
	if o.MaxPerMatch == 0 {
		o.MaxPerMatch = hi
	}
	if o.MaxPerMatch < o.MinPerMatch {
		o.MaxPerMatch = o.MinPerMatch
	}
	if o.MinPerMatch < 1 {
		return o, fmt.Errorf("minPerMatch must be >= 1, got %d", o.MinPerMatch)
	}
	if o.MinPerMatch < lo || o.MaxPerMatch > hi {
		return o, fmt.Errorf("%s seats %d..%d, configured %d..%d", rules.Name(), lo, hi, o.MinPerMatch, o.MaxPerMatch)
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 10 * time.Second
	}
	if o.MoveTimeout <= 0 {
		o.MoveTimeout = 2 * time.Second
	}
	if o.MatchTimeout == 0 {
		o.MatchTimeout = 6 * time.Second
	}
	if o.MaxPending <= 0 {
		o.MaxPending = 10
	}
	if o.MaxBadLogins <= 0 {
		o.MaxBadLogins = 3
	}
	if o.Messages == nil {
		o.Messages = msgcat.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o, nil
}
