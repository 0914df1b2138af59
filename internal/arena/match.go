package arena

import (
	"time"

	"github.com/park285/fray/internal/wire"
)

// Match is one contest between a fixed roster. The roster may shrink but never grows.
type Match interface {
	ID() string
	// Roster returns the remaining participants in seat order.
	Roster() []*Session
	// Handle routes a match command from an attached participant.
	Handle(s *Session, cmd wire.Command) error
	// Forfeit removes a participant. Forfeiting someone not in the match is a no-op.
	Forfeit(s *Session)
	Heartbeat(now time.Time)
	Ended() bool
	View() MatchView
}

// MatchView is a read-only description of a live match.
type MatchView struct {
	ID      string    `json:"id"`
	Game    string    `json:"game"`
	Teams   []string  `json:"teams"`
	Round   int       `json:"round"`
	Moved   []string  `json:"moved"`
	Started time.Time `json:"started"`
}
