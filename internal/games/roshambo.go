package games

import (
	"fmt"

	"github.com/park285/fray/internal/arena"
	"github.com/park285/fray/internal/wire"
)

// Roshambo is rock-paper-scissors between two teams. The move is the command name itself:
// ["rock"], ["paper"] or ["scissors"]. Equal moves repeat the round.
type Roshambo struct{}

var beats = map[string]string{
	"rock":     "scissors",
	"scissors": "paper",
	"paper":    "rock",
}

func (Roshambo) Name() string      { return "roshambo" }
func (Roshambo) Seats() (int, int) { return 2, 2 }

func (Roshambo) ParseMove(cmd wire.Command) (string, error) {
	if _, ok := beats[cmd.Name]; !ok || len(cmd.Args) != 0 {
		return "", fmt.Errorf("%w: %s", ErrInvalidMove, cmd.Name)
	}
	return cmd.Name, nil
}

func (Roshambo) ResolveRound(round int, moves []arena.Move) arena.Resolution {
	if len(moves) != 2 {
		// a forfeit normally ends the match before this; be safe anyway
		if len(moves) == 1 {
			return arena.Resolution{Over: true, Winner: moves[0].Team}
		}
		return arena.Resolution{Over: true}
	}
	a, b := moves[0], moves[1]
	switch {
	case a.Value == b.Value:
		return arena.Resolution{Detail: fmt.Sprintf("Round %d: both played %s. Again.", round, a.Value)}
	case beats[a.Value] == b.Value:
		return arena.Resolution{Over: true, Winner: a.Team}
	default:
		return arena.Resolution{Over: true, Winner: b.Team}
	}
}
