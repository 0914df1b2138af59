package games

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/park285/fray/internal/arena"
	"github.com/park285/fray/internal/wire"
)

const (
	lowballMinBid    = 1
	lowballMaxBid    = 100
	lowballMaxRounds = 10
)

// Lowball seats two to four teams. Each round everyone sends ["bid", n] with 1 <= n <= 100;
// the lowest bid nobody else made wins. With no unique bid the round repeats, and after ten
// rounds the match ends without a winner.
type Lowball struct{}

func (Lowball) Name() string      { return "lowball" }
func (Lowball) Seats() (int, int) { return 2, 4 }

func (Lowball) ParseMove(cmd wire.Command) (string, error) {
	if cmd.Name != "bid" || len(cmd.Args) != 1 {
		return "", fmt.Errorf("%w: usage: bid <%d-%d>", ErrInvalidMove, lowballMinBid, lowballMaxBid)
	}
	n, err := strconv.Atoi(strings.TrimSpace(cmd.Args[0]))
	if err != nil || n < lowballMinBid || n > lowballMaxBid {
		return "", fmt.Errorf("%w: bid must be %d-%d", ErrInvalidMove, lowballMinBid, lowballMaxBid)
	}
	return strconv.Itoa(n), nil
}

func (Lowball) ResolveRound(round int, moves []arena.Move) arena.Resolution {
	count := make(map[int]int, len(moves))
	bids := make(map[int]string, len(moves))
	for _, m := range moves {
		n, err := strconv.Atoi(m.Value)
		if err != nil {
			continue
		}
		count[n]++
		bids[n] = m.Team
	}
	unique := make([]int, 0, len(count))
	for n, c := range count {
		if c == 1 {
			unique = append(unique, n)
		}
	}
	if len(unique) > 0 {
		sort.Ints(unique)
		return arena.Resolution{Over: true, Winner: bids[unique[0]]}
	}
	if round >= lowballMaxRounds {
		return arena.Resolution{Over: true}
	}
	return arena.Resolution{Detail: fmt.Sprintf("Round %d: no unique bid. Bid again.", round)}
}
