package games

import (
	"errors"
	"testing"

	"github.com/park285/fray/internal/arena"
	"github.com/park285/fray/internal/wire"
)

func TestLookup(t *testing.T) {
	r, err := Lookup(" RoShambo ")
	if err != nil || r.Name() != "roshambo" {
		t.Fatalf("Lookup = %v, %v", r, err)
	}
	if _, err := Lookup("chess"); err == nil {
		t.Fatalf("unknown game accepted")
	}
	if got := Names(); len(got) != 2 || got[0] != "lowball" || got[1] != "roshambo" {
		t.Fatalf("Names = %v", got)
	}
}

func TestRoshambo(t *testing.T) {
	var g Roshambo
	if _, err := g.ParseMove(wire.Command{Name: "lizard"}); !errors.Is(err, ErrInvalidMove) {
		t.Fatalf("lizard err = %v", err)
	}
	if _, err := g.ParseMove(wire.Command{Name: "rock", Args: []string{"extra"}}); err == nil {
		t.Fatalf("rock with args accepted")
	}

	cases := []struct {
		a, b   string
		over   bool
		winner string
	}{
		{"rock", "scissors", true, "A"},
		{"scissors", "rock", true, "B"},
		{"paper", "rock", true, "A"},
		{"paper", "scissors", true, "B"},
		{"rock", "rock", false, ""},
	}
	for _, tc := range cases {
		a, err := g.ParseMove(wire.Command{Name: tc.a})
		if err != nil {
			t.Fatalf("ParseMove(%s): %v", tc.a, err)
		}
		res := g.ResolveRound(1, []arena.Move{{Team: "A", Value: a}, {Team: "B", Value: tc.b}})
		if res.Over != tc.over || res.Winner != tc.winner {
			t.Fatalf("%s vs %s = %+v", tc.a, tc.b, res)
		}
		if !res.Over && res.Detail == "" {
			t.Fatalf("tie needs a detail message")
		}
	}
}

func TestLowball(t *testing.T) {
	var g Lowball
	for _, bad := range [][]string{nil, {"0"}, {"101"}, {"ten"}, {"1", "2"}} {
		if _, err := g.ParseMove(wire.Command{Name: "bid", Args: bad}); !errors.Is(err, ErrInvalidMove) {
			t.Fatalf("bid %v err = %v", bad, err)
		}
	}
	v, err := g.ParseMove(wire.Command{Name: "bid", Args: []string{" 07 "}})
	if err != nil || v != "7" {
		t.Fatalf("ParseMove = %q, %v", v, err)
	}

	res := g.ResolveRound(1, []arena.Move{
		{Team: "A", Value: "3"}, {Team: "B", Value: "3"}, {Team: "C", Value: "9"}, {Team: "D", Value: "5"},
	})
	if !res.Over || res.Winner != "D" {
		t.Fatalf("lowest unique = %+v", res)
	}

	res = g.ResolveRound(2, []arena.Move{{Team: "A", Value: "4"}, {Team: "B", Value: "4"}})
	if res.Over {
		t.Fatalf("no unique bid should repeat: %+v", res)
	}
	res = g.ResolveRound(lowballMaxRounds, []arena.Move{{Team: "A", Value: "4"}, {Team: "B", Value: "4"}})
	if !res.Over || res.Winner != "" {
		t.Fatalf("round limit = %+v", res)
	}
}

func TestGamesDriveCoordinator(t *testing.T) {
	scorer := &recordingScorer{}
	coord, err := arena.NewCoordinator(Roshambo{}, allowAll{}, scorer, arena.Options{})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	a, b := coord.NewSession(&nopConn{}), coord.NewSession(&nopConn{})
	feed(a, `["login","zebra","pw"]`)
	feed(b, `["login","ox","pw"]`)
	feed(a, `["rock"]`)
	feed(b, `["scissors"]`)
	if got := scorer.calls[len(scorer.calls)-1]; got != "zebra" {
		t.Fatalf("calls = %v", scorer.calls)
	}
}

type allowAll struct{}

func (allowAll) Check(string, string) bool { return true }

type recordingScorer struct{ calls []string }

func (r *recordingScorer) SetChampion(team string) error {
	r.calls = append(r.calls, team)
	return nil
}

type nopConn struct{}

func (*nopConn) Send(wire.Reply) error { return nil }
func (*nopConn) Close() error          { return nil }

func feed(s *arena.Session, line string) {
	s.Offer([]byte(line))
	for s.Pump() {
	}
}
