package arena

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/park285/fray/internal/wire"
)

type fakeConn struct {
	replies []wire.Reply
	closed  bool
}

func (c *fakeConn) Send(r wire.Reply) error {
	if c.closed {
		return errors.New("closed")
	}
	c.replies = append(c.replies, r)
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func (c *fakeConn) last() wire.Reply {
	if len(c.replies) == 0 {
		return nil
	}
	return c.replies[len(c.replies)-1]
}

func (c *fakeConn) tags() []string {
	out := make([]string, 0, len(c.replies))
	for _, r := range c.replies {
		out = append(out, r.Tag())
	}
	return out
}

type fakeScorer struct {
	calls []string
	err   error
}

func (f *fakeScorer) SetChampion(team string) error {
	f.calls = append(f.calls, team)
	return f.err
}

func (f *fakeScorer) last() (string, bool) {
	if len(f.calls) == 0 {
		return "", false
	}
	return f.calls[len(f.calls)-1], true
}

type fakeCreds map[string]string

func (f fakeCreds) Check(team, secret string) bool {
	pw, ok := f[team]
	return ok && pw == secret
}

// duelRules: ["move", v]. Any "win" wins for the first team that played it, all "draw" ends
// without a winner, anything else repeats the round.
type duelRules struct {
	lo, hi   int
	resolved int
	rounds   [][]Move
}

func (r *duelRules) Name() string      { return "duel" }
func (r *duelRules) Seats() (int, int) { return r.lo, r.hi }

func (r *duelRules) ParseMove(cmd wire.Command) (string, error) {
	if cmd.Name != "move" || len(cmd.Args) != 1 {
		return "", fmt.Errorf("invalid command: %s", cmd.Name)
	}
	return cmd.Args[0], nil
}

func (r *duelRules) ResolveRound(round int, moves []Move) Resolution {
	r.resolved++
	r.rounds = append(r.rounds, append([]Move(nil), moves...))
	draws := 0
	for _, m := range moves {
		if m.Value == "win" {
			return Resolution{Over: true, Winner: m.Team}
		}
		if m.Value == "draw" {
			draws++
		}
	}
	if draws == len(moves) {
		return Resolution{Over: true}
	}
	return Resolution{}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	t      *testing.T
	coord  *Coordinator
	rules  *duelRules
	scorer *fakeScorer
	clock  *clock
	conns  map[*Session]*fakeConn
}

func newHarness(t *testing.T, lo, hi int) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		rules:  &duelRules{lo: lo, hi: hi},
		scorer: &fakeScorer{},
		clock:  &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		conns:  make(map[*Session]*fakeConn),
	}
	creds := fakeCreds{}
	for _, team := range []string{"alpha", "bravo", "charlie", "delta", "echo"} {
		creds[team] = team + "-pw"
	}
	coord, err := NewCoordinator(h.rules, creds, h.scorer, Options{Now: h.clock.now})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	h.coord = coord
	return h
}

// connect opens a session without logging in.
func (h *harness) connect() (*Session, *fakeConn) {
	conn := &fakeConn{}
	s := h.coord.NewSession(conn)
	h.conns[s] = conn
	return s, conn
}

// login authenticates a session directly through the protocol.
func (h *harness) login(team string) *Session {
	h.t.Helper()
	s, conn := h.connect()
	h.send(s, "login", team, team+"-pw")
	if s.Team() != team {
		h.t.Fatalf("login %s failed: %v", team, conn.replies)
	}
	return s
}

// authed creates an authenticated session that has not entered any pool yet.
func (h *harness) authed(team string) *Session {
	s, _ := h.connect()
	s.team = team
	h.coord.teams[team] = s
	return s
}

func (h *harness) send(s *Session, name string, args ...any) {
	h.t.Helper()
	line, err := wire.EncodeCommand(name, args...)
	if err != nil {
		h.t.Fatalf("EncodeCommand: %v", err)
	}
	s.Offer(line)
	for s.Pump() {
	}
}

func (h *harness) conn(s *Session) *fakeConn { return h.conns[s] }

// checkDisjoint fails if any session sits in more than one place.
func (h *harness) checkDisjoint() {
	h.t.Helper()
	seen := make(map[*Session]string)
	mark := func(s *Session, where string) {
		if prev, ok := seen[s]; ok {
			h.t.Fatalf("session %s in both %s and %s", s.team, prev, where)
		}
		seen[s] = where
	}
	for _, s := range h.coord.waiting {
		mark(s, "waiting")
	}
	for _, s := range h.coord.reentry {
		mark(s, "reentry")
	}
	for _, m := range h.coord.live {
		for _, s := range m.Roster() {
			mark(s, "match "+m.ID())
			if s.match != m {
				h.t.Fatalf("session %s in roster of %s but attached to %v", s.team, m.ID(), s.match)
			}
		}
	}
}

func teamsOf(list []*Session) []string { return teamNames(list) }

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
