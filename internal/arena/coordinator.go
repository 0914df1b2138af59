package arena

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/park285/fray/internal/msgcat"
	"github.com/park285/fray/internal/obslog"
	"go.uber.org/zap"
)

// place records which Coordinator pool currently holds a Session.
type place int

const (
	placeNone place = iota
	placeWaiting
	placeReentry
	placeMatch
)

func (p place) String() string {
	switch p {
	case placeWaiting:
		return "waiting"
	case placeReentry:
		return "reentry"
	case placeMatch:
		return "match"
	default:
		return "none"
	}
}

// Coordinator owns the waiting pool, the re-entry queue and the live matches, and decides
// who the champion is.
//
// When players log in they enter the waiting pool. Once enough are waiting and nothing is
// running, the whole pool becomes the re-entry queue and is split into matches. Winners go
// back to the re-entry queue, losers to the waiting pool. The last team standing is the
// champion and a new cycle starts with everyone who is waiting.
type Coordinator struct {
	opts   Options
	rules  Rules
	creds  Credentials
	scorer ScoringAuthority
	msgs   *msgcat.Catalog
	now    func() time.Time

	waiting []*Session
	reentry []*Session
	live    []Match
	teams   map[string]*Session

	champion    string
	hasChampion bool
	fatal       error

	reconciling bool
	again       bool
}

// NewCoordinator builds a Coordinator for one server lifetime.
func NewCoordinator(rules Rules, creds Credentials, scorer ScoringAuthority, opts Options) (*Coordinator, error) {
	o, err := opts.withDefaults(rules)
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		opts:   o,
		rules:  rules,
		creds:  creds,
		scorer: scorer,
		msgs:   o.Messages,
		now:    o.Now,
		teams:  make(map[string]*Session),
	}, nil
}

// Err reports the first ScoringAuthority failure. Once set the process must stop.
func (c *Coordinator) Err() error { return c.fatal }

// Champion returns the last reported champion ("" when none).
func (c *Coordinator) Champion() (string, bool) { return c.champion, c.hasChampion }

// Options returns the effective options after defaults.
func (c *Coordinator) Options() Options { return c.opts }

// NewSession registers a freshly accepted connection.
func (c *Coordinator) NewSession(conn Conn) *Session {
	return &Session{
		id:           uuid.NewString(),
		conn:         conn,
		coord:        c,
		accepting:    true,
		lastActivity: c.now(),
	}
}

// EnterWaitingPool adds authenticated sessions to the waiting pool and reconciles once.
func (c *Coordinator) EnterWaitingPool(sessions ...*Session) {
	for _, s := range sessions {
		c.addWaiting(s)
	}
	c.reconcile()
}

// PromoteToReentry moves a session, typically a round winner, to the back of the re-entry queue.
func (c *Coordinator) PromoteToReentry(s *Session) {
	c.addReentry(s)
	c.reconcile()
}

// OnDisconnect purges a session from every pool. An attached match hears about it first
// and reports its own outcome if the forfeit ends it.
func (c *Coordinator) OnDisconnect(s *Session) {
	if s == nil {
		return
	}
	if s.team != "" && c.teams[s.team] == s {
		delete(c.teams, s.team)
		obslog.L().Info("session_leave", zap.String("session_id", s.id), zap.String("team", s.team))
	}
	if m := s.match; m != nil {
		m.Forfeit(s)
		s.detach()
		return
	}
	wasPooled := s.place != placeNone
	c.unplace(s)
	if wasPooled {
		c.reconcile()
	}
}

// ReportOutcome is called by a match exactly once, after it has told every participant how
// they did and released the losers back to the waiting pool.
func (c *Coordinator) ReportOutcome(m Match, winner *Session) {
	if !c.removeLive(m) {
		return
	}
	team := ""
	if winner != nil {
		team = winner.team
	}
	obslog.L().Info("match_end",
		zap.String("match_id", m.ID()),
		zap.String("winner", team),
		zap.Int("live_matches", len(c.live)),
	)
	if winner != nil && !winner.closed {
		c.PromoteToReentry(winner)
		return
	}
	c.reconcile()
}

// Heartbeat forwards the pulse to every live match.
func (c *Coordinator) Heartbeat(now time.Time) {
	for _, m := range append([]Match(nil), c.live...) {
		m.Heartbeat(now)
	}
}

// release hands a loser back to the waiting pool without reconciling; the caller reports
// the outcome right after.
func (c *Coordinator) release(s *Session) {
	c.addWaiting(s)
}

func (c *Coordinator) addWaiting(s *Session) {
	if s == nil || s.closed || s.team == "" {
		return
	}
	if s.place == placeWaiting {
		return
	}
	c.unplace(s)
	c.waiting = append(c.waiting, s)
	s.place = placeWaiting
}

func (c *Coordinator) addReentry(s *Session) {
	if s == nil || s.closed || s.team == "" {
		return
	}
	c.unplace(s)
	c.reentry = append(c.reentry, s)
	s.place = placeReentry
}

func (c *Coordinator) unplace(s *Session) {
	switch s.place {
	case placeWaiting:
		c.waiting = without(c.waiting, s)
	case placeReentry:
		c.reentry = without(c.reentry, s)
	}
	s.place = placeNone
}

func (c *Coordinator) removeLive(m Match) bool {
	for i, lm := range c.live {
		if lm == m {
			c.live = append(c.live[:i:i], c.live[i+1:]...)
			return true
		}
	}
	return false
}

// reconcile re-runs until no nested pool mutation asked for another pass. Matches started
// here can finish synchronously (pending moves), which re-enters ReportOutcome.
func (c *Coordinator) reconcile() {
	if c.reconciling {
		c.again = true
		return
	}
	c.reconciling = true
	defer func() { c.reconciling = false }()
	for {
		c.again = false
		c.reconcileOnce()
		if !c.again {
			return
		}
	}
}

func (c *Coordinator) reconcileOnce() {
	c.purge()

	lobby, queued, running := len(c.waiting), len(c.reentry), len(c.live)
	lo := c.opts.MinPerMatch
	alone := queued == 0 && running == 0

	switch {
	case lobby == 1 && alone:
		// Nobody to play against: the only team connected holds the title by default.
		c.crown(c.waiting[0])
	case lobby >= 2 && lobby < lo && alone:
		c.crown(nil)
	case queued == 1 && running == 0:
		// Last team standing. It keeps the title and a new cycle starts with everyone waiting.
		c.crown(c.reentry[0])
		c.startCycle()
	case lobby >= lo && alone:
		c.startCycle()
	case queued > 1 && queued < lo && running == 0:
		// Survivors too few to fill a match: top up from the lobby.
		c.startCycle()
		if len(c.reentry) < lo {
			c.crown(nil)
		}
	}

	c.drain()
}

func (c *Coordinator) startCycle() {
	if len(c.waiting) == 0 {
		return
	}
	names := make([]string, 0, len(c.waiting))
	for _, s := range c.waiting {
		names = append(names, s.team)
		c.reentry = append(c.reentry, s)
		s.place = placeReentry
	}
	c.waiting = nil
	obslog.L().Info("cycle_start", zap.Strings("teams", names), zap.Int("queued", len(c.reentry)))
}

// drain turns the front of the re-entry queue into matches.
func (c *Coordinator) drain() {
	lo, hi := c.opts.MinPerMatch, c.opts.MaxPerMatch
	for len(c.reentry) >= lo {
		n := hi
		if n > len(c.reentry) {
			n = len(c.reentry)
		}
		roster := append([]*Session(nil), c.reentry[:n]...)
		c.reentry = append([]*Session(nil), c.reentry[n:]...)

		m := newTurnMatch(c, roster)
		c.live = append(c.live, m)
		// bind the whole roster before any stashed command runs
		for _, s := range roster {
			s.bind(m)
		}
		obslog.L().Info("match_start",
			zap.String("match_id", m.ID()),
			zap.String("game", c.rules.Name()),
			zap.Strings("teams", teamNames(roster)),
		)
		for _, s := range roster {
			s.deliverPending()
		}
	}
}

func (c *Coordinator) purge() {
	c.waiting = c.alive(c.waiting)
	c.reentry = c.alive(c.reentry)
}

func (c *Coordinator) alive(list []*Session) []*Session {
	out := list[:0]
	for _, s := range list {
		if s.closed {
			s.place = placeNone
			continue
		}
		out = append(out, s)
	}
	return out
}

func (c *Coordinator) crown(s *Session) {
	team := ""
	if s != nil {
		team = s.team
	}
	c.champion = team
	c.hasChampion = team != ""
	obslog.L().Info("champion_set", zap.String("team", team))
	if c.scorer == nil {
		return
	}
	if err := c.scorer.SetChampion(team); err != nil && c.fatal == nil {
		c.fatal = err
		obslog.L().Error("champion_report_failed", zap.String("team", team), zap.Error(err))
	}
}

// Snapshot is a read-only view of the pools for introspection.
type Snapshot struct {
	Lobby    []string    `json:"lobby"`
	Queue    []string    `json:"queue"`
	Matches  []MatchView `json:"matches"`
	Champion string      `json:"champion"`
}

// Snapshot copies the current pool membership.
func (c *Coordinator) Snapshot() Snapshot {
	snap := Snapshot{
		Lobby:    teamNames(c.waiting),
		Queue:    teamNames(c.reentry),
		Matches:  make([]MatchView, 0, len(c.live)),
		Champion: c.champion,
	}
	for _, m := range c.live {
		snap.Matches = append(snap.Matches, m.View())
	}
	return snap
}

// Inspect answers a "^" command without touching any match.
func (c *Coordinator) Inspect(args []string) (any, error) {
	if len(args) == 0 {
		return nil, ErrUnknownInspect
	}
	snap := c.Snapshot()
	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "lobby":
		return snap.Lobby, nil
	case "queue":
		return snap.Queue, nil
	case "matches", "games":
		rosters := make([][]string, 0, len(snap.Matches))
		for _, m := range snap.Matches {
			rosters = append(rosters, m.Teams)
		}
		return rosters, nil
	case "champion", "flag":
		if !c.hasChampion {
			return nil, nil
		}
		return c.champion, nil
	default:
		return nil, ErrUnknownInspect
	}
}

func teamNames(list []*Session) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, s.team)
	}
	return out
}

func without(list []*Session, s *Session) []*Session {
	for i, v := range list {
		if v == s {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
