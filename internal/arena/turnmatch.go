package arena

import (
	"time"

	"github.com/google/uuid"
	"github.com/park285/fray/internal/obslog"
	"github.com/park285/fray/internal/wire"
	"go.uber.org/zap"
)

// TurnMatch runs rounds behind a barrier: every remaining participant submits exactly one
// move, then the rules resolve the round. A mover's gate stays closed until the round
// resolves, so from the client's side each move is a blocking request.
type TurnMatch struct {
	id    string
	coord *Coordinator
	rules Rules

	players  []*Session
	moves    map[*Session]string
	lastMove map[*Session]time.Time
	started  time.Time
	round    int
	ended    bool
}

func newTurnMatch(c *Coordinator, roster []*Session) *TurnMatch {
	now := c.now()
	m := &TurnMatch{
		id:       uuid.NewString(),
		coord:    c,
		rules:    c.rules,
		players:  append([]*Session(nil), roster...),
		moves:    make(map[*Session]string, len(roster)),
		lastMove: make(map[*Session]time.Time, len(roster)),
		started:  now,
	}
	for _, s := range roster {
		m.lastMove[s] = now
	}
	return m
}

func (m *TurnMatch) ID() string  { return m.id }
func (m *TurnMatch) Ended() bool { return m.ended }

// Round is the number of rounds resolved so far.
func (m *TurnMatch) Round() int { return m.round }

func (m *TurnMatch) Roster() []*Session { return append([]*Session(nil), m.players...) }

func (m *TurnMatch) View() MatchView {
	v := MatchView{
		ID:      m.id,
		Game:    m.rules.Name(),
		Teams:   teamNames(m.players),
		Round:   m.round,
		Moved:   make([]string, 0, len(m.moves)),
		Started: m.started,
	}
	for _, p := range m.players {
		if _, ok := m.moves[p]; ok {
			v.Moved = append(v.Moved, p.team)
		}
	}
	return v
}

func (m *TurnMatch) seat(s *Session) int {
	for i, p := range m.players {
		if p == s {
			return i
		}
	}
	return -1
}

// Handle validates a command and submits it as this round's move. A rejected move leaves
// the gate open so the client can try again.
func (m *TurnMatch) Handle(s *Session, cmd wire.Command) error {
	if m.ended {
		return ErrMatchOver
	}
	if m.seat(s) < 0 {
		return ErrNotInMatch
	}
	if _, ok := m.moves[s]; ok {
		return ErrAlreadyMoved
	}
	v, err := m.rules.ParseMove(cmd)
	if err != nil {
		return err
	}
	m.SubmitMove(s, v)
	return nil
}

// SubmitMove records a move and closes the mover's gate until the round resolves.
func (m *TurnMatch) SubmitMove(s *Session, move string) {
	if m.ended || m.seat(s) < 0 {
		return
	}
	if _, ok := m.moves[s]; ok {
		return
	}
	m.moves[s] = move
	m.lastMove[s] = m.coord.now()
	s.closeGate()
	m.checkBarrier()
}

func (m *TurnMatch) checkBarrier() {
	if m.ended || len(m.players) == 0 {
		return
	}
	if len(m.moves) < len(m.players) {
		return
	}
	m.resolve()
}

func (m *TurnMatch) resolve() {
	m.round++
	moves := make([]Move, 0, len(m.players))
	for _, p := range m.players {
		moves = append(moves, Move{Team: p.team, Value: m.moves[p]})
	}
	res := m.rules.ResolveRound(m.round, moves)
	obslog.L().Debug("round_resolved",
		zap.String("match_id", m.id),
		zap.Int("round", m.round),
		zap.Bool("over", res.Over),
		zap.String("winner", res.Winner),
	)

	if res.Over {
		m.finish(m.byTeam(res.Winner))
		return
	}

	now := m.coord.now()
	clear(m.moves)
	detail := res.Detail
	if detail == "" {
		detail = m.coord.msgs.Text("match.round_repeat", map[string]any{"Round": m.round})
	}
	for _, p := range append([]*Session(nil), m.players...) {
		m.lastMove[p] = now
		p.Announce(detail)
		p.openGate()
	}
}

func (m *TurnMatch) byTeam(team string) *Session {
	if team == "" {
		return nil
	}
	for _, p := range m.players {
		if p.team == team {
			return p
		}
	}
	return nil
}

// finish ends the match once: tells everyone how they did, hands losers back to the
// waiting pool, then reports to the coordinator.
func (m *TurnMatch) finish(winner *Session) {
	if m.ended {
		return
	}
	m.ended = true
	roster := m.players
	m.players = nil
	clear(m.moves)
	for _, p := range roster {
		if p == winner {
			p.DeclareWin()
			continue
		}
		p.DeclareLoss()
		m.coord.release(p)
	}
	m.coord.ReportOutcome(m, winner)
}

// Forfeit drops a participant. The last one left wins. If the round was only waiting on the
// forfeiting participant, it resolves now.
func (m *TurnMatch) Forfeit(s *Session) {
	i := m.seat(s)
	if i < 0 {
		return
	}
	m.players = append(m.players[:i:i], m.players[i+1:]...)
	delete(m.moves, s)
	delete(m.lastMove, s)
	s.detach()
	if m.ended {
		return
	}
	obslog.L().Info("match_forfeit", zap.String("match_id", m.id), zap.String("team", s.team), zap.Int("remaining", len(m.players)))
	switch len(m.players) {
	case 0:
		m.finish(nil)
	case 1:
		m.finish(m.players[0])
	default:
		m.checkBarrier()
	}
}

// Heartbeat enforces the match budget and per-move deadlines. Only participants that still
// owe a move this round can time out.
func (m *TurnMatch) Heartbeat(now time.Time) {
	if m.ended {
		return
	}
	if budget := m.coord.opts.MatchTimeout; budget > 0 && now.Sub(m.started) > budget {
		obslog.L().Info("match_time_budget", zap.String("match_id", m.id), zap.Int("round", m.round))
		for _, p := range m.players {
			p.Fail(m.coord.msgs.Text("match.time_budget", nil))
		}
		m.finish(nil)
		return
	}
	for _, p := range append([]*Session(nil), m.players...) {
		if m.ended {
			return
		}
		if m.seat(p) < 0 {
			continue
		}
		if _, moved := m.moves[p]; moved {
			continue
		}
		if now.Sub(m.lastMove[p]) <= m.coord.opts.MoveTimeout {
			continue
		}
		msg := m.coord.msgs.Text("match.move_timeout", nil)
		p.Fail(msg)
		p.Close(msg)
	}
}
