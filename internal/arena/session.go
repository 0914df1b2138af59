package arena

import (
	"errors"
	"time"

	"github.com/park285/fray/internal/obslog"
	"github.com/park285/fray/internal/wire"
	"go.uber.org/zap"
)

// Session is one client connection. Team is empty until login succeeds.
//
// The gate (accepting) decides whether the reactor may deliver the next inbound line. A
// closed gate is how a session waits for its turn without parking a goroutine.
type Session struct {
	id    string
	conn  Conn
	coord *Coordinator

	team  string
	place place
	match Match

	accepting    bool
	pending      *wire.Command
	inbox        [][]byte
	lastActivity time.Time
	badLogins    int
	closed       bool
}

func (s *Session) ID() string      { return s.id }
func (s *Session) Team() string    { return s.team }
func (s *Session) Accepting() bool { return s.accepting }
func (s *Session) Closed() bool    { return s.closed }

// Attached returns the match this session currently plays in, or nil.
func (s *Session) Attached() Match { return s.match }

// Queued reports how many inbound lines wait behind the gate.
func (s *Session) Queued() int { return len(s.inbox) }

// Offer queues one inbound line. Too many undelivered lines close the session.
func (s *Session) Offer(line []byte) {
	if s.closed {
		return
	}
	s.inbox = append(s.inbox, line)
	if len(s.inbox) > s.coord.opts.MaxPending {
		obslog.L().Warn("session_overflow",
			zap.String("session_id", s.id),
			zap.String("team", s.team),
			zap.Int("queued", len(s.inbox)),
		)
		msg := s.coord.msgs.Text("session.overflow", nil)
		s.Fail(msg)
		s.Close(msg)
	}
}

// Pump delivers at most one queued line if the gate is open. It reports whether a line was
// consumed, so the caller can keep pumping sessions until nothing moves.
func (s *Session) Pump() bool {
	if s.closed || !s.accepting || len(s.inbox) == 0 {
		return false
	}
	line := s.inbox[0]
	s.inbox[0] = nil
	s.inbox = s.inbox[1:]
	s.Receive(line)
	return true
}

// Receive handles one decoded-or-not inbound line. Protocol errors become ERR replies.
func (s *Session) Receive(line []byte) {
	if s.closed {
		return
	}
	s.lastActivity = s.coord.now()
	cmd, err := wire.Decode(line)
	if err != nil {
		s.Fail(err.Error())
		return
	}
	s.dispatch(cmd)
}

func (s *Session) dispatch(cmd wire.Command) {
	switch {
	case cmd.Name == "^":
		v, err := s.coord.Inspect(cmd.Args)
		if err != nil {
			s.Fail(err.Error())
			return
		}
		s.Announce(v)
	case cmd.Name == "login":
		s.login(cmd)
	case s.team == "":
		s.Fail(ErrLoginFirst.Error())
	default:
		s.route(cmd)
	}
}

// route forwards a match command, or stashes it until a match is attached.
func (s *Session) route(cmd wire.Command) {
	if s.match == nil {
		c := cmd
		s.pending = &c
		s.closeGate()
		return
	}
	if err := s.match.Handle(s, cmd); err != nil {
		s.Fail(err.Error())
	}
}

func (s *Session) login(cmd wire.Command) {
	if s.team != "" {
		s.Fail(ErrAlreadyLoggedIn.Error())
		return
	}
	team, secret := cmd.Arg(0), cmd.Arg(1)
	var err error
	switch {
	case len(cmd.Args) != 2 || team == "":
		err = ErrLoginUsage
	case s.coord.creds == nil || !s.coord.creds.Check(team, secret):
		err = ErrInvalidPassword
	case s.coord.teams[team] != nil:
		err = ErrTeamConnected
	}
	if err != nil {
		s.badLogins++
		obslog.L().Info("login_failed",
			zap.String("session_id", s.id),
			zap.String("team", team),
			zap.Int("attempt", s.badLogins),
			zap.Error(err),
		)
		s.Fail(err.Error())
		if !errors.Is(err, ErrTeamConnected) && s.badLogins >= s.coord.opts.MaxBadLogins {
			msg := s.coord.msgs.Text("session.too_many_logins", nil)
			s.Fail(msg)
			s.Close(msg)
		}
		return
	}

	s.team = team
	s.coord.teams[team] = s
	obslog.L().Info("session_login", zap.String("session_id", s.id), zap.String("team", team))
	s.Announce(s.coord.msgs.Text("session.welcome", map[string]any{"Team": team}))
	s.coord.EnterWaitingPool(s)
}

func (s *Session) bind(m Match) {
	s.match = m
	s.place = placeMatch
}

// deliverPending hands a command stashed before the match existed to the match.
func (s *Session) deliverPending() {
	if s.closed || s.pending == nil {
		return
	}
	cmd := *s.pending
	s.pending = nil
	s.openGate()
	s.route(cmd)
}

func (s *Session) detach() {
	s.match = nil
	if s.place == placeMatch {
		s.place = placeNone
	}
}

func (s *Session) openGate() {
	s.accepting = true
	s.lastActivity = s.coord.now()
}

func (s *Session) closeGate() { s.accepting = false }

// Announce sends ["OK", v].
func (s *Session) Announce(v any) { s.send(wire.OK(v)) }

// Fail sends ["ERR", msg].
func (s *Session) Fail(msg string) { s.send(wire.Err(msg)) }

// DeclareWin detaches from the match, sends ["WIN"] and reopens the gate.
func (s *Session) DeclareWin() {
	s.detach()
	s.send(wire.Win())
	s.openGate()
}

// DeclareLoss detaches from the match, sends ["LOSE"] and reopens the gate.
func (s *Session) DeclareLoss() {
	s.detach()
	s.send(wire.Lose())
	s.openGate()
}

func (s *Session) send(r wire.Reply) {
	if s.closed {
		return
	}
	if err := s.conn.Send(r); err != nil {
		obslog.L().Debug("session_send_failed", zap.String("session_id", s.id), zap.Error(err))
	}
}

// CheckIdle closes a gate-open session that has been silent longer than the idle timeout.
func (s *Session) CheckIdle(now time.Time) bool {
	if s.closed || !s.accepting {
		return false
	}
	if now.Sub(s.lastActivity) <= s.coord.opts.IdleTimeout {
		return false
	}
	msg := s.coord.msgs.Text("session.idle_timeout", nil)
	s.Fail(msg)
	s.Close(msg)
	return true
}

// Close is the only way out: network errors, timeouts and abuse all end here. It is
// idempotent.
func (s *Session) Close(reason string) {
	if s.closed {
		return
	}
	s.closed = true
	s.accepting = true
	s.inbox = nil
	s.pending = nil
	obslog.L().Debug("session_close", zap.String("session_id", s.id), zap.String("team", s.team), zap.String("reason", reason))
	if err := s.conn.Close(); err != nil {
		obslog.L().Debug("session_conn_close_failed", zap.String("session_id", s.id), zap.Error(err))
	}
	s.coord.OnDisconnect(s)
}
