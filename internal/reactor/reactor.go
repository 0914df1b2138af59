// Package reactor runs the arena on a single goroutine. Transports feed it raw lines from
// per-connection reader goroutines; every Coordinator, Session and Match method is called
// from Run and nowhere else.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/park285/fray/internal/arena"
	"github.com/park285/fray/internal/msgcat"
	"github.com/park285/fray/internal/obslog"
	"go.uber.org/zap"
)

// closedTick is always ready; Run selects on it while a backlog remains.
var closedTick = func() <-chan time.Time {
	c := make(chan time.Time)
	close(c)
	return c
}()

var (
	ErrStopped     = errors.New("reactor stopped")
	ErrScorerLost  = errors.New("scoring authority connection lost")
	errLineTooLong = errors.New("line too long")
)

// Upstream is a collaborator whose loss must stop the reactor (the scoring authority).
type Upstream interface {
	Done() <-chan struct{}
	Err() error
}

// Config tunes a Reactor. Zero values pick defaults.
type Config struct {
	Pulse        time.Duration // default 2s
	MaxLineBytes int           // default 4096
	ReplyQueue   int           // outbound frames buffered per peer; default 64
	WriteTimeout time.Duration // default 5s
	Messages     *msgcat.Catalog
	Upstream     Upstream
}

func (c Config) withDefaults() Config {
	if c.Pulse <= 0 {
		c.Pulse = 2 * time.Second
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = 4096
	}
	if c.ReplyQueue <= 0 {
		c.ReplyQueue = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.Messages == nil {
		c.Messages = msgcat.Default()
	}
	return c
}

type eventKind int

const (
	evAccept eventKind = iota
	evLine
	evClosed
)

type event struct {
	kind eventKind
	peer *peer
	line []byte
	err  error
}

// Reactor owns a Coordinator and everything attached to it.
type Reactor struct {
	cfg   Config
	coord *arena.Coordinator

	events chan event
	calls  chan func()

	// reactor goroutine only
	sessions map[*peer]*arena.Session

	mu      sync.Mutex
	peers   map[*peer]struct{}
	stopped bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(coord *arena.Coordinator, cfg Config) *Reactor {
	return &Reactor{
		cfg:      cfg.withDefaults(),
		coord:    coord,
		events:   make(chan event, 256),
		calls:    make(chan func()),
		sessions: make(map[*peer]*arena.Session),
		peers:    make(map[*peer]struct{}),
		stopCh:   make(chan struct{}),
	}
}

// Run dispatches events until ctx ends or the scoring authority is lost. Losing the scoring
// authority is fatal and is returned as an error wrapping ErrScorerLost.
func (r *Reactor) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Pulse)
	defer ticker.Stop()
	defer r.shutdown()

	var upstream <-chan struct{}
	if r.cfg.Upstream != nil {
		upstream = r.cfg.Upstream.Done()
	}

	obslog.L().Info("reactor_start", zap.Duration("pulse", r.cfg.Pulse))
	backlog := false
	for {
		var idle <-chan time.Time
		if backlog {
			// more lines are deliverable: take the next pass without waiting for an event
			idle = closedTick
		}
		select {
		case <-ctx.Done():
			obslog.L().Info("reactor_stop", zap.Error(ctx.Err()))
			return nil
		case <-upstream:
			err := r.cfg.Upstream.Err()
			obslog.L().Error("reactor_upstream_lost", zap.Error(err))
			return fmt.Errorf("%w: %v", ErrScorerLost, err)
		case ev := <-r.events:
			r.handle(ev)
		case fn := <-r.calls:
			r.guard(nil, fn)
		case now := <-ticker.C:
			r.pulse(now)
		case <-idle:
		}
		backlog = r.flush()
		if err := r.coord.Err(); err != nil {
			obslog.L().Error("reactor_scorer_failed", zap.Error(err))
			return fmt.Errorf("%w: %v", ErrScorerLost, err)
		}
	}
}

// Do runs fn on the reactor goroutine and waits for it. If ctx ends first, fn may still run.
func (r *Reactor) Do(ctx context.Context, fn func(*arena.Coordinator)) error {
	done := make(chan struct{})
	call := func() {
		defer close(done)
		fn(r.coord)
	}
	select {
	case r.calls <- call:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopCh:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopCh:
		return ErrStopped
	}
}

func (r *Reactor) handle(ev event) {
	switch ev.kind {
	case evAccept:
		s := r.coord.NewSession(ev.peer)
		r.sessions[ev.peer] = s
		obslog.L().Debug("peer_accept", zap.String("session_id", s.ID()), zap.String("remote", ev.peer.remote))
	case evLine:
		if s := r.sessions[ev.peer]; s != nil {
			r.guard(s, func() { s.Offer(ev.line) })
		}
	case evClosed:
		s := r.sessions[ev.peer]
		if s == nil {
			return
		}
		if errors.Is(ev.err, errLineTooLong) {
			msg := r.cfg.Messages.Text("session.overflow", nil)
			s.Fail(msg)
			r.guard(s, func() { s.Close(msg) })
		} else {
			r.guard(s, func() { s.Close("disconnect") })
		}
		delete(r.sessions, ev.peer)
	}
}

func (r *Reactor) pulse(now time.Time) {
	for _, s := range r.sessions {
		s := s
		r.guard(s, func() { s.CheckIdle(now) })
	}
	r.guard(nil, func() { r.coord.Heartbeat(now) })
}

// flush gives every gate-open session one queued line, then drops stalled and closed
// peers. It reports whether any line was delivered, in which case another pass may find
// more work (a delivered line can reopen other gates).
func (r *Reactor) flush() bool {
	progressed := false
	for _, s := range r.sessions {
		s := s
		delivered := false
		r.guard(s, func() { delivered = s.Pump() })
		progressed = progressed || delivered
	}
	for p, s := range r.sessions {
		if p.stalled && !s.Closed() {
			obslog.L().Warn("peer_stalled", zap.String("session_id", s.ID()), zap.String("team", s.Team()))
			r.guard(s, func() { s.Close("stalled") })
		}
		if s.Closed() {
			delete(r.sessions, p)
		}
	}
	return progressed
}

// guard keeps a panic in one session's handling from taking down the reactor.
func (r *Reactor) guard(s *arena.Session, fn func()) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		fields := []zap.Field{zap.Any("panic", rec), zap.ByteString("stack", debug.Stack())}
		if s != nil {
			fields = append(fields, zap.String("session_id", s.ID()), zap.String("team", s.Team()))
		}
		obslog.L().Error("reactor_panic", fields...)
		if s != nil {
			s.Fail(r.cfg.Messages.Text("session.internal_error", nil))
		}
	}()
	fn()
}

// attach registers a new connection and starts its reader and writer goroutines. The
// returned peer is nil once the reactor has stopped.
func (r *Reactor) attach(l link) *peer {
	p := newPeer(l, r.cfg.ReplyQueue)
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		_ = l.close()
		return nil
	}
	r.peers[p] = struct{}{}
	r.wg.Add(2)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		p.writeLoop(r.cfg.WriteTimeout)
		r.mu.Lock()
		delete(r.peers, p)
		r.mu.Unlock()
	}()
	go r.readLoop(p)
	return p
}

// readLoop never closes the link itself: a read error is reported to the reactor, which
// closes the session and lets the writer flush and drop the connection.
func (r *Reactor) readLoop(p *peer) {
	defer r.wg.Done()
	select {
	case r.events <- event{kind: evAccept, peer: p}:
	case <-r.stopCh:
		return
	}
	for {
		line, err := p.link.readLine()
		if err != nil {
			select {
			case r.events <- event{kind: evClosed, peer: p, err: err}:
			case <-r.stopCh:
			}
			return
		}
		select {
		case r.events <- event{kind: evLine, peer: p, line: line}:
		case <-r.stopCh:
			return
		}
	}
}

func (r *Reactor) shutdown() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.mu.Lock()
	r.stopped = true
	for p := range r.peers {
		p.kill()
	}
	r.mu.Unlock()
	clear(r.sessions)
}

// Wait blocks until every connection goroutine has exited. Call after Run returns.
func (r *Reactor) Wait() { r.wg.Wait() }
