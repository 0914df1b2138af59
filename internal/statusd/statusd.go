// Package statusd serves a read-only JSON view of the arena over HTTP.
package statusd

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/park285/fray/internal/arena"
	"github.com/park285/fray/internal/obslog"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Runner executes fn on the goroutine that owns the Coordinator. *reactor.Reactor satisfies it.
type Runner interface {
	Do(ctx context.Context, fn func(*arena.Coordinator)) error
}

type Server struct {
	run     Runner
	timeout time.Duration
	srv     *fasthttp.Server
}

func New(run Runner) *Server {
	s := &Server{run: run, timeout: 2 * time.Second}
	s.srv = &fasthttp.Server{
		Handler:      s.handle,
		Name:         "fray-status",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

// Serve blocks until ctx ends or ln fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()
	select {
	case <-ctx.Done():
		_ = s.srv.Shutdown()
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

type championView struct {
	Team string `json:"team"`
	Set  bool   `json:"set"`
}

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() {
		ctx.Error("method not allowed", fasthttp.StatusMethodNotAllowed)
		return
	}
	path := string(ctx.Path())
	switch path {
	case "/lobby", "/queue", "/matches", "/champion":
	default:
		ctx.Error("not found", fasthttp.StatusNotFound)
		return
	}

	var (
		snap arena.Snapshot
		team string
		set  bool
	)
	callCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	err := s.run.Do(callCtx, func(c *arena.Coordinator) {
		snap = c.Snapshot()
		team, set = c.Champion()
	})
	if err != nil {
		obslog.L().Warn("status_unavailable", zap.String("path", path), zap.Error(err))
		status := fasthttp.StatusServiceUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			status = fasthttp.StatusGatewayTimeout
		}
		ctx.Error("arena unavailable", status)
		return
	}

	var body any
	switch path {
	case "/lobby":
		body = orEmpty(snap.Lobby)
	case "/queue":
		body = orEmpty(snap.Queue)
	case "/matches":
		if snap.Matches == nil {
			snap.Matches = []arena.MatchView{}
		}
		body = snap.Matches
	case "/champion":
		body = championView{Team: team, Set: set}
	}
	b, err := json.Marshal(body)
	if err != nil {
		ctx.Error("encode failed", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(b)
}

func orEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
