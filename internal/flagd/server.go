package flagd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/park285/fray/internal/obslog"
	"go.uber.org/zap"
)

const closingPrefix = "ERROR: Closing Link: "

// MinLineBytes is the smallest line limit that still fits an auth line.
const MinLineBytes = 128

var errSendQ = errors.New("max sendq exceeded")

// Server accepts game server links. The first line authenticates a category; every later
// line names the new holder, and a closed link hands the flag back to the house.
type Server struct {
	board   *Board
	key     string
	maxLine int
	changes chan string

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func NewServer(board *Board, key string, maxLine int) *Server {
	if maxLine <= 0 {
		maxLine = 4096
	}
	if maxLine < MinLineBytes {
		obslog.L().Warn("flagd_max_line_raised", zap.Int("configured", maxLine), zap.Int("used", MinLineBytes))
		maxLine = MinLineBytes
	}
	return &Server{
		board:   board,
		key:     key,
		maxLine: maxLine,
		changes: make(chan string, 64),
		conns:   make(map[net.Conn]struct{}),
	}
}

// Changes carries the category of every holder update. Slow readers miss updates rather
// than stall links; the periodic award pass covers the gap.
func (s *Server) Changes() <-chan string { return s.changes }

// Serve accepts until ctx ends or ln fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
		s.mu.Lock()
		for c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()
	}()
	defer s.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return err
		}
		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) track(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
		return
	}
	delete(s.conns, c)
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	br := bufio.NewReaderSize(conn, s.maxLine)

	first, err := s.readLine(br)
	if err != nil {
		if errors.Is(err, errSendQ) {
			s.refuse(conn, err.Error())
		}
		return
	}
	cat, err := CheckAuth(s.key, first)
	if err != nil {
		obslog.L().Warn("flagd_auth_failed", zap.String("remote", remote), zap.Error(err))
		s.refuse(conn, err.Error())
		return
	}
	obslog.L().Info("flagd_link_up", zap.String("cat", cat), zap.String("remote", remote))

	defer func() {
		// 링크가 끊기면 깃발은 하우스로 돌아간다.
		s.set(context.WithoutCancel(ctx), cat, "")
		obslog.L().Info("flagd_link_down", zap.String("cat", cat), zap.String("remote", remote))
	}()

	for {
		line, err := s.readLine(br)
		if err != nil {
			if errors.Is(err, errSendQ) {
				s.refuse(conn, err.Error())
			}
			return
		}
		s.set(ctx, cat, line)
	}
}

func (s *Server) set(ctx context.Context, cat, team string) {
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	holder, err := s.board.Set(opCtx, cat, team)
	if err != nil {
		obslog.L().Error("flagd_set_failed", zap.String("cat", cat), zap.Error(err))
		return
	}
	obslog.L().Info("flag_holder", zap.String("cat", cat), zap.String("team", holder))
	select {
	case s.changes <- cat:
	default:
	}
}

func (s *Server) readLine(br *bufio.Reader) (string, error) {
	b, err := br.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return "", errSendQ
	}
	if err != nil && len(b) == 0 {
		return "", err
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

func (s *Server) refuse(conn net.Conn, reason string) {
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, _ = fmt.Fprintf(conn, "%s%s\n", closingPrefix, reason)
}
