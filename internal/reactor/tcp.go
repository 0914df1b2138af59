package reactor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"time"

	"github.com/park285/fray/internal/obslog"
	"go.uber.org/zap"
)

type tcpLink struct {
	conn net.Conn
	br   *bufio.Reader
}

func newTCPLink(conn net.Conn, maxLine int) *tcpLink {
	return &tcpLink{conn: conn, br: bufio.NewReaderSize(conn, maxLine)}
}

func (l *tcpLink) readLine() ([]byte, error) {
	for {
		b, err := l.br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			return nil, errLineTooLong
		}
		if err != nil {
			return nil, err
		}
		b = bytes.TrimRight(b, "\r\n")
		if len(b) == 0 {
			continue
		}
		return bytes.Clone(b), nil
	}
}

func (l *tcpLink) writeLine(b []byte, timeout time.Duration) error {
	_ = l.conn.SetWriteDeadline(time.Now().Add(timeout))
	_, err := l.conn.Write(b)
	return err
}

func (l *tcpLink) close() error      { return l.conn.Close() }
func (l *tcpLink) remoteAddr() string { return l.conn.RemoteAddr().String() }

// ServeTCP accepts line-protocol clients on ln until ctx ends.
func (r *Reactor) ServeTCP(ctx context.Context, ln net.Listener) error {
	go func() {
		select {
		case <-ctx.Done():
		case <-r.stopCh:
		}
		_ = ln.Close()
	}()
	obslog.L().Info("tcp_listen", zap.String("addr", ln.Addr().String()))
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || r.isStopped() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(backoff*2, 5*time.Millisecond), time.Second)
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetKeepAlive(true)
		}
		r.attach(newTCPLink(conn, r.cfg.MaxLineBytes))
	}
}

func (r *Reactor) isStopped() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}
