package reactor

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/park285/fray/internal/obslog"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// wsLink carries one protocol line per text message.
type wsLink struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	remote string
}

func (l *wsLink) readLine() ([]byte, error) {
	for {
		typ, b, err := l.conn.Read(l.ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusMessageTooBig {
				return nil, errLineTooLong
			}
			return nil, err
		}
		if typ != websocket.MessageText {
			continue
		}
		b = bytes.TrimRight(b, "\r\n")
		if len(b) == 0 {
			continue
		}
		return b, nil
	}
}

func (l *wsLink) writeLine(b []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(l.ctx, timeout)
	defer cancel()
	return l.conn.Write(ctx, websocket.MessageText, bytes.TrimRight(b, "\n"))
}

func (l *wsLink) close() error {
	defer l.cancel()
	return l.conn.Close(websocket.StatusNormalClosure, "bye")
}

func (l *wsLink) remoteAddr() string { return l.remote }

// WSHandler upgrades HTTP requests to WebSocket clients speaking the same line protocol.
// The handler returns once the client is gone.
func (r *Reactor) WSHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{
			CompressionMode: websocket.CompressionNoContextTakeover,
		})
		if err != nil {
			obslog.L().Debug("ws_accept_failed", zap.String("remote", req.RemoteAddr), zap.Error(err))
			return
		}
		conn.SetReadLimit(int64(r.cfg.MaxLineBytes))
		ctx, cancel := context.WithCancel(context.Background())
		l := &wsLink{conn: conn, ctx: ctx, cancel: cancel, remote: req.RemoteAddr}
		p := r.attach(l)
		if p == nil {
			return
		}
		select {
		case <-p.dead:
		case <-req.Context().Done():
			p.kill()
		}
	})
}
