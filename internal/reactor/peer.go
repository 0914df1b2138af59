package reactor

import (
	"errors"
	"sync"
	"time"

	"github.com/park285/fray/internal/obslog"
	"github.com/park285/fray/internal/wire"
	"go.uber.org/zap"
)

var (
	errPeerClosed  = errors.New("peer closed")
	errPeerStalled = errors.New("peer not reading; reply dropped")
)

// link is one raw client transport. readLine is only called from the reader goroutine and
// writeLine only from the writer goroutine; close may be called from anywhere.
type link interface {
	readLine() ([]byte, error)
	writeLine(b []byte, timeout time.Duration) error
	close() error
	remoteAddr() string
}

// peer adapts a link to arena.Conn. Send never blocks the reactor: frames go to a bounded
// queue drained by the writer goroutine, and a full queue marks the peer stalled.
type peer struct {
	link   link
	remote string
	out    chan []byte

	// reactor goroutine only
	closing bool
	stalled bool

	dead     chan struct{}
	deadOnce sync.Once
}

func newPeer(l link, queue int) *peer {
	return &peer{
		link:   l,
		remote: l.remoteAddr(),
		out:    make(chan []byte, queue),
		dead:   make(chan struct{}),
	}
}

func (p *peer) Send(r wire.Reply) error {
	if p.closing {
		return errPeerClosed
	}
	b, err := wire.Encode(r)
	if err != nil {
		return err
	}
	select {
	case p.out <- b:
		return nil
	default:
		p.stalled = true
		return errPeerStalled
	}
}

// Close lets the writer flush what is queued, then drops the connection.
func (p *peer) Close() error {
	if p.closing {
		return nil
	}
	p.closing = true
	close(p.out)
	return nil
}

// kill drops the connection immediately.
func (p *peer) kill() {
	p.deadOnce.Do(func() {
		close(p.dead)
		_ = p.link.close()
	})
}

func (p *peer) writeLoop(timeout time.Duration) {
	defer p.kill()
	for {
		select {
		case b, ok := <-p.out:
			if !ok {
				return
			}
			if err := p.link.writeLine(b, timeout); err != nil {
				obslog.L().Debug("peer_write_failed", zap.String("remote", p.remote), zap.Error(err))
				return
			}
		case <-p.dead:
			return
		}
	}
}
