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

var (
	ErrClientClosed = errors.New("flagd link closed")
	ErrBacklog      = errors.New("flagd link not draining")
)

// Client is the game server's link to flagd. SetChampion never blocks; delivery happens on a
// writer goroutine. flagd never talks back, so any inbound byte or I/O error kills the link,
// and a dead link is fatal to the arena.
type Client struct {
	conn net.Conn
	out  chan string

	mu  sync.Mutex
	err error

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// Dial connects to flagd and authenticates with auth ("category:::password").
func Dial(ctx context.Context, addr, auth string) (*Client, error) {
	auth = strings.TrimSpace(auth)
	if auth == "" {
		return nil, errors.New("flagd auth is required")
	}
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial flagd %s: %w", addr, err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write([]byte(auth + "\n")); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("flagd auth: %w", err)
	}
	c := &Client{
		conn: conn,
		out:  make(chan string, 64),
		done: make(chan struct{}),
	}
	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()
	obslog.L().Info("flagd_connected", zap.String("addr", addr))
	return c, nil
}

// SetChampion queues the new holder. An empty team means nobody holds the flag.
func (c *Client) SetChampion(team string) error {
	if err := c.Err(); err != nil {
		return err
	}
	team = strings.NewReplacer("\n", " ", "\r", " ").Replace(team)
	select {
	case c.out <- team + "\n":
		return nil
	default:
		c.fail(ErrBacklog)
		return ErrBacklog
	}
}

// Done is closed once the link is dead.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the link died, or nil while it is healthy.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close shuts the link down. Queued updates are dropped.
func (c *Client) Close() error {
	c.fail(ErrClientClosed)
	c.wg.Wait()
	return nil
}

func (c *Client) fail(err error) {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		_ = c.conn.Close()
		if !errors.Is(err, ErrClientClosed) {
			obslog.L().Error("flagd_lost", zap.Error(err))
		}
	})
}

func (c *Client) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case line := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if _, err := c.conn.Write([]byte(line)); err != nil {
				c.fail(fmt.Errorf("flagd write: %w", err))
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	br := bufio.NewReader(c.conn)
	line, err := br.ReadString('\n')
	if err != nil && line == "" {
		c.fail(fmt.Errorf("flagd read: %w", err))
		return
	}
	c.fail(fmt.Errorf("flagd said: %q", strings.TrimSpace(line)))
}
