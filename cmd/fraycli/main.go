package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/park285/fray/internal/wire"
	"nhooyr.io/websocket"
)

// conn is one line-protocol connection, TCP or WebSocket.
type conn interface {
	send(line []byte) error
	recv() ([]byte, error)
	close()
}

type tcpConn struct {
	c  net.Conn
	br *bufio.Reader
}

func (t *tcpConn) send(line []byte) error {
	_, err := t.c.Write(append(line, '\n'))
	return err
}

func (t *tcpConn) recv() ([]byte, error) {
	_ = t.c.SetReadDeadline(time.Now().Add(*waitFlag))
	b, err := t.br.ReadBytes('\n')
	return []byte(strings.TrimSpace(string(b))), err
}

func (t *tcpConn) close() { _ = t.c.Close() }

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) send(line []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.c.Write(ctx, websocket.MessageText, line)
}

func (w *wsConn) recv() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), *waitFlag)
	defer cancel()
	_, b, err := w.c.Read(ctx)
	return b, err
}

func (w *wsConn) close() { _ = w.c.Close(websocket.StatusNormalClosure, "bye") }

var waitFlag = flag.Duration("wait", 5*time.Second, "how long to wait for each reply")

func main() {
	addr := flag.String("addr", "localhost:5388", "fray TCP address")
	wsURL := flag.String("ws", "", "connect over WebSocket instead (ws://host:port/)")
	team := flag.String("team", os.Getenv("FRAY_TEAM"), "team name")
	secret := flag.String("secret", os.Getenv("FRAY_SECRET"), "team secret")
	flag.Parse()
	moves := flag.Args()

	c, err := dial(*addr, *wsURL)
	if err != nil {
		log.Fatalf("connect error: %v", err)
	}
	defer c.close()

	if err := roundTrip(c, "^", "lobby"); err != nil {
		log.Fatalf("^ lobby: %v", err)
	}
	if *team == "" {
		log.Println("no -team given; skipping login")
		return
	}
	if err := roundTrip(c, "login", *team, *secret); err != nil {
		log.Fatalf("login: %v", err)
	}
	for _, mv := range moves {
		parts := strings.Fields(mv)
		if len(parts) == 0 {
			continue
		}
		if err := roundTrip(c, parts[0], parts[1:]...); err != nil {
			log.Fatalf("%s: %v", mv, err)
		}
	}
	// Drain whatever the match still has to say (WIN / LOSE, round summaries).
	for {
		line, err := c.recv()
		if err != nil {
			return
		}
		printReply(line)
	}
}

func dial(addr, wsURL string) (conn, error) {
	if wsURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c, _, err := websocket.Dial(ctx, wsURL, nil)
		if err != nil {
			return nil, err
		}
		return &wsConn{c: c}, nil
	}
	c, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, err
	}
	return &tcpConn{c: c, br: bufio.NewReader(c)}, nil
}

func roundTrip(c conn, name string, args ...string) error {
	anyArgs := make([]any, len(args))
	for i, a := range args {
		anyArgs[i] = a
	}
	line, err := wire.EncodeCommand(name, anyArgs...)
	if err != nil {
		return err
	}
	fmt.Printf("> %s\n", line)
	if err := c.send(line); err != nil {
		return err
	}
	reply, err := c.recv()
	if err != nil {
		// A gated move gets no immediate reply; that's fine.
		if name != "login" && name != "^" {
			return nil
		}
		return err
	}
	printReply(reply)
	return nil
}

func printReply(line []byte) {
	r, err := wire.DecodeReply(line)
	if err != nil {
		fmt.Printf("< (raw) %s\n", line)
		return
	}
	if p := r.Payload(); p != nil {
		fmt.Printf("< %s %v\n", r.Tag(), p)
		return
	}
	fmt.Printf("< %s\n", r.Tag())
}
