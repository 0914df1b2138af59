package flagd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/park285/fray/internal/points"
	"github.com/redis/go-redis/v9"
)

const testKey = "s3cret"

func newTestBoard(t *testing.T) (*Board, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewBoard(rdb, "house"), mr
}

func startServer(t *testing.T, maxLine int) (*Server, *Board, string) {
	t.Helper()
	board, _ := newTestBoard(t)
	srv := NewServer(board, testKey, maxLine)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv, board, ln.Addr().String()
}

func waitHolder(t *testing.T, b *Board, cat, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var got string
	for time.Now().Before(deadline) {
		got, _ = b.Holder(context.Background(), cat)
		if got == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("holder of %s = %q, want %q", cat, got, want)
}

func TestCheckAuth(t *testing.T) {
	line := AuthLine(testKey, "roshambo")
	cat, err := CheckAuth(testKey, line+"\n")
	if err != nil || cat != "roshambo" {
		t.Fatalf("CheckAuth(%q) = %q, %v", line, cat, err)
	}
	if _, err := CheckAuth("other", line); !errors.Is(err, ErrBadAuthToken) {
		t.Fatalf("wrong key: %v", err)
	}
	for _, bad := range []string{"", "roshambo", ":::abc", "a:::b:::c"} {
		if _, err := CheckAuth(testKey, bad); !errors.Is(err, ErrBadAuthLine) {
			t.Fatalf("CheckAuth(%q) = %v, want ErrBadAuthLine", bad, err)
		}
	}
}

func TestBoardHouseAndListing(t *testing.T) {
	b, _ := newTestBoard(t)
	ctx := context.Background()
	if got, _ := b.Holder(ctx, "tanks"); got != "" {
		t.Fatalf("unknown category holder = %q", got)
	}
	if team, err := b.Set(ctx, "tanks", "  "); err != nil || team != "house" {
		t.Fatalf("Set blank = %q, %v", team, err)
	}
	if _, err := b.Set(ctx, "badmath", "zebra"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	all, err := b.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 2 || all[0].Cat != "badmath" || all[0].Team != "zebra" || all[1].Team != "house" {
		t.Fatalf("All = %+v", all)
	}
	if all[0].Since == 0 {
		t.Fatalf("missing change time")
	}
}

func TestParseRedisURL(t *testing.T) {
	opts, err := parseRedisURL("redis://:pw@localhost:6380/2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.Addr != "localhost:6380" || opts.Password != "pw" || opts.DB != 2 {
		t.Fatalf("opts = %+v", opts)
	}
	if _, err := parseRedisURL("http://x"); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func TestServerTracksHolder(t *testing.T) {
	srv, board, addr := startServer(t, 0)
	c, err := Dial(context.Background(), addr, AuthLine(testKey, "roshambo"))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := c.SetChampion("zebra"); err != nil {
		t.Fatalf("SetChampion: %v", err)
	}
	waitHolder(t, board, "roshambo", "zebra")
	select {
	case cat := <-srv.Changes():
		if cat != "roshambo" {
			t.Fatalf("change for %q", cat)
		}
	case <-time.After(time.Second):
		t.Fatalf("no change notification")
	}

	if err := c.SetChampion(""); err != nil {
		t.Fatalf("SetChampion none: %v", err)
	}
	waitHolder(t, board, "roshambo", "house")

	_ = c.SetChampion("ox")
	waitHolder(t, board, "roshambo", "ox")
	_ = c.Close()
	waitHolder(t, board, "roshambo", "house")
	if !errors.Is(c.Err(), ErrClientClosed) {
		t.Fatalf("Err after Close = %v", c.Err())
	}
}

func readRefusal(t *testing.T, conn net.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read refusal: %v", err)
	}
	return strings.TrimSpace(line)
}

func TestServerRefusesBadAuth(t *testing.T) {
	_, _, addr := startServer(t, 0)
	cases := map[string]string{
		"roshambo:::" + strings.Repeat("0", 64): "ERROR: Closing Link: Invalid password",
		"hello": "ERROR: Closing Link: Invalid command",
	}
	for send, want := range cases {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		fmt.Fprintf(conn, "%s\n", send)
		if got := readRefusal(t, conn); got != want {
			t.Fatalf("sent %q: got %q, want %q", send, got, want)
		}
		_ = conn.Close()
	}
}

func TestServerRefusesLongLine(t *testing.T) {
	srv, board, addr := startServer(t, MinLineBytes)
	if srv.maxLine != MinLineBytes {
		t.Fatalf("maxLine = %d", srv.maxLine)
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	fmt.Fprintf(conn, "%s\n", AuthLine(testKey, "c"))
	fmt.Fprintf(conn, "zebra\n")
	waitHolder(t, board, "c", "zebra")

	// exactly one full buffer with no newline; the server reads all of it before refusing
	_, _ = conn.Write([]byte(strings.Repeat("x", MinLineBytes)))
	if got := readRefusal(t, conn); got != "ERROR: Closing Link: max sendq exceeded" {
		t.Fatalf("got %q", got)
	}
	waitHolder(t, board, "c", "house")
}

func TestNewServerRaisesTinyLineLimit(t *testing.T) {
	board, _ := newTestBoard(t)
	if got := NewServer(board, testKey, 64).maxLine; got != MinLineBytes {
		t.Fatalf("maxLine = %d, want %d", got, MinLineBytes)
	}
	if len(AuthLine(testKey, "roshambo"))+1 > MinLineBytes {
		t.Fatalf("auth line does not fit MinLineBytes")
	}
}

func TestClientDiesWhenServerTalks(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = bufio.NewReader(conn).ReadString('\n')
		_, _ = conn.Write([]byte(closingPrefix + "Invalid password\n"))
		time.Sleep(100 * time.Millisecond)
	}()

	c, err := Dial(context.Background(), ln.Addr().String(), "x:::y")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("client stayed alive")
	}
	if c.Err() == nil || !strings.Contains(c.Err().Error(), "Invalid password") {
		t.Fatalf("Err = %v", c.Err())
	}
	if err := c.SetChampion("zebra"); err == nil {
		t.Fatalf("SetChampion on dead link succeeded")
	}
}

type recordSubmitter struct {
	mu     sync.Mutex
	awards []points.Award
}

func (r *recordSubmitter) Submit(_ context.Context, a points.Award) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.awards = append(r.awards, a)
	return nil
}

func (r *recordSubmitter) snapshot() []points.Award {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]points.Award(nil), r.awards...)
}

func TestAwarderOnChangeAndTick(t *testing.T) {
	b, _ := newTestBoard(t)
	ctx := context.Background()
	_, _ = b.Set(ctx, "roshambo", "zebra")
	_, _ = b.Set(ctx, "lowball", "")

	sub := &recordSubmitter{}
	a := NewAwarder(b, sub, time.Hour)
	a.now = func() time.Time { return time.Unix(1700000000, 0) }

	a.AwardAll(ctx)
	got := sub.snapshot()
	if len(got) != 2 {
		t.Fatalf("awards = %+v", got)
	}
	if got[0] != (points.Award{When: 1700000000, Cat: "lowball", Team: "house", Score: 1}) {
		t.Fatalf("first award = %+v", got[0])
	}

	changes := make(chan string, 1)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Run(runCtx, changes)
	}()
	changes <- "roshambo"
	changes <- "unknown"
	deadline := time.Now().Add(2 * time.Second)
	for len(sub.snapshot()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	got = sub.snapshot()
	if len(got) != 3 || got[2].Team != "zebra" {
		t.Fatalf("awards after change = %+v", got)
	}
}
