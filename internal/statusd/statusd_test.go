package statusd

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/park285/fray/internal/arena"
	"github.com/park285/fray/internal/games"
	"github.com/park285/fray/internal/wire"
	"github.com/valyala/fasthttp"
)

type allowAll struct{}

func (allowAll) Check(string, string) bool { return true }

type nopScorer struct{}

func (nopScorer) SetChampion(string) error { return nil }

type nopConn struct{}

func (nopConn) Send(wire.Reply) error { return nil }
func (nopConn) Close() error          { return nil }

// serialRunner stands in for the reactor: one caller at a time.
type serialRunner struct {
	mu    sync.Mutex
	coord *arena.Coordinator
	err   error
}

func (r *serialRunner) Do(_ context.Context, fn func(*arena.Coordinator)) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.coord)
	return nil
}

func login(s *arena.Session, team string) {
	s.Offer([]byte(`["login","` + team + `","pw"]`))
	for s.Pump() {
	}
}

func startStatus(t *testing.T, run Runner) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = New(run).Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return "http://" + ln.Addr().String()
}

func get(t *testing.T, url string, out any) int {
	t.Helper()
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI(url)
	if err := fasthttp.DoTimeout(req, resp, 2*time.Second); err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	if out != nil && resp.StatusCode() == fasthttp.StatusOK {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			t.Fatalf("decode %s: %v (%s)", url, err, resp.Body())
		}
	}
	return resp.StatusCode()
}

func TestStatusEndpoints(t *testing.T) {
	coord, err := arena.NewCoordinator(games.Lowball{}, allowAll{}, nopScorer{}, arena.Options{MinPerMatch: 2, MaxPerMatch: 2})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	run := &serialRunner{coord: coord}
	base := startStatus(t, run)

	var lobby []string
	if code := get(t, base+"/lobby", &lobby); code != 200 || lobby == nil || len(lobby) != 0 {
		t.Fatalf("empty lobby: code=%d %v", code, lobby)
	}

	run.mu.Lock()
	login(coord.NewSession(nopConn{}), "zebra")
	login(coord.NewSession(nopConn{}), "ox")
	login(coord.NewSession(nopConn{}), "yak")
	run.mu.Unlock()

	var matches []arena.MatchView
	if code := get(t, base+"/matches", &matches); code != 200 || len(matches) != 1 {
		t.Fatalf("matches: code=%d %+v", code, matches)
	}
	if m := matches[0]; m.Game != "lowball" || len(m.Teams) != 2 {
		t.Fatalf("match view = %+v", m)
	}
	if code := get(t, base+"/lobby", &lobby); code != 200 || len(lobby) != 1 || lobby[0] != "yak" {
		t.Fatalf("lobby = %v", lobby)
	}

	var champ championView
	// zebra held the title alone before ox arrived
	if code := get(t, base+"/champion", &champ); code != 200 || !champ.Set || champ.Team != "zebra" {
		t.Fatalf("champion = %+v", champ)
	}
	if code := get(t, base+"/nope", nil); code != fasthttp.StatusNotFound {
		t.Fatalf("unknown path code = %d", code)
	}
}

func TestStatusUnavailable(t *testing.T) {
	base := startStatus(t, &serialRunner{err: errors.New("stopped")})
	if code := get(t, base+"/queue", nil); code != fasthttp.StatusServiceUnavailable {
		t.Fatalf("code = %d", code)
	}
}
