package teams

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"
	"github.com/park285/fray/internal/obslog"
	"go.uber.org/zap"
)

type loader func(ctx context.Context) (map[string]string, error)

// PGStore answers logins from an in-memory snapshot of the teams table. Check never
// touches the database; Refresh and Run replace the snapshot.
type PGStore struct {
	db   *sql.DB
	load loader
	snap atomic.Pointer[map[string]string]
}

func NewPGStore(databaseURL string) (*PGStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := newPGStore(func(ctx context.Context) (map[string]string, error) { return queryTeams(ctx, db) })
	s.db = db
	if err := s.Refresh(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func newPGStore(load loader) *PGStore {
	s := &PGStore{load: load}
	empty := map[string]string{}
	s.snap.Store(&empty)
	return s
}

func (s *PGStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PGStore) Check(team, secret string) bool {
	want, ok := (*s.snap.Load())[team]
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(secret)) == 1
}

func (s *PGStore) Len() int { return len(*s.snap.Load()) }

// Refresh reloads the snapshot. On error the previous snapshot stays in place.
func (s *PGStore) Refresh(ctx context.Context) error {
	m, err := s.load(ctx)
	if err != nil {
		return err
	}
	s.snap.Store(&m)
	return nil
}

// Run refreshes every interval until ctx ends.
func (s *PGStore) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := s.Refresh(rctx); err != nil {
				obslog.L().Warn("teams_refresh_failed", zap.Error(err))
			} else {
				obslog.L().Debug("teams_refreshed", zap.Int("teams", s.Len()))
			}
			cancel()
		}
	}
}

func queryTeams(ctx context.Context, db *sql.DB) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, password FROM teams`)
	if err != nil {
		return nil, fmt.Errorf("query teams: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var name, pass string
		if err := rows.Scan(&name, &pass); err != nil {
			return nil, err
		}
		out[name] = pass
	}
	return out, rows.Err()
}
