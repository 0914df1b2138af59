package flagd

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Board records who holds each category's flag.
type Board struct {
	rdb   *redis.Client
	house string
}

func NewBoard(rdb *redis.Client, house string) *Board {
	if strings.TrimSpace(house) == "" {
		house = "house"
	}
	return &Board{rdb: rdb, house: house}
}

// OpenBoard connects to REDIS_URL and pings it.
func OpenBoard(ctx context.Context, redisURL, house string) (*Board, error) {
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewBoard(rdb, house), nil
}

func (b *Board) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

func (b *Board) House() string { return b.house }

func (b *Board) keyHolders() string { return "flagd:holders" }
func (b *Board) keyChanged() string { return "flagd:changed" }

// Set records team as the holder of cat. An empty team hands the flag to the house.
func (b *Board) Set(ctx context.Context, cat, team string) (string, error) {
	team = strings.TrimSpace(team)
	if team == "" {
		team = b.house
	}
	pipe := b.rdb.TxPipeline()
	pipe.HSet(ctx, b.keyHolders(), cat, team)
	pipe.HSet(ctx, b.keyChanged(), cat, time.Now().Unix())
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return team, nil
}

// Holder returns the holder of cat, or "" when the category is unknown.
func (b *Board) Holder(ctx context.Context, cat string) (string, error) {
	team, err := b.rdb.HGet(ctx, b.keyHolders(), cat).Result()
	if err == redis.Nil {
		return "", nil
	}
	return team, err
}

// Holding is one category and its current holder.
type Holding struct {
	Cat   string `json:"cat"`
	Team  string `json:"team"`
	Since int64  `json:"since"`
}

// All lists every category sorted by name.
func (b *Board) All(ctx context.Context) ([]Holding, error) {
	holders, err := b.rdb.HGetAll(ctx, b.keyHolders()).Result()
	if err != nil {
		return nil, err
	}
	changed, err := b.rdb.HGetAll(ctx, b.keyChanged()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Holding, 0, len(holders))
	for cat, team := range holders {
		since, _ := strconv.ParseInt(changed[cat], 10, 64)
		out = append(out, Holding{Cat: cat, Team: team, Since: since})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cat < out[j].Cat })
	return out, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
