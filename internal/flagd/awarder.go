package flagd

import (
	"context"
	"time"

	"github.com/park285/fray/internal/obslog"
	"github.com/park285/fray/internal/points"
	"go.uber.org/zap"
)

// Submitter is satisfied by *points.Client.
type Submitter interface {
	Submit(ctx context.Context, a points.Award) error
}

// Awarder grants one point per category to its holder every interval, and immediately
// whenever a holder changes.
type Awarder struct {
	board    *Board
	sub      Submitter
	interval time.Duration
	now      func() time.Time
}

func NewAwarder(board *Board, sub Submitter, interval time.Duration) *Awarder {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Awarder{board: board, sub: sub, interval: interval, now: time.Now}
}

// Run blocks until ctx ends.
func (a *Awarder) Run(ctx context.Context, changes <-chan string) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case cat := <-changes:
			a.awardOne(ctx, cat)
		case <-ticker.C:
			a.AwardAll(ctx)
		}
	}
}

// AwardAll submits a point for every known category.
func (a *Awarder) AwardAll(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	holdings, err := a.board.All(opCtx)
	if err != nil {
		obslog.L().Error("award_list_failed", zap.Error(err))
		return
	}
	for _, h := range holdings {
		a.submit(ctx, h.Cat, h.Team)
	}
}

func (a *Awarder) awardOne(ctx context.Context, cat string) {
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	team, err := a.board.Holder(opCtx, cat)
	if err != nil {
		obslog.L().Error("award_lookup_failed", zap.String("cat", cat), zap.Error(err))
		return
	}
	if team == "" {
		return
	}
	a.submit(ctx, cat, team)
}

func (a *Awarder) submit(ctx context.Context, cat, team string) {
	award := points.Award{When: a.now().Unix(), Cat: cat, Team: team, Score: 1}
	if err := a.sub.Submit(ctx, award); err != nil {
		obslog.L().Warn("award_failed", zap.String("cat", cat), zap.String("team", team), zap.Error(err))
		return
	}
	obslog.L().Debug("award_sent", zap.String("cat", cat), zap.String("team", team))
}
