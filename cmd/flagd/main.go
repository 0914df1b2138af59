package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	appcfg "github.com/park285/fray/internal/config"
	"github.com/park285/fray/internal/flagd"
	"github.com/park285/fray/internal/obslog"
	"github.com/park285/fray/internal/points"
	"go.uber.org/zap"
)

func main() {
	genpass := flag.String("genpass", "", "print the auth line for a category and exit")
	flag.Parse()

	if *genpass != "" {
		key := os.Getenv("FLAGD_KEY")
		if key == "" {
			log.Fatal("FLAGD_KEY is required")
		}
		fmt.Println(flagd.AuthLine(key, *genpass))
		return
	}

	cfg, err := appcfg.LoadFlagd()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv("logs/flagd.log"); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	board, err := flagd.OpenBoard(ctx, cfg.RedisURL, cfg.HouseTeam)
	if err != nil {
		log.Fatalf("redis init error: %v", err)
	}
	defer board.Close()

	srv := flagd.NewServer(board, cfg.Key, cfg.MaxLineBytes)
	if cfg.PointsURL != "" {
		awarder := flagd.NewAwarder(board, points.NewClient(cfg.PointsURL, points.WithKey(cfg.Key)), cfg.AwardInterval)
		go awarder.Run(ctx, srv.Changes())
	} else {
		obslog.L().Warn("points_disabled", zap.String("reason", "POINTS_URL not set"))
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("listen error: %v", err)
	}
	obslog.L().Info("flagd_listening", zap.String("addr", ln.Addr().String()), zap.String("house", board.House()))
	if err := srv.Serve(ctx, ln); err != nil {
		obslog.L().Error("flagd_exit", zap.Error(err))
		obslog.Sync()
		os.Exit(1)
	}
}
