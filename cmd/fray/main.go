package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/park285/fray/internal/arena"
	appcfg "github.com/park285/fray/internal/config"
	"github.com/park285/fray/internal/flagd"
	"github.com/park285/fray/internal/games"
	"github.com/park285/fray/internal/msgcat"
	"github.com/park285/fray/internal/obslog"
	"github.com/park285/fray/internal/reactor"
	"github.com/park285/fray/internal/statusd"
	"github.com/park285/fray/internal/teams"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	register := flag.String("register", "", "add a team to PASSWD_FILE; reads the secret twice from stdin")
	flag.Parse()

	if *register != "" {
		path := strings.TrimSpace(os.Getenv("PASSWD_FILE"))
		if path == "" {
			log.Fatal("PASSWD_FILE is required for -register")
		}
		store, err := teams.NewFileStore(path)
		if err != nil {
			log.Fatalf("passwd error: %v", err)
		}
		if err := teams.Register(store, *register, os.Stdin); err != nil {
			log.Fatalf("register %s: %v", *register, err)
		}
		fmt.Printf("registered %s\n", *register)
		return
	}

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv("logs/fray.log"); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	if err := run(cfg); err != nil {
		obslog.L().Error("fray_exit", zap.Error(err))
		obslog.Sync()
		os.Exit(1)
	}
	obslog.L().Info("fray_stopped")
}

func run(cfg *appcfg.AppConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rules, err := games.Lookup(cfg.Game)
	if err != nil {
		return err
	}
	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	var creds arena.Credentials
	if cfg.DatabaseURL != "" {
		pg, err := teams.NewPGStore(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		g.Go(func() error {
			pg.Run(ctx, cfg.TeamsRefresh)
			return nil
		})
		creds = pg
		obslog.L().Info("teams_source", zap.String("kind", "postgres"), zap.Int("teams", pg.Len()))
	} else {
		fs, err := teams.NewFileStore(cfg.PasswdFile)
		if err != nil {
			return err
		}
		creds = fs
		obslog.L().Info("teams_source", zap.String("kind", "passwd"), zap.String("path", cfg.PasswdFile), zap.Int("teams", fs.Len()))
	}

	link, err := flagd.Dial(ctx, cfg.FlagdAddr, cfg.FlagdAuth)
	if err != nil {
		return err
	}
	defer link.Close()

	coord, err := arena.NewCoordinator(rules, creds, link, arena.Options{
		MinPerMatch:  cfg.MinPerMatch,
		MaxPerMatch:  cfg.MaxPerMatch,
		IdleTimeout:  cfg.IdleTimeout,
		MoveTimeout:  cfg.MoveTimeout,
		MatchTimeout: cfg.MatchTimeout,
		MaxPending:   cfg.MaxPending,
		MaxBadLogins: cfg.MaxBadLogins,
		Messages:     msgs,
	})
	if err != nil {
		return err
	}
	r := reactor.New(coord, reactor.Config{
		Pulse:        cfg.Pulse,
		MaxLineBytes: cfg.MaxLineBytes,
		ReplyQueue:   cfg.ReplyQueueLen,
		Messages:     msgs,
		Upstream:     link,
	})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}
	var sln net.Listener
	if cfg.StatusAddr != "" {
		if sln, err = net.Listen("tcp", cfg.StatusAddr); err != nil {
			_ = ln.Close()
			return err
		}
	}
	opts := coord.Options()
	obslog.L().Info("fray_listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("game", rules.Name()),
		zap.Int("min_per_match", opts.MinPerMatch),
		zap.Int("max_per_match", opts.MaxPerMatch),
	)

	// Run 이 끝나면 (flagd 유실 포함) 나머지 리스너도 모두 내려간다.
	g.Go(func() error {
		err := r.Run(ctx)
		if err == nil {
			return context.Canceled
		}
		return err
	})
	g.Go(func() error { return r.ServeTCP(ctx, ln) })

	if cfg.WSAddr != "" {
		hs := &http.Server{Addr: cfg.WSAddr, Handler: r.WSHandler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			obslog.L().Info("ws_listening", zap.String("addr", cfg.WSAddr))
			if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(sctx)
		})
	}

	if sln != nil {
		obslog.L().Info("status_listening", zap.String("addr", sln.Addr().String()))
		g.Go(func() error { return statusd.New(r).Serve(ctx, sln) })
	}

	err = g.Wait()
	r.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
