package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/park285/matey-server/internal/challenge"
	"github.com/park285/matey-server/internal/config"
	"github.com/park285/matey-server/internal/egress"
	"github.com/park285/matey-server/internal/game"
	"github.com/park285/matey-server/internal/lobby"
	"github.com/park285/matey-server/internal/matchqueue"
	"github.com/park285/matey-server/internal/msgcat"
	"github.com/park285/matey-server/internal/notify"
	"github.com/park285/matey-server/internal/obslog"
	"github.com/park285/matey-server/internal/presence"
	"github.com/park285/matey-server/internal/render"
	"github.com/park285/matey-server/internal/server"
	"github.com/park285/matey-server/internal/store/memstore"
	"github.com/park285/matey-server/internal/store/redisstore"
	"github.com/park285/matey-server/internal/store/sqlstore"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	connectTimeout  = 10 * time.Second
	shutdownTimeout = 10 * time.Second
)

// backends are the stores chosen from configuration. Nil fields are not configured.
type backends struct {
	rdb   *redis.Client
	sql   *sqlstore.Store
	games game.Store
	dir   game.Directory
	queue matchqueue.Queue
}

func (b *backends) Close() {
	if b.sql != nil {
		_ = b.sql.Close()
	}
	if b.rdb != nil {
		_ = b.rdb.Close()
	}
}

func (b *backends) checks() []server.Check {
	var out []server.Check
	if b.rdb != nil {
		out = append(out, server.Check{Name: "redis", Run: func(ctx context.Context) error {
			return b.rdb.Ping(ctx).Err()
		}})
	}
	if b.sql != nil {
		out = append(out, server.Check{Name: "database", Run: func(ctx context.Context) error {
			return b.sql.DB().PingContext(ctx)
		}})
	}
	return out
}

func openBackends(ctx context.Context, cfg *config.AppConfig) (*backends, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	b := &backends{}
	mem := memstore.New()
	b.games, b.dir, b.queue = mem, mem, matchqueue.NewMemory()

	if cfg.RedisURL != "" {
		rdb, err := redisstore.Open(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		b.rdb = rdb
		b.games = redisstore.New(rdb, cfg.GameTTL)
		if cfg.QueueBackend == config.QueueRedis {
			b.queue = matchqueue.NewRedis(rdb)
		}
	}
	if cfg.DatabaseURL != "" {
		st, err := sqlstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.sql = st
		b.dir = st
	}
	obslog.L().Info("backends_ready",
		zap.Bool("redis", b.rdb != nil),
		zap.Bool("database", b.sql != nil),
		zap.String("queue", cfg.QueueBackend),
	)
	return b, nil
}

func serve(ctx context.Context, cfg *config.AppConfig) error {
	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	reg := presence.NewRegistry()
	hub := server.NewHub(0)
	sinks := notify.Multi{hub}

	var relay *egress.Async
	if cfg.RelayURL != "" {
		relay = egress.NewAsync(egress.NewClient(cfg.RelayURL, egress.WithTimeout(cfg.RelayTimeout)), 0)
		sinks = append(sinks, relay)
	}
	events := notify.NewBroadcaster(sinks, reg)

	opts := []game.Option{game.WithCatalog(msgs)}
	deps := server.Deps{
		Hub:            hub,
		Auth:           server.NewAuthenticator(cfg.JWTSecret),
		Renderer:       render.New(),
		Checks:         b.checks(),
		AllowedOrigins: cfg.AllowedOrigins,
	}
	if b.sql != nil {
		opts = append(opts, game.WithArchive(b.sql))
		deps.Results = b.sql
		deps.Users = b.sql
	}
	mgr := game.NewManager(b.games, b.dir, reg, events, opts...)
	deps.Lobby = lobby.New(reg, b.queue, mgr, challenge.NewManager(), events)
	deps.Games = mgr

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.New(deps).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	srv.RegisterOnShutdown(hub.Close)

	relayCtx, stopRelay := context.WithCancel(context.WithoutCancel(ctx))
	if relay != nil {
		go relay.Run(relayCtx)
	}

	errCh := make(chan error, 1)
	go func() {
		obslog.L().Info("server_listen", zap.String("addr", srv.Addr), zap.Bool("jwt", cfg.JWTSecret != ""))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	obslog.L().Info("server_shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		obslog.L().Warn("server_shutdown_error", zap.Error(serr))
	}
	stopRelay()
	if relay != nil {
		relay.Wait()
		if n := relay.Dropped(); n > 0 {
			obslog.L().Warn("relay_dropped", zap.Int64("count", n))
		}
	}
	return err
}
