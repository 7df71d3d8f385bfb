// Command moonvillage serves werewolf sessions over websockets.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"moonvillage/internal/auth"
	"moonvillage/internal/engine"
	"moonvillage/internal/hub"
	"moonvillage/internal/logging"
	"moonvillage/internal/presence"
	"moonvillage/internal/store"
	"moonvillage/internal/storyteller"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	al, err := logging.New(cfg.logConfig(), os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to initialize logger:", err)
		os.Exit(1)
	}
	defer al.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	al.Debug("config", "db=%s presence=%t storyteller=%q dev=%t", cfg.DB, cfg.RedisAddr != "", cfg.StorytellerProvider, cfg.Dev)
	if err := run(ctx, cfg, al); err != nil {
		al.Error("server", err)
		al.Close()
		os.Exit(1)
	}
}

// openGateway returns the store selected by dsn and a function releasing it.
func openGateway(ctx context.Context, dsn string) (store.Gateway, func() error, error) {
	if dsn == "memory" {
		return store.NewMemory(), func() error { return nil }, nil
	}
	db, err := store.OpenSQLite(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return db, db.Close, nil
}

// openPresence connects the redis mirror, or returns a no-op one when no address is set.
func openPresence(ctx context.Context, cfg AppConfig, log zerolog.Logger) (engine.Presence, func() error, error) {
	if cfg.RedisAddr == "" {
		return presence.Nop{}, func() error { return nil }, nil
	}
	r, err := presence.NewRedis(ctx, cfg.RedisAddr, cfg.PresenceTTL)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("presence mirror enabled")
	return r, r.Close, nil
}

// run wires the server and blocks until ctx is cancelled or the listener fails.
func run(ctx context.Context, cfg AppConfig, al *logging.AppLogger) error {
	log := al.Logger()
	if !cfg.Dev {
		gin.SetMode(gin.ReleaseMode)
	}

	gw, closeGateway, err := openGateway(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer closeGateway()

	pres, closePresence, err := openPresence(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open presence: %w", err)
	}
	defer closePresence()

	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)
	deps := engine.Deps{
		Gateway:   gw,
		Tokens:    tokens,
		Passwords: auth.NewPasswords(cfg.BcryptCost),
		Scheduler: engine.WallClock(),
		Presence:  pres,
		Logger:    al.With("engine"),
	}
	teller, err := storyteller.New(ctx, cfg.storytellerConfig(), al.With("storyteller"))
	if err != nil {
		log.Warn().Err(err).Msg("storyteller disabled")
	} else if teller != nil {
		deps.Storyteller = teller
	}

	eng := engine.New(deps, cfg.engineOptions())
	defer eng.Close()

	h := hub.New(eng, al, hub.Options{AllowedOrigins: cfg.AllowedOrigins})
	h.Start()
	defer h.Stop()

	var devIssuer hub.TokenIssuer
	if cfg.Dev {
		devIssuer = tokens
		log.Warn().Msg("dev mode: POST /api/dev/token issues tokens for any user")
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.Router(tokens, devIssuer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Str("db", cfg.DB).Msg("server starting")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
