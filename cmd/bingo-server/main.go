package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"bingo-coordinator/internal/app/play"
	"bingo-coordinator/internal/audit"
	"bingo-coordinator/internal/auth"
	"bingo-coordinator/internal/bingo"
	"bingo-coordinator/internal/config"
	"bingo-coordinator/internal/events"
	"bingo-coordinator/internal/ledger"
	"bingo-coordinator/internal/logging"
	"bingo-coordinator/internal/notify"
	"bingo-coordinator/internal/reservation"
	"bingo-coordinator/internal/session"
	"bingo-coordinator/internal/store"
	httptransport "bingo-coordinator/internal/transport/http"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// backend is satisfied by both the Postgres store and the in-memory store.
type backend interface {
	session.Repository
	reservation.CardRepository
	ledger.Accounts
	audit.Repository
	play.Records
	Ping(ctx context.Context) error
	EnsureCards(ctx context.Context, count int) error
}

func main() {
	cfg, err := config.LoadApp()
	if err != nil {
		panic(err)
	}
	if err := logging.Init(cfg.Log); err != nil {
		panic(err)
	}
	defer logging.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(ctx context.Context, cfg config.AppConfig) error {
	srv := cfg.Server
	db, closeDB, err := openBackend(ctx, srv)
	if err != nil {
		return err
	}
	defer closeDB()
	if err := db.Ping(ctx); err != nil {
		return err
	}
	if err := db.EnsureCards(ctx, srv.CardCount); err != nil {
		return err
	}

	producer := events.NewProducer(srv.KafkaBrokers, srv.KafkaEnabled)
	defer producer.Close()
	sink := audit.NewSink(db, producer, srv.AuditQueueSize)
	sink.Start()
	defer sink.Close()

	cards, err := reservation.New(ctx, db, sink, reservation.Options{
		HoldTTL:  srv.HoldTTL,
		LockWait: srv.LockWait,
		Retries:  srv.Retries,
	})
	if err != nil {
		return err
	}
	catalog, err := bingo.NewCatalog(srv.CardCount, 256)
	if err != nil {
		return err
	}
	wallet := ledger.New(db, srv.InitialBalance)

	coord := session.New(session.Deps{
		Repo:     db,
		Wallet:   wallet,
		Cards:    cards,
		Notifier: notify.New(producer),
		Layouts:  catalog,
	}, session.Options{
		MinPlayers:      srv.MinPlayers,
		CountdownWindow: srv.CountdownWindow,
		CallInterval:    srv.CallInterval,
		PoolSize:        srv.NumberPool,
		LockWait:        srv.LockWait,
		Retries:         srv.Retries,
		HouseCutPct:     srv.HouseCutPct,
		VerifyClaims:    srv.VerifyClaims,
		Retention:       srv.RoomRetention,
		Stakes:          stakes(cfg.Ruleset),
		Patterns:        patterns(cfg.Ruleset),
	})
	defer coord.Close()
	recovered, err := coord.Recover(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("sessions", recovered).Msg("unfinished sessions settled")

	var verifier *auth.Verifier
	if srv.JWTSecret != "" {
		verifier = auth.NewVerifier(srv.JWTSecret, 24*time.Hour)
	} else {
		log.Warn().Msg("JWT_SECRET not set; trusting userId in requests")
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Play:     play.NewService(cards, coord, catalog, wallet, db, cfg.Ruleset),
		Verifier: verifier,
		AdminKey: srv.AdminAPIKey,
		Health:   db,
	})
	httptransport.LogRoutes(router)

	server := &http.Server{
		Addr:              srv.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	cards.StartReaper(gctx, srv.ReapInterval)
	coord.StartJanitor(gctx, srv.JanitorInterval)
	g.Go(func() error {
		log.Info().Str("addr", srv.HTTPAddr).Bool("kafka", producer.Enabled()).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Msg("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openBackend(ctx context.Context, cfg config.ServerConfig) (backend, func(), error) {
	if cfg.MemoryStore() {
		log.Warn().Msg("using in-memory store; state is lost on restart")
		return store.NewMemory(), func() {}, nil
	}
	if cfg.RunMigrations {
		if err := store.Migrate(cfg.PostgresDSN, cfg.MigrationsPath, 0); err != nil {
			return nil, nil, err
		}
	}
	st, err := store.Open(ctx, cfg.PostgresDSN, cfg.LockWait)
	if err != nil {
		return nil, nil, err
	}
	return st, st.Close, nil
}

func stakes(rs config.Ruleset) []int64 {
	out := make([]int64, 0, len(rs.Stakes))
	for _, s := range rs.Stakes {
		out = append(out, s.Amount)
	}
	return out
}

func patterns(rs config.Ruleset) []bingo.Pattern {
	out := make([]bingo.Pattern, 0, len(rs.Patterns))
	for _, p := range rs.Patterns {
		if bp := bingo.Pattern(p); bp.Valid() {
			out = append(out, bp)
		} else {
			log.Warn().Str("pattern", p).Msg("ignoring unknown pattern in ruleset")
		}
	}
	return out
}
