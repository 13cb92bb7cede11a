package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/Clark-Hu/bp-ratings/db"
	"github.com/Clark-Hu/bp-ratings/internal/chain"
	"github.com/Clark-Hu/bp-ratings/internal/config"
	"github.com/Clark-Hu/bp-ratings/internal/eligibility"
	httpserver "github.com/Clark-Hu/bp-ratings/internal/http"
	"github.com/Clark-Hu/bp-ratings/internal/memstore"
	"github.com/Clark-Hu/bp-ratings/internal/metrics"
	"github.com/Clark-Hu/bp-ratings/internal/ratings"
	"github.com/Clark-Hu/bp-ratings/internal/repository"
	"github.com/Clark-Hu/bp-ratings/internal/scheduler"
	"github.com/Clark-Hu/bp-ratings/internal/store"
	"github.com/Clark-Hu/bp-ratings/internal/telemetry"
)

const serviceName = "bp-ratings"

// registry is the producer directory the gate reads and the syncer writes.
type registry interface {
	eligibility.ProducerDirectory
	chain.ProducerWriter
	httpserver.ProducerLister
}

type backend interface {
	ratings.Store
	httpserver.HealthChecker
}

func main() {
	_ = godotenv.Load(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := log.New(os.Stdout, "[bp-ratings] ", log.LstdFlags|log.Lshortfile)

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var (
		data      backend
		producers registry
	)
	switch cfg.Storage {
	case config.StorageMemory:
		logger.Println("storage: in-memory, ratings are lost on restart")
		data = memstore.New()
		producers = eligibility.NewMemoryRegistry()
	default:
		st, err := openStore(ctx, cfg, logger)
		if err != nil {
			log.Fatalf("connect database: %v", err)
		}
		defer st.Close()
		metrics.RegisterPoolStats(reg, st.Stats)

		repo := repository.New(st)
		data = repo
		producers = repo.Producers
	}

	chainClient, err := chain.NewHTTPClient(cfg.ChainAPIURL, chain.Options{
		Timeout:           time.Duration(cfg.ChainTimeoutSecs) * time.Second,
		RequestsPerSecond: cfg.ChainRPS,
		Logger:            logger,
	})
	if err != nil {
		log.Fatalf("init chain client: %v", err)
	}

	engine := ratings.New(data, eligibility.New(producers, chainClient), cfg.AdminAccount,
		ratings.WithLimits(ratings.Limits{
			MinScore:  cfg.MinScore,
			MaxScore:  cfg.MaxScore,
			MinVoters: uint32(cfg.MinVoters),
		}),
		ratings.WithLogger(logger),
		ratings.WithRecorder(metrics.NewCollector(reg)),
	)
	syncer := chain.NewSyncer(chainClient, producers, logger)

	jobs, err := scheduler.New(logger,
		scheduler.Job{Name: "sync-producers", Cron: cfg.SyncCron, Run: func(ctx context.Context) error {
			_, err := syncer.Sync(ctx)
			return err
		}},
		scheduler.Job{Name: "purge-inactive", Cron: cfg.PurgeCron, Run: func(ctx context.Context) error {
			_, err := engine.PurgeInactiveTargets(ctx, cfg.AdminAccount)
			return err
		}},
	)
	if err != nil {
		log.Fatalf("init scheduler: %v", err)
	}

	// A failed first sync is not fatal: the registry may already hold rows
	// from an earlier run and the scheduler retries on its next tick.
	if err := jobs.RunNow(ctx, "sync-producers"); err != nil {
		logger.Printf("initial producer sync failed: %v", err)
	}

	server := httpserver.New(cfg, data, engine, syncer, producers, reg, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		return jobs.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
		log.Printf("server error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("graceful shutdown error: %v", err)
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *log.Logger) (*store.Store, error) {
	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	st, err := store.New(dbCtx, cfg.DBURL, store.Options{
		MaxConns:               int32(cfg.DBMaxConns),
		MinConns:               int32(cfg.DBMinConns),
		MaxConnIdleTime:        time.Duration(cfg.DBMaxIdleSecs) * time.Second,
		MaxConnLifetime:        time.Duration(cfg.DBMaxLifeSecs) * time.Second,
		ConnTimeout:            time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
		StatementCacheCapacity: cfg.DBStatementCache,
		Logger:                 logger,
	})
	if err != nil {
		return nil, err
	}
	if cfg.DBAutoMigrate {
		if _, err := st.Migrate(dbCtx, db.Migrations); err != nil {
			st.Close()
			return nil, err
		}
	}
	return st, nil
}
