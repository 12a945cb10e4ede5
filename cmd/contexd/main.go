// Command contexd runs the Context Engine as a long-lived process: it
// wires the event log, vector/keyword indexes, matcher, registry, and
// dispatcher to durable Postgres/Redis backends (or in-memory stores when
// none are configured), starts the degradation controller and maintenance
// jobs, and blocks until terminated.
//
// The HTTP API surface, authentication, and rate limiting that front this
// process are out of scope here (spec non-goals) and are expected to be a
// separate process embedding this package.
package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cahoots-org/contex/internal/config"
	"github.com/cahoots-org/contex/internal/degradation"
	"github.com/cahoots-org/contex/internal/dispatcher"
	"github.com/cahoots-org/contex/internal/embedding"
	"github.com/cahoots-org/contex/internal/engine"
	"github.com/cahoots-org/contex/internal/eventlog"
	"github.com/cahoots-org/contex/internal/jobs"
	"github.com/cahoots-org/contex/internal/keywordindex"
	"github.com/cahoots-org/contex/internal/logging"
	"github.com/cahoots-org/contex/internal/matcher"
	"github.com/cahoots-org/contex/internal/model"
	"github.com/cahoots-org/contex/internal/registry"
	"github.com/cahoots-org/contex/internal/storage"
	"github.com/cahoots-org/contex/internal/vectorindex"
)

func main() {
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve Prometheus metrics on")
	flag.Parse()

	cfg := config.Load()
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, cleanup, err := buildEngine(rootCtx, cfg, log)
	if err != nil {
		log.WithField("error", err.Error()).Fatal("failed to initialize context engine")
	}
	defer cleanup()

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil && err != http.ErrServerClosed {
			log.WithField("error", err.Error()).Warn("metrics server exited")
		}
	}()

	_ = e // consumed by an embedding process (e.g. an HTTP API); here it just runs its background workers

	log.WithField("metrics_addr", *metricsAddr).Info("contexd started")
	<-rootCtx.Done()
	log.Info("shutting down")
}

type cleanupFunc func()

func buildEngine(ctx context.Context, cfg config.Config, log *logging.Logger) (*engine.Engine, cleanupFunc, error) {
	var (
		events    eventlog.Store
		vectors   vectorindex.Index
		registrar registry.Registry
		db        *sqlx.DB
		cleanups  []func()
	)

	baseModel := embedding.NewHashModel()
	cachedModel, err := embedding.NewCachedModel(baseModel, cfg.EmbeddingCacheSize)
	if err != nil {
		return nil, nil, err
	}

	var keywords keywordindex.Index
	if cfg.HybridSearchEnabled {
		bleveIdx, err := keywordindex.NewBleveIndex()
		if err != nil {
			return nil, nil, err
		}
		keywords = bleveIdx
	}

	if cfg.DatabaseURL != "" {
		pgDB, err := storage.Open(ctx, cfg.DatabaseURL, storage.PoolConfig{})
		if err != nil {
			return nil, nil, err
		}
		db = pgDB
		cleanups = append(cleanups, func() { db.Close() })

		events = eventlog.NewPostgresStore(db)
		vectors = vectorindex.NewPostgresIndex(db)
		registrar = registry.NewPostgresRegistry(db)
	} else {
		log.Warn("DATABASE_URL not set, falling back to in-memory storage")
		events = eventlog.NewMemoryStore()
		vectors = vectorindex.NewMemoryIndex()
		registrar = registry.NewMemoryRegistry()
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	cleanups = append(cleanups, func() { redisClient.Close() })

	m := matcher.New(cachedModel, vectors, keywords, matcher.Config{
		SimilarityThreshold: cfg.SimilarityThreshold,
		MaxMatches:          cfg.MaxMatches,
		HybridSearchEnabled: cfg.HybridSearchEnabled,
		BM25Weight:          cfg.BM25Weight,
		KNNWeight:           cfg.KNNWeight,
	})

	httpClient := &http.Client{Timeout: cfg.HTTPClientTimeout}
	deliverers := map[model.DeliveryMode]dispatcher.Deliverer{
		model.DeliveryPubSub: dispatcher.NewPubSubDeliverer(redisClient),
		model.DeliveryWebhook: dispatcher.NewWebhookDeliverer(
			httpClient,
			dispatcher.CircuitConfig{
				FailureThreshold: uint32(cfg.CircuitFailureThreshold),
				CooldownSeconds:  cfg.CircuitCooldownSeconds,
			},
			dispatcher.DefaultRateLimitConfig(),
			cfg.WebhookMaxAttempts,
		),
	}
	d := dispatcher.New(deliverers, log, cfg.DeliveryQueueCapacity)
	cleanups = append(cleanups, d.Shutdown)

	probers := buildProbers(redisClient, cachedModel, db)
	degradationCtrl := degradation.New(probers, cfg.HealthProbeInterval)

	eng := engine.New(events, vectors, keywords, registrar, m, d, degradationCtrl, log, engine.Config{
		DecompositionMaxDepth: cfg.DecompositionMaxDepth,
		SimilarityThreshold:   cfg.SimilarityThreshold,
		MaxMatches:            cfg.MaxMatches,
	})

	degradationCtrl.Start(ctx)
	cleanups = append(cleanups, degradationCtrl.Stop)

	scheduler := jobs.New(log)
	if err := scheduler.AddIdleRegistrationGC(registrar, time.Duration(cfg.AgentIdleExpiryDays)*24*time.Hour); err != nil {
		return nil, nil, err
	}
	if sweeper, ok := events.(jobs.RetentionSweeper); ok {
		if err := scheduler.AddEventRetentionSweep(sweeper, time.Duration(cfg.EventRetentionDays)*24*time.Hour); err != nil {
			return nil, nil, err
		}
	}
	scheduler.Start()
	cleanups = append(cleanups, scheduler.Stop)

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	return eng, cleanup, nil
}

// buildProbers wires one Prober per backing dependency with the Impact
// that dependency's failure should have on the degradation state: the
// event log is load-bearing for every publish, so its Postgres probe maps
// to UNAVAILABLE; the vector index only degrades match quality, so its
// probe (same database, distinct logical dependency) maps to DEGRADED,
// same as the cache/broker and embedding model.
func buildProbers(redisClient *redis.Client, model embedding.Model, db *sqlx.DB) []degradation.Prober {
	probers := []degradation.Prober{
		&degradation.RedisProbe{Client: redisClient},
		&degradation.EmbeddingProbe{Model: model},
		&degradation.ResourceProbe{},
	}
	if db != nil {
		probers = append(probers,
			&degradation.PostgresProbe{DB: db, Dependency: "event_log", ImpactLevel: degradation.StateUnavailable},
			&degradation.PostgresProbe{DB: db, Dependency: "vector_index", ImpactLevel: degradation.StateDegraded},
		)
	}
	return probers
}
