package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"auditchain/internal/audit/distribution"
	"auditchain/internal/audit/handler"
	"auditchain/internal/audit/hashchain"
	"auditchain/internal/audit/merkle"
	"auditchain/internal/audit/metrics"
	"auditchain/internal/audit/models"
	"auditchain/internal/audit/monitor"
	"auditchain/internal/audit/retention"
	"auditchain/internal/audit/service"
	"auditchain/internal/audit/signing"
	"auditchain/internal/audit/store/memory"
	pgstore "auditchain/internal/audit/store/postgres"
	"auditchain/internal/audit/verifier"
	"auditchain/internal/platform/config"
	"auditchain/internal/platform/httpserver"
	platformmetrics "auditchain/internal/platform/metrics"
	"auditchain/internal/platform/postgres"
	"auditchain/internal/platform/redis"
	"auditchain/pkg/platform/middleware/admin"
)

// entryStore is everything the daemon's components need from primary storage.
type entryStore interface {
	service.Store
	Categories(ctx context.Context) ([]models.Category, error)
	ListExpired(ctx context.Context, category models.Category, before time.Time, after uint64, limit int) ([]models.Entry, error)
	Redact(ctx context.Context, seqs []uint64, redaction models.Redaction) (int, error)
}

type stores struct {
	entries       entryStore
	batches       merkle.BatchStore
	epochs        signing.EpochStore
	policies      retention.PolicyStore
	requests      retention.RequestStore
	confirmations retention.ConfirmationStore
	closers       []func() error
}

func (s *stores) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// openStores picks PostgreSQL when a database URL is configured and memory
// otherwise. Redis, when configured, holds deletion confirmations.
func openStores(ctx context.Context, cfg config.Config, log *slog.Logger) (*stores, error) {
	st := &stores{}

	db, err := postgres.Open(ctx, postgres.Config{
		URL:             cfg.DatabaseURL,
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return nil, err
	}
	if db != nil {
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		st.usePostgres(db)
		log.InfoContext(ctx, "using postgres storage")
	} else {
		st.useMemory()
		log.WarnContext(ctx, "no database configured; entries are kept in memory only")
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		_ = st.close()
		return nil, err
	}
	if rc != nil {
		st.confirmations = retention.NewRedisConfirmationStore(rc.Client, cfg.Retention.ConfirmationTTL)
		st.closers = append(st.closers, rc.Close)
	} else {
		st.confirmations = retention.NewMemoryConfirmationStore()
	}
	return st, nil
}

func (s *stores) usePostgres(db *sql.DB) {
	s.entries = pgstore.NewEntryStore(db)
	s.batches = pgstore.NewBatchStore(db)
	s.epochs = pgstore.NewEpochStore(db)
	s.policies = pgstore.NewPolicyStore(db)
	s.requests = pgstore.NewRequestStore(db)
	s.closers = append(s.closers, db.Close)
}

func (s *stores) useMemory() {
	s.entries = memory.NewInMemoryStore()
	s.batches = merkle.NewMemoryBatchStore()
	s.epochs = signing.NewMemoryEpochStore()
	s.policies = retention.NewMemoryPolicyStore()
	s.requests = retention.NewMemoryRequestStore()
}

// buildDistribution registers one sink per configured destination.
func buildDistribution(ctx context.Context, cfg config.SinksConfig, log *slog.Logger, mt *metrics.Metrics) (*distribution.Manager, []func() error, error) {
	mgr := distribution.New(distribution.WithLogger(log), distribution.WithMetrics(mt))

	sinkCfg := distribution.DefaultSinkConfig()
	sinkCfg.BatchSize = cfg.BatchSize
	sinkCfg.BatchTimeout = cfg.BatchTimeout
	sinkCfg.QueueCapacity = cfg.QueueCapacity
	sinkCfg.MaxRetries = cfg.MaxRetries
	sinkCfg.MaxBackoff = cfg.MaxBackoff
	if cfg.FilterFile != "" {
		rules, err := distribution.LoadFilters(cfg.FilterFile)
		if err != nil {
			return nil, nil, err
		}
		sinkCfg.Rules = rules
	}

	var closers []func() error
	if len(cfg.KafkaBrokers) > 0 {
		ks, err := distribution.NewKafkaSink("kafka", cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		if err := ks.EnsureTopic(ctx, 3, 1); err != nil {
			log.WarnContext(ctx, "could not ensure kafka topic", "topic", cfg.KafkaTopic, "error", err)
		}
		closers = append(closers, func() error { ks.Close(); return nil })
		if err := mgr.AddSink(ks, sinkCfg); err != nil {
			return nil, closers, err
		}
	}
	if cfg.WebhookURL != "" {
		headers := map[string]string{}
		if cfg.WebhookToken != "" {
			headers["Authorization"] = "Bearer " + cfg.WebhookToken
		}
		ws := distribution.NewWebhookSink("webhook", cfg.WebhookURL, headers, &http.Client{Timeout: sinkCfg.SendTimeout})
		if err := mgr.AddSink(ws, sinkCfg); err != nil {
			return nil, closers, err
		}
	}
	if cfg.SyslogAddr != "" {
		ss, err := distribution.NewSyslogSink(ctx, "syslog", cfg.SyslogNetwork, cfg.SyslogAddr)
		if err != nil {
			return nil, closers, err
		}
		closers = append(closers, ss.Close)
		if err := mgr.AddSink(ss, sinkCfg); err != nil {
			return nil, closers, err
		}
	}
	return mgr, closers, nil
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	hasher, err := hashchain.New(hashchain.Algorithm(cfg.HashAlgorithm))
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mt := metrics.New(reg)

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			log.Error("failed to close stores", "error", err)
		}
	}()

	signer := signing.NewService(
		signing.NewLocalProvider(signing.WithEpochStore(st.epochs)),
		signing.WithLogger(log),
		signing.WithMetrics(mt),
	)
	epoch, err := signer.Init(ctx)
	if err != nil {
		return fmt.Errorf("init signing key: %w", err)
	}
	log.InfoContext(ctx, "signing key ready", "key_id", epoch.KeyID)

	acc := merkle.New(hasher, signer, st.batches,
		merkle.WithBatchSize(cfg.MerkleBatchSize),
		merkle.WithFlushInterval(cfg.MerkleFlushEvery),
		merkle.WithLogger(log),
		merkle.WithMetrics(mt),
	)
	tail, err := st.entries.LoadTail(ctx)
	if err != nil {
		return fmt.Errorf("load chain tail: %w", err)
	}
	if err := acc.Recover(ctx, st.entries, tail.Sequence); err != nil {
		return fmt.Errorf("recover merkle batch: %w", err)
	}

	rules := monitor.DefaultRules()
	if cfg.RulesFile != "" {
		if rules, err = monitor.LoadRules(cfg.RulesFile); err != nil {
			return err
		}
	}
	mon, err := monitor.New(rules,
		monitor.WithAlertSink(monitor.SlogAlertSink{Logger: log}),
		monitor.WithLogger(log),
		monitor.WithMetrics(mt),
	)
	if err != nil {
		return err
	}

	retOpts := []retention.Option{
		retention.WithConfirmationStore(st.confirmations),
		retention.WithSigner(signer),
		retention.WithDefaultDays(cfg.Retention.DefaultDays),
		retention.WithMinConfirmations(cfg.Retention.MinConfirmations),
		retention.WithSweepInterval(cfg.Retention.SweepInterval),
		retention.WithSweepLimit(cfg.Retention.SweepLimit),
		retention.WithLogger(log),
		retention.WithMetrics(mt),
	}
	if cfg.Retention.ArchiveDir != "" {
		retOpts = append(retOpts, retention.WithArchiver(retention.NewFileArchiver(cfg.Retention.ArchiveDir)))
	}
	ret := retention.New(st.policies, st.entries, st.requests, retOpts...)

	ver := verifier.New(st.entries, signer, hasher,
		verifier.WithBatches(st.batches, signer),
		verifier.WithRedactions(st.requests),
		verifier.WithConcurrency(cfg.VerifyConcurrency),
		verifier.WithLogger(log),
		verifier.WithMetrics(mt),
	)

	dist, sinkClosers, err := buildDistribution(ctx, cfg.Sinks, log, mt)
	defer func() {
		for _, c := range sinkClosers {
			_ = c()
		}
	}()
	if err != nil {
		return err
	}

	svc, err := service.New(ctx, st.entries, signer,
		service.WithHasher(hasher),
		service.WithAccumulator(acc),
		service.WithMonitor(mon),
		service.WithRetentionPolicies(ret),
		service.WithVerifier(ver),
		service.WithSubscribers(ret, dist),
		service.WithNotifyBuffer(cfg.NotifyBuffer),
		service.WithLogger(log),
		service.WithMetrics(mt),
	)
	if err != nil {
		return err
	}
	adm := service.NewAdmin(svc, signer, ret, ver, acc)
	operators := admin.NewOperatorKeys(cfg.OperatorKeys)

	router := chi.NewRouter()
	router.Use(platformmetrics.NewHTTP(reg).Middleware)
	handler.New(svc, adm, cfg.AdminToken, log,
		handler.WithSinkStats(dist),
		handler.WithOperatorKeys(operators),
		handler.WithTimeout(cfg.RequestTimeout),
	).Register(router)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := httpserver.New(cfg.Addr, router)

	if cfg.AdminToken == "" {
		log.WarnContext(ctx, "no admin token configured; administrative endpoints reject every request")
	}
	if len(operators) == 0 {
		log.WarnContext(ctx, "no operator keys configured; administrative endpoints reject every request")
	}

	g, gctx := errgroup.WithContext(ctx)
	dist.Start(gctx)

	g.Go(func() error { return acc.Run(gctx) })
	g.Go(func() error { return ret.Run(gctx) })
	g.Go(func() error {
		return signing.NewScheduler(signer, cfg.KeyMaxAge, cfg.KeyCheckInterval, log).Run(gctx)
	})
	g.Go(func() error {
		log.InfoContext(gctx, "starting auditd", "addr", cfg.Addr, "chain_tail", svc.Tail().Sequence)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return shutdown(cfg.ShutdownTimeout, log, srv, svc, dist, acc)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// shutdown stops intake first so the notifier and sinks can drain a fixed
// set of entries, then seals the open Merkle batch.
func shutdown(timeout time.Duration, log *slog.Logger, srv *http.Server, svc *service.Service, dist *distribution.Manager, acc *merkle.Accumulator) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := svc.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain notifications: %w", err))
	}
	if err := dist.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := acc.SealNow(ctx); err != nil {
		errs = append(errs, fmt.Errorf("seal merkle batch: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		log.Error("shutdown incomplete", "error", err)
		return err
	}
	return nil
}
