package main

import (
	"context"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"epochdex/config"
	"epochdex/infra/kafka"
	"epochdex/infra/metrics"
	"epochdex/infra/store"
	"epochdex/infra/wal"
	"epochdex/jobs/broadcaster"
	"epochdex/jobs/epoch"
	"epochdex/jobs/ingest"
	"epochdex/pkg/logger"
	"epochdex/service"
	"epochdex/snapshot"
)

func serve(args []string) error {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---------------- Storage ----------------

	st, err := store.Open(cfg.Store.Dir, nil, log.Named("store"))
	if err != nil {
		return err
	}
	defer st.Close()

	journal, err := wal.Open(wal.Config{
		Dir:         cfg.WAL.Dir,
		SegmentSize: cfg.WAL.SegmentSize,
		Sync:        cfg.WAL.Sync,
	}, log.Named("wal"))
	if err != nil {
		return err
	}
	defer journal.Close()

	// ---------------- Service ----------------

	m := metrics.New()
	svc, err := service.Open(service.Deps{
		Store:      st,
		WAL:        journal,
		Metrics:    m,
		Log:        log.Named("service"),
		MaxRetries: cfg.Events.MaxRetries,
	})
	if err != nil {
		return err
	}

	// ---------------- Background jobs ----------------

	// Jobs touch the store, so they are joined before the deferred closes.
	var jobs sync.WaitGroup
	spawn := func(run func(context.Context)) {
		jobs.Add(1)
		go func() {
			defer jobs.Done()
			run(ctx)
		}()
	}

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(m), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", zap.Error(err))
			}
		}()
		defer func() {
			shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdown)
		}()
	}

	pub, err := publisher(cfg.Events)
	if err != nil {
		return err
	}
	if pub != nil {
		bc := broadcaster.New(svc.Outbox(), pub, broadcaster.Config{
			TradeTopic:    cfg.Events.TradeTopic,
			TransferTopic: cfg.Events.TransferTopic,
			Interval:      cfg.Events.Interval,
			BatchSize:     cfg.Events.BatchSize,
		}, m, log.Named("broadcaster"))
		defer bc.Close()
		spawn(bc.Run)
	}

	sw := &snapshot.Writer{Dir: cfg.Snapshot.Dir, Keep: 3}
	spawn(func(ctx context.Context) { svc.RunSnapshotJob(ctx, sw, cfg.Snapshot.Interval) })

	if cfg.Epoch.Interval > 0 && !cfg.Ingest.Enabled {
		spawn(epoch.New(svc, cfg.Epoch.Interval, log.Named("epoch")).Run)
	}

	log.Info("node running",
		zap.String("data_dir", cfg.DataDir),
		zap.String("events", cfg.Events.Driver),
		zap.Bool("ingest", cfg.Ingest.Enabled),
	)

	var runErr error
	if cfg.Ingest.Enabled {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Ingest.Brokers,
			Topic:   cfg.Ingest.Topic,
			GroupID: cfg.Ingest.Group,
		})
		defer r.Close()
		runErr = ingest.New(svc, r, log.Named("ingest")).Run(ctx)
	} else {
		<-ctx.Done()
	}

	stop()
	jobs.Wait()

	if _, err := svc.WriteSnapshot(sw); err != nil {
		log.Warn("final snapshot failed", zap.Error(err))
	}
	log.Info("node stopped", zap.Error(runErr))
	return runErr
}

func metricsMux(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

func publisher(cfg config.EventsConfig) (kafka.Publisher, error) {
	switch cfg.Driver {
	case config.DriverSarama:
		return kafka.NewSaramaPublisher(cfg.Brokers, cfg.ClientID)
	case config.DriverKafkaGo:
		return kafka.NewProducer(cfg.Brokers), nil
	default:
		return nil, nil
	}
}
