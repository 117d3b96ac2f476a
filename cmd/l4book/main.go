package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"l4book/internal/feed"
	"l4book/internal/ingest"
	"l4book/internal/obs"
	"l4book/internal/ops"
	"l4book/internal/recorder"
	"l4book/internal/sampler"
	"l4book/pkg/conn"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		logs.Errorf("l4book: %+v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to JSON config (optional)")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		return err
	}

	if cfg.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Profiling.AppName,
			ServerAddress:   cfg.Profiling.ServerAddress,
			Tags:            map[string]string{"feed": cfg.Feed.Kind},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return err
		}
		defer func() { _ = profiler.Stop() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		select {
		case <-sys.Shutdown():
			stop()
		case <-ctx.Done():
		}
	}()

	var source feed.Source
	manager := ingest.NewManager(ingest.Option{
		Coins:          cfg.Feed.Coins,
		QueueSize:      cfg.Book.QueueSize,
		StrictSequence: cfg.Book.StrictSequence,
		OnResync: func(coin string) {
			r, ok := source.(feed.Resyncer)
			if !ok {
				return
			}
			if err := r.Resync(coin); err != nil {
				logs.Warnf("resync %s failed, err: %+v", coin, err)
			}
		},
	})
	defer manager.Close()

	source, err = newSource(cfg, func() {
		if err := manager.ResetAll(ctx); err != nil {
			logs.Warnf("reset books after disconnect, err: %+v", err)
		}
	})
	if err != nil {
		return err
	}
	defer source.Close()

	var tap feed.Tap
	if cfg.Recorder.Dir != "" {
		rc := recorder.DefaultConfig(cfg.Recorder.Dir)
		rc.FilePrefix = cfg.Recorder.Prefix
		writer, err := recorder.NewWriter(rc)
		if err != nil {
			return err
		}
		if err := writer.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := writer.Close(); err != nil {
				logs.Errorf("close recorder, err: %+v", err)
			}
			logs.Infof("recorder: written %d, dropped %d", writer.Written(), writer.Dropped())
		}()
		tap = func(recvTs int64, raw []byte) {
			_ = writer.TryAppend(recvTs, raw)
		}
		logs.Infof("recording raw messages to %s", cfg.Recorder.Dir)
	}

	if cfg.Metrics.Addr != "" {
		srv, err := newMetricsServer(cfg, manager)
		if err != nil {
			return err
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logs.Errorf("metrics server, err: %+v", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		logs.Infof("metrics listening on %s", cfg.Metrics.Addr)
	}

	sinks := []sampler.Sink{sampler.LogSink{}}
	if cfg.PostgresEnabled() {
		client, err := conn.New(cfg.PostgresOption())
		if err != nil {
			return err
		}
		defer client.Close()
		if err := client.Ping(ctx); err != nil {
			return err
		}
		if err := client.Migrate(&sampler.BookSample{}); err != nil {
			return err
		}
		sink, err := sampler.NewPostgresSink(client.DB(), false)
		if err != nil {
			return err
		}
		sinks = append(sinks, sink)
	}
	smp := sampler.New(manager, sampler.Option{
		Interval: cfg.Sampler.Interval.Std(),
		Levels:   cfg.Sampler.Levels,
	}, sinks...)
	go smp.Run(ctx)

	logs.Infof("l4book started, feed: %s, coins: %v", cfg.Feed.Kind, cfg.Feed.Coins)

	errCh := make(chan error, 1)
	go func() {
		errCh <- source.Run(ctx, feed.WithTap(manager.Handle, tap))
	}()

	select {
	case <-ctx.Done():
		logs.Info("shutting down")
		_ = source.Close()
		<-errCh
	case err := <-errCh:
		if err != nil {
			return err
		}
		logs.Info("feed finished")
	}

	for _, s := range smp.Collect() {
		logs.Info(sampler.FormatSample(s))
	}
	st := manager.Stats()
	logs.Infof("ingest: received %d, decode errors %d, ignored %d, resyncs %d",
		st.Received, st.DecodeErrors, st.Ignored, st.Resyncs)
	return nil
}

// newSource builds the configured feed. onDisconnect runs when a live
// connection dropped and its books can no longer be trusted.
func newSource(cfg ops.Config, onDisconnect func()) (feed.Source, error) {
	kind, err := feed.ParseKind(cfg.Feed.Kind)
	if err != nil {
		return nil, err
	}

	switch kind {
	case feed.KindKafka:
		return feed.NewKafka(feed.KafkaOption{
			Brokers: cfg.Feed.KafkaBrokers,
			Topic:   cfg.Feed.KafkaTopic,
			GroupID: cfg.Feed.KafkaGroup,
		})
	case feed.KindFile:
		return feed.NewFile(recorder.PlaybackConfig{
			Dir:        cfg.Feed.ReplayDir,
			FilePrefix: cfg.Feed.ReplayPrefix,
			Speed:      cfg.Feed.ReplaySpeed,
		})
	default:
		return feed.NewWebSocket(feed.WebSocketOption{
			URL:          cfg.Feed.URL,
			Coins:        cfg.Feed.Coins,
			OnDisconnect: onDisconnect,
		})
	}
}

func newMetricsServer(cfg ops.Config, manager *ingest.Manager) (*http.Server, error) {
	ingestCounter := func(name, help string, value func(ingest.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "l4book",
			Subsystem: "ingest",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value(manager.Stats())) })
	}

	reg, err := obs.NewRegistry(
		obs.NewBookCollector(manager, cfg.Sampler.Levels),
		ingestCounter("received_total", "Raw messages handed to the ingest manager.",
			func(s ingest.Stats) uint64 { return s.Received }),
		ingestCounter("decode_errors_total", "Messages dropped because they could not be decoded.",
			func(s ingest.Stats) uint64 { return s.DecodeErrors }),
		ingestCounter("ignored_total", "Messages for coins outside the allow-list.",
			func(s ingest.Stats) uint64 { return s.Ignored }),
		ingestCounter("resyncs_total", "Resyncs requested after a sequence gap.",
			func(s ingest.Stats) uint64 { return s.Resyncs }),
	)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler(reg))
	return &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}, nil
}
