package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/health/grpc_health_v1"

	"stockbroker/api/grpcserver"
	"stockbroker/api/pb"
	"stockbroker/config"
	"stockbroker/infra/kafka"
	"stockbroker/infra/logging"
	"stockbroker/infra/metrics"
	"stockbroker/infra/outbox"
	"stockbroker/infra/tracing"
	"stockbroker/jobs/broadcaster"
	"stockbroker/service"
)

const shutdownGrace = 5 * time.Second

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWith(v, cfgFile)
	if err != nil {
		return err
	}
	log := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	// ---------------- Metrics ----------------

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// ---------------- Tracing ----------------

	tracer, err := tracing.NewProvider(cmd.Context(), cfg.Tracing)
	if err != nil {
		return err
	}

	// ---------------- Outbox ----------------

	box, err := openOutbox(cfg.Outbox)
	if err != nil {
		return err
	}
	defer box.Close()

	lastSeq, err := box.LastSeq()
	if err != nil {
		return errors.Wrap(err, "outbox: last sequence")
	}

	// ---------------- Service ----------------

	svc := service.NewBrokerService(
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithJournal(box, lastSeq),
		service.WithIdempotencyWindow(cfg.Idempotency.Window),
		service.WithTracer(tracer.Tracer()),
	)
	if err := service.RegisterDefaultFactories(svc); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------- Broadcaster ----------------

	relay, err := newBroadcaster(cfg.Events, box, log)
	if err != nil {
		return err
	}

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.GRPC.Addr)
	}
	grpcSrv, health := grpcserver.New(grpcserver.NewServer(svc, log), log)

	metricsSrv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           metricsMux(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("grpc listening", "addr", lis.Addr().String())
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		log.Info("metrics listening", "addr", cfg.Metrics.Addr)
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if relay != nil {
		g.Go(func() error {
			relay.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		health.SetServingStatus(pb.ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		grpcSrv.GracefulStop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if err != nil {
		log.Error("server stopped", "err", err)
	}

	// ---------------- Shutdown ----------------

	svc.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if relay != nil {
		if n, derr := relay.DrainOnce(shutdownCtx); derr != nil {
			log.Warn("final drain failed", "err", derr)
		} else {
			log.Info("final drain", "acked", n)
		}
		if cerr := relay.Close(); cerr != nil {
			log.Warn("publisher close failed", "err", cerr)
		}
	}
	if terr := tracer.Shutdown(shutdownCtx); terr != nil {
		log.Warn("tracer shutdown failed", "err", terr)
	}

	if leaked := svc.Outstanding(); leaked != 0 {
		log.Error("orders not released at shutdown", "outstanding", leaked)
	}
	return err
}

func openOutbox(cfg config.Outbox) (*outbox.Outbox, error) {
	if cfg.Dir == "" {
		return outbox.OpenInMemory()
	}
	return outbox.Open(cfg.Dir)
}

// newBroadcaster returns nil when events are not published.
func newBroadcaster(cfg config.Events, box *outbox.Outbox, log *slog.Logger) (*broadcaster.Broadcaster, error) {
	var pub broadcaster.Publisher
	switch cfg.Driver {
	case config.DriverSarama:
		p, err := broadcaster.NewSaramaPublisher(cfg.Brokers, cfg.Topic)
		if err != nil {
			return nil, err
		}
		pub = p
	case config.DriverKafkaGo:
		pub = kafka.NewProducer(cfg.Brokers, cfg.Topic)
	default:
		log.Info("event publishing disabled")
		return nil, nil
	}

	return broadcaster.New(box, pub, broadcaster.Config{
		Interval:   cfg.Interval,
		BatchSize:  cfg.BatchSize,
		MaxRetries: cfg.MaxRetries,
	}, log), nil
}

func metricsMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
