package main

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/Furkan-rgb/loltimeanalysis/internal/app/orchestration"
	"github.com/Furkan-rgb/loltimeanalysis/internal/app/pipeline"
	"github.com/Furkan-rgb/loltimeanalysis/internal/config"
	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/events"
	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/matchhistory"
	"github.com/Furkan-rgb/loltimeanalysis/internal/infra/eventbus"
	"github.com/Furkan-rgb/loltimeanalysis/internal/infra/eventbus/kafka"
	redisstore "github.com/Furkan-rgb/loltimeanalysis/internal/infra/storage/redis"
	"github.com/Furkan-rgb/loltimeanalysis/internal/infra/upstream/riot"
	"github.com/Furkan-rgb/loltimeanalysis/pkg/common"
	"github.com/Furkan-rgb/loltimeanalysis/pkg/common/logger"
	"github.com/Furkan-rgb/loltimeanalysis/pkg/common/otel"
)

var build = "develop"

const serviceType = "worker"

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		stdlog.Fatalf("failed to get hostname: %v", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("WORKER-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
		"build":    build,
	}

	log := logger.NewWithMetadata(os.Stdout, logger.LevelInfo, svcName, traceIDFn, logEvents, metadata)

	ctx := context.Background()
	if err := run(ctx, log, hostname); err != nil {
		log.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, hostname string) error {
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// -------------------------------------------------------------------------
	// Tracing

	traceProvider, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.ServiceName,
		ExporterEndpoint: cfg.Otel.ExporterEndpoint,
		ExcludedRoutes:   map[string]struct{}{},
		Probability:      cfg.Otel.Probability,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostname,
		},
		InsecureExporter: cfg.Otel.Insecure,
	})
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer teardown(ctx)
	tracer := traceProvider.Tracer(cfg.ServiceName)

	// -------------------------------------------------------------------------
	// Health and metrics

	ready := &atomic.Bool{}
	healthServer := common.NewHealthServer(ready)
	go func() {
		if err := healthServer.Server().ListenAndServe(); err != nil {
			log.Error(ctx, "health server stopped", "error", err)
		}
	}()
	go func() {
		if err := common.RunMetricsServer(":9090"); err != nil {
			log.Error(ctx, "metrics server stopped", "error", err)
		}
	}()

	// -------------------------------------------------------------------------
	// Coordination store, event bus, upstream client

	redisClient, err := redisstore.Connect(ctx, redisstore.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, log)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer redisClient.Close()

	brokerMetrics := kafka.NewPrometheusMetrics("worker")
	bus, err := kafka.ConnectWithRetry(&kafka.Config{
		Brokers:          cfg.Kafka.BrokerList(),
		JobTopic:         cfg.Kafka.JobTopic,
		UnitTopic:        cfg.Kafka.UnitTopic,
		AggregationTopic: cfg.Kafka.AggregationTopic,
		GroupID:          cfg.Kafka.GroupID,
		ClientID:         fmt.Sprintf("%s-%s", cfg.Kafka.ClientID, hostname),
	}, log, brokerMetrics, tracer)
	if err != nil {
		return fmt.Errorf("connecting to kafka: %w", err)
	}
	defer bus.Close()

	upstream := riot.NewClient(riot.Config{
		APIKey:     cfg.Riot.APIKey,
		Timeout:    cfg.Riot.Timeout,
		RetryCount: cfg.Riot.RetryCount,
		LocalRPS:   cfg.Riot.LocalRPS,
	}, log, tracer)

	// -------------------------------------------------------------------------
	// Stores and services

	lease := redisstore.NewLease(redisClient)
	cooldown := redisstore.NewCooldownGate(redisClient)
	gate := redisstore.NewRateLimiter(redisClient, redisstore.RateLimiterConfig{
		Interval: cfg.Job.RequestInterval,
		Poll:     cfg.Job.AdmissionPoll,
		MaxWait:  cfg.Job.AdmissionMaxWait,
	})
	aggStore := redisstore.NewAggregationStore(redisClient)
	partials := redisstore.NewPartialResultStore(redisClient)
	results := redisstore.NewResultStore(redisClient)
	errStore := redisstore.NewErrorStore(redisClient)
	finalizer := redisstore.NewJobFinalizer(redisClient)
	publisher := eventbus.NewDomainPublisher(bus)

	switch cfg.Job.ExecutionMode {
	case config.ModeWorkflow:
		orch := orchestration.NewOrchestrator(
			upstream, lease, cooldown, gate, aggStore, partials, results, errStore, finalizer,
			orchestration.Config{
				GamesToFetch:   cfg.Job.GamesToFetch,
				Workers:        cfg.Job.Workers,
				LeaseTTL:       cfg.Job.LeaseTTL,
				RenewInterval:  cfg.Job.RenewInterval,
				AggregationTTL: cfg.Job.AggregationTTL,
				PartialTTL:     cfg.Job.PartialTTL,
				CacheTTL:       cfg.Job.CacheTTL,
				Cooldown:       cfg.Job.Cooldown,
				ErrorTTL:       cfg.Job.ErrorTTL,
			}, log, tracer)

		handler := func(hctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
			job, ok := evt.Payload.(matchhistory.FetchJobRequestedEvent)
			if !ok {
				ack(nil)
				return fmt.Errorf("unexpected payload type %T for %s", evt.Payload, evt.Type)
			}
			if err := orch.RunLeased(hctx, job.Player); err != nil {
				log.Error(hctx, "Workflow run failed", "player_id", job.Player.ID(), "error", err)
			}
			// Outcomes are recorded in the store either way; redelivering
			// the job would collide with its own cooldown or error state.
			ack(nil)
			return nil
		}
		if err := bus.Subscribe(ctx, []events.EventType{matchhistory.EventTypeFetchJobRequested}, handler); err != nil {
			return fmt.Errorf("subscribing workflow handler: %w", err)
		}

	case config.ModeQueue:
		pipeCfg := pipeline.Config{
			GamesToFetch:   cfg.Job.GamesToFetch,
			AggregationTTL: cfg.Job.AggregationTTL,
			PartialTTL:     cfg.Job.PartialTTL,
			CacheTTL:       cfg.Job.CacheTTL,
			Cooldown:       cfg.Job.Cooldown,
			ErrorTTL:       cfg.Job.ErrorTTL,
		}

		dispatcher := pipeline.NewDispatcher(upstream, gate, aggStore, finalizer, publisher, pipeCfg, log, tracer)
		executor := pipeline.NewUnitExecutor(upstream, gate, aggStore, partials, publisher, pipeCfg, log, tracer)
		aggregator := pipeline.NewAggregator(partials, results, finalizer, pipeCfg, log, tracer)

		if err := bus.Subscribe(ctx,
			[]events.EventType{matchhistory.EventTypeFetchJobRequested}, dispatcher.HandleFetchJobRequested); err != nil {
			return fmt.Errorf("subscribing dispatcher: %w", err)
		}
		if err := bus.Subscribe(ctx,
			[]events.EventType{matchhistory.EventTypeFetchUnitRequested}, executor.HandleFetchUnitRequested); err != nil {
			return fmt.Errorf("subscribing unit executor: %w", err)
		}
		if err := bus.Subscribe(ctx,
			[]events.EventType{matchhistory.EventTypeAggregationRequested}, aggregator.HandleAggregationRequested); err != nil {
			return fmt.Errorf("subscribing aggregator: %w", err)
		}
	}

	ready.Store(true)
	log.Info(ctx, "startup", "status", "worker started", "mode", cfg.Job.ExecutionMode)

	// -------------------------------------------------------------------------
	// Run until shutdown

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ready.Store(false)
	log.Info(ctx, "shutdown", "status", "worker stopping")
	return nil
}
