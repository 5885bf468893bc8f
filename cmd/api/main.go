package main

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/Furkan-rgb/loltimeanalysis/internal/api"
	"github.com/Furkan-rgb/loltimeanalysis/internal/app/status"
	"github.com/Furkan-rgb/loltimeanalysis/internal/app/trigger"
	"github.com/Furkan-rgb/loltimeanalysis/internal/config"
	"github.com/Furkan-rgb/loltimeanalysis/internal/infra/eventbus"
	"github.com/Furkan-rgb/loltimeanalysis/internal/infra/eventbus/kafka"
	redisstore "github.com/Furkan-rgb/loltimeanalysis/internal/infra/storage/redis"
	"github.com/Furkan-rgb/loltimeanalysis/pkg/common/logger"
	"github.com/Furkan-rgb/loltimeanalysis/pkg/common/otel"
)

var build = "develop"

const serviceType = "api"

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

	svcName := fmt.Sprintf("API-%s", hostname)
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
		ExcludedRoutes: map[string]struct{}{
			"/v1/readiness": {},
			"/v1/health":    {},
		},
		Probability: cfg.Otel.Probability,
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
	// Coordination store and event bus

	redisClient, err := redisstore.Connect(ctx, redisstore.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, log)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer redisClient.Close()

	brokerMetrics := kafka.NewPrometheusMetrics("api")
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

	// -------------------------------------------------------------------------
	// Services

	lease := redisstore.NewLease(redisClient)
	cooldown := redisstore.NewCooldownGate(redisClient)
	aggStore := redisstore.NewAggregationStore(redisClient)
	results := redisstore.NewResultStore(redisClient)
	errStore := redisstore.NewErrorStore(redisClient)

	publisher := eventbus.NewDomainPublisher(bus)
	triggerSvc := trigger.NewService(lease, cooldown, errStore, publisher, cfg.Job.LeaseTTL, log, tracer)
	statusReader := status.NewReader(cooldown, aggStore, lease, results, errStore)

	server := api.NewServer(cfg.HTTPAddr, log, tracer, triggerSvc, statusReader, results)

	// -------------------------------------------------------------------------
	// Run until shutdown

	serveCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info(ctx, "startup", "status", "api started", "addr", cfg.HTTPAddr)
	return server.Start(serveCtx)
}
