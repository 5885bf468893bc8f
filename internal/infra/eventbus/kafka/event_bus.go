// Package kafka provides a Kafka-based implementation of the event bus for
// asynchronous messaging between the API service and the fetch workers.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/events"
	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/matchhistory"
	"github.com/Furkan-rgb/loltimeanalysis/internal/infra/eventbus/kafka/tracing"
	"github.com/Furkan-rgb/loltimeanalysis/internal/infra/eventbus/serialization"
	"github.com/Furkan-rgb/loltimeanalysis/pkg/common/logger"
)

// BrokerMetrics defines metrics operations needed to monitor Kafka message
// handling.
type BrokerMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncMessageConsumed(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
	IncConsumeError(ctx context.Context, topic string)
}

// Config contains settings for connecting to and interacting with Kafka
// brokers. It defines the topics, consumer group, and client identifiers
// needed for message routing.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string

	// JobTopic carries fetch job dispatch requests (one per player update).
	JobTopic string
	// UnitTopic carries the fanned-out per-match fetch units.
	UnitTopic string
	// AggregationTopic carries the single fan-in trigger per job.
	AggregationTopic string

	// GroupID identifies the consumer group for this broker instance.
	GroupID string
	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string
}

var _ events.EventBus = (*EventBus)(nil)

// EventBus implements the events.EventBus interface using Kafka as the
// underlying message broker. Messages are keyed by player id so everything
// belonging to one player lands on the same partition and is consumed in
// order by a single group member.
type EventBus struct {
	producer      sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup

	// Maps domain event types to Kafka topic names.
	topics map[events.EventType]string

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics BrokerMetrics
}

// NewEventBusFromConfig creates a new Kafka-based event bus from the provided
// configuration. It establishes connections to Kafka brokers and configures
// both producer and consumer components. Consumed offsets are marked only
// after the handler acknowledges processing, giving at-least-once delivery.
func NewEventBusFromConfig(
	cfg *Config,
	log *logger.Logger,
	metrics BrokerMetrics,
	tracer trace.Tracer,
) (*EventBus, error) {
	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Partitioner = sarama.NewHashPartitioner
	producerConfig.ClientID = cfg.ClientID

	producer, err := sarama.NewSyncProducer(cfg.Brokers, producerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	consumerConfig := sarama.NewConfig()
	consumerConfig.ClientID = cfg.ClientID
	consumerConfig.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	consumerConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	consumerConfig.Consumer.Group.Session.Timeout = 20 * time.Second
	consumerConfig.Consumer.Group.Heartbeat.Interval = 6 * time.Second
	consumerConfig.Consumer.Offsets.AutoCommit.Enable = true
	consumerConfig.Consumer.Offsets.AutoCommit.Interval = 1 * time.Second
	consumerConfig.Version = sarama.V2_8_0_0

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	topicsMap := map[events.EventType]string{
		matchhistory.EventTypeFetchJobRequested:    cfg.JobTopic,
		matchhistory.EventTypeFetchUnitRequested:   cfg.UnitTopic,
		matchhistory.EventTypeAggregationRequested: cfg.AggregationTopic,
	}

	return &EventBus{
		producer:      producer,
		consumerGroup: consumerGroup,
		topics:        topicsMap,
		logger:        log,
		tracer:        tracer,
		metrics:       metrics,
	}, nil
}

// Publish sends a domain event to the appropriate Kafka topic. It handles
// serialization, routing based on event type, and observability.
func (k *EventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	topic, ok := k.topics[event.Type]
	if !ok {
		return fmt.Errorf("unknown event type '%s', no topic mapped", event.Type)
	}

	ctx, span := tracing.StartProducerSpan(ctx, topic, k.tracer)
	defer span.End()

	var pParams events.PublishParams
	for _, opt := range opts {
		opt(&pParams)
	}

	if pParams.Key != "" {
		event.Key = pParams.Key
		span.SetAttributes(attribute.String("event.key", event.Key))
	}

	msgBytes, err := serialization.SerializeEventEnvelope(event.Type, event.Payload)
	if err != nil {
		span.RecordError(err)
		if k.metrics != nil {
			k.metrics.IncPublishError(ctx, topic)
		}
		return fmt.Errorf("failed to serialize payload for event %s: %w", event.Type, err)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(event.Key), // Used for partition routing
		Value: sarama.ByteEncoder(msgBytes),
	}

	tracing.InjectTraceContext(ctx, kafkaMsg)

	partition, offset, sendErr := k.producer.SendMessage(kafkaMsg)
	if sendErr != nil {
		span.RecordError(sendErr)
		if k.metrics != nil {
			k.metrics.IncPublishError(ctx, topic)
		}
		return fmt.Errorf("failed to send message to kafka topic %s: %w", topic, sendErr)
	}

	if k.metrics != nil {
		k.metrics.IncMessagePublished(ctx, topic)
	}
	k.logger.Debug(ctx, "Published message to Kafka",
		"topic", topic,
		"partition", partition,
		"offset", offset,
		"event_type", event.Type,
		"key", event.Key,
	)

	return nil
}

// Subscribe registers a handler function to process domain events of the
// specified types. It manages consumer group membership and message
// processing in a separate goroutine.
func (k *EventBus) Subscribe(
	ctx context.Context,
	eventTypes []events.EventType,
	handler events.HandlerFunc,
) error {
	topicSet := make(map[string]struct{})
	for _, et := range eventTypes {
		topic, ok := k.topics[et]
		if !ok {
			return fmt.Errorf("subscribe: unknown event type %s", et)
		}
		topicSet[topic] = struct{}{}
	}

	topics := make([]string, 0, len(topicSet))
	for t := range topicSet {
		topics = append(topics, t)
	}

	go k.consumeLoop(ctx, topics, handler)
	k.logger.Info(ctx, "Subscribed to events", "event_types", eventTypes, "topics", topics)

	return nil
}

// Close shuts down the producer and consumer group.
func (k *EventBus) Close() error {
	if err := k.producer.Close(); err != nil {
		return fmt.Errorf("closing kafka producer: %w", err)
	}
	if err := k.consumerGroup.Close(); err != nil {
		return fmt.Errorf("closing kafka consumer group: %w", err)
	}
	return nil
}

// consumeLoop maintains a continuous consumer group session for processing
// messages.
func (k *EventBus) consumeLoop(ctx context.Context, topics []string, handler events.HandlerFunc) {
	cgHandler := &consumerGroupHandler{
		userHandler: handler,
		logger:      k.logger,
		tracer:      k.tracer,
		metrics:     k.metrics,
	}

	for {
		if err := k.consumerGroup.Consume(ctx, topics, cgHandler); err != nil {
			k.logger.Error(ctx, "Error from consumer group", "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler to process Kafka
// messages and convert them into domain events for the application.
type consumerGroupHandler struct {
	userHandler events.HandlerFunc

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics BrokerMetrics
}

func (h *consumerGroupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(context.Background(), "Consumer group session setup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

func (h *consumerGroupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(context.Background(), "Consumer group session cleanup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

// ConsumeClaim processes messages from an assigned partition, deserializing
// them into domain events and invoking the user-provided handler. The offset
// is marked only when the handler acks without error, so an unprocessed
// message is redelivered after a crash.
func (h *consumerGroupHandler) ConsumeClaim(
	sess sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	for msg := range claim.Messages() {
		msgCtx := tracing.ExtractTraceContext(sess.Context(), msg)
		msgCtx, span := tracing.StartConsumerSpan(msgCtx, msg, h.tracer)

		env, err := serialization.DeserializeEventEnvelope(msg.Value)
		if err != nil {
			// A poison message can never succeed; mark it so the partition
			// does not wedge.
			span.RecordError(err)
			span.SetStatus(codes.Error, "deserialize failed")
			span.End()
			if h.metrics != nil {
				h.metrics.IncConsumeError(msgCtx, msg.Topic)
			}
			h.logger.Error(msgCtx, "Dropping undecodable message",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
			sess.MarkMessage(msg, "")
			continue
		}
		if env.Key == "" {
			env.Key = string(msg.Key)
		}

		ack := func(ackErr error) {
			if ackErr == nil {
				sess.MarkMessage(msg, "")
			}
		}

		if err := h.userHandler(msgCtx, env, ack); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "handler failed")
			if h.metrics != nil {
				h.metrics.IncConsumeError(msgCtx, msg.Topic)
			}
			h.logger.Error(msgCtx, "Event handler failed",
				"topic", msg.Topic, "event_type", env.Type, "error", err)
		} else if h.metrics != nil {
			h.metrics.IncMessageConsumed(msgCtx, msg.Topic)
		}
		span.End()
	}
	return nil
}
