package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/flow-orchestrator/internal/flow"
)

// KafkaSink publishes flow telemetry events to a Kafka topic. Errors never
// fail the flow: the pipeline swallows them, the sink just reports.
type KafkaSink struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaSink(writer *kafka.Writer, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{writer: writer, logger: logger}
}

func (s *KafkaSink) Record(ev flow.TelemetryEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.FlowID),
		Value: payload,
	})
}

// PromSink mirrors transitions into Prometheus counters.
type PromSink struct{}

func (PromSink) Record(ev flow.TelemetryEvent) error {
	if ev.Kind != flow.KindStateChanged {
		return nil
	}
	FlowTransitions.WithLabelValues(string(ev.Previous), string(ev.State), string(ev.Event)).Inc()
	if ev.State == flow.StateFallbackCandidate {
		FallbackOffers.Inc()
	}
	if ev.State == flow.StateStarting && ev.Event == flow.EvtFallbackExecute {
		FallbackExecutions.Inc()
	}
	return nil
}

// ZapSink writes telemetry events to the structured log, used when Kafka
// is not configured.
type ZapSink struct {
	Logger *zap.Logger
}

func (s ZapSink) Record(ev flow.TelemetryEvent) error {
	s.Logger.Info("flow telemetry",
		zap.String("kind", ev.Kind),
		zap.String("flow_id", ev.FlowID),
		zap.String("state", string(ev.State)),
		zap.String("event", string(ev.Event)),
		zap.Int64("at_ms", ev.AtMs),
	)
	return nil
}
