package flow

import "go.uber.org/zap"

// Telemetry event kinds.
const (
	KindCommandSent  = "COMMAND_SENT"
	KindStateChanged = "STATE_CHANGED"
)

// TelemetryEvent is the record handed to telemetry sinks. Sinks must never
// block or fail the flow; their errors are swallowed.
type TelemetryEvent struct {
	Kind     string    `json:"kind"`
	AtMs     int64     `json:"at_ms"`
	FlowID   string    `json:"flow_id"`
	Provider string    `json:"provider,omitempty"`
	State    State     `json:"state"`
	Previous State     `json:"previous_state,omitempty"`
	Event    EventType `json:"event"`
}

// TelemetrySink records telemetry events.
type TelemetrySink interface {
	Record(ev TelemetryEvent) error
}

// PersistenceSink persists flow snapshots. Implementations may be no-ops.
type PersistenceSink interface {
	HandleSnapshot(snap Snapshot) error
}

// FallbackBridge observes transitions so the fallback orchestrator can
// manage offers. It runs last in the pipeline.
type FallbackBridge interface {
	OnTransition(snap Snapshot)
}

// Pipeline dispatches side effects for every transition in a fixed order:
// telemetry, then persistence, then the fallback bridge. It runs inside
// Send, so transition N+1's side effects never start before N's finish.
type Pipeline struct {
	telemetry   []TelemetrySink
	persistence PersistenceSink
	bridge      FallbackBridge
	logger      *zap.Logger
}

func NewPipeline(telemetry []TelemetrySink, persistence PersistenceSink, bridge FallbackBridge, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		telemetry:   telemetry,
		persistence: persistence,
		bridge:      bridge,
		logger:      logger,
	}
}

// SetBridge binds the fallback bridge after construction. The machine and
// the orchestrator reference each other, so one side binds late.
func (p *Pipeline) SetBridge(bridge FallbackBridge) {
	p.bridge = bridge
}

func (p *Pipeline) commandSent(snap Snapshot) {
	p.record(TelemetryEvent{
		Kind:     KindCommandSent,
		AtMs:     snap.At.UnixMilli(),
		FlowID:   snap.FlowID,
		Provider: snap.Context.Provider,
		State:    snap.State,
		Event:    snap.Event,
	})
}

func (p *Pipeline) transition(snap Snapshot) {
	p.record(TelemetryEvent{
		Kind:     KindStateChanged,
		AtMs:     snap.At.UnixMilli(),
		FlowID:   snap.FlowID,
		Provider: snap.Context.Provider,
		State:    snap.State,
		Previous: snap.Previous,
		Event:    snap.Event,
	})

	if p.persistence != nil {
		if err := p.persistence.HandleSnapshot(snap); err != nil {
			p.logger.Error("snapshot persistence failed",
				zap.String("flow_id", snap.FlowID),
				zap.String("state", string(snap.State)),
				zap.Error(err),
			)
		}
	}

	if p.bridge != nil {
		p.bridge.OnTransition(snap)
	}
}

func (p *Pipeline) record(ev TelemetryEvent) {
	for _, sink := range p.telemetry {
		if err := sink.Record(ev); err != nil {
			p.logger.Warn("telemetry sink error",
				zap.String("flow_id", ev.FlowID),
				zap.String("kind", ev.Kind),
				zap.Error(err),
			)
		}
	}
}
