package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/akylbek/payment-system/flow-orchestrator/internal/flow"
)

type FlowSnapshotRepository struct {
	db *sql.DB
}

func NewFlowSnapshotRepository(db *sql.DB) *FlowSnapshotRepository {
	return &FlowSnapshotRepository{db: db}
}

func (r *FlowSnapshotRepository) InitDB() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS flow_snapshots (
			flow_id VARCHAR(255) PRIMARY KEY,
			state VARCHAR(50) NOT NULL,
			previous_state VARCHAR(50),
			last_event VARCHAR(50),
			context JSONB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_flow_snapshots_state ON flow_snapshots(state)`,
	}

	for _, query := range queries {
		if _, err := r.db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

func (r *FlowSnapshotRepository) UpsertSnapshot(ctx context.Context, snap flow.Snapshot) error {
	contextJSON, err := json.Marshal(snap.Context)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO flow_snapshots (flow_id, state, previous_state, last_event, context)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (flow_id) DO UPDATE
		SET state = $2, previous_state = $3, last_event = $4, context = $5, updated_at = NOW()
	`, snap.FlowID, snap.State, snap.Previous, snap.Event, contextJSON)
	return err
}

func (r *FlowSnapshotRepository) GetByFlowID(ctx context.Context, flowID string) (*flow.Snapshot, error) {
	var (
		snap        flow.Snapshot
		contextJSON []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT flow_id, state, previous_state, last_event, context, updated_at
		FROM flow_snapshots WHERE flow_id = $1
	`, flowID).Scan(&snap.FlowID, &snap.State, &snap.Previous, &snap.Event, &contextJSON, &snap.At)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(contextJSON, &snap.Context); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Sink adapts the repository to the snapshot pipeline's persistence
// contract. A nil repository is a no-op sink.
type Sink struct {
	repo *FlowSnapshotRepository
}

func NewSink(repo *FlowSnapshotRepository) *Sink {
	return &Sink{repo: repo}
}

func (s *Sink) HandleSnapshot(snap flow.Snapshot) error {
	if s.repo == nil {
		return nil
	}
	return s.repo.UpsertSnapshot(context.Background(), snap)
}
