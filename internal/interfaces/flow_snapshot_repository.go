package interfaces

import (
	"context"

	"github.com/akylbek/payment-system/flow-orchestrator/internal/flow"
)

// FlowSnapshotRepository defines the contract for flow snapshot data access
type FlowSnapshotRepository interface {
	UpsertSnapshot(ctx context.Context, snap flow.Snapshot) error
	GetByFlowID(ctx context.Context, flowID string) (*flow.Snapshot, error)
}
