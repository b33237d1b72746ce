package stream

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/flow-orchestrator/internal/models"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/service"
)

// SubjectProviderUpdates carries out-of-band provider status pushes.
const SubjectProviderUpdates = "payment.provider.updates"

type providerUpdate struct {
	FlowID   string `json:"flow_id"`
	Provider string `json:"provider"`
	Status   string `json:"status"`
}

// ProviderUpdateListener turns NATS status pushes into external status
// events on the owning flow.
type ProviderUpdateListener struct {
	nc      *nats.Conn
	manager *service.FlowManager
	logger  *zap.Logger
	sub     *nats.Subscription
}

func NewProviderUpdateListener(nc *nats.Conn, manager *service.FlowManager, logger *zap.Logger) *ProviderUpdateListener {
	return &ProviderUpdateListener{nc: nc, manager: manager, logger: logger}
}

func (l *ProviderUpdateListener) Start() error {
	sub, err := l.nc.Subscribe(SubjectProviderUpdates, func(msg *nats.Msg) {
		var update providerUpdate
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			l.logger.Error("Error unmarshaling provider update", zap.Error(err))
			return
		}
		if update.FlowID == "" {
			return
		}
		l.manager.HandleExternalStatus(update.FlowID, update.Provider, models.IntentStatus(update.Status))
	})
	if err != nil {
		return err
	}
	l.sub = sub
	l.logger.Info("Started consuming provider status updates",
		zap.String("subject", SubjectProviderUpdates),
	)
	return nil
}

func (l *ProviderUpdateListener) Stop() {
	if l.sub != nil {
		_ = l.sub.Unsubscribe()
	}
}
