package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Guard admits the first delivery of a webhook and suppresses replays.
type Guard interface {
	FirstDelivery(ctx context.Context, providerID, nonce string) bool
}

// NonceGuard marks webhook deliveries by correlation nonce so replays from
// provider retries are recognized across instances. A nil guard admits
// everything; Redis being down fails open, the machine's own nonce checks
// still dedupe in-process.
type NonceGuard struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewNonceGuard(client *redis.Client, ttl time.Duration, logger *zap.Logger) *NonceGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NonceGuard{client: client, ttl: ttl, logger: logger}
}

// FirstDelivery reports whether this provider/nonce pair has not been seen
// within the TTL, atomically recording it when new.
func (g *NonceGuard) FirstDelivery(ctx context.Context, providerID, nonce string) bool {
	if g == nil || g.client == nil {
		return true
	}
	key := fmt.Sprintf("webhook_nonce:%s:%s", providerID, nonce)
	ok, err := g.client.SetNX(ctx, key, "1", g.ttl).Result()
	if err != nil {
		g.logger.Warn("nonce guard unavailable, admitting delivery",
			zap.String("provider", providerID),
			zap.Error(err),
		)
		return true
	}
	return ok
}
