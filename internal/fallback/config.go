package fallback

import (
	"fmt"
	"time"

	"github.com/akylbek/payment-system/flow-orchestrator/internal/models"
)

// Mode selects how fallback executes once an offer exists.
const (
	ModeManual = "manual"
	ModeAuto   = "auto"
)

// Config is the fallback policy. It is validated once at startup; an
// invalid config is a fatal configuration error, never a per-flow error.
type Config struct {
	Mode              string
	TriggerErrorCodes []models.ErrorCode
	BlockedErrorCodes []models.ErrorCode
	ProviderPriority  []string
	// MaxAttempts caps the failed-attempt ledger; once reached no
	// further offers are issued.
	MaxAttempts int
	// MaxAutoFallbacks caps executions scheduled without a user
	// response in auto mode.
	MaxAutoFallbacks    int
	UserResponseTimeout time.Duration
	AutoFallbackDelay   time.Duration
}

func (c Config) Validate() error {
	if c.Mode != ModeManual && c.Mode != ModeAuto {
		return fmt.Errorf("fallback mode %q is not manual or auto", c.Mode)
	}
	if len(c.ProviderPriority) == 0 {
		return fmt.Errorf("fallback provider priority is empty")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("fallback max attempts must be positive, got %d", c.MaxAttempts)
	}
	if c.UserResponseTimeout <= 0 {
		return fmt.Errorf("fallback user response timeout must be positive")
	}
	for _, code := range c.TriggerErrorCodes {
		if !models.ValidErrorCode(code) {
			return fmt.Errorf("trigger error code %q is not in the taxonomy", code)
		}
	}
	for _, code := range c.BlockedErrorCodes {
		if !models.ValidErrorCode(code) {
			return fmt.Errorf("blocked error code %q is not in the taxonomy", code)
		}
	}
	return nil
}
