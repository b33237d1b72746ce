package fallback

import "github.com/akylbek/payment-system/flow-orchestrator/internal/models"

// Eligible is the pure eligibility policy: a blocked code is never
// retriable on another provider (a definitive decline stays declined),
// and blocked membership overrides trigger membership when both match.
func Eligible(cfg Config, err *models.PaymentError) bool {
	if err == nil {
		return false
	}
	for _, code := range cfg.BlockedErrorCodes {
		if err.Code == code {
			return false
		}
	}
	for _, code := range cfg.TriggerErrorCodes {
		if err.Code == code {
			return true
		}
	}
	return false
}
