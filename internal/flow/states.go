package flow

// State is the flow machine's position, modeled as a tagged value so the
// transition table stays plain data. The requiresAction states form one
// hierarchical family selected by the intent's next action kind.
type State string

const (
	StateIdle              State = "idle"
	StateStarting          State = "starting"
	StateRedirect          State = "requiresAction.redirect"
	StateClientConfirm     State = "requiresAction.clientConfirm"
	StateManualStep        State = "requiresAction.manualStep"
	StateExternalWait      State = "requiresAction.externalWait"
	StateConfirming        State = "confirming"
	StateFetchingStatus    State = "fetchingStatus"
	StateFinalizing        State = "finalizing"
	StateReconciling       State = "reconciling"
	StateDone              State = "done"
	StateFailed            State = "failed"
	StateFallbackCandidate State = "fallbackCandidate"
	StateCancelling        State = "cancelling"
)

// RequiresAction reports membership in the requiresAction family.
func (s State) RequiresAction() bool {
	switch s {
	case StateRedirect, StateClientConfirm, StateManualStep, StateExternalWait:
		return true
	default:
		return false
	}
}

// Terminal reports whether the state accepts only RESET/REFRESH style
// re-entry. fallbackCandidate is quasi-terminal: it still accepts the
// fallback commands.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateFailed, StateFallbackCandidate:
		return true
	default:
		return false
	}
}

// EventType enumerates commands (user-originated) and system events
// (external-originated, may arrive at any time).
type EventType string

const (
	// Commands.
	CmdStart   EventType = "START"
	CmdConfirm EventType = "CONFIRM"
	CmdCancel  EventType = "CANCEL"
	CmdRefresh EventType = "REFRESH"
	CmdReset   EventType = "RESET"

	// System events.
	EvtProviderUpdate        EventType = "PROVIDER_UPDATE"
	EvtWebhookReceived       EventType = "WEBHOOK_RECEIVED"
	EvtValidationFailed      EventType = "VALIDATION_FAILED"
	EvtStatusConfirmed       EventType = "STATUS_CONFIRMED"
	EvtRedirectReturned      EventType = "REDIRECT_RETURNED"
	EvtExternalStatusUpdated EventType = "EXTERNAL_STATUS_UPDATED"
	EvtFallbackRequested     EventType = "FALLBACK_REQUESTED"
	EvtFallbackExecute       EventType = "FALLBACK_EXECUTE"
	EvtFallbackAbort         EventType = "FALLBACK_ABORT"
)

// Command reports whether t is user-originated.
func (t EventType) Command() bool {
	switch t {
	case CmdStart, CmdConfirm, CmdCancel, CmdRefresh, CmdReset:
		return true
	default:
		return false
	}
}
