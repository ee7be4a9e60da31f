package action

// Status is the top-level result of handling one envelope.
type Status string

const (
	StatusOK                Status = "ok"
	StatusRejected          Status = "rejected"
	StatusNeedsConfirmation Status = "needs_confirmation"
	StatusFailed            Status = "failed"
)

// Reason classifies rejected and failed outcomes.
type Reason string

const (
	ReasonInvalidEnvelope Reason = "invalid_envelope"
	ReasonInvalidAction   Reason = "invalid_action"
	ReasonInvalidPayload  Reason = "invalid_payload"
	ReasonUnknownAction   Reason = "unknown_action"
	ReasonIncompleteForm  Reason = "incomplete_form"
	ReasonValidation      Reason = "validation_error"
	ReasonTimeout         Reason = "timeout"
	ReasonInternal        Reason = "internal_error"
	ReasonUnavailable     Reason = "unavailable"
	ReasonNetwork         Reason = "network"
	ReasonPeerRejected    Reason = "pacs_rejected"
	ReasonNotFound        Reason = "not_found"
)

// Outcome is what the UI receives for every envelope it sends.
type Outcome struct {
	Status  Status                 `json:"status"`
	Reason  Reason                 `json:"reason,omitempty"`
	Message string                 `json:"message,omitempty"`
	Result  map[string]interface{} `json:"result,omitempty"`
}

// Ok wraps a handler result.
func Ok(result map[string]interface{}) Outcome {
	return Outcome{Status: StatusOK, Result: result}
}

// Rejected is returned when the bridge refuses an envelope before any handler runs.
func Rejected(reason Reason, message string) Outcome {
	return Outcome{Status: StatusRejected, Reason: reason, Message: message}
}

// Failed reports a handler that ran but did not succeed.
func Failed(reason Reason, message string) Outcome {
	return Outcome{Status: StatusFailed, Reason: reason, Message: message}
}

// NeedsConfirmation asks the UI to resend the envelope with confirmation.
func NeedsConfirmation(message string) Outcome {
	return Outcome{Status: StatusNeedsConfirmation, Message: message}
}

// IsOK reports whether the outcome carries a successful result.
func (o Outcome) IsOK() bool { return o.Status == StatusOK }
