package models

// NATS request from the NLP collaborator
type DecisionRequest struct {
	RequestID string  `json:"request_id,omitempty"`
	Percept   Percept `json:"percept"`
}

// NATS response to the NLP collaborator
type DecisionResponse struct {
	RequestID    string       `json:"request_id,omitempty"`
	SessionID    string       `json:"session_id"`
	Status       string       `json:"status"` // "OK", "DEGRADED", "ERROR"
	Action       *FinalAction `json:"action,omitempty"`
	ErrorCode    *string      `json:"error_code,omitempty"`
	ErrorMessage *string      `json:"error_message,omitempty"`
}

// Status constants
const (
	StatusOK       = "OK"
	StatusDegraded = "DEGRADED"
	StatusError    = "ERROR"
)

// Error codes
const (
	ErrorParseError             = "PARSE_ERROR"
	ErrorInvalidPercept         = "INVALID_PERCEPT"
	ErrorSessionUnavailable     = "SESSION_UNAVAILABLE"
	ErrorConcurrentModification = "CONCURRENT_MODIFICATION"
	ErrorNoViableAction         = "NO_VIABLE_ACTION"
	ErrorPolicyTimeout          = "POLICY_TIMEOUT"
	ErrorPolicyFailure          = "POLICY_FAILURE"
	ErrorStoreTimeout           = "STORE_TIMEOUT"
	ErrorCancelled              = "CANCELLED"
	ErrorInternal               = "INTERNAL"
)
