package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avvvet/brain/internal/models"
	"github.com/avvvet/brain/internal/orchestrator"
)

// Decider is the orchestrator as seen by the handler.
type Decider interface {
	Decide(ctx context.Context, p models.Percept) (models.FinalAction, error)
}

type DecisionHandler struct {
	decider  Decider
	fallback models.Candidate
	degrade  bool
	logger   *slog.Logger
}

// NewDecisionHandler creates a handler. With degrade set, infrastructure
// failures are answered with the fallback action instead of an error.
func NewDecisionHandler(decider Decider, fallback models.Candidate, degrade bool, logger *slog.Logger) *DecisionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DecisionHandler{
		decider:  decider,
		fallback: fallback,
		degrade:  degrade,
		logger:   logger,
	}
}

func (h *DecisionHandler) ProcessDecision(ctx context.Context, request *models.DecisionRequest) *models.DecisionResponse {
	// Validate request
	if err := request.Percept.Validate(); err != nil {
		return h.createErrorResponse(request, models.ErrorInvalidPercept, err.Error())
	}

	action, err := h.decider.Decide(ctx, request.Percept)
	if err == nil {
		return &models.DecisionResponse{
			RequestID: request.RequestID,
			SessionID: request.Percept.SessionID,
			Status:    models.StatusOK,
			Action:    &action,
		}
	}

	code := orchestrator.Code(err)
	if h.degrade && orchestrator.IsInfrastructure(err) {
		h.logger.Warn("decision_degraded",
			"session_id", request.Percept.SessionID,
			"error_code", code,
			"error", err,
		)
		return h.createDegradedResponse(request, code, err.Error())
	}

	if code == models.ErrorNoViableAction {
		h.logger.Error("decision_failed", "session_id", request.Percept.SessionID, "error_code", code, "error", err)
	} else {
		h.logger.Warn("decision_failed", "session_id", request.Percept.SessionID, "error_code", code, "error", err)
	}
	return h.createErrorResponse(request, code, err.Error())
}

// HandleRaw decodes a JSON DecisionRequest and returns the JSON response.
func (h *DecisionHandler) HandleRaw(ctx context.Context, data []byte) ([]byte, error) {
	var request models.DecisionRequest
	var response *models.DecisionResponse
	if err := json.Unmarshal(data, &request); err != nil {
		h.logger.Warn("request_parse_failed", "error", err)
		response = h.createErrorResponse(&request, models.ErrorParseError, "Invalid request format")
	} else {
		response = h.ProcessDecision(ctx, &request)
	}

	out, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return out, nil
}

// createDegradedResponse answers with the fallback action without touching
// session state; the returned action carries version 0.
func (h *DecisionHandler) createDegradedResponse(request *models.DecisionRequest, errorCode, errorMessage string) *models.DecisionResponse {
	fb := h.fallback.Clone()
	return &models.DecisionResponse{
		RequestID: request.RequestID,
		SessionID: request.Percept.SessionID,
		Status:    models.StatusDegraded,
		Action: &models.FinalAction{
			ID:         uuid.Must(uuid.NewV7()).String(),
			SessionID:  request.Percept.SessionID,
			Action:     fb.Action,
			Params:     fb.Params,
			Provenance: models.FromFallback,
			DecidedAt:  time.Now().UTC(),
		},
		ErrorCode:    &errorCode,
		ErrorMessage: &errorMessage,
	}
}

func (h *DecisionHandler) createErrorResponse(request *models.DecisionRequest, errorCode, errorMessage string) *models.DecisionResponse {
	return &models.DecisionResponse{
		RequestID:    request.RequestID,
		SessionID:    request.Percept.SessionID,
		Status:       models.StatusError,
		ErrorCode:    &errorCode,
		ErrorMessage: &errorMessage,
	}
}
