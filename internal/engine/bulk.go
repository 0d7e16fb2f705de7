package engine

import (
	"context"

	"grcflow/pkg/models"
)

// ExecuteBulkAction applies the same action to many instances, one
// transaction per instance. A failure on one instance never affects the
// others; the response reports per-instance outcomes.
func (e *Engine) ExecuteBulkAction(ctx context.Context, instanceIDs []string, req ActionRequest) (*models.BulkActionResponse, error) {
	if len(instanceIDs) == 0 {
		return nil, Errorf(ErrValidation, "instance_ids is required")
	}
	if !models.ValidActionType(string(req.Action)) {
		return nil, Errorf(ErrValidation, "unknown action_type %q", req.Action)
	}

	resp := &models.BulkActionResponse{}
	for _, id := range instanceIDs {
		result := &models.BulkActionResult{InstanceID: id}
		if _, err := e.ExecuteAction(ctx, id, req); err != nil {
			result.Error = err.Error()
			resp.FailureCount++
			e.logger.Warn("bulk action item failed",
				"instance_id", id, "action", string(req.Action), "error", err)
		} else {
			result.OK = true
			resp.SuccessCount++
		}
		resp.Results = append(resp.Results, result)
	}

	e.logger.Info("bulk action finished",
		"action", string(req.Action), "total", len(instanceIDs),
		"succeeded", resp.SuccessCount, "failed", resp.FailureCount)
	return resp, nil
}
