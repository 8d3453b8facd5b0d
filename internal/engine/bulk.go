package engine

import "context"

type BulkFailure struct {
	GoalID string `json:"goal_id"`
	Reason string `json:"reason"`
}

// BulkResult accounts for every requested item. Not an error: partial
// failure is a normal result shape.
type BulkResult struct {
	TotalRequested int           `json:"total_requested"`
	Succeeded      []string      `json:"succeeded"`
	Failed         []BulkFailure `json:"failed"`
}

func (e Engine) checkBulkSize(ids []string) error {
	if len(ids) > e.Rules.Bulk.MaxItems {
		return TooManyItemsError{Requested: len(ids), Max: e.Rules.Bulk.MaxItems}
	}
	return nil
}

// BulkDelete deletes each goal independently. A single item's failure
// never aborts the batch.
func (e Engine) BulkDelete(ctx context.Context, goalIDs []string, actorID string) (BulkResult, error) {
	if err := e.checkBulkSize(goalIDs); err != nil {
		return BulkResult{}, err
	}
	res := BulkResult{TotalRequested: len(goalIDs)}
	for _, id := range goalIDs {
		if err := e.DeleteGoal(ctx, id, actorID); err != nil {
			res.Failed = append(res.Failed, BulkFailure{GoalID: id, Reason: err.Error()})
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	return res, nil
}

// BulkStatusChange applies the same transition to each goal, with the full
// audit and snapshot side effects of the single-goal operation.
func (e Engine) BulkStatusChange(ctx context.Context, goalIDs []string, newStatus, actorID string) (BulkResult, error) {
	if !goalStatuses[newStatus] {
		return BulkResult{}, ValidationError{Field: "status", Reason: "invalid value " + newStatus}
	}
	if err := e.checkBulkSize(goalIDs); err != nil {
		return BulkResult{}, err
	}
	res := BulkResult{TotalRequested: len(goalIDs)}
	for _, id := range goalIDs {
		if _, err := e.ChangeStatus(ctx, id, newStatus, actorID); err != nil {
			res.Failed = append(res.Failed, BulkFailure{GoalID: id, Reason: err.Error()})
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	return res, nil
}
