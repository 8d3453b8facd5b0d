package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"goalline/internal/audit"
	"goalline/internal/domain"
	"goalline/internal/repo"
)

var ownerRank = map[string]int{"company": 0, "team": 1, "individual": 2}

// Attach links a goal under a parent. The link set must stay a forest: one
// parent per goal, no goal its own ancestor, depth bounded by the rules.
func (e Engine) Attach(ctx context.Context, childID, parentID string, weight float64, actorID string) (domain.HierarchyLink, error) {
	if weight == 0 {
		weight = 1.0
	}
	if weight < 0 {
		return domain.HierarchyLink{}, ValidationError{Field: "contribution_weight", Reason: "must be positive"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.HierarchyLink{}, err
	}
	defer tx.Rollback()

	child, err := e.Repo.GetGoalTx(ctx, tx, childID)
	if err != nil {
		return domain.HierarchyLink{}, err
	}
	if err := e.attachTx(ctx, tx, child, parentID, weight, actorID); err != nil {
		return domain.HierarchyLink{}, err
	}
	link, err := e.Repo.ParentOfTx(ctx, tx, childID)
	if err != nil {
		return domain.HierarchyLink{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.HierarchyLink{}, err
	}
	return link, nil
}

func (e Engine) attachTx(ctx context.Context, tx *sql.Tx, child domain.Goal, parentID string, weight float64, actorID string) error {
	if child.ID == parentID {
		return CycleError{ChildID: child.ID, ParentID: parentID}
	}
	parent, err := e.Repo.GetGoalTx(ctx, tx, parentID)
	if err != nil {
		return fmt.Errorf("parent goal: %w", err)
	}
	if child.ParentGoalID != nil {
		return AlreadyLinkedError{ChildID: child.ID, ParentID: *child.ParentGoalID}
	}
	// cycle detection runs before the owner-rank check so a circular link
	// is always reported as such
	depth, err := e.ancestorDepth(ctx, tx, child.ID, parentID)
	if err != nil {
		return err
	}
	if depth+1 > e.Rules.Hierarchy.MaxDepth {
		return InvalidOperationError{Reason: fmt.Sprintf("hierarchy depth limit of %d exceeded", e.Rules.Hierarchy.MaxDepth)}
	}
	if ownerRank[child.OwnerType] <= ownerRank[parent.OwnerType] {
		return InvalidOperationError{Reason: fmt.Sprintf("a %s goal cannot sit under a %s goal", child.OwnerType, parent.OwnerType)}
	}
	link := domain.HierarchyLink{
		ParentGoalID:       parentID,
		ChildGoalID:        child.ID,
		ContributionWeight: weight,
		CreatedAt:          e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertLink(ctx, tx, link); err != nil {
		return err
	}
	for _, entry := range []audit.Entry{
		{GoalID: child.ID, EventType: "hierarchy_change", ActorID: actorID,
			Summary: fmt.Sprintf("linked under %q", parent.Name), NewValue: &parentID},
		{GoalID: parentID, EventType: "hierarchy_change", ActorID: actorID,
			Summary: fmt.Sprintf("child %q attached", child.Name), NewValue: &child.ID},
	} {
		if err := e.audit().Append(ctx, tx, entry); err != nil {
			return err
		}
	}
	return nil
}

// ancestorDepth walks up from parentID, failing with CycleError if childID
// shows up among the ancestors. Returns the number of ancestors above the
// prospective parent, inclusive of the parent itself.
func (e Engine) ancestorDepth(ctx context.Context, tx *sql.Tx, childID, parentID string) (int, error) {
	depth := 1
	cur := parentID
	for {
		link, err := e.Repo.ParentOfTx(ctx, tx, cur)
		if err == repo.ErrNotFound {
			return depth, nil
		}
		if err != nil {
			return 0, err
		}
		if link.ParentGoalID == childID {
			return 0, CycleError{ChildID: childID, ParentID: parentID}
		}
		cur = link.ParentGoalID
		depth++
		if depth > 64 {
			return 0, CycleError{ChildID: childID, ParentID: parentID}
		}
	}
}

// Detach removes a goal from its parent.
func (e Engine) Detach(ctx context.Context, childID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	child, err := e.Repo.GetGoalTx(ctx, tx, childID)
	if err != nil {
		return err
	}
	if child.ParentGoalID == nil {
		return InvalidOperationError{Reason: fmt.Sprintf("goal %s has no parent", childID)}
	}
	parentID := *child.ParentGoalID
	parent, err := e.Repo.GetGoalTx(ctx, tx, parentID)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteLink(ctx, tx, childID); err != nil {
		return err
	}
	for _, entry := range []audit.Entry{
		{GoalID: childID, EventType: "hierarchy_change", ActorID: actorID,
			Summary: fmt.Sprintf("detached from %q", parent.Name), OldValue: &parentID},
		{GoalID: parentID, EventType: "hierarchy_change", ActorID: actorID,
			Summary: fmt.Sprintf("child %q detached", child.Name), OldValue: &childID},
	} {
		if err := e.audit().Append(ctx, tx, entry); err != nil {
			return err
		}
	}
	return tx.Commit()
}
