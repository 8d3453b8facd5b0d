package engine

import "fmt"

// ValidationError rejects bad input before anything is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// InvalidOperationError rejects an operation the goal's current state does
// not allow.
type InvalidOperationError struct {
	Reason string
}

func (e InvalidOperationError) Error() string { return e.Reason }

// CycleError is returned when attaching a goal would make it its own
// ancestor.
type CycleError struct {
	ChildID  string
	ParentID string
}

func (e CycleError) Error() string {
	return fmt.Sprintf("linking %s under %s would create a cycle", e.ChildID, e.ParentID)
}

// AlreadyLinkedError is returned when the child already has a parent.
type AlreadyLinkedError struct {
	ChildID  string
	ParentID string
}

func (e AlreadyLinkedError) Error() string {
	return fmt.Sprintf("goal %s is already linked under %s", e.ChildID, e.ParentID)
}

// TooManyItemsError rejects a bulk request above the configured cap.
type TooManyItemsError struct {
	Requested int
	Max       int
}

func (e TooManyItemsError) Error() string {
	return fmt.Sprintf("bulk request has %d items, maximum is %d", e.Requested, e.Max)
}

// CalculationError wraps a signal-source failure during recalculation. The
// failure is already recorded on the goal and in the audit log when this
// is returned.
type CalculationError struct {
	GoalID string
	Cause  error
}

func (e CalculationError) Error() string {
	return fmt.Sprintf("recalculation of goal %s failed: %v", e.GoalID, e.Cause)
}

func (e CalculationError) Unwrap() error { return e.Cause }
