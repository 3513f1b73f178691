package memory

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// ValidationError reports malformed memory data. It is fatal for the record
// it concerns.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("memory validation failed: %s: %s", e.Field, e.Reason)
}

func scoreInRange(score float64) bool {
	return score >= 0.0 && score <= 1.0
}

// Validate checks the record's invariants. It must pass before any write.
func (r *MemoryRecord) Validate() error {
	var result error

	if r.UserID == "" {
		result = multierror.Append(result, &ValidationError{Field: "user_id", Reason: "cannot be empty"})
	}
	if r.Version == "" {
		result = multierror.Append(result, &ValidationError{Field: "version", Reason: "cannot be empty"})
	}
	if r.UpdatedAt.Before(r.CreatedAt) {
		result = multierror.Append(result, &ValidationError{Field: "updated_at", Reason: "cannot be before created_at"})
	}

	for i, rel := range r.Profile.Relationships {
		if !scoreInRange(rel.Importance) {
			result = multierror.Append(result, &ValidationError{
				Field:  fmt.Sprintf("profile.relationships[%d].importance", i),
				Reason: fmt.Sprintf("score %v outside [0, 1]", rel.Importance),
			})
		}
	}

	if err := r.Semantic.validate(); err != nil {
		result = multierror.Append(result, err)
	}

	for i, task := range r.ActionState.Tasks {
		switch task.Status {
		case TaskPending, TaskInProgress, TaskCompleted, TaskCancelled:
		default:
			result = multierror.Append(result, &ValidationError{
				Field:  fmt.Sprintf("action_state.tasks[%d].status", i),
				Reason: fmt.Sprintf("unknown status %q", task.Status),
			})
		}
	}
	for i, plan := range r.ActionState.Plans {
		if !scoreInRange(plan.Confidence) {
			result = multierror.Append(result, &ValidationError{
				Field:  fmt.Sprintf("action_state.plans[%d].confidence", i),
				Reason: fmt.Sprintf("score %v outside [0, 1]", plan.Confidence),
			})
		}
	}

	for i, h := range r.Strategic.Hypotheses {
		if !scoreInRange(h.Confidence) {
			result = multierror.Append(result, &ValidationError{
				Field:  fmt.Sprintf("strategic.hypotheses[%d].confidence", i),
				Reason: fmt.Sprintf("score %v outside [0, 1]", h.Confidence),
			})
		}
		switch h.Status {
		case HypothesisActive, HypothesisConfirmed, HypothesisRefuted:
		default:
			result = multierror.Append(result, &ValidationError{
				Field:  fmt.Sprintf("strategic.hypotheses[%d].status", i),
				Reason: fmt.Sprintf("unknown status %q", h.Status),
			})
		}
	}

	return result
}

func (s *Semantic) validate() error {
	var result error

	for i, p := range s.Preferences {
		if !scoreInRange(p.Confidence) {
			result = multierror.Append(result, &ValidationError{
				Field:  fmt.Sprintf("semantic.preferences[%d].confidence", i),
				Reason: fmt.Sprintf("score %v outside [0, 1]", p.Confidence),
			})
		}
	}
	for i, h := range s.Habits {
		if !scoreInRange(h.Confidence) {
			result = multierror.Append(result, &ValidationError{
				Field:  fmt.Sprintf("semantic.habits[%d].confidence", i),
				Reason: fmt.Sprintf("score %v outside [0, 1]", h.Confidence),
			})
		}
	}
	for i, e := range s.Events {
		if !scoreInRange(e.Importance) {
			result = multierror.Append(result, &ValidationError{
				Field:  fmt.Sprintf("semantic.events[%d].importance", i),
				Reason: fmt.Sprintf("score %v outside [0, 1]", e.Importance),
			})
		}
	}
	for i, sk := range s.Skills {
		if !scoreInRange(sk.Confidence) {
			result = multierror.Append(result, &ValidationError{
				Field:  fmt.Sprintf("semantic.skills[%d].confidence", i),
				Reason: fmt.Sprintf("score %v outside [0, 1]", sk.Confidence),
			})
		}
	}

	return result
}

// Validate checks log entry invariants.
func (l *InteractionLog) Validate() error {
	var result error

	if l.LogID == "" {
		result = multierror.Append(result, &ValidationError{Field: "log_id", Reason: "cannot be empty"})
	}
	if l.Direction != DirectionInbound && l.Direction != DirectionOutbound {
		result = multierror.Append(result, &ValidationError{
			Field:  "direction",
			Reason: fmt.Sprintf("must be inbound or outbound, got %q", l.Direction),
		})
	}
	if l.Timestamp.IsZero() {
		result = multierror.Append(result, &ValidationError{Field: "timestamp", Reason: "cannot be zero"})
	}

	return result
}

// CanTransition reports whether a task status move is allowed. Completed and
// cancelled tasks cannot be resurrected.
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	switch s {
	case TaskPending:
		return to == TaskInProgress || to == TaskCompleted || to == TaskCancelled
	case TaskInProgress:
		return to == TaskCompleted || to == TaskCancelled
	default:
		return false
	}
}

// Transition moves the task to a new status, enforcing forward-only moves.
func (t *Task) Transition(to TaskStatus) error {
	if !t.Status.CanTransition(to) {
		return &ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("illegal transition %s -> %s", t.Status, to),
		}
	}
	t.Status = to
	return nil
}
