package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemoryRecord(t *testing.T) {
	record := NewMemoryRecord("a@x.com")

	assert.Equal(t, "a@x.com", record.UserID)
	assert.Equal(t, SchemaVersion, record.Version)
	assert.Empty(t, record.Episodic)
	assert.Equal(t, "friendly_and_supportive", record.Strategic.Strategy.Tone)
	require.NoError(t, record.Validate())
}

func TestValidateEmptyUserID(t *testing.T) {
	record := NewMemoryRecord("")
	err := record.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user_id")
}

func TestValidateScoreRange(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*MemoryRecord)
	}{
		{
			name: "preference confidence above 1",
			mutate: func(r *MemoryRecord) {
				r.Semantic.Preferences = append(r.Semantic.Preferences, Preference{Subject: "jazz", Liked: true, Confidence: 1.5})
			},
		},
		{
			name: "habit confidence negative",
			mutate: func(r *MemoryRecord) {
				r.Semantic.Habits = append(r.Semantic.Habits, Habit{Description: "runs daily", Confidence: -0.1})
			},
		},
		{
			name: "event importance above 1",
			mutate: func(r *MemoryRecord) {
				r.Semantic.Events = append(r.Semantic.Events, SignificantEvent{Description: "moved", Importance: 2})
			},
		},
		{
			name: "hypothesis confidence above 1",
			mutate: func(r *MemoryRecord) {
				r.Strategic.Hypotheses = append(r.Strategic.Hypotheses, Hypothesis{
					Statement: "prefers mornings", Confidence: 1.01, Status: HypothesisActive,
				})
			},
		},
		{
			name: "relationship importance negative",
			mutate: func(r *MemoryRecord) {
				r.Profile.Relationships = append(r.Profile.Relationships, Relationship{Type: "sibling", Name: "Sam", Importance: -1})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := NewMemoryRecord("a@x.com")
			tt.mutate(record)
			err := record.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "outside [0, 1]")
		})
	}
}

func TestValidateBoundaryScores(t *testing.T) {
	record := NewMemoryRecord("a@x.com")
	record.Semantic.Preferences = []Preference{
		{Subject: "tea", Liked: true, Confidence: 0.0},
		{Subject: "coffee", Liked: false, Confidence: 1.0},
	}
	require.NoError(t, record.Validate())
}

func TestValidateUpdatedBeforeCreated(t *testing.T) {
	record := NewMemoryRecord("a@x.com")
	record.UpdatedAt = record.CreatedAt.Add(-time.Hour)
	err := record.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "updated_at")
}

func TestTaskTransitions(t *testing.T) {
	allowed := []struct {
		from, to TaskStatus
	}{
		{TaskPending, TaskInProgress},
		{TaskPending, TaskCompleted},
		{TaskPending, TaskCancelled},
		{TaskInProgress, TaskCompleted},
		{TaskInProgress, TaskCancelled},
	}
	for _, tr := range allowed {
		assert.True(t, tr.from.CanTransition(tr.to), "%s -> %s should be allowed", tr.from, tr.to)
	}

	forbidden := []struct {
		from, to TaskStatus
	}{
		{TaskInProgress, TaskPending},
		{TaskCompleted, TaskPending},
		{TaskCompleted, TaskInProgress},
		{TaskCancelled, TaskPending},
		{TaskCancelled, TaskCompleted},
	}
	for _, tr := range forbidden {
		assert.False(t, tr.from.CanTransition(tr.to), "%s -> %s should be rejected", tr.from, tr.to)
	}
}

func TestTaskTransitionMutates(t *testing.T) {
	task := Task{TaskID: "t1", Description: "book flight", Status: TaskPending}

	require.NoError(t, task.Transition(TaskInProgress))
	assert.Equal(t, TaskInProgress, task.Status)

	require.NoError(t, task.Transition(TaskCompleted))

	err := task.Transition(TaskInProgress)
	require.Error(t, err)
	assert.Equal(t, TaskCompleted, task.Status)
}

func TestInteractionLogValidate(t *testing.T) {
	log := NewInteractionLog(DirectionInbound, "said hello")
	require.NoError(t, log.Validate())
	assert.NotEmpty(t, log.LogID)

	bad := InteractionLog{Direction: "sideways"}
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "direction")
}

func TestMigrateOldVersion(t *testing.T) {
	record := NewMemoryRecord("a@x.com")
	record.Version = "1.0"
	record.Strategic.Strategy.Tone = ""

	changed := Migrate(record)
	assert.True(t, changed)
	assert.Equal(t, SchemaVersion, record.Version)
	assert.Equal(t, "friendly_and_supportive", record.Strategic.Strategy.Tone)
	require.NoError(t, record.Validate())
}

func TestMigrateCurrentVersionNoop(t *testing.T) {
	record := NewMemoryRecord("a@x.com")
	assert.False(t, Migrate(record))
}

func TestMigrateUnknownVersionUntouched(t *testing.T) {
	record := NewMemoryRecord("a@x.com")
	record.Version = "9.9"
	assert.False(t, Migrate(record))
	assert.Equal(t, "9.9", record.Version)
}
