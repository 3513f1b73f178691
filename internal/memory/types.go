// Package memory defines the per-user memory record schema and its
// validation rules. Types here are pure values with no external calls.
package memory

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the current memory record schema version. Records loaded
// with an older version string are migrated on read.
const SchemaVersion = "2.1"

// Direction indicates whether an interaction was received from the user or
// sent to them.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// TaskStatus is the lifecycle state of a tracked task. Transitions are
// forward-only: pending -> in_progress -> {completed, cancelled}.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

// HypothesisStatus tracks whether a strategic hypothesis is still being
// evaluated.
type HypothesisStatus string

const (
	HypothesisActive    HypothesisStatus = "active"
	HypothesisConfirmed HypothesisStatus = "confirmed"
	HypothesisRefuted   HypothesisStatus = "refuted"
)

// MemoryRecord is the complete persistent state for one user. It is created
// on first contact and loaded-mutated-saved on every subsequent interaction.
type MemoryRecord struct {
	UserID    string    `json:"user_id"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Profile     Profile          `json:"profile"`
	Episodic    []InteractionLog `json:"episodic"`
	Semantic    Semantic         `json:"semantic"`
	ActionState ActionState      `json:"action_state"`
	Strategic   Strategic        `json:"strategic"`
}

// Profile holds free-form identity facts about the user. Mutated by explicit
// profile-update operations only.
type Profile struct {
	Name          string         `json:"name,omitempty"`
	Occupation    string         `json:"occupation,omitempty"`
	Location      string         `json:"location,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
	Traits        []string       `json:"traits,omitempty"`
	LifeSummary   string         `json:"life_summary,omitempty"`
}

// Relationship describes a person in the user's life.
type Relationship struct {
	Type        string  `json:"type"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Importance  float64 `json:"importance"`
}

// InteractionLog is one immutable record of a single inbound or outbound
// turn. Once written it is never modified or reordered.
type InteractionLog struct {
	LogID             string    `json:"log_id"`
	Timestamp         time.Time `json:"timestamp"`
	Direction         Direction `json:"direction"`
	Summary           string    `json:"summary"`
	Tags              []string  `json:"tags,omitempty"`
	ModelVersion      string    `json:"model_version,omitempty"`
	ReasoningSnapshot string    `json:"reasoning_snapshot,omitempty"`
	PromptTokens      int       `json:"prompt_tokens,omitempty"`
	CompletionTokens  int       `json:"completion_tokens,omitempty"`
	CostUSD           float64   `json:"cost_usd,omitempty"`
	SendFailed        bool      `json:"send_failed,omitempty"`
	FailureStage      string    `json:"failure_stage,omitempty"`
}

// NewInteractionLog creates a log entry with a fresh id and timestamp.
func NewInteractionLog(direction Direction, summary string) InteractionLog {
	return InteractionLog{
		LogID:     uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Direction: direction,
		Summary:   summary,
	}
}

// Semantic holds derived facts about the user. Every entry carries a
// confidence or importance score in [0, 1].
type Semantic struct {
	Preferences []Preference       `json:"preferences,omitempty"`
	Habits      []Habit            `json:"habits,omitempty"`
	Events      []SignificantEvent `json:"events,omitempty"`
	Skills      []Skill            `json:"skills,omitempty"`
}

// Preference is a like or dislike with a confidence score.
type Preference struct {
	Subject    string  `json:"subject"`
	Liked      bool    `json:"liked"`
	Confidence float64 `json:"confidence"`
}

// Habit is an observed behavior pattern.
type Habit struct {
	Description   string    `json:"description"`
	Frequency     string    `json:"frequency,omitempty"`
	Confidence    float64   `json:"confidence"`
	FirstObserved time.Time `json:"first_observed"`
	LastConfirmed time.Time `json:"last_confirmed"`
}

// SignificantEvent is an important life event mentioned by the user.
type SignificantEvent struct {
	Description string    `json:"description"`
	Date        time.Time `json:"date,omitempty"`
	Impact      string    `json:"impact,omitempty"`
	Importance  float64   `json:"importance"`
	Topics      []string  `json:"topics,omitempty"`
}

// Skill records an area of expertise.
type Skill struct {
	Name        string  `json:"name"`
	Proficiency string  `json:"proficiency,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// ActionState tracks the user's open tasks and plans.
type ActionState struct {
	Tasks []Task `json:"tasks,omitempty"`
	Plans []Plan `json:"plans,omitempty"`
}

// Task is a tracked to-do item with forward-only status transitions.
type Task struct {
	TaskID      string     `json:"task_id"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	RemindAt    *time.Time `json:"remind_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Plan is a longer-horizon intention the user has mentioned.
type Plan struct {
	Description string  `json:"description"`
	Timeframe   string  `json:"timeframe,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// Strategic holds AI-authored hypotheses about the user and the current
// communication strategy.
type Strategic struct {
	Hypotheses []Hypothesis          `json:"hypotheses,omitempty"`
	Strategy   CommunicationStrategy `json:"strategy"`
}

// Hypothesis is a confidence-scored guess about the user, linked to the
// interaction log entries that support it.
type Hypothesis struct {
	HypothesisID string           `json:"hypothesis_id"`
	Statement    string           `json:"statement"`
	Confidence   float64          `json:"confidence"`
	Status       HypothesisStatus `json:"status"`
	Evidence     []string         `json:"evidence,omitempty"` // log_id back-references
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// CommunicationStrategy holds the current reply-composition parameters.
type CommunicationStrategy struct {
	Tone          string   `json:"tone,omitempty"`
	TopicsToRaise []string `json:"topics_to_raise,omitempty"`
	TopicsToAvoid []string `json:"topics_to_avoid,omitempty"`
}

// NewMemoryRecord creates an empty record for a previously-unseen user.
func NewMemoryRecord(userID string) *MemoryRecord {
	now := time.Now().UTC()
	return &MemoryRecord{
		UserID:    userID,
		Version:   SchemaVersion,
		CreatedAt: now,
		UpdatedAt: now,
		Strategic: Strategic{
			Strategy: CommunicationStrategy{
				Tone: "friendly_and_supportive",
			},
		},
	}
}
