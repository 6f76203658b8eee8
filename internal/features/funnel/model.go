package funnel

import (
	"fmt"
	"time"

	"go-automation/internal/features/action"
	"go-automation/pkg/condition"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type StepType string

const (
	StepSendMessage StepType = "send_message"
	StepWait        StepType = "wait"
	StepBranch      StepType = "branch"
	StepAction      StepType = "action"
)

func ValidStepType(t StepType) bool {
	switch t {
	case StepSendMessage, StepWait, StepBranch, StepAction:
		return true
	}
	return false
}

// BranchConfig routes a subscriber to one of two step ids based on a
// condition tree evaluated against current subscriber state.
type BranchConfig struct {
	Condition   condition.Node `bson:"condition" json:"condition"`
	TrueStepID  string         `bson:"true_step_id" json:"true_step_id"`
	FalseStepID string         `bson:"false_step_id" json:"false_step_id"`
}

type StepConfig struct {
	// send_message
	MessageID string `bson:"message_id,omitempty" json:"message_id,omitempty"`

	// wait
	DelayAmount int    `bson:"delay_amount,omitempty" json:"delay_amount,omitempty"`
	DelayUnit   string `bson:"delay_unit,omitempty" json:"delay_unit,omitempty"` // minutes, hours, days

	// branch
	Branch *BranchConfig `bson:"branch,omitempty" json:"branch,omitempty"`

	// action
	Action *action.Action `bson:"action,omitempty" json:"action,omitempty"`
}

// Delay returns the wait duration for a wait step. Unknown units fall
// back to days, the most common configuration.
func (c StepConfig) Delay() time.Duration {
	amount := time.Duration(c.DelayAmount)
	switch c.DelayUnit {
	case "minutes":
		return amount * time.Minute
	case "hours":
		return amount * time.Hour
	default:
		return amount * 24 * time.Hour
	}
}

type FunnelStep struct {
	ID       string     `bson:"id" json:"id"`
	Type     StepType   `bson:"type" json:"type"`
	Position int        `bson:"position" json:"position"`
	Config   StepConfig `bson:"config" json:"config"`
}

type Funnel struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	AccountID   primitive.ObjectID `bson:"account_id" json:"account_id"`
	Name        string             `bson:"name" json:"name"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	IsActive    bool               `bson:"is_active" json:"is_active"`
	Steps       []FunnelStep       `bson:"steps" json:"steps"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `bson:"updated_at" json:"updated_at"`
}

// StepByID resolves a step in the funnel graph. Branch targets may point
// backward, so lookups are by id rather than position.
func (f *Funnel) StepByID(id string) *FunnelStep {
	for i := range f.Steps {
		if f.Steps[i].ID == id {
			return &f.Steps[i]
		}
	}
	return nil
}

// FirstStep returns the step with the lowest position, or nil for an
// empty funnel.
func (f *Funnel) FirstStep() *FunnelStep {
	var first *FunnelStep
	for i := range f.Steps {
		if first == nil || f.Steps[i].Position < first.Position {
			first = &f.Steps[i]
		}
	}
	return first
}

// NextStep returns the step with the smallest position strictly greater
// than the given step's, or nil when the given step is the last one.
func (f *Funnel) NextStep(current *FunnelStep) *FunnelStep {
	var next *FunnelStep
	for i := range f.Steps {
		s := &f.Steps[i]
		if s.Position <= current.Position {
			continue
		}
		if next == nil || s.Position < next.Position {
			next = s
		}
	}
	return next
}

// Validate rejects malformed funnel definitions at creation time so they
// never reach the stepper.
func (f *Funnel) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("funnel name is required")
	}
	if len(f.Steps) == 0 {
		return fmt.Errorf("funnel requires at least one step")
	}

	seen := make(map[string]bool, len(f.Steps))
	for i := range f.Steps {
		s := &f.Steps[i]
		if s.ID == "" {
			return fmt.Errorf("step %d: id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("step %d: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true
		if !ValidStepType(s.Type) {
			return fmt.Errorf("step %q: invalid type %q", s.ID, s.Type)
		}
		switch s.Type {
		case StepSendMessage:
			if s.Config.MessageID == "" {
				return fmt.Errorf("step %q: message_id is required", s.ID)
			}
		case StepWait:
			if s.Config.DelayAmount <= 0 {
				return fmt.Errorf("step %q: delay_amount must be positive", s.ID)
			}
		case StepBranch:
			if s.Config.Branch == nil {
				return fmt.Errorf("step %q: branch config is required", s.ID)
			}
		case StepAction:
			if s.Config.Action == nil {
				return fmt.Errorf("step %q: action config is required", s.ID)
			}
		}
	}

	// Branch targets must resolve within this funnel
	for i := range f.Steps {
		s := &f.Steps[i]
		if s.Type != StepBranch {
			continue
		}
		b := s.Config.Branch
		if b.TrueStepID != "" && !seen[b.TrueStepID] {
			return fmt.Errorf("step %q: unknown true_step_id %q", s.ID, b.TrueStepID)
		}
		if b.FalseStepID != "" && !seen[b.FalseStepID] {
			return fmt.Errorf("step %q: unknown false_step_id %q", s.ID, b.FalseStepID)
		}
	}
	return nil
}

type Status string

const (
	StatusActive    Status = "active"
	StatusWaiting   Status = "waiting"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusExited    Status = "exited"
)

// Terminal reports whether a status is final. Terminal rows are
// immutable apart from reads.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusExited
}

// HistoryEntry is one row of the append-only audit trail on a
// FunnelSubscriber. Entries are never rewritten or dropped.
type HistoryEntry struct {
	Event     string                 `bson:"event" json:"event"`
	Payload   map[string]interface{} `bson:"payload,omitempty" json:"payload,omitempty"`
	Timestamp time.Time              `bson:"timestamp" json:"timestamp"`
}

// Exit reasons recorded in history when a row leaves a funnel early.
const (
	ExitReasonActionFailed = "action_failed"
	ExitReasonRemoved      = "removed"
)

// FunnelSubscriber joins one subscriber to one funnel traversal.
type FunnelSubscriber struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FunnelID     primitive.ObjectID `bson:"funnel_id" json:"funnel_id"`
	AccountID    primitive.ObjectID `bson:"account_id" json:"account_id"`
	SubscriberID string             `bson:"subscriber_id" json:"subscriber_id"`

	Status        Status     `bson:"status" json:"status"`
	CurrentStepID string     `bson:"current_step_id,omitempty" json:"current_step_id,omitempty"`
	EnteredAt     time.Time  `bson:"entered_at" json:"entered_at"`
	CompletedAt   *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	NextActionAt  *time.Time `bson:"next_action_at,omitempty" json:"next_action_at,omitempty"`

	StepsCompleted int                    `bson:"steps_completed" json:"steps_completed"`
	RetryCount     int                    `bson:"retry_count" json:"retry_count"`
	Data           map[string]interface{} `bson:"data,omitempty" json:"data,omitempty"`
	History        []HistoryEntry         `bson:"history" json:"history"`

	// ClaimedUntil is a worker lease: a row claimed by a crashed worker
	// becomes reclaimable once the lease lapses.
	ClaimedUntil *time.Time `bson:"claimed_until,omitempty" json:"-"`
}
