package rule

import (
	"fmt"
	"time"

	"go-automation/internal/features/action"
	"go-automation/internal/features/events"
	"go-automation/pkg/condition"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type LimitPeriod string

const (
	PeriodHour  LimitPeriod = "hour"
	PeriodDay   LimitPeriod = "day"
	PeriodWeek  LimitPeriod = "week"
	PeriodMonth LimitPeriod = "month"
	PeriodEver  LimitPeriod = "ever"
)

// Window returns the trailing window start for the period, or nil for "ever".
func (p LimitPeriod) Window(now time.Time) *time.Time {
	var start time.Time
	switch p {
	case PeriodHour:
		start = now.Add(-time.Hour)
	case PeriodDay:
		start = now.Add(-24 * time.Hour)
	case PeriodWeek:
		start = now.Add(-7 * 24 * time.Hour)
	case PeriodMonth:
		start = now.Add(-30 * 24 * time.Hour)
	default:
		return nil
	}
	return &start
}

func validPeriod(p LimitPeriod) bool {
	switch p {
	case PeriodHour, PeriodDay, PeriodWeek, PeriodMonth, PeriodEver:
		return true
	}
	return false
}

// AutomationRule reacts to one trigger event with an ordered action list.
type AutomationRule struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	AccountID   primitive.ObjectID `json:"account_id" bson:"account_id"`
	Name        string             `json:"name" bson:"name"`
	Description string             `json:"description,omitempty" bson:"description,omitempty"`

	TriggerEvent  events.Name            `json:"trigger_event" bson:"trigger_event"`
	TriggerConfig map[string]interface{} `json:"trigger_config,omitempty" bson:"trigger_config,omitempty"`

	Conditions     []condition.Clause `json:"conditions,omitempty" bson:"conditions,omitempty"`
	ConditionLogic condition.Logic    `json:"condition_logic" bson:"condition_logic"`

	Actions []action.Action `json:"actions" bson:"actions"`

	IsActive           bool        `json:"is_active" bson:"is_active"`
	LimitPerSubscriber bool        `json:"limit_per_subscriber" bson:"limit_per_subscriber"`
	LimitCount         int         `json:"limit_count,omitempty" bson:"limit_count,omitempty"`
	LimitPeriod        LimitPeriod `json:"limit_period,omitempty" bson:"limit_period,omitempty"`

	// ExecutionCount is a cached aggregate; the log collection is the
	// source of truth
	ExecutionCount int64      `json:"execution_count" bson:"execution_count"`
	LastExecutedAt *time.Time `json:"last_executed_at,omitempty" bson:"last_executed_at,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// Validate rejects malformed definitions before they ever reach the engine.
func (r *AutomationRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if !events.ValidName(r.TriggerEvent) {
		return fmt.Errorf("unknown trigger event: %s", r.TriggerEvent)
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("rule must have at least one action")
	}
	for i, act := range r.Actions {
		if act.Type == "" {
			return fmt.Errorf("action %d is missing a type", i)
		}
	}
	if r.ConditionLogic != "" && r.ConditionLogic != condition.LogicAll && r.ConditionLogic != condition.LogicAny {
		return fmt.Errorf("condition_logic must be all or any")
	}
	for i, cl := range r.Conditions {
		if !condition.ValidOperator(cl.Operator) {
			return fmt.Errorf("condition %d has unknown operator: %s", i, cl.Operator)
		}
	}
	if r.LimitPerSubscriber {
		if r.LimitCount <= 0 {
			return fmt.Errorf("limit_count must be > 0 when limit_per_subscriber is set")
		}
		if !validPeriod(r.LimitPeriod) {
			return fmt.Errorf("unknown limit_period: %s", r.LimitPeriod)
		}
	}
	return nil
}

type LogStatus string

const (
	StatusSuccess LogStatus = "success"
	StatusFailed  LogStatus = "failed"
	StatusSkipped LogStatus = "skipped"
)

// RuleLog is one row per attempted firing. Rows are immutable once written;
// they are the audit trail and the basis for rate-limit counting.
type RuleLog struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	RuleID       primitive.ObjectID `json:"rule_id" bson:"rule_id"`
	AccountID    primitive.ObjectID `json:"account_id" bson:"account_id"`
	SubscriberID string             `json:"subscriber_id" bson:"subscriber_id"`
	TriggerEvent events.Name        `json:"trigger_event" bson:"trigger_event"`

	// ActionsSummary holds one human-readable outcome line per action
	ActionsSummary []string  `json:"actions_summary,omitempty" bson:"actions_summary,omitempty"`
	Status         LogStatus `json:"status" bson:"status"`
	ErrorMessage   string    `json:"error_message,omitempty" bson:"error_message,omitempty"`

	ExecutionTimeMs int64     `json:"execution_time_ms" bson:"execution_time_ms"`
	DryRun          bool      `json:"dry_run,omitempty" bson:"dry_run,omitempty"`
	ExecutedAt      time.Time `json:"executed_at" bson:"executed_at"`
}

// LogFilter narrows ListLogs results.
type LogFilter struct {
	AccountID    string
	RuleID       string
	SubscriberID string
	Status       LogStatus
	From         *time.Time
	To           *time.Time
	Limit        int64
	Offset       int64
}
