package events

import "time"

// Name identifies a trigger event. The set is closed: rules validate their
// trigger against it and producers must not invent names.
type Name string

const (
	Signup           Name = "signup"
	TagAdded         Name = "tag_added"
	TagRemoved       Name = "tag_removed"
	EmailOpened      Name = "email_opened"
	EmailClicked     Name = "email_clicked"
	EmailBounced     Name = "email_bounced"
	PageVisited      Name = "page_visited"
	DealStageChanged Name = "deal_stage_changed"
	TaskCompleted    Name = "task_completed"
	Inactivity       Name = "inactivity"
	Anniversary      Name = "anniversary"
	FunnelCompleted  Name = "funnel_completed"
	FunnelExited     Name = "funnel_exited"
)

var validNames = map[Name]bool{
	Signup:           true,
	TagAdded:         true,
	TagRemoved:       true,
	EmailOpened:      true,
	EmailClicked:     true,
	EmailBounced:     true,
	PageVisited:      true,
	DealStageChanged: true,
	TaskCompleted:    true,
	Inactivity:       true,
	Anniversary:      true,
	FunnelCompleted:  true,
	FunnelExited:     true,
}

// ValidName reports whether n is part of the closed event set.
func ValidName(n Name) bool {
	return validNames[n]
}

// Event is what producers publish and the rule engine consumes.
type Event struct {
	ID           string                 `json:"id"`
	Name         Name                   `json:"name"`
	AccountID    string                 `json:"account_id"`
	SubscriberID string                 `json:"subscriber_id,omitempty"` // empty for non-subscriber events
	Payload      map[string]interface{} `json:"payload"`
	OccurredAt   time.Time              `json:"occurred_at"`
}
