package action

type Type string

const (
	TypeSendEmail      Type = "send_email"
	TypeSendSMS        Type = "send_sms"
	TypeAddTag         Type = "add_tag"
	TypeRemoveTag      Type = "remove_tag"
	TypeAddToList      Type = "add_to_list"
	TypeRemoveFromList Type = "remove_from_list"
	TypeCreateCRMTask  Type = "create_crm_task"
	TypeCallWebhook    Type = "call_webhook"
	TypeEnrollInFunnel Type = "enroll_in_funnel"
	TypeRunScript      Type = "run_script"
)

// Action is one side-effecting operation a rule or funnel step performs.
type Action struct {
	Type   Type                   `json:"type" bson:"type"`
	Config map[string]interface{} `json:"config" bson:"config"`
}

// Request carries the invocation context into an executor. DedupKey is
// derived from (rule or step, subscriber, attempt) so non-idempotent
// executors can detect replays after a crash-retry.
type Request struct {
	AccountID    string
	SubscriberID string
	DedupKey     string
	// Payload is the triggering event payload (rules) or accumulated funnel
	// data (steps); used for placeholder substitution and scripts
	Payload map[string]interface{}
}
