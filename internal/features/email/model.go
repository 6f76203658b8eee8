package email

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Email is one outbound message handed to the SMTP sender.
type Email struct {
	From     string
	To       []string
	Subject  string
	HtmlBody string
	// DedupKey lets the receiving infrastructure detect replays of the same
	// logical send after a crash-retry
	DedupKey string
}

// Message is a stored message template referenced by funnel send-message
// steps and rule send_email actions via message_id.
type Message struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	AccountID primitive.ObjectID `json:"account_id" bson:"account_id"`
	Name      string             `json:"name" bson:"name"`
	Subject   string             `json:"subject" bson:"subject"`
	Body      string             `json:"body" bson:"body"`
	CreatedAt time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time          `json:"updated_at" bson:"updated_at"`
}
