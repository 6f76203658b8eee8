package webhook

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Delivery is one outbound webhook call requested by a call_webhook action.
type Delivery struct {
	URL      string                 `json:"url"`
	Method   string                 `json:"method,omitempty"`
	Secret   string                 `json:"secret,omitempty"` // for HMAC signature
	Headers  map[string]string      `json:"headers,omitempty"`
	Event    string                 `json:"event"`
	Payload  map[string]interface{} `json:"payload"`
	DedupKey string                 `json:"dedup_key,omitempty"`
}

// DeliveryLog records a single webhook call attempt.
type DeliveryLog struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	URL        string             `json:"url" bson:"url"`
	Event      string             `json:"event" bson:"event"`
	Request    any                `json:"request" bson:"request"`
	Response   string             `json:"response,omitempty" bson:"response,omitempty"` // body or error message
	StatusCode int                `json:"status_code" bson:"status_code"`
	Success    bool               `json:"success" bson:"success"`
	Duration   int64              `json:"duration" bson:"duration"` // milliseconds
	CreatedAt  time.Time          `json:"created_at" bson:"created_at"`
}
