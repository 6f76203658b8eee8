package crmtask

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Task is a CRM task created by the create_crm_task executor.
type Task struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	AccountID    primitive.ObjectID `json:"account_id" bson:"account_id"`
	SubscriberID string             `json:"subscriber_id,omitempty" bson:"subscriber_id,omitempty"`
	Subject      string             `json:"subject" bson:"subject"`
	Description  string             `json:"description,omitempty" bson:"description,omitempty"`
	AssignedTo   string             `json:"assigned_to,omitempty" bson:"assigned_to,omitempty"`
	DueDate      *time.Time         `json:"due_date,omitempty" bson:"due_date,omitempty"`
	Status       string             `json:"status" bson:"status"` // pending, done
	DedupKey     string             `json:"dedup_key,omitempty" bson:"dedup_key,omitempty"`
	CreatedAt    time.Time          `json:"created_at" bson:"created_at"`
}
