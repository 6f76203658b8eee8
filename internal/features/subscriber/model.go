package subscriber

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Subscriber is the engine's read view of a contact. It is owned by the
// surrounding CRM; the engines only look attributes up and mutate tag/list
// membership through the action executors.
type Subscriber struct {
	ID         primitive.ObjectID     `json:"id" bson:"_id,omitempty"`
	AccountID  primitive.ObjectID     `json:"account_id" bson:"account_id"`
	Email      string                 `json:"email" bson:"email"`
	Phone      string                 `json:"phone,omitempty" bson:"phone,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty" bson:"attributes,omitempty"`
	Tags       []string               `json:"tags,omitempty" bson:"tags,omitempty"`
	ListIDs    []string               `json:"list_ids,omitempty" bson:"list_ids,omitempty"`
	// CustomFields are account-defined fields, resolved after Attributes
	CustomFields map[string]interface{} `json:"custom_fields,omitempty" bson:"custom_fields,omitempty"`
	CreatedAt    time.Time              `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at" bson:"updated_at"`
}

// HasTag reports tag membership on the snapshot.
func (s *Subscriber) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// InList reports list membership on the snapshot.
func (s *Subscriber) InList(listID string) bool {
	for _, l := range s.ListIDs {
		if l == listID {
			return true
		}
	}
	return false
}

// Attribute resolves a field: attributes first, then custom fields. It is
// the condition.Lookup implementation used by both engines.
func (s *Subscriber) Attribute(field string) (interface{}, bool) {
	switch field {
	case "email":
		return s.Email, s.Email != ""
	case "phone":
		return s.Phone, s.Phone != ""
	}
	if v, ok := s.Attributes[field]; ok {
		return v, true
	}
	if v, ok := s.CustomFields[field]; ok {
		return v, true
	}
	return nil, false
}
