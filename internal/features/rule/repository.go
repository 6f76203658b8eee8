package rule

import (
	"context"
	"time"

	"go-automation/internal/database"
	"go-automation/internal/features/events"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type RuleRepository interface {
	Create(ctx context.Context, rule *AutomationRule) error
	GetByID(ctx context.Context, id string) (*AutomationRule, error)
	ListByAccount(ctx context.Context, accountID string) ([]AutomationRule, error)
	FindActiveByTrigger(ctx context.Context, accountID string, trigger events.Name) ([]AutomationRule, error)
	Update(ctx context.Context, rule *AutomationRule) error
	Delete(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) error
	RecordExecution(ctx context.Context, id string, at time.Time) error
}

type RuleRepositoryImpl struct {
	Collection *mongo.Collection
}

func NewRuleRepository(mongodb *database.MongodbDB) RuleRepository {
	return &RuleRepositoryImpl{
		Collection: mongodb.DB.Collection("automation_rules"),
	}
}

func (r *RuleRepositoryImpl) Create(ctx context.Context, rule *AutomationRule) error {
	rule.ID = primitive.NewObjectID()
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = time.Now()
	_, err := r.Collection.InsertOne(ctx, rule)
	return err
}

func (r *RuleRepositoryImpl) GetByID(ctx context.Context, id string) (*AutomationRule, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}
	var rule AutomationRule
	err = r.Collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&rule)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}

func (r *RuleRepositoryImpl) ListByAccount(ctx context.Context, accountID string) ([]AutomationRule, error) {
	oid, err := primitive.ObjectIDFromHex(accountID)
	if err != nil {
		return nil, err
	}
	cursor, err := r.Collection.Find(ctx, bson.M{"account_id": oid})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var rules []AutomationRule
	if err = cursor.All(ctx, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *RuleRepositoryImpl) FindActiveByTrigger(ctx context.Context, accountID string, trigger events.Name) ([]AutomationRule, error) {
	oid, err := primitive.ObjectIDFromHex(accountID)
	if err != nil {
		return nil, err
	}
	cursor, err := r.Collection.Find(ctx, bson.M{
		"account_id":    oid,
		"trigger_event": trigger,
		"is_active":     true,
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var rules []AutomationRule
	if err = cursor.All(ctx, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *RuleRepositoryImpl) Update(ctx context.Context, rule *AutomationRule) error {
	rule.UpdatedAt = time.Now()
	_, err := r.Collection.UpdateOne(ctx, bson.M{"_id": rule.ID}, bson.M{"$set": rule})
	return err
}

func (r *RuleRepositoryImpl) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}
	_, err = r.Collection.DeleteOne(ctx, bson.M{"_id": oid})
	return err
}

func (r *RuleRepositoryImpl) SetActive(ctx context.Context, id string, active bool) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}
	_, err = r.Collection.UpdateOne(ctx, bson.M{"_id": oid},
		bson.M{"$set": bson.M{"is_active": active, "updated_at": time.Now()}})
	return err
}

// RecordExecution bumps the cached counter; the log collection remains the
// source of truth.
func (r *RuleRepositoryImpl) RecordExecution(ctx context.Context, id string, at time.Time) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}
	_, err = r.Collection.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{
		"$inc": bson.M{"execution_count": 1},
		"$set": bson.M{"last_executed_at": at},
	})
	return err
}

type LogRepository interface {
	Create(ctx context.Context, log *RuleLog) error
	List(ctx context.Context, filter LogFilter) ([]RuleLog, error)
	// CountSuccessSince counts non-dry-run success rows for the pair; a nil
	// since means all time.
	CountSuccessSince(ctx context.Context, ruleID primitive.ObjectID, subscriberID string, since *time.Time) (int64, error)
}

type LogRepositoryImpl struct {
	Collection *mongo.Collection
}

func NewLogRepository(mongodb *database.MongodbDB) LogRepository {
	return &LogRepositoryImpl{
		Collection: mongodb.DB.Collection("automation_rule_logs"),
	}
}

func (r *LogRepositoryImpl) Create(ctx context.Context, log *RuleLog) error {
	log.ID = primitive.NewObjectID()
	if log.ExecutedAt.IsZero() {
		log.ExecutedAt = time.Now()
	}
	_, err := r.Collection.InsertOne(ctx, log)
	return err
}

func (r *LogRepositoryImpl) List(ctx context.Context, filter LogFilter) ([]RuleLog, error) {
	query := bson.M{}
	if filter.AccountID != "" {
		if oid, err := primitive.ObjectIDFromHex(filter.AccountID); err == nil {
			query["account_id"] = oid
		}
	}
	if filter.RuleID != "" {
		if oid, err := primitive.ObjectIDFromHex(filter.RuleID); err == nil {
			query["rule_id"] = oid
		}
	}
	if filter.SubscriberID != "" {
		query["subscriber_id"] = filter.SubscriberID
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.From != nil || filter.To != nil {
		rangeQuery := bson.M{}
		if filter.From != nil {
			rangeQuery["$gte"] = *filter.From
		}
		if filter.To != nil {
			rangeQuery["$lte"] = *filter.To
		}
		query["executed_at"] = rangeQuery
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.M{"executed_at": -1}).
		SetLimit(limit).
		SetSkip(filter.Offset)

	cursor, err := r.Collection.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var logs []RuleLog
	if err = cursor.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *LogRepositoryImpl) CountSuccessSince(ctx context.Context, ruleID primitive.ObjectID, subscriberID string, since *time.Time) (int64, error) {
	query := bson.M{
		"rule_id":       ruleID,
		"subscriber_id": subscriberID,
		"status":        StatusSuccess,
		"dry_run":       bson.M{"$ne": true},
	}
	if since != nil {
		query["executed_at"] = bson.M{"$gte": *since}
	}
	return r.Collection.CountDocuments(ctx, query)
}
