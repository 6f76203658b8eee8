package funnel

import (
	"context"
	"errors"
	"time"

	"go-automation/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrNotFound = errors.New("funnel enrollment not found")

	// ErrConflict means the row exists but is not in a state that permits
	// the requested transition, or a worker currently holds its claim.
	ErrConflict = errors.New("funnel enrollment state conflict")
)

type FunnelRepository interface {
	Create(ctx context.Context, f *Funnel) error
	GetByID(ctx context.Context, id string) (*Funnel, error)
	ListByAccount(ctx context.Context, accountID string) ([]Funnel, error)
	Update(ctx context.Context, f *Funnel) error
	Delete(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) error
}

type FunnelRepositoryImpl struct {
	collection *mongo.Collection
}

func NewFunnelRepository(mongodb *database.MongodbDB) FunnelRepository {
	return &FunnelRepositoryImpl{
		collection: mongodb.DB.Collection("funnels"),
	}
}

func (r *FunnelRepositoryImpl) Create(ctx context.Context, f *Funnel) error {
	f.ID = primitive.NewObjectID()
	f.CreatedAt = time.Now()
	f.UpdatedAt = f.CreatedAt
	_, err := r.collection.InsertOne(ctx, f)
	return err
}

func (r *FunnelRepositoryImpl) GetByID(ctx context.Context, id string) (*Funnel, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	var f Funnel
	err = r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&f)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *FunnelRepositoryImpl) ListByAccount(ctx context.Context, accountID string) ([]Funnel, error) {
	filter := bson.M{}
	if accountID != "" {
		oid, err := primitive.ObjectIDFromHex(accountID)
		if err != nil {
			return nil, err
		}
		filter["account_id"] = oid
	}

	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(bson.M{"created_at": -1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var funnels []Funnel
	if err := cursor.All(ctx, &funnels); err != nil {
		return nil, err
	}
	return funnels, nil
}

func (r *FunnelRepositoryImpl) Update(ctx context.Context, f *Funnel) error {
	f.UpdatedAt = time.Now()
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": f.ID}, f)
	return err
}

func (r *FunnelRepositoryImpl) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}
	_, err = r.collection.DeleteOne(ctx, bson.M{"_id": oid})
	return err
}

func (r *FunnelRepositoryImpl) SetActive(ctx context.Context, id string, active bool) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}
	_, err = r.collection.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{
		"$set": bson.M{"is_active": active, "updated_at": time.Now()},
	})
	return err
}

type EnrollmentRepository interface {
	Create(ctx context.Context, row *FunnelSubscriber) error
	GetByID(ctx context.Context, id string) (*FunnelSubscriber, error)
	FindOpen(ctx context.Context, funnelID, subscriberID string) (*FunnelSubscriber, error)
	ListByFunnel(ctx context.Context, funnelID string, status Status, limit, offset int64) ([]FunnelSubscriber, error)

	// ClaimDue atomically claims one due row for exclusive processing by
	// stamping a lease. Returns nil when no row is due and unclaimed.
	ClaimDue(ctx context.Context, now, leaseUntil time.Time) (*FunnelSubscriber, error)

	// SaveClaimed persists the outcome of a tick for a row this worker
	// claimed, releasing the lease in the same write.
	SaveClaimed(ctx context.Context, row *FunnelSubscriber) error

	// Transition applies an operator state change as one conditional
	// update: the row must be unclaimed and in one of allowedFrom.
	Transition(ctx context.Context, id string, allowedFrom []Status, set bson.M, entry HistoryEntry) error
}

type EnrollmentRepositoryImpl struct {
	collection *mongo.Collection
}

func NewEnrollmentRepository(mongodb *database.MongodbDB) EnrollmentRepository {
	return &EnrollmentRepositoryImpl{
		collection: mongodb.DB.Collection("funnel_subscribers"),
	}
}

func (r *EnrollmentRepositoryImpl) Create(ctx context.Context, row *FunnelSubscriber) error {
	row.ID = primitive.NewObjectID()
	_, err := r.collection.InsertOne(ctx, row)
	return err
}

func (r *EnrollmentRepositoryImpl) GetByID(ctx context.Context, id string) (*FunnelSubscriber, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	var row FunnelSubscriber
	err = r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&row)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *EnrollmentRepositoryImpl) FindOpen(ctx context.Context, funnelID, subscriberID string) (*FunnelSubscriber, error) {
	oid, err := primitive.ObjectIDFromHex(funnelID)
	if err != nil {
		return nil, err
	}

	var row FunnelSubscriber
	err = r.collection.FindOne(ctx, bson.M{
		"funnel_id":     oid,
		"subscriber_id": subscriberID,
		"status":        bson.M{"$in": []Status{StatusActive, StatusWaiting, StatusPaused}},
	}).Decode(&row)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *EnrollmentRepositoryImpl) ListByFunnel(ctx context.Context, funnelID string, status Status, limit, offset int64) ([]FunnelSubscriber, error) {
	oid, err := primitive.ObjectIDFromHex(funnelID)
	if err != nil {
		return nil, err
	}

	filter := bson.M{"funnel_id": oid}
	if status != "" {
		filter["status"] = status
	}

	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.M{"entered_at": -1}).
		SetSkip(offset).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []FunnelSubscriber
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// unclaimedFilter matches rows not currently leased by any worker. An
// expired lease counts as unclaimed so crashed workers never wedge a row.
func unclaimedFilter(now time.Time) bson.M {
	return bson.M{"$or": []bson.M{
		{"claimed_until": bson.M{"$exists": false}},
		{"claimed_until": nil},
		{"claimed_until": bson.M{"$lte": now}},
	}}
}

func (r *EnrollmentRepositoryImpl) ClaimDue(ctx context.Context, now, leaseUntil time.Time) (*FunnelSubscriber, error) {
	filter := bson.M{
		"status":         bson.M{"$in": []Status{StatusActive, StatusWaiting}},
		"next_action_at": bson.M{"$lte": now},
		"$and":           []bson.M{unclaimedFilter(now)},
	}

	update := bson.M{"$set": bson.M{"claimed_until": leaseUntil}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.M{"next_action_at": 1}).
		SetReturnDocument(options.After)

	var row FunnelSubscriber
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&row)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *EnrollmentRepositoryImpl) SaveClaimed(ctx context.Context, row *FunnelSubscriber) error {
	lease := row.ClaimedUntil
	row.ClaimedUntil = nil

	res, err := r.collection.ReplaceOne(ctx, bson.M{
		"_id":           row.ID,
		"claimed_until": lease,
	}, row)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		// Lease lapsed and another worker took over; our result is stale
		return ErrConflict
	}
	return nil
}

func (r *EnrollmentRepositoryImpl) Transition(ctx context.Context, id string, allowedFrom []Status, set bson.M, entry HistoryEntry) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}

	now := time.Now()
	filter := bson.M{
		"_id":    oid,
		"status": bson.M{"$in": allowedFrom},
		"$and":   []bson.M{unclaimedFilter(now)},
	}
	update := bson.M{
		"$set":  set,
		"$push": bson.M{"history": entry},
	}

	res, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		exists, err := r.collection.CountDocuments(ctx, bson.M{"_id": oid})
		if err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}
