package subscriber

import (
	"context"
	"time"

	"go-automation/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type SubscriberRepository interface {
	Create(ctx context.Context, sub *Subscriber) error
	GetByID(ctx context.Context, id string) (*Subscriber, error)
	AddTag(ctx context.Context, id, tag string) error
	RemoveTag(ctx context.Context, id, tag string) error
	AddToList(ctx context.Context, id, listID string) error
	RemoveFromList(ctx context.Context, id, listID string) error
}

type SubscriberRepositoryImpl struct {
	Collection *mongo.Collection
}

func NewSubscriberRepository(mongodb *database.MongodbDB) SubscriberRepository {
	return &SubscriberRepositoryImpl{
		Collection: mongodb.DB.Collection("subscribers"),
	}
}

func (r *SubscriberRepositoryImpl) Create(ctx context.Context, sub *Subscriber) error {
	if sub.ID.IsZero() {
		sub.ID = primitive.NewObjectID()
	}
	sub.CreatedAt = time.Now()
	sub.UpdatedAt = time.Now()
	_, err := r.Collection.InsertOne(ctx, sub)
	return err
}

func (r *SubscriberRepositoryImpl) GetByID(ctx context.Context, id string) (*Subscriber, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}
	var sub Subscriber
	err = r.Collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&sub)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriberRepositoryImpl) AddTag(ctx context.Context, id, tag string) error {
	return r.updateByID(ctx, id, bson.M{
		"$addToSet": bson.M{"tags": tag},
		"$set":      bson.M{"updated_at": time.Now()},
	})
}

func (r *SubscriberRepositoryImpl) RemoveTag(ctx context.Context, id, tag string) error {
	return r.updateByID(ctx, id, bson.M{
		"$pull": bson.M{"tags": tag},
		"$set":  bson.M{"updated_at": time.Now()},
	})
}

func (r *SubscriberRepositoryImpl) AddToList(ctx context.Context, id, listID string) error {
	return r.updateByID(ctx, id, bson.M{
		"$addToSet": bson.M{"list_ids": listID},
		"$set":      bson.M{"updated_at": time.Now()},
	})
}

func (r *SubscriberRepositoryImpl) RemoveFromList(ctx context.Context, id, listID string) error {
	return r.updateByID(ctx, id, bson.M{
		"$pull": bson.M{"list_ids": listID},
		"$set":  bson.M{"updated_at": time.Now()},
	})
}

func (r *SubscriberRepositoryImpl) updateByID(ctx context.Context, id string, update bson.M) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}
	_, err = r.Collection.UpdateOne(ctx, bson.M{"_id": oid}, update)
	return err
}
