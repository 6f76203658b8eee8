package webhook

import (
	"context"
	"time"

	"go-automation/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type DeliveryLogRepository interface {
	Create(ctx context.Context, log *DeliveryLog) error
	List(ctx context.Context, limit int64) ([]DeliveryLog, error)
}

type DeliveryLogRepositoryImpl struct {
	Collection *mongo.Collection
}

func NewDeliveryLogRepository(mongodb *database.MongodbDB) DeliveryLogRepository {
	return &DeliveryLogRepositoryImpl{
		Collection: mongodb.DB.Collection("webhook_logs"),
	}
}

func (r *DeliveryLogRepositoryImpl) Create(ctx context.Context, log *DeliveryLog) error {
	log.ID = primitive.NewObjectID()
	log.CreatedAt = time.Now()
	_, err := r.Collection.InsertOne(ctx, log)
	return err
}

func (r *DeliveryLogRepositoryImpl) List(ctx context.Context, limit int64) ([]DeliveryLog, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().SetSort(bson.M{"created_at": -1}).SetLimit(limit)
	cursor, err := r.Collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var logs []DeliveryLog
	if err = cursor.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}
