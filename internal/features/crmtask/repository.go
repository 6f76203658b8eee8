package crmtask

import (
	"context"
	"time"

	"go-automation/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type TaskRepository interface {
	Create(ctx context.Context, task *Task) error
	ListBySubscriber(ctx context.Context, subscriberID string) ([]Task, error)
}

type TaskRepositoryImpl struct {
	Collection *mongo.Collection
}

func NewTaskRepository(mongodb *database.MongodbDB) TaskRepository {
	return &TaskRepositoryImpl{
		Collection: mongodb.DB.Collection("crm_tasks"),
	}
}

func (r *TaskRepositoryImpl) Create(ctx context.Context, task *Task) error {
	if task.ID.IsZero() {
		task.ID = primitive.NewObjectID()
	}
	if task.Status == "" {
		task.Status = "pending"
	}
	task.CreatedAt = time.Now()

	// Replays of the same logical create are dropped by dedup key
	if task.DedupKey != "" {
		count, err := r.Collection.CountDocuments(ctx, bson.M{"dedup_key": task.DedupKey})
		if err == nil && count > 0 {
			return nil
		}
	}

	_, err := r.Collection.InsertOne(ctx, task)
	return err
}

func (r *TaskRepositoryImpl) ListBySubscriber(ctx context.Context, subscriberID string) ([]Task, error) {
	cursor, err := r.Collection.Find(ctx, bson.M{"subscriber_id": subscriberID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var tasks []Task
	if err = cursor.All(ctx, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}
