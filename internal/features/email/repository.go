package email

import (
	"context"
	"time"

	"go-automation/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type MessageRepository interface {
	Create(ctx context.Context, msg *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	ListByAccount(ctx context.Context, accountID string) ([]Message, error)
}

type MessageRepositoryImpl struct {
	Collection *mongo.Collection
}

func NewMessageRepository(mongodb *database.MongodbDB) MessageRepository {
	return &MessageRepositoryImpl{
		Collection: mongodb.DB.Collection("messages"),
	}
}

func (r *MessageRepositoryImpl) Create(ctx context.Context, msg *Message) error {
	if msg.ID.IsZero() {
		msg.ID = primitive.NewObjectID()
	}
	msg.CreatedAt = time.Now()
	msg.UpdatedAt = time.Now()
	_, err := r.Collection.InsertOne(ctx, msg)
	return err
}

func (r *MessageRepositoryImpl) GetByID(ctx context.Context, id string) (*Message, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}
	var msg Message
	err = r.Collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&msg)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

func (r *MessageRepositoryImpl) ListByAccount(ctx context.Context, accountID string) ([]Message, error) {
	oid, err := primitive.ObjectIDFromHex(accountID)
	if err != nil {
		return nil, err
	}
	cursor, err := r.Collection.Find(ctx, bson.M{"account_id": oid})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var msgs []Message
	if err = cursor.All(ctx, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}
