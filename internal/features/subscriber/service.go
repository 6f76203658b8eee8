package subscriber

import (
	"context"
	"fmt"
)

// Service is the collaborator surface both engines depend on: snapshot reads
// for condition evaluation, membership mutations for the tag/list executors.
type Service interface {
	Get(ctx context.Context, id string) (*Subscriber, error)
	AddTag(ctx context.Context, id, tag string) error
	RemoveTag(ctx context.Context, id, tag string) error
	AddToList(ctx context.Context, id, listID string) error
	RemoveFromList(ctx context.Context, id, listID string) error
}

type ServiceImpl struct {
	Repo SubscriberRepository
}

func NewService(repo SubscriberRepository) Service {
	return &ServiceImpl{Repo: repo}
}

func (s *ServiceImpl) Get(ctx context.Context, id string) (*Subscriber, error) {
	sub, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("subscriber %s not found", id)
	}
	return sub, nil
}

func (s *ServiceImpl) AddTag(ctx context.Context, id, tag string) error {
	if tag == "" {
		return fmt.Errorf("tag is required")
	}
	return s.Repo.AddTag(ctx, id, tag)
}

func (s *ServiceImpl) RemoveTag(ctx context.Context, id, tag string) error {
	if tag == "" {
		return fmt.Errorf("tag is required")
	}
	return s.Repo.RemoveTag(ctx, id, tag)
}

func (s *ServiceImpl) AddToList(ctx context.Context, id, listID string) error {
	if listID == "" {
		return fmt.Errorf("list id is required")
	}
	return s.Repo.AddToList(ctx, id, listID)
}

func (s *ServiceImpl) RemoveFromList(ctx context.Context, id, listID string) error {
	if listID == "" {
		return fmt.Errorf("list id is required")
	}
	return s.Repo.RemoveFromList(ctx, id, listID)
}
