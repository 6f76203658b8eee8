package funnel

import (
	"context"
	"errors"
	"fmt"
	"time"

	common_models "go-automation/internal/common/models"
	"go-automation/internal/features/audit"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ControlService is the operator surface over funnels and enrollments.
// Every state change goes through a conditional update so a control call
// can never race a stepper worker into an illegal transition.
type ControlService interface {
	CreateFunnel(ctx context.Context, f *Funnel) error
	GetFunnel(ctx context.Context, id string) (*Funnel, error)
	ListFunnels(ctx context.Context, accountID string) ([]Funnel, error)
	UpdateFunnel(ctx context.Context, f *Funnel) error
	DeleteFunnel(ctx context.Context, id string) error

	Enroll(ctx context.Context, accountID, funnelID, subscriberID string) (*FunnelSubscriber, error)
	GetEnrollment(ctx context.Context, id string) (*FunnelSubscriber, error)
	ListEnrollments(ctx context.Context, funnelID string, status Status, limit, offset int64) ([]FunnelSubscriber, error)
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	AdvanceTo(ctx context.Context, id, stepID string) error
	Remove(ctx context.Context, id string) error

	// EnrollSubscriber is the enroll_in_funnel action executor hook.
	EnrollSubscriber(ctx context.Context, accountID, funnelID, subscriberID string) error
}

type ControlServiceImpl struct {
	Funnels      FunnelRepository
	Rows         EnrollmentRepository
	Stepper      *Stepper
	AuditService audit.AuditService
}

func NewControlService(funnels FunnelRepository, rows EnrollmentRepository, stepper *Stepper, auditService audit.AuditService) ControlService {
	return &ControlServiceImpl{
		Funnels:      funnels,
		Rows:         rows,
		Stepper:      stepper,
		AuditService: auditService,
	}
}

func (s *ControlServiceImpl) CreateFunnel(ctx context.Context, f *Funnel) error {
	if err := f.Validate(); err != nil {
		return err
	}

	err := s.Funnels.Create(ctx, f)
	if err == nil {
		s.AuditService.LogChange(ctx, common_models.AuditActionFunnel, "funnel", f.ID.Hex(), map[string]common_models.Change{
			"funnel": {New: f},
		})
	}
	return err
}

func (s *ControlServiceImpl) GetFunnel(ctx context.Context, id string) (*Funnel, error) {
	f, err := s.Funnels.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("funnel %s not found", id)
	}
	return f, nil
}

func (s *ControlServiceImpl) ListFunnels(ctx context.Context, accountID string) ([]Funnel, error) {
	return s.Funnels.ListByAccount(ctx, accountID)
}

func (s *ControlServiceImpl) UpdateFunnel(ctx context.Context, f *Funnel) error {
	if err := f.Validate(); err != nil {
		return err
	}

	old, _ := s.Funnels.GetByID(ctx, f.ID.Hex())
	if old == nil {
		return fmt.Errorf("funnel %s not found", f.ID.Hex())
	}

	err := s.Funnels.Update(ctx, f)
	if err == nil {
		s.AuditService.LogChange(ctx, common_models.AuditActionFunnel, "funnel", f.ID.Hex(), map[string]common_models.Change{
			"funnel": {Old: old, New: f},
		})
	}
	return err
}

func (s *ControlServiceImpl) DeleteFunnel(ctx context.Context, id string) error {
	old, _ := s.Funnels.GetByID(ctx, id)

	err := s.Funnels.Delete(ctx, id)
	if err == nil {
		name := id
		if old != nil {
			name = old.Name
		}
		s.AuditService.LogChange(ctx, common_models.AuditActionFunnel, "funnel", name, map[string]common_models.Change{
			"funnel": {Old: old},
		})
	}
	return err
}

// Enroll puts a subscriber at the first step of a funnel, eligible for the
// next stepper pass immediately. A subscriber can hold at most one open
// enrollment per funnel; terminal rows do not block re-entry.
func (s *ControlServiceImpl) Enroll(ctx context.Context, accountID, funnelID, subscriberID string) (*FunnelSubscriber, error) {
	f, err := s.GetFunnel(ctx, funnelID)
	if err != nil {
		return nil, err
	}
	if !f.IsActive {
		return nil, fmt.Errorf("funnel %s is not active", funnelID)
	}
	first := f.FirstStep()
	if first == nil {
		return nil, fmt.Errorf("funnel %s has no steps", funnelID)
	}

	existing, err := s.Rows.FindOpen(ctx, funnelID, subscriberID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("subscriber %s is already enrolled in funnel %s", subscriberID, funnelID)
	}

	accountOID, err := primitive.ObjectIDFromHex(accountID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	row := &FunnelSubscriber{
		FunnelID:      f.ID,
		AccountID:     accountOID,
		SubscriberID:  subscriberID,
		Status:        StatusActive,
		CurrentStepID: first.ID,
		EnteredAt:     now,
		NextActionAt:  &now,
		History: []HistoryEntry{{
			Event:     "entered",
			Payload:   map[string]interface{}{"step_id": first.ID},
			Timestamp: now,
		}},
	}

	if err := s.Rows.Create(ctx, row); err != nil {
		return nil, err
	}

	s.AuditService.LogChange(ctx, common_models.AuditActionEnrollment, "funnel_subscriber", row.ID.Hex(), map[string]common_models.Change{
		"enrollment": {New: row},
	})
	return row, nil
}

func (s *ControlServiceImpl) EnrollSubscriber(ctx context.Context, accountID, funnelID, subscriberID string) error {
	_, err := s.Enroll(ctx, accountID, funnelID, subscriberID)
	return err
}

func (s *ControlServiceImpl) GetEnrollment(ctx context.Context, id string) (*FunnelSubscriber, error) {
	row, err := s.Rows.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrNotFound
	}
	return row, nil
}

func (s *ControlServiceImpl) ListEnrollments(ctx context.Context, funnelID string, status Status, limit, offset int64) ([]FunnelSubscriber, error) {
	return s.Rows.ListByFunnel(ctx, funnelID, status, limit, offset)
}

func (s *ControlServiceImpl) Pause(ctx context.Context, id string) error {
	err := s.Rows.Transition(ctx, id,
		[]Status{StatusActive, StatusWaiting},
		bson.M{"status": StatusPaused},
		HistoryEntry{Event: "paused", Timestamp: time.Now()},
	)
	if err == nil {
		s.AuditService.LogChange(ctx, common_models.AuditActionEnrollment, "funnel_subscriber", id, map[string]common_models.Change{
			"status": {New: StatusPaused},
		})
	}
	return err
}

func (s *ControlServiceImpl) Resume(ctx context.Context, id string) error {
	now := time.Now()
	err := s.Rows.Transition(ctx, id,
		[]Status{StatusPaused},
		bson.M{"status": StatusActive, "next_action_at": now},
		HistoryEntry{Event: "resumed", Timestamp: now},
	)
	if err == nil {
		s.AuditService.LogChange(ctx, common_models.AuditActionEnrollment, "funnel_subscriber", id, map[string]common_models.Change{
			"status": {New: StatusActive},
		})
	}
	return err
}

// AdvanceTo is the operator override that jumps a row to an arbitrary step
// of its own funnel. The row becomes eligible on the next pass.
func (s *ControlServiceImpl) AdvanceTo(ctx context.Context, id, stepID string) error {
	row, err := s.GetEnrollment(ctx, id)
	if err != nil {
		return err
	}

	f, err := s.GetFunnel(ctx, row.FunnelID.Hex())
	if err != nil {
		return err
	}
	if f.StepByID(stepID) == nil {
		return fmt.Errorf("step %q does not belong to funnel %s", stepID, f.ID.Hex())
	}

	now := time.Now()
	err = s.Rows.Transition(ctx, id,
		[]Status{StatusActive, StatusWaiting, StatusPaused},
		bson.M{"current_step_id": stepID, "next_action_at": now},
		HistoryEntry{
			Event: "advanced",
			Payload: map[string]interface{}{
				"from_step_id": row.CurrentStepID,
				"to_step_id":   stepID,
			},
			Timestamp: now,
		},
	)
	if err == nil {
		s.AuditService.LogChange(ctx, common_models.AuditActionEnrollment, "funnel_subscriber", id, map[string]common_models.Change{
			"current_step_id": {Old: row.CurrentStepID, New: stepID},
		})
		// An active row gets its new step immediately instead of waiting
		// for the next scheduled pass
		if row.Status == StatusActive && s.Stepper != nil {
			go s.Stepper.Tick(context.Background())
		}
	}
	return err
}

// Remove forces a row out of its funnel. Removing an already-exited row is
// a no-op; removing a completed row is a conflict.
func (s *ControlServiceImpl) Remove(ctx context.Context, id string) error {
	now := time.Now()
	err := s.Rows.Transition(ctx, id,
		[]Status{StatusActive, StatusWaiting, StatusPaused},
		bson.M{"status": StatusExited, "completed_at": now, "next_action_at": nil},
		HistoryEntry{
			Event:     "exited",
			Payload:   map[string]interface{}{"reason": ExitReasonRemoved},
			Timestamp: now,
		},
	)
	if errors.Is(err, ErrConflict) {
		row, getErr := s.Rows.GetByID(ctx, id)
		if getErr == nil && row != nil && row.Status == StatusExited {
			return nil
		}
		return err
	}
	if err == nil {
		s.AuditService.LogChange(ctx, common_models.AuditActionEnrollment, "funnel_subscriber", id, map[string]common_models.Change{
			"status": {New: StatusExited},
		})
	}
	return err
}
