package funnel

import (
	"context"
	"errors"
	"testing"
	"time"

	common_models "go-automation/internal/common/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type noopAudit struct{}

func (noopAudit) LogChange(ctx context.Context, action common_models.AuditAction, module string, recordID string, changes map[string]common_models.Change) error {
	return nil
}
func (noopAudit) ListLogs(ctx context.Context, filters map[string]interface{}, page, limit int64) ([]common_models.AuditLog, error) {
	return nil, nil
}

type controlFixture struct {
	funnels *fakeFunnelRepo
	rows    *fakeEnrollmentRepo
	service ControlService
}

func newControlFixture(t *testing.T) *controlFixture {
	t.Helper()
	fix := &controlFixture{
		funnels: &fakeFunnelRepo{funnels: make(map[string]*Funnel)},
		rows:    newFakeEnrollmentRepo(),
	}
	fix.service = NewControlService(fix.funnels, fix.rows, nil, noopAudit{})
	return fix
}

func (fix *controlFixture) seedFunnel(t *testing.T) *Funnel {
	t.Helper()
	account := primitive.NewObjectID()
	f := messageWaitMessageFunnel(account)
	fix.funnels.funnels[f.ID.Hex()] = f
	return f
}

func (fix *controlFixture) seedRow(t *testing.T, f *Funnel, status Status) *FunnelSubscriber {
	t.Helper()
	now := time.Now()
	row := &FunnelSubscriber{
		FunnelID:      f.ID,
		AccountID:     f.AccountID,
		SubscriberID:  "sub1",
		Status:        status,
		CurrentStepID: f.FirstStep().ID,
		EnteredAt:     now,
		NextActionAt:  &now,
		History:       []HistoryEntry{{Event: "entered", Timestamp: now}},
	}
	if status.Terminal() {
		row.CompletedAt = &now
		row.NextActionAt = nil
	}
	if err := fix.rows.Create(context.Background(), row); err != nil {
		t.Fatal(err)
	}
	return row
}

func TestEnroll(t *testing.T) {
	fix := newControlFixture(t)
	f := fix.seedFunnel(t)

	row, err := fix.service.Enroll(context.Background(), f.AccountID.Hex(), f.ID.Hex(), "sub1")
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	if row.Status != StatusActive {
		t.Errorf("status = %s, want active", row.Status)
	}
	if row.CurrentStepID != "s1" {
		t.Errorf("current step = %s, want s1", row.CurrentStepID)
	}
	if row.NextActionAt == nil {
		t.Error("new enrollment must be immediately eligible")
	}
	if len(row.History) != 1 || row.History[0].Event != "entered" {
		t.Errorf("history = %+v, want single entered entry", row.History)
	}

	// A second open enrollment for the same pair is rejected
	if _, err := fix.service.Enroll(context.Background(), f.AccountID.Hex(), f.ID.Hex(), "sub1"); err == nil {
		t.Error("duplicate open enrollment should be rejected")
	}
}

func TestEnrollInactiveFunnel(t *testing.T) {
	fix := newControlFixture(t)
	f := fix.seedFunnel(t)
	f.IsActive = false

	if _, err := fix.service.Enroll(context.Background(), f.AccountID.Hex(), f.ID.Hex(), "sub1"); err == nil {
		t.Error("enrolling into an inactive funnel should fail")
	}
}

func TestPauseResume(t *testing.T) {
	fix := newControlFixture(t)
	f := fix.seedFunnel(t)
	row := fix.seedRow(t, f, StatusActive)
	id := row.ID.Hex()

	if err := fix.service.Pause(context.Background(), id); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	got, _ := fix.rows.GetByID(context.Background(), id)
	if got.Status != StatusPaused {
		t.Fatalf("status = %s, want paused", got.Status)
	}

	// Pausing a paused row is a conflict
	if err := fix.service.Pause(context.Background(), id); !errors.Is(err, ErrConflict) {
		t.Errorf("double pause = %v, want ErrConflict", err)
	}

	if err := fix.service.Resume(context.Background(), id); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	got, _ = fix.rows.GetByID(context.Background(), id)
	if got.Status != StatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}
	if got.NextActionAt == nil {
		t.Error("resumed row must be eligible again")
	}

	// Resuming a row that is not paused is a conflict
	if err := fix.service.Resume(context.Background(), id); !errors.Is(err, ErrConflict) {
		t.Errorf("resume of active row = %v, want ErrConflict", err)
	}
}

func TestPauseTerminalRowsRejected(t *testing.T) {
	fix := newControlFixture(t)
	f := fix.seedFunnel(t)

	for _, status := range []Status{StatusCompleted, StatusExited} {
		row := fix.seedRow(t, f, status)
		if err := fix.service.Pause(context.Background(), row.ID.Hex()); !errors.Is(err, ErrConflict) {
			t.Errorf("pause from %s = %v, want ErrConflict", status, err)
		}
	}
}

func TestAdvanceTo(t *testing.T) {
	fix := newControlFixture(t)
	f := fix.seedFunnel(t)
	row := fix.seedRow(t, f, StatusWaiting)
	id := row.ID.Hex()

	if err := fix.service.AdvanceTo(context.Background(), id, "s3"); err != nil {
		t.Fatalf("AdvanceTo failed: %v", err)
	}

	got, _ := fix.rows.GetByID(context.Background(), id)
	if got.CurrentStepID != "s3" {
		t.Errorf("current step = %s, want s3", got.CurrentStepID)
	}

	last := got.History[len(got.History)-1]
	if last.Event != "advanced" {
		t.Fatalf("last history event = %s, want advanced", last.Event)
	}
	if last.Payload["from_step_id"] != "s1" || last.Payload["to_step_id"] != "s3" {
		t.Errorf("advance history should capture from/to, got %+v", last.Payload)
	}
}

func TestAdvanceToForeignStepRejected(t *testing.T) {
	fix := newControlFixture(t)
	f := fix.seedFunnel(t)
	row := fix.seedRow(t, f, StatusActive)

	if err := fix.service.AdvanceTo(context.Background(), row.ID.Hex(), "not-a-step"); err == nil {
		t.Error("advancing to a step outside the funnel should fail")
	}
}

func TestRemoveIdempotent(t *testing.T) {
	fix := newControlFixture(t)
	f := fix.seedFunnel(t)
	row := fix.seedRow(t, f, StatusActive)
	id := row.ID.Hex()

	if err := fix.service.Remove(context.Background(), id); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	got, _ := fix.rows.GetByID(context.Background(), id)
	if got.Status != StatusExited {
		t.Fatalf("status = %s, want exited", got.Status)
	}
	historyLen := len(got.History)

	// Removing again is a no-op: no error, no duplicate history entry
	if err := fix.service.Remove(context.Background(), id); err != nil {
		t.Fatalf("second Remove = %v, want nil", err)
	}
	got, _ = fix.rows.GetByID(context.Background(), id)
	if len(got.History) != historyLen {
		t.Errorf("second remove must not append history, %d -> %d", historyLen, len(got.History))
	}
}

func TestRemoveCompletedRowConflicts(t *testing.T) {
	fix := newControlFixture(t)
	f := fix.seedFunnel(t)
	row := fix.seedRow(t, f, StatusCompleted)

	if err := fix.service.Remove(context.Background(), row.ID.Hex()); !errors.Is(err, ErrConflict) {
		t.Errorf("remove of completed row = %v, want ErrConflict", err)
	}
}

func TestFunnelValidate(t *testing.T) {
	account := primitive.NewObjectID()

	tests := []struct {
		name    string
		mutate  func(*Funnel)
		wantErr bool
	}{
		{"valid", nil, false},
		{"no name", func(f *Funnel) { f.Name = "" }, true},
		{"no steps", func(f *Funnel) { f.Steps = nil }, true},
		{"duplicate step id", func(f *Funnel) { f.Steps[1].ID = "s1" }, true},
		{"bad step type", func(f *Funnel) { f.Steps[0].Type = "teleport" }, true},
		{"wait without delay", func(f *Funnel) { f.Steps[1].Config.DelayAmount = 0 }, true},
		{"message without id", func(f *Funnel) { f.Steps[0].Config.MessageID = "" }, true},
		{"branch to unknown step", func(f *Funnel) {
			f.Steps = append(f.Steps, FunnelStep{
				ID: "b1", Type: StepBranch, Position: 4,
				Config: StepConfig{Branch: &BranchConfig{TrueStepID: "ghost"}},
			})
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := messageWaitMessageFunnel(account)
			if tt.mutate != nil {
				tt.mutate(f)
			}
			err := f.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
