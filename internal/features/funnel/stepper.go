package funnel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go-automation/internal/config"
	"go-automation/internal/features/action"
	"go-automation/internal/features/email"
	"go-automation/internal/features/events"
	"go-automation/internal/features/subscriber"
	"go-automation/pkg/condition"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Stepper is the funnel scheduler. Each pass claims due enrollments one at
// a time and walks them through their current step, so different
// subscribers advance independently and in parallel while each single row
// is only ever touched by one worker.
type Stepper struct {
	funnels     FunnelRepository
	rows        EnrollmentRepository
	subscribers subscriber.Service
	email       email.EmailService
	executor    action.Executor
	publisher   events.Publisher
	cfg         *config.Config
	logger      *zap.Logger

	cron *cron.Cron

	// now is swappable so time-driven behavior is testable
	now func() time.Time
}

func NewStepper(
	funnels FunnelRepository,
	rows EnrollmentRepository,
	subscribers subscriber.Service,
	emailSvc email.EmailService,
	executor action.Executor,
	publisher events.Publisher,
	cfg *config.Config,
	logger *zap.Logger,
) *Stepper {
	return &Stepper{
		funnels:     funnels,
		rows:        rows,
		subscribers: subscribers,
		email:       emailSvc,
		executor:    executor,
		publisher:   publisher,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// Start schedules the periodic pass. Safe to call once.
func (s *Stepper) Start() error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.cfg.TickSchedule, func() {
		s.Tick(context.Background())
	})
	if err != nil {
		return fmt.Errorf("invalid tick schedule %q: %w", s.cfg.TickSchedule, err)
	}
	s.cron.Start()
	s.logger.Info("funnel stepper started", zap.String("schedule", s.cfg.TickSchedule))
	return nil
}

// Stop halts scheduling and waits for any in-flight pass to finish.
func (s *Stepper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.logger.Info("funnel stepper stopped")
}

// Tick runs one pass: workers drain due rows until none remain. Each
// worker claims rows one at a time, so a burst of due rows spreads across
// the pool without double-processing.
func (s *Stepper) Tick(ctx context.Context) {
	workers := s.cfg.StepperWorkers
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				now := s.now()
				lease := now.Add(time.Duration(s.cfg.ClaimLeaseSecs) * time.Second)
				row, err := s.rows.ClaimDue(ctx, now, lease)
				if err != nil {
					s.logger.Error("failed to claim due enrollment", zap.Error(err))
					return
				}
				if row == nil {
					return
				}
				s.processRow(ctx, row)
			}
		}()
	}
	wg.Wait()
}

// processRow executes the claimed row's current step and any immediately
// following steps, then persists the result and releases the claim. A
// panic is contained to this row.
func (s *Stepper) processRow(ctx context.Context, row *FunnelSubscriber) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("funnel tick panicked",
				zap.String("enrollment", row.ID.Hex()),
				zap.Any("panic", rec))
		}
	}()

	f, err := s.funnels.GetByID(ctx, row.FunnelID.Hex())
	if err != nil {
		s.logger.Error("failed to load funnel for enrollment",
			zap.String("enrollment", row.ID.Hex()), zap.Error(err))
		s.release(ctx, row)
		return
	}
	if f == nil {
		s.exitRow(ctx, row, "funnel_deleted")
		return
	}

	// Branch steps may loop backward, so bound the number of immediate
	// transitions one pass will take for one subscriber.
	maxSteps := s.cfg.TickLoopCap
	if maxSteps < 1 {
		maxSteps = 1
	}

	for i := 0; i < maxSteps; i++ {
		if !s.step(ctx, f, row) {
			s.release(ctx, row)
			return
		}
		if row.Status.Terminal() {
			s.finishTerminal(ctx, row)
			return
		}
	}

	// The row used up its per-pass budget of immediate transitions. Park
	// it just past the current instant so this pass moves on and the next
	// one resumes from the current step; exited stays reserved for
	// removed/failed/abandoned journeys.
	due := s.now().Add(time.Second)
	row.NextActionAt = &due
	s.logger.Warn("enrollment hit per-pass step cap, deferring to next pass",
		zap.String("enrollment", row.ID.Hex()),
		zap.String("funnel", f.ID.Hex()))
	s.release(ctx, row)
}

// step executes one step for the row, mutating it in memory. It returns
// true when the row can continue stepping in the same pass, false when it
// has come to rest (waiting, retry backoff) and must be persisted.
func (s *Stepper) step(ctx context.Context, f *Funnel, row *FunnelSubscriber) bool {
	now := s.now()

	if row.Status == StatusWaiting {
		// The delay has elapsed or the claim would not have matched
		step := f.StepByID(row.CurrentStepID)
		row.Status = StatusActive
		appendHistory(row, "wait_finished", map[string]interface{}{"step_id": row.CurrentStepID}, now)
		if step != nil && step.Type == StepWait {
			s.advance(f, row, step, now)
			return true
		}
		return true
	}

	step := f.StepByID(row.CurrentStepID)
	if step == nil {
		// Definition changed underneath the row
		s.complete(row, now)
		return true
	}

	switch step.Type {
	case StepSendMessage:
		sub, err := s.subscribers.Get(ctx, row.SubscriberID)
		if err != nil {
			return s.retryOrExit(row, step, now, err)
		}
		dedupKey := fmt.Sprintf("%s:%s", row.ID.Hex(), step.ID)
		if err := s.email.SendMessage(ctx, step.Config.MessageID, sub.Email, dedupKey); err != nil {
			return s.retryOrExit(row, step, now, err)
		}
		row.RetryCount = 0
		appendHistory(row, "message_sent", map[string]interface{}{
			"step_id":    step.ID,
			"message_id": step.Config.MessageID,
		}, now)
		s.advance(f, row, step, now)
		return true

	case StepWait:
		until := now.Add(step.Config.Delay())
		row.Status = StatusWaiting
		row.NextActionAt = &until
		appendHistory(row, "wait_started", map[string]interface{}{
			"step_id": step.ID,
			"until":   until,
		}, now)
		return false

	case StepBranch:
		sub, err := s.subscribers.Get(ctx, row.SubscriberID)
		if err != nil {
			return s.retryOrExit(row, step, now, err)
		}
		evalCtx := &condition.Context{Payload: row.Data, Lookup: sub}
		result := condition.EvaluateNode(&step.Config.Branch.Condition, evalCtx)

		target := step.Config.Branch.FalseStepID
		if result {
			target = step.Config.Branch.TrueStepID
		}
		if row.Data == nil {
			row.Data = map[string]interface{}{}
		}
		row.Data["branch_"+step.ID] = result
		appendHistory(row, "branch_evaluated", map[string]interface{}{
			"step_id": step.ID,
			"result":  result,
			"target":  target,
		}, now)

		row.RetryCount = 0
		if target == "" {
			s.advance(f, row, step, now)
			return true
		}
		row.StepsCompleted++
		row.CurrentStepID = target
		row.NextActionAt = &now
		return true

	case StepAction:
		req := action.Request{
			AccountID:    row.AccountID.Hex(),
			SubscriberID: row.SubscriberID,
			DedupKey:     fmt.Sprintf("%s:%s:%d", row.ID.Hex(), step.ID, row.RetryCount),
			Payload:      row.Data,
		}
		if err := s.executor.Execute(ctx, *step.Config.Action, req); err != nil {
			return s.retryOrExit(row, step, now, err)
		}
		row.RetryCount = 0
		appendHistory(row, "action_executed", map[string]interface{}{
			"step_id": step.ID,
			"type":    string(step.Config.Action.Type),
		}, now)
		s.advance(f, row, step, now)
		return true

	default:
		return s.retryOrExit(row, step, now, fmt.Errorf("unknown step type %q", step.Type))
	}
}

// retryOrExit applies the bounded-retry policy for a failed step. Below
// the retry cap the row stays active with its next attempt pushed out by
// a growing backoff; at the cap it exits with reason action_failed.
func (s *Stepper) retryOrExit(row *FunnelSubscriber, step *FunnelStep, now time.Time, cause error) bool {
	row.RetryCount++

	if row.RetryCount >= s.cfg.MaxStepRetries {
		row.Status = StatusExited
		row.CompletedAt = &now
		row.NextActionAt = nil
		appendHistory(row, "exited", map[string]interface{}{
			"reason":  ExitReasonActionFailed,
			"step_id": step.ID,
			"error":   cause.Error(),
		}, now)
		return true
	}

	backoff := time.Duration(s.cfg.RetryBackoffMin) * time.Minute * time.Duration(row.RetryCount)
	next := now.Add(backoff)
	row.NextActionAt = &next
	appendHistory(row, "action_retry", map[string]interface{}{
		"step_id":     step.ID,
		"retry_count": row.RetryCount,
		"error":       cause.Error(),
	}, now)
	return false
}

// advance moves the row to the step after the given one, or completes the
// funnel when none remains.
func (s *Stepper) advance(f *Funnel, row *FunnelSubscriber, from *FunnelStep, now time.Time) {
	row.StepsCompleted++
	next := f.NextStep(from)
	if next == nil {
		s.complete(row, now)
		return
	}
	row.CurrentStepID = next.ID
	row.NextActionAt = &now
}

func (s *Stepper) complete(row *FunnelSubscriber, now time.Time) {
	row.Status = StatusCompleted
	row.CompletedAt = &now
	row.CurrentStepID = ""
	row.NextActionAt = nil
	appendHistory(row, "completed", nil, now)
}

// exitRow forces a claimed row out of the funnel and persists it.
func (s *Stepper) exitRow(ctx context.Context, row *FunnelSubscriber, reason string) {
	now := s.now()
	row.Status = StatusExited
	row.CompletedAt = &now
	row.NextActionAt = nil
	appendHistory(row, "exited", map[string]interface{}{"reason": reason}, now)
	s.finishTerminal(ctx, row)
}

// finishTerminal persists a row that reached completed or exited and
// publishes the corresponding lifecycle event.
func (s *Stepper) finishTerminal(ctx context.Context, row *FunnelSubscriber) {
	if err := s.rows.SaveClaimed(ctx, row); err != nil {
		s.logger.Error("failed to persist terminal enrollment",
			zap.String("enrollment", row.ID.Hex()), zap.Error(err))
		return
	}

	name := events.FunnelCompleted
	if row.Status == StatusExited {
		name = events.FunnelExited
	}
	evt := events.Event{
		Name:         name,
		AccountID:    row.AccountID.Hex(),
		SubscriberID: row.SubscriberID,
		Payload: map[string]interface{}{
			"funnel_id":       row.FunnelID.Hex(),
			"steps_completed": row.StepsCompleted,
		},
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("failed to publish funnel lifecycle event",
			zap.String("enrollment", row.ID.Hex()), zap.Error(err))
	}
}

func (s *Stepper) release(ctx context.Context, row *FunnelSubscriber) {
	if err := s.rows.SaveClaimed(ctx, row); err != nil {
		s.logger.Error("failed to persist enrollment",
			zap.String("enrollment", row.ID.Hex()), zap.Error(err))
	}
}

func appendHistory(row *FunnelSubscriber, event string, payload map[string]interface{}, at time.Time) {
	row.History = append(row.History, HistoryEntry{
		Event:     event,
		Payload:   payload,
		Timestamp: at,
	})
}
