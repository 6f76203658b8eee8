package rule

import (
	"context"
	"fmt"
	"time"

	"go-automation/internal/features/action"
	"go-automation/internal/features/events"
	"go-automation/internal/features/subscriber"
	"go-automation/pkg/condition"

	"go.uber.org/zap"
)

// LogSink receives every written rule log for live streaming to operators.
type LogSink interface {
	Broadcast(v interface{})
}

// Engine is the rule matcher and executor: the single entry point invoked
// once per incoming event.
type Engine struct {
	rules       RuleRepository
	logs        LogRepository
	limiter     *RateLimiter
	subscribers subscriber.Service
	executor    action.Executor
	sink        LogSink
	logger      *zap.Logger
}

func NewEngine(
	rules RuleRepository,
	logs LogRepository,
	limiter *RateLimiter,
	subscribers subscriber.Service,
	executor action.Executor,
	sink LogSink,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		rules:       rules,
		logs:        logs,
		limiter:     limiter,
		subscribers: subscribers,
		executor:    executor,
		sink:        sink,
		logger:      logger,
	}
}

// HandleEvent matches the event against the account's active rules and runs
// each matching rule. Failures are isolated per rule: a corrupt rule or a
// failing action never stops the remaining rules.
func (e *Engine) HandleEvent(ctx context.Context, evt events.Event) {
	rules, err := e.rules.FindActiveByTrigger(ctx, evt.AccountID, evt.Name)
	if err != nil {
		e.logger.Error("failed to load rules for event",
			zap.String("event", string(evt.Name)),
			zap.String("accountId", evt.AccountID),
			zap.Error(err))
		return
	}

	for i := range rules {
		e.fireSafely(ctx, &rules[i], evt)
	}
}

// fireSafely is the outermost boundary per rule: a panic inside one firing
// is recorded as a failed log and the loop moves on.
func (e *Engine) fireSafely(ctx context.Context, r *AutomationRule, evt events.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("rule firing panicked",
				zap.String("rule", r.ID.Hex()),
				zap.Any("panic", rec))
			e.writeLog(ctx, &RuleLog{
				RuleID:       r.ID,
				AccountID:    r.AccountID,
				SubscriberID: evt.SubscriberID,
				TriggerEvent: evt.Name,
				Status:       StatusFailed,
				ErrorMessage: "internal error while executing rule",
			})
		}
	}()

	matches, err := matchTriggerConfig(r.TriggerConfig, evt.Payload)
	if err != nil {
		// Malformed trigger configs never match; not an engine fault
		e.logger.Warn("rule has malformed trigger_config, skipping",
			zap.String("rule", r.ID.Hex()), zap.Error(err))
		return
	}
	if !matches {
		return
	}

	e.fire(ctx, r, evt, false)
}

// fire evaluates conditions, consults the rate limiter and executes the
// action list in order, writing exactly one log row for the attempt.
func (e *Engine) fire(ctx context.Context, r *AutomationRule, evt events.Event, dryRun bool) {
	start := time.Now()

	log := &RuleLog{
		RuleID:       r.ID,
		AccountID:    r.AccountID,
		SubscriberID: evt.SubscriberID,
		TriggerEvent: evt.Name,
		DryRun:       dryRun,
	}

	sub, err := e.subscribers.Get(ctx, evt.SubscriberID)
	if err != nil {
		log.Status = StatusFailed
		log.ErrorMessage = fmt.Sprintf("failed to load subscriber: %v", err)
		log.ExecutionTimeMs = time.Since(start).Milliseconds()
		e.writeLog(ctx, log)
		return
	}

	evalCtx := &condition.Context{Payload: evt.Payload, Lookup: sub}
	if !condition.Evaluate(r.Conditions, r.ConditionLogic, evalCtx) {
		log.Status = StatusSkipped
		log.ErrorMessage = "conditions not met"
		log.ExecutionTimeMs = time.Since(start).Milliseconds()
		e.writeLog(ctx, log)
		return
	}

	// The limit check and the log write form one critical section per
	// (rule, subscriber): without it, concurrent deliveries could both
	// observe count < limit and double-fire.
	unlock := e.limiter.Lock(r, evt.SubscriberID)
	defer unlock()

	if !dryRun {
		ok, err := e.limiter.MayFire(ctx, r, evt.SubscriberID)
		if err != nil {
			log.Status = StatusFailed
			log.ErrorMessage = fmt.Sprintf("rate limit check failed: %v", err)
			log.ExecutionTimeMs = time.Since(start).Milliseconds()
			e.writeLog(ctx, log)
			return
		}
		if !ok {
			log.Status = StatusSkipped
			log.ErrorMessage = fmt.Sprintf("rate limit reached: %d per %s", r.LimitCount, r.LimitPeriod)
			log.ExecutionTimeMs = time.Since(start).Milliseconds()
			e.writeLog(ctx, log)
			return
		}
	}

	// Actions run strictly in order; the first failure aborts the rest of
	// this firing and already-applied actions stand.
	var failure error
	for i, act := range r.Actions {
		req := action.Request{
			AccountID:    evt.AccountID,
			SubscriberID: evt.SubscriberID,
			DedupKey:     fmt.Sprintf("%s:%s:%s:%d", r.ID.Hex(), evt.SubscriberID, evt.ID, i),
			Payload:      evt.Payload,
		}
		if err := e.executor.Execute(ctx, act, req); err != nil {
			log.ActionsSummary = append(log.ActionsSummary,
				fmt.Sprintf("%d %s: failed: %v", i+1, act.Type, err))
			failure = fmt.Errorf("action %d (%s) failed: %w", i+1, act.Type, err)
			break
		}
		log.ActionsSummary = append(log.ActionsSummary,
			fmt.Sprintf("%d %s: ok", i+1, act.Type))
	}

	log.ExecutionTimeMs = time.Since(start).Milliseconds()

	if failure != nil {
		log.Status = StatusFailed
		log.ErrorMessage = failure.Error()
		e.writeLog(ctx, log)
		return
	}

	log.Status = StatusSuccess
	e.writeLog(ctx, log)

	if !dryRun {
		if err := e.rules.RecordExecution(ctx, r.ID.Hex(), log.ExecutedAt); err != nil {
			e.logger.Warn("failed to bump execution counter",
				zap.String("rule", r.ID.Hex()), zap.Error(err))
		}
	}
}

// RunNow fires one rule for one subscriber outside the event path. It is
// the operator "test this rule" surface: the rate limit is bypassed and the
// log row is flagged as a dry run so it never counts toward limits.
func (e *Engine) RunNow(ctx context.Context, ruleID, subscriberID string) (*RuleLog, error) {
	r, err := e.rules.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("rule %s not found", ruleID)
	}

	evt := events.Event{
		ID:           fmt.Sprintf("manual-%d", time.Now().UnixNano()),
		Name:         r.TriggerEvent,
		AccountID:    r.AccountID.Hex(),
		SubscriberID: subscriberID,
		Payload:      map[string]interface{}{},
		OccurredAt:   time.Now(),
	}

	e.fire(ctx, r, evt, true)

	logs, err := e.logs.List(ctx, LogFilter{RuleID: ruleID, SubscriberID: subscriberID, Limit: 1})
	if err != nil || len(logs) == 0 {
		return nil, err
	}
	return &logs[0], nil
}

func (e *Engine) writeLog(ctx context.Context, log *RuleLog) {
	if log.ExecutedAt.IsZero() {
		log.ExecutedAt = time.Now()
	}
	if err := e.logs.Create(ctx, log); err != nil {
		e.logger.Error("failed to write rule log",
			zap.String("rule", log.RuleID.Hex()), zap.Error(err))
		return
	}
	if e.sink != nil {
		e.sink.Broadcast(log)
	}
}

// matchTriggerConfig applies trigger-specific filters against the event
// payload. An empty config means "any". Unsupported filter shapes are an
// error so the rule is skipped for the event rather than crashing matching.
func matchTriggerConfig(config, payload map[string]interface{}) (bool, error) {
	if len(config) == 0 {
		return true, nil
	}
	for key, want := range config {
		switch want.(type) {
		case string, float64, int, int64, bool, nil:
		default:
			return false, fmt.Errorf("unsupported trigger_config value for %q", key)
		}
		got, ok := payload[key]
		if !ok {
			return false, nil
		}
		if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false, nil
		}
	}
	return true, nil
}
