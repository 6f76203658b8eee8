package rule

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go-automation/internal/features/action"
	"go-automation/internal/features/events"
	"go-automation/internal/features/subscriber"
	"go-automation/pkg/condition"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type fakeRuleRepo struct {
	rules      []AutomationRule
	executions int
}

func (f *fakeRuleRepo) Create(ctx context.Context, rule *AutomationRule) error { return nil }
func (f *fakeRuleRepo) GetByID(ctx context.Context, id string) (*AutomationRule, error) {
	for i := range f.rules {
		if f.rules[i].ID.Hex() == id {
			return &f.rules[i], nil
		}
	}
	return nil, nil
}
func (f *fakeRuleRepo) ListByAccount(ctx context.Context, accountID string) ([]AutomationRule, error) {
	return f.rules, nil
}
func (f *fakeRuleRepo) FindActiveByTrigger(ctx context.Context, accountID string, trigger events.Name) ([]AutomationRule, error) {
	var out []AutomationRule
	for _, r := range f.rules {
		if r.IsActive && r.TriggerEvent == trigger && r.AccountID.Hex() == accountID {
			out = append(out, r)
		}
	}
	return out, nil
}
func (f *fakeRuleRepo) Update(ctx context.Context, rule *AutomationRule) error { return nil }
func (f *fakeRuleRepo) Delete(ctx context.Context, id string) error            { return nil }
func (f *fakeRuleRepo) SetActive(ctx context.Context, id string, active bool) error {
	return nil
}
func (f *fakeRuleRepo) RecordExecution(ctx context.Context, id string, at time.Time) error {
	f.executions++
	return nil
}

type fakeLogRepo struct {
	mu   sync.Mutex
	logs []RuleLog
}

func (f *fakeLogRepo) Create(ctx context.Context, log *RuleLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	log.ID = primitive.NewObjectID()
	f.logs = append(f.logs, *log)
	return nil
}

func (f *fakeLogRepo) List(ctx context.Context, filter LogFilter) ([]RuleLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Newest first, like the real repository
	var out []RuleLog
	for i := len(f.logs) - 1; i >= 0; i-- {
		l := f.logs[i]
		if filter.RuleID != "" && l.RuleID.Hex() != filter.RuleID {
			continue
		}
		if filter.SubscriberID != "" && l.SubscriberID != filter.SubscriberID {
			continue
		}
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		out = append(out, l)
		if filter.Limit > 0 && int64(len(out)) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeLogRepo) CountSuccessSince(ctx context.Context, ruleID primitive.ObjectID, subscriberID string, since *time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, l := range f.logs {
		if l.RuleID != ruleID || l.SubscriberID != subscriberID {
			continue
		}
		if l.Status != StatusSuccess || l.DryRun {
			continue
		}
		if since != nil && l.ExecutedAt.Before(*since) {
			continue
		}
		n++
	}
	return n, nil
}

func (f *fakeLogRepo) byStatus(status LogStatus) []RuleLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []RuleLog
	for _, l := range f.logs {
		if l.Status == status {
			out = append(out, l)
		}
	}
	return out
}

type fakeSubscribers struct {
	subs map[string]*subscriber.Subscriber
}

func (f *fakeSubscribers) Get(ctx context.Context, id string) (*subscriber.Subscriber, error) {
	s, ok := f.subs[id]
	if !ok {
		return nil, fmt.Errorf("subscriber %s not found", id)
	}
	return s, nil
}
func (f *fakeSubscribers) AddTag(ctx context.Context, id, tag string) error { return nil }
func (f *fakeSubscribers) RemoveTag(ctx context.Context, id, tag string) error { return nil }
func (f *fakeSubscribers) AddToList(ctx context.Context, id, listID string) error { return nil }
func (f *fakeSubscribers) RemoveFromList(ctx context.Context, id, lID string) error { return nil }

type fakeExecutor struct {
	mu       sync.Mutex
	executed []action.Type
	failOn   map[action.Type]error
}

func (f *fakeExecutor) Execute(ctx context.Context, act action.Action, req action.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failOn[act.Type]; ok {
		return err
	}
	f.executed = append(f.executed, act.Type)
	return nil
}

func newTestEngine(rules *fakeRuleRepo, logs *fakeLogRepo, subs *fakeSubscribers, exec *fakeExecutor) *Engine {
	return NewEngine(rules, logs, NewRateLimiter(logs), subs, exec, nil, zap.NewNop())
}

func testRule(account primitive.ObjectID, mutate func(*AutomationRule)) AutomationRule {
	r := AutomationRule{
		ID:           primitive.NewObjectID(),
		AccountID:    account,
		Name:         "welcome vip",
		TriggerEvent: events.Signup,
		Conditions: []condition.Clause{
			{Field: "country", Operator: condition.OperatorInList, Value: []interface{}{"US", "DE"}},
		},
		ConditionLogic: condition.LogicAll,
		Actions: []action.Action{
			{Type: action.TypeAddTag, Config: map[string]interface{}{"tag": "vip"}},
			{Type: action.TypeSendEmail, Config: map[string]interface{}{"subject": "hi"}},
		},
		IsActive: true,
	}
	if mutate != nil {
		mutate(&r)
	}
	return r
}

func signupEvent(account primitive.ObjectID, payload map[string]interface{}) events.Event {
	return events.Event{
		ID:           primitive.NewObjectID().Hex(),
		Name:         events.Signup,
		AccountID:    account.Hex(),
		SubscriberID: "sub1",
		Payload:      payload,
		OccurredAt:   time.Now(),
	}
}

func TestHandleEventSuccess(t *testing.T) {
	account := primitive.NewObjectID()
	rules := &fakeRuleRepo{rules: []AutomationRule{testRule(account, nil)}}
	logs := &fakeLogRepo{}
	subs := &fakeSubscribers{subs: map[string]*subscriber.Subscriber{"sub1": {Email: "a@b.com"}}}
	exec := &fakeExecutor{}

	e := newTestEngine(rules, logs, subs, exec)
	e.HandleEvent(context.Background(), signupEvent(account, map[string]interface{}{"country": "US"}))

	success := logs.byStatus(StatusSuccess)
	if len(success) != 1 {
		t.Fatalf("want 1 success log, got %d", len(success))
	}
	if len(success[0].ActionsSummary) != 2 {
		t.Errorf("want 2 action summary lines, got %v", success[0].ActionsSummary)
	}
	if want := []action.Type{action.TypeAddTag, action.TypeSendEmail}; len(exec.executed) != 2 ||
		exec.executed[0] != want[0] || exec.executed[1] != want[1] {
		t.Errorf("actions executed out of order: %v", exec.executed)
	}
	if rules.executions != 1 {
		t.Errorf("execution counter = %d, want 1", rules.executions)
	}
}

func TestHandleEventConditionsNotMet(t *testing.T) {
	account := primitive.NewObjectID()
	rules := &fakeRuleRepo{rules: []AutomationRule{testRule(account, nil)}}
	logs := &fakeLogRepo{}
	subs := &fakeSubscribers{subs: map[string]*subscriber.Subscriber{"sub1": {}}}
	exec := &fakeExecutor{}

	e := newTestEngine(rules, logs, subs, exec)
	e.HandleEvent(context.Background(), signupEvent(account, map[string]interface{}{"country": "FR"}))

	skipped := logs.byStatus(StatusSkipped)
	if len(skipped) != 1 {
		t.Fatalf("want 1 skipped log, got %d", len(skipped))
	}
	if len(exec.executed) != 0 {
		t.Errorf("no actions should run, got %v", exec.executed)
	}
}

func TestHandleEventFailFast(t *testing.T) {
	account := primitive.NewObjectID()
	rules := &fakeRuleRepo{rules: []AutomationRule{testRule(account, nil)}}
	logs := &fakeLogRepo{}
	subs := &fakeSubscribers{subs: map[string]*subscriber.Subscriber{"sub1": {}}}
	exec := &fakeExecutor{failOn: map[action.Type]error{action.TypeAddTag: fmt.Errorf("tag store down")}}

	e := newTestEngine(rules, logs, subs, exec)
	e.HandleEvent(context.Background(), signupEvent(account, map[string]interface{}{"country": "US"}))

	failed := logs.byStatus(StatusFailed)
	if len(failed) != 1 {
		t.Fatalf("want 1 failed log, got %d", len(failed))
	}
	if failed[0].ErrorMessage == "" {
		t.Error("failed log should carry the causing error message")
	}
	if len(exec.executed) != 0 {
		t.Errorf("second action must not run after first failure, got %v", exec.executed)
	}
	if rules.executions != 0 {
		t.Error("failed firing must not bump the execution counter")
	}
}

func TestHandleEventRateLimit(t *testing.T) {
	account := primitive.NewObjectID()
	r := testRule(account, func(r *AutomationRule) {
		r.LimitPerSubscriber = true
		r.LimitCount = 2
		r.LimitPeriod = PeriodEver
	})
	rules := &fakeRuleRepo{rules: []AutomationRule{r}}
	logs := &fakeLogRepo{}
	subs := &fakeSubscribers{subs: map[string]*subscriber.Subscriber{"sub1": {}}}
	exec := &fakeExecutor{}

	e := newTestEngine(rules, logs, subs, exec)
	for i := 0; i < 5; i++ {
		e.HandleEvent(context.Background(), signupEvent(account, map[string]interface{}{"country": "US"}))
	}

	if got := len(logs.byStatus(StatusSuccess)); got != 2 {
		t.Errorf("want exactly 2 success logs, got %d", got)
	}
	if got := len(logs.byStatus(StatusSkipped)); got != 3 {
		t.Errorf("want 3 skipped logs, got %d", got)
	}
}

func TestHandleEventConcurrentRateLimit(t *testing.T) {
	account := primitive.NewObjectID()
	r := testRule(account, func(r *AutomationRule) {
		r.LimitPerSubscriber = true
		r.LimitCount = 1
		r.LimitPeriod = PeriodEver
	})
	rules := &fakeRuleRepo{rules: []AutomationRule{r}}
	logs := &fakeLogRepo{}
	subs := &fakeSubscribers{subs: map[string]*subscriber.Subscriber{"sub1": {}}}
	exec := &fakeExecutor{}

	e := newTestEngine(rules, logs, subs, exec)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.HandleEvent(context.Background(), signupEvent(account, map[string]interface{}{"country": "US"}))
		}()
	}
	wg.Wait()

	if got := len(logs.byStatus(StatusSuccess)); got != 1 {
		t.Errorf("limit 1 must never double-fire under concurrency, got %d successes", got)
	}
}

func TestHandleEventMalformedTriggerConfig(t *testing.T) {
	account := primitive.NewObjectID()
	r := testRule(account, func(r *AutomationRule) {
		r.TriggerConfig = map[string]interface{}{"tag_id": map[string]interface{}{"bad": "shape"}}
	})
	rules := &fakeRuleRepo{rules: []AutomationRule{r}}
	logs := &fakeLogRepo{}
	subs := &fakeSubscribers{subs: map[string]*subscriber.Subscriber{"sub1": {}}}
	exec := &fakeExecutor{}

	e := newTestEngine(rules, logs, subs, exec)
	e.HandleEvent(context.Background(), signupEvent(account, map[string]interface{}{"country": "US"}))

	if len(logs.logs) != 0 {
		t.Errorf("malformed trigger_config should skip the rule without a log, got %d logs", len(logs.logs))
	}
}

func TestHandleEventTriggerConfigFilter(t *testing.T) {
	account := primitive.NewObjectID()
	r := testRule(account, func(r *AutomationRule) {
		r.TriggerEvent = events.TagAdded
		r.TriggerConfig = map[string]interface{}{"tag_id": "vip"}
		r.Conditions = nil
	})
	rules := &fakeRuleRepo{rules: []AutomationRule{r}}
	logs := &fakeLogRepo{}
	subs := &fakeSubscribers{subs: map[string]*subscriber.Subscriber{"sub1": {}}}
	exec := &fakeExecutor{}

	e := newTestEngine(rules, logs, subs, exec)

	evt := signupEvent(account, map[string]interface{}{"tag_id": "newsletter"})
	evt.Name = events.TagAdded
	e.HandleEvent(context.Background(), evt)
	if len(logs.logs) != 0 {
		t.Fatalf("non-matching tag_id should not fire, got %d logs", len(logs.logs))
	}

	evt = signupEvent(account, map[string]interface{}{"tag_id": "vip"})
	evt.Name = events.TagAdded
	e.HandleEvent(context.Background(), evt)
	if got := len(logs.byStatus(StatusSuccess)); got != 1 {
		t.Errorf("matching tag_id should fire once, got %d", got)
	}
}

func TestRunNowDryRun(t *testing.T) {
	account := primitive.NewObjectID()
	r := testRule(account, func(r *AutomationRule) {
		r.Conditions = nil
		r.LimitPerSubscriber = true
		r.LimitCount = 1
		r.LimitPeriod = PeriodEver
	})
	rules := &fakeRuleRepo{rules: []AutomationRule{r}}
	logs := &fakeLogRepo{}
	subs := &fakeSubscribers{subs: map[string]*subscriber.Subscriber{"sub1": {}}}
	exec := &fakeExecutor{}

	e := newTestEngine(rules, logs, subs, exec)

	// Repeated runs must not be throttled: dry runs bypass the limiter
	for i := 0; i < 3; i++ {
		log, err := e.RunNow(context.Background(), r.ID.Hex(), "sub1")
		if err != nil {
			t.Fatalf("RunNow failed: %v", err)
		}
		if log.Status != StatusSuccess {
			t.Errorf("run %d: status = %s, want success", i, log.Status)
		}
		if !log.DryRun {
			t.Errorf("run %d: log must be flagged as dry run", i)
		}
	}

	if rules.executions != 0 {
		t.Error("dry runs must not bump the execution counter")
	}
}
