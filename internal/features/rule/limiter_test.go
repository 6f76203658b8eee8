package rule

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestLimitPeriodWindow(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		period LimitPeriod
		want   *time.Time
	}{
		{PeriodHour, timePtr(now.Add(-time.Hour))},
		{PeriodDay, timePtr(now.Add(-24 * time.Hour))},
		{PeriodWeek, timePtr(now.Add(-7 * 24 * time.Hour))},
		{PeriodMonth, timePtr(now.Add(-30 * 24 * time.Hour))},
		{PeriodEver, nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.period), func(t *testing.T) {
			got := tt.period.Window(now)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("Window() = %v, want %v", got, tt.want)
			}
			if got != nil && !got.Equal(*tt.want) {
				t.Errorf("Window() = %v, want %v", got, tt.want)
			}
		})
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func TestMayFire(t *testing.T) {
	ruleID := primitive.NewObjectID()
	logs := &fakeLogRepo{}
	limiter := NewRateLimiter(logs)

	unlimited := &AutomationRule{ID: ruleID}
	ok, err := limiter.MayFire(context.Background(), unlimited, "sub1")
	if err != nil || !ok {
		t.Errorf("unlimited rule should always fire, got ok=%v err=%v", ok, err)
	}

	limited := &AutomationRule{
		ID:                 ruleID,
		LimitPerSubscriber: true,
		LimitCount:         2,
		LimitPeriod:        PeriodEver,
	}

	for i := 0; i < 2; i++ {
		ok, err = limiter.MayFire(context.Background(), limited, "sub1")
		if err != nil || !ok {
			t.Fatalf("firing %d should be allowed, got ok=%v err=%v", i+1, ok, err)
		}
		logs.Create(context.Background(), &RuleLog{
			RuleID:       ruleID,
			SubscriberID: "sub1",
			Status:       StatusSuccess,
			ExecutedAt:   time.Now(),
		})
	}

	ok, err = limiter.MayFire(context.Background(), limited, "sub1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("third firing should be over the limit")
	}

	// A different subscriber has its own budget
	ok, _ = limiter.MayFire(context.Background(), limited, "sub2")
	if !ok {
		t.Error("limits are per subscriber")
	}
}

func TestMayFireIgnoresSkippedAndDryRun(t *testing.T) {
	ruleID := primitive.NewObjectID()
	logs := &fakeLogRepo{}
	limiter := NewRateLimiter(logs)

	limited := &AutomationRule{
		ID:                 ruleID,
		LimitPerSubscriber: true,
		LimitCount:         1,
		LimitPeriod:        PeriodEver,
	}

	logs.Create(context.Background(), &RuleLog{RuleID: ruleID, SubscriberID: "sub1", Status: StatusSkipped, ExecutedAt: time.Now()})
	logs.Create(context.Background(), &RuleLog{RuleID: ruleID, SubscriberID: "sub1", Status: StatusFailed, ExecutedAt: time.Now()})
	logs.Create(context.Background(), &RuleLog{RuleID: ruleID, SubscriberID: "sub1", Status: StatusSuccess, DryRun: true, ExecutedAt: time.Now()})

	ok, err := limiter.MayFire(context.Background(), limited, "sub1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("skipped, failed and dry-run logs must not count toward the limit")
	}
}

func TestLockEntriesReleasedAfterUnlock(t *testing.T) {
	limiter := NewRateLimiter(&fakeLogRepo{})
	rule := &AutomationRule{ID: primitive.NewObjectID()}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				unlock := limiter.Lock(rule, fmt.Sprintf("sub%d", n))
				unlock()
			}
		}(i)
	}
	wg.Wait()

	limiter.mu.Lock()
	n := len(limiter.locks)
	limiter.mu.Unlock()
	if n != 0 {
		t.Errorf("lock map should be empty once all holders unlock, has %d entries", n)
	}
}

func TestLockSerializesSamePair(t *testing.T) {
	limiter := NewRateLimiter(&fakeLogRepo{})
	rule := &AutomationRule{ID: primitive.NewObjectID()}

	var inside int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := limiter.Lock(rule, "sub1")
			defer unlock()
			if atomic.AddInt32(&inside, 1) != 1 {
				t.Error("two goroutines inside the critical section for the same pair")
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
}
