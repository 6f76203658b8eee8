package events

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler consumes published events. Handlers must isolate their own
// failures; the bus only guards against panics.
type Handler interface {
	HandleEvent(ctx context.Context, evt Event)
}

// Publisher is the capability producers (and the funnel stepper) depend on.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Bus is an in-process typed event bus. Events are sharded by subscriber id
// so all events for one subscriber are handled in publish order, while
// different subscribers fan out across workers.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler

	// closeMu excludes Publish while Close tears the shards down, so a
	// late Publish sees the closed flag instead of a closed channel.
	closeMu sync.RWMutex
	shards  []chan Event
	wg      sync.WaitGroup
	closed  chan struct{}
	logger  *zap.Logger
}

// NewBus starts one worker per shard immediately, mirroring the async log
// writer: callers never block on handler work.
func NewBus(workers, buffer int, logger *zap.Logger) *Bus {
	if workers < 1 {
		workers = 1
	}
	if buffer < 1 {
		buffer = 64
	}

	b := &Bus{
		shards: make([]chan Event, workers),
		closed: make(chan struct{}),
		logger: logger,
	}
	for i := range b.shards {
		b.shards[i] = make(chan Event, buffer)
		b.wg.Add(1)
		go b.run(b.shards[i])
	}
	return b
}

// Subscribe registers a handler for all subsequent events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish validates and enqueues the event. It fills ID and OccurredAt when
// the producer left them empty.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if !ValidName(evt.Name) {
		return fmt.Errorf("unknown event name: %s", evt.Name)
	}
	if evt.AccountID == "" {
		return fmt.Errorf("event %s missing account_id", evt.Name)
	}
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now()
	}

	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	select {
	case <-b.closed:
		return fmt.Errorf("event bus closed")
	default:
	}

	shard := b.shards[b.shardFor(evt.SubscriberID)]
	select {
	case shard <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the shards and stops the workers. Publishes that lose the
// race return an error rather than racing the channel close.
func (b *Bus) Close() {
	b.closeMu.Lock()
	close(b.closed)
	for _, shard := range b.shards {
		close(shard)
	}
	b.closeMu.Unlock()
	b.wg.Wait()
}

func (b *Bus) run(shard chan Event) {
	defer b.wg.Done()
	for evt := range shard {
		b.dispatch(evt)
	}
}

func (b *Bus) dispatch(evt Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.safeHandle(h, evt)
	}
}

// safeHandle keeps one panicking handler from killing the consumer loop.
func (b *Bus) safeHandle(h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("event", string(evt.Name)),
				zap.String("event_id", evt.ID),
				zap.Any("panic", r))
		}
	}()
	h.HandleEvent(context.Background(), evt)
}

func (b *Bus) shardFor(subscriberID string) int {
	if len(b.shards) == 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(subscriberID))
	return int(h.Sum32()) % len(b.shards)
}
