// Package eventbus implements the in-memory publish/subscribe fan-out
// specified in §4.2, grounded on the teacher's internal/agent event-sink
// fan-out (MultiSink, ChanSink, §4.2's per-subscriber bounded-queue drop
// policy generalizes that per-run fan-out to a process-wide, topic-scoped
// bus with a monotonic-sequence EventEmitter-style per-subscriber counter).
package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/choiros/choiros/internal/core"
)

// DefaultQueueDepth bounds each subscriber's pending-event channel (§4.2).
const DefaultQueueDepth = 256

// Bus is the in-memory EventBus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscription
	nextID      atomic.Uint64
	queueDepth  int

	// selfPublish lets the bus emit its own subscriber.lagged events
	// without importing the EventStore (which would create a cycle back
	// through eventstore.Bus). ApplicationSupervisor wires this to the
	// EventStore's Append so lag events are traced too.
	onLagged func(subscriberTopic string, scope core.Scope, dropped int)
}

type subscription struct {
	id           uint64
	topicPattern string
	scope        *core.Scope
	ch           chan core.Event
	closed       atomic.Bool
	dropped      atomic.Uint64
}

// New creates an EventBus with the default per-subscriber queue depth.
func New() *Bus {
	return &Bus{subscribers: make(map[uint64]*subscription), queueDepth: DefaultQueueDepth}
}

// OnLagged registers a callback invoked (synchronously, from Publish) the
// first time a subscriber drops events due to queue overflow since the
// last report. Used to emit subscriber.lagged (§4.2) without a direct
// EventStore dependency.
func (b *Bus) OnLagged(fn func(subscriberTopic string, scope core.Scope, dropped int)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onLagged = fn
}

// Subscribe registers interest in topicPattern (an exact topic, or a
// "prefix.*" pattern per §4.2) optionally narrowed by scope. The returned
// channel receives events published from now forward; there is no replay
// (§4.1, §4.2). The returned cancel function is idempotent (§8.2) and
// cancels any in-flight delivery to this subscriber.
func (b *Bus) Subscribe(topicPattern string, scope *core.Scope) (<-chan core.Event, func()) {
	sub := &subscription{
		id:           b.nextID.Add(1),
		topicPattern: topicPattern,
		scope:        scope,
		ch:           make(chan core.Event, b.queueDepth),
	}
	b.mu.Lock()
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			sub.closed.Store(true)
			b.mu.Lock()
			delete(b.subscribers, sub.id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish fans an event out to every matching, non-closed subscriber. A
// slow subscriber never blocks Publish (§4.2): on a full queue the event
// is dropped for that subscriber ("oldest events... dropped" is achieved
// by draining one stale entry before enqueuing the new one, so the queue
// always carries the most recent events rather than stalling on the
// oldest).
func (b *Bus) Publish(e core.Event) {
	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if matchesTopic(sub.topicPattern, e.Topic) && matchesScope(sub.scope, e.Scope) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if sub.closed.Load() {
			continue
		}
		b.deliver(sub, e)
	}
}

func (b *Bus) deliver(sub *subscription, e core.Event) bool {
	select {
	case sub.ch <- e:
		return true
	default:
	}
	// Full: drop the oldest queued event to make room, then enqueue.
	select {
	case <-sub.ch:
		sub.dropped.Add(1)
		b.reportLag(sub)
	default:
	}
	select {
	case sub.ch <- e:
		return true
	default:
		sub.dropped.Add(1)
		b.reportLag(sub)
		return false
	}
}

func (b *Bus) reportLag(sub *subscription) {
	b.mu.RLock()
	fn := b.onLagged
	b.mu.RUnlock()
	if fn != nil {
		fn(sub.topicPattern, scopeOrZero(sub.scope), int(sub.dropped.Load()))
	}
}

func scopeOrZero(s *core.Scope) core.Scope {
	if s == nil {
		return core.Scope{}
	}
	return *s
}

// matchesTopic implements §4.2's "exact topic, or a prefix (worker.task.*)"
// subscription matching.
func matchesTopic(pattern, topic string) bool {
	if pattern == "" || pattern == topic {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(topic, prefix)
	}
	return false
}

func matchesScope(want *core.Scope, got core.Scope) bool {
	if want == nil {
		return true
	}
	return got.Matches(*want)
}

// SubscriberCount reports the number of live subscriptions; used by the
// Observability API and tests.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
