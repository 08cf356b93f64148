package engine

import "sync"

// subscriberBufferSize is the channel buffer for each log subscriber.
// Lines are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// OutputLine is one line of process output as delivered to subscribers.
type OutputLine struct {
	Seq    int    `json:"seq"`
	Stream string `json:"stream"`
	Line   string `json:"line"`
}

// LogBroker fans live output out to per-execution subscribers.
// It is safe for concurrent use.
//
// Closed topics are retained as markers so that subscribers arriving after an
// execution finished receive a closed channel instead of blocking forever.
type LogBroker struct {
	mu     sync.Mutex
	topics map[string]*logTopic
}

type logTopic struct {
	subs   map[int]chan OutputLine
	nextID int
	closed bool
}

// NewLogBroker creates a new log broker.
func NewLogBroker() *LogBroker {
	return &LogBroker{
		topics: make(map[string]*logTopic),
	}
}

// Subscribe returns a channel of output lines for the given execution and an
// unsubscribe function. If the execution already finished the channel is
// closed immediately.
func (b *LogBroker) Subscribe(executionID string) (<-chan OutputLine, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[executionID]
	if !ok {
		t = &logTopic{subs: make(map[int]chan OutputLine)}
		b.topics[executionID] = t
	}

	ch := make(chan OutputLine, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends a line to all current subscribers of the execution,
// dropping it for subscribers whose buffers are full.
func (b *LogBroker) Publish(executionID string, line OutputLine) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[executionID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// Close marks the execution's stream finished and closes every subscriber
// channel.
func (b *LogBroker) Close(executionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[executionID]
	if !ok {
		b.topics[executionID] = &logTopic{subs: make(map[int]chan OutputLine), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
