package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// GlobalPath is the special path for subscribing to all task events.
const GlobalPath = "*"

// DefaultBufferSize is the per-subscriber channel buffer.
const DefaultBufferSize = 100

// Publisher defines the interface for event publishing.
type Publisher interface {
	// Publish sends an event to all subscribers of the event's path.
	Publish(event Event)
	// Subscribe returns a channel that receives events for the given path.
	// Use GlobalPath ("*") to receive events for all tasks.
	Subscribe(path string) <-chan Event
	// Unsubscribe removes a subscription channel.
	Unsubscribe(path string, ch <-chan Event)
	// Close shuts down the publisher and all subscriptions.
	Close()
}

// MemoryPublisher is an in-memory implementation of Publisher. Delivery
// is best effort: a subscriber whose buffer is full loses the event, and
// every loss is counted and logged.
type MemoryPublisher struct {
	subscribers map[string][]chan Event
	mu          sync.RWMutex
	bufferSize  int
	log         *slog.Logger
	dropped     atomic.Int64
	closed      bool
}

// PublisherOption configures a MemoryPublisher.
type PublisherOption func(*MemoryPublisher)

// WithBufferSize sets the channel buffer size for subscribers.
func WithBufferSize(size int) PublisherOption {
	return func(p *MemoryPublisher) {
		p.bufferSize = size
	}
}

// WithLogger sets the logger used to report dropped events.
func WithLogger(log *slog.Logger) PublisherOption {
	return func(p *MemoryPublisher) {
		if log != nil {
			p.log = log
		}
	}
}

// NewMemoryPublisher creates a new in-memory publisher.
func NewMemoryPublisher(opts ...PublisherOption) *MemoryPublisher {
	p := &MemoryPublisher{
		subscribers: make(map[string][]chan Event),
		bufferSize:  DefaultBufferSize,
		log:         slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends an event to all subscribers of the path, plus global
// subscribers. Non-blocking: a subscriber with a full buffer loses the
// event.
func (p *MemoryPublisher) Publish(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return
	}

	p.deliver(p.subscribers[event.Path], event)
	if event.Path != GlobalPath {
		p.deliver(p.subscribers[GlobalPath], event)
	}
}

func (p *MemoryPublisher) deliver(subs []chan Event, event Event) {
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			n := p.dropped.Add(1)
			p.log.Warn("event dropped, subscriber buffer full",
				"type", event.Type, "path", event.Path, "total_dropped", n)
		}
	}
}

// Dropped returns how many events have been lost to full subscriber
// buffers since the publisher was created.
func (p *MemoryPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Subscribe returns a channel that receives events for the given path.
func (p *MemoryPublisher) Subscribe(path string) <-chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, p.bufferSize)
	p.subscribers[path] = append(p.subscribers[path], ch)
	return ch
}

// Unsubscribe removes a subscription channel and closes it.
func (p *MemoryPublisher) Unsubscribe(path string, ch <-chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	subs := p.subscribers[path]
	for i, sub := range subs {
		if sub == ch {
			p.subscribers[path] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	if len(p.subscribers[path]) == 0 {
		delete(p.subscribers, path)
	}
}

// Close shuts down the publisher and closes all subscription channels.
func (p *MemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	for path, subs := range p.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(p.subscribers, path)
	}
}

// SubscriberCount returns the number of subscribers for a path.
func (p *MemoryPublisher) SubscriberCount(path string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers[path])
}

// NopPublisher is a no-op publisher for tests or when events are disabled.
type NopPublisher struct{}

// NewNopPublisher creates a no-op publisher.
func NewNopPublisher() *NopPublisher {
	return &NopPublisher{}
}

// Publish does nothing.
func (p *NopPublisher) Publish(event Event) {}

// Subscribe returns a closed channel.
func (p *NopPublisher) Subscribe(path string) <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}

// Unsubscribe does nothing.
func (p *NopPublisher) Unsubscribe(path string, ch <-chan Event) {}

// Close does nothing.
func (p *NopPublisher) Close() {}
