// Package notify carries "something changed" signals between writers and
// watchers of a document collection, inside one process or across several.
package notify

import (
	"context"
	"sync"
)

// Bus publishes change signals on named topics.
//
// Signals carry no payload and coalesce: a watcher that is slow to drain
// sees one pending signal, never a backlog.
type Bus interface {
	Publish(ctx context.Context, topic string) error
	Subscribe(ctx context.Context, topic string) (<-chan struct{}, error)
}

// Local is an in-process Bus.
type Local struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

// NewLocal returns an empty in-process bus.
func NewLocal() *Local {
	return &Local{subs: make(map[string]map[chan struct{}]struct{})}
}

// Publish signals every current subscriber of topic without blocking.
func (b *Local) Publish(_ context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[topic] {
		signal(ch)
	}
	return nil
}

// Subscribe registers a watcher until ctx is done, then closes the channel.
func (b *Local) Subscribe(ctx context.Context, topic string) (<-chan struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := make(chan struct{}, 1)

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[chan struct{}]struct{})
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[topic], ch)
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}

// Subscribers returns the number of live watchers on topic.
func (b *Local) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

// signal does a non-blocking send on a buffered channel of size one.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
