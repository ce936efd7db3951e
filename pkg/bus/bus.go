// Package bus carries progress events from orchestration runs to whoever
// presents them.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
)

const DefaultBuffer = 100

// ProgressBus is a buffered event stream. Publishing never blocks: when the
// buffer is full the event is dropped and counted.
type ProgressBus struct {
	events  chan ProgressEvent
	closed  bool
	dropped atomic.Uint64
	mu      sync.RWMutex
}

func NewProgressBus(buffer int) *ProgressBus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &ProgressBus{events: make(chan ProgressEvent, buffer)}
}

func (pb *ProgressBus) Publish(ev ProgressEvent) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()
	if pb.closed {
		return
	}
	select {
	case pb.events <- ev:
	default:
		pb.dropped.Add(1)
	}
}

func (pb *ProgressBus) Consume(ctx context.Context) (ProgressEvent, bool) {
	select {
	case ev, ok := <-pb.events:
		if !ok {
			return ProgressEvent{}, false
		}
		return ev, true
	case <-ctx.Done():
		return ProgressEvent{}, false
	}
}

// Dropped reports how many events were lost to a full buffer.
func (pb *ProgressBus) Dropped() uint64 {
	return pb.dropped.Load()
}

func (pb *ProgressBus) Close() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.closed {
		return
	}
	pb.closed = true
	close(pb.events)
}
