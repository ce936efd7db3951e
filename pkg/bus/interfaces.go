package bus

import "context"

// Publisher receives progress events. Publish must not block the run.
type Publisher interface {
	Publish(ProgressEvent)
}

type Subscriber interface {
	Consume(context.Context) (ProgressEvent, bool)
}

type Broker interface {
	Publisher
	Subscriber
	Close()
}

// PublisherFunc adapts a callback to Publisher. The callback runs on the
// loop's goroutine and should return quickly.
type PublisherFunc func(ProgressEvent)

func (f PublisherFunc) Publish(ev ProgressEvent) { f(ev) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(ProgressEvent) {})
