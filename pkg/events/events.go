package events

import (
	"sync"

	"github.com/cuemby/faultbridge/pkg/metrics"
	"github.com/cuemby/faultbridge/pkg/types"
)

// DefaultQueueSize is the number of events buffered between Submit and delivery
const DefaultQueueSize = 1000

// Subscriber is a channel that receives events
type Subscriber chan *types.FaultEvent

// Broker is the asynchronous event sink. Submit enqueues without blocking;
// a delivery goroutine hands each event to every subscriber.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *types.FaultEvent
	stopCh      chan struct{}
	doneCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker with the given queue size
func NewBroker(queueSize int) *Broker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *types.FaultEvent, queueSize),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops delivery, waits for the loop to exit and closes every
// subscriber channel. Events still queued are delivered first.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh

		b.mu.Lock()
		defer b.mu.Unlock()
		for sub := range b.subscribers {
			close(sub)
			delete(b.subscribers, sub)
		}
	})
}

// Subscribe creates a new subscription with a buffer of size events
func (b *Broker) Subscribe(size int) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	if size <= 0 {
		size = 50
	}
	sub := make(Subscriber, size)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Submit enqueues an event. It never blocks: when the queue is full or the
// broker is stopped the event is dropped and counted. Events are delivered
// as submitted; the broker never modifies them.
func (b *Broker) Submit(event *types.FaultEvent) {
	select {
	case <-b.stopCh:
		metrics.EventsDropped.Inc()
		return
	default:
	}

	select {
	case b.eventCh <- event:
	default:
		metrics.EventsDropped.Inc()
	}
}

// Pending returns the number of queued, undelivered events
func (b *Broker) Pending() int {
	return len(b.eventCh)
}

func (b *Broker) run() {
	defer close(b.doneCh)
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			for {
				select {
				case event := <-b.eventCh:
					b.broadcast(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Broker) broadcast(event *types.FaultEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full
			metrics.EventsDropped.Inc()
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
