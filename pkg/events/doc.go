/*
Package events is the in-process event sink.

Broker implements the sink used by the normalizer: Submit places an event on
a bounded queue and returns immediately. A single delivery goroutine
broadcasts queued events to subscribers.

	┌──────────── BROKER ─────────────┐
	│                                  │
	│  Submit ──► queue (1000) ──► run │──► Subscriber (buffer n)
	│     │                            │──► Subscriber (buffer n)
	│     └─ full: drop + count        │
	└──────────────────────────────────┘

Nothing in the path blocks the caller. A full queue or a full subscriber
buffer drops the event and increments faultbridge_sink_events_dropped_total.

Stop delivers whatever is still queued, then closes every subscriber
channel, which lets consumers such as LogEvents return.

	broker := events.NewBroker(cfg.Sink.QueueSize)
	go events.LogEvents(log.WithComponent("events"), broker.Subscribe(256))
	broker.Start()
	defer broker.Stop()
*/
package events
