/*
Package events provides an in-memory event broker for the task-lifecycle
engine's pub/sub messaging.

The broker is topic-agnostic: every publish goes out to every subscriber over
a buffered channel, and each subscriber filters on Event.Type itself. A
subscriber that falls behind has its oldest-pending events dropped rather
than stalling the publisher (see Broker.broadcast).

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			if ev.Type == events.EventCapacityRestored {
				payload := ev.Payload.(events.CapacityRestoredPayload)
				_ = payload
			}
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventTaskCreated,
		Payload: events.TaskLifecyclePayload{Task: task},
	})

See payloads.go for the struct carried by each EventType's Payload field.
*/
package events
