/*
Package events provides an in-process publish/subscribe broker for job
lifecycle events.

The tracker publishes one Event per successful mutation: job.created when a
job is first stored (explicitly or by the first status update) and
job.updated for every later change. Each event carries a copy of the job
as it was right after the write.

	┌─────────────┐  Publish   ┌──────────────────┐  broadcast  ┌────────────┐
	│   tracker   │──────────▶│  Broker          │────────────▶│ Subscriber │
	│   Service   │           │  eventCh (100)   │             │ chan (50)  │
	└─────────────┘           └──────────────────┘             └─────┬──────┘
	                                                                 │
	                                                       notify.Dispatcher
	                                                       Kafka / webhook / log

Delivery is best effort. Publish never blocks the caller: if the broker
queue or a subscriber buffer is full the event is dropped and the
djt_events_dropped_total counter is incremented. A dropped notification
never affects the stored job.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for event := range sub {
		fmt.Println(event.Type, event.Job.Key, event.Job.Status)
	}
*/
package events
