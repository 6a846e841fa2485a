/*
Package notify delivers job events to downstream consumers.

A Dispatcher subscribes to the events.Broker and hands every event to each
configured Sink in turn:

	KafkaSink    IBM/sarama SyncProducer, JSON value, keyed by job storage key
	WebhookSink  HTTP POST of the JSON event, retried with exponential backoff
	LogSink      one structured log line per event

Delivery is fire-and-forget from the tracker's point of view. Failures are
logged and counted in djt_notifications_total{sink,result}; the stored job
is never affected.

Events are published after the store commits, so two concurrent updates to
one job can reach a sink out of version order. Every event carries the job
version (the job_version Kafka header and X-DJT-Job-Version on webhooks);
consumers keep the highest version they have seen.
*/
package notify
