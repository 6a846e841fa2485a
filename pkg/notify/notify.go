package notify

import (
	"context"
	"time"

	"github.com/cuemby/djt/pkg/events"
	"github.com/cuemby/djt/pkg/metrics"
	"github.com/rs/zerolog"
)

// DefaultSendTimeout bounds delivery of one event to one sink
const DefaultSendTimeout = 10 * time.Second

// Sink delivers job events to one downstream consumer
type Sink interface {
	// Name identifies the sink in logs and metrics
	Name() string
	Send(ctx context.Context, event *events.Event) error
	Close() error
}

// Dispatcher forwards every event published on a broker to its sinks.
// Delivery is best effort: a failing sink is logged and counted and never
// blocks the others.
type Dispatcher struct {
	broker  *events.Broker
	sub     events.Subscriber
	sinks   []Sink
	timeout time.Duration
	logger  zerolog.Logger
}

// NewDispatcher subscribes to broker right away so no event published
// after this call is missed
func NewDispatcher(broker *events.Broker, logger zerolog.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		broker:  broker,
		sub:     broker.Subscribe(),
		sinks:   sinks,
		timeout: DefaultSendTimeout,
		logger:  logger,
	}
}

// Run delivers events until ctx is canceled or the subscription closes,
// then closes every sink
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.closeSinks()
	defer d.broker.Unsubscribe(d.sub)

	for {
		select {
		case event, ok := <-d.sub:
			if !ok {
				return nil
			}
			d.dispatch(ctx, event)
		case <-ctx.Done():
			return nil
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, event *events.Event) {
	for _, sink := range d.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := sink.Send(sendCtx, event)
		cancel()

		if err != nil {
			metrics.NotificationsTotal.WithLabelValues(sink.Name(), "failure").Inc()
			d.logger.Warn().
				Err(err).
				Str("sink", sink.Name()).
				Str("event_id", event.ID).
				Str("event_type", string(event.Type)).
				Msg("Failed to deliver job event")
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(sink.Name(), "success").Inc()
	}
}

func (d *Dispatcher) closeSinks() {
	for _, sink := range d.sinks {
		if err := sink.Close(); err != nil {
			d.logger.Warn().Err(err).Str("sink", sink.Name()).Msg("Failed to close sink")
		}
	}
}

// LogSink writes each event to a logger. It is the default sink when no
// other is configured.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a new log sink
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(ctx context.Context, event *events.Event) error {
	e := s.logger.Info().
		Str("event_id", event.ID).
		Str("event_type", string(event.Type))
	if event.Job != nil {
		e = e.Str("job_key", event.Job.Key.String()).
			Str("job_status", string(event.Job.Status)).
			Int64("version", event.Job.Version)
	}
	e.Msg("Job event")
	return nil
}

func (s *LogSink) Close() error { return nil }
