/*
Package health probes the external dependencies djt delivers events to.

A Monitor runs each Probe on an interval and publishes the outcome as a
component of the process health report (see pkg/metrics), so /health shows
whether the Kafka brokers and the webhook receiver are reachable. Probes are
not critical components: an unreachable sink degrades /health but never
fails /ready, because job tracking keeps working without notifications.

A probe flips to unhealthy only after Config.Retries consecutive failures
and back to healthy on the first success.

	monitor := health.NewMonitor(health.DefaultConfig(), logger,
		health.Probe{Name: "kafka", Checker: health.NewTCPChecker(brokers...)},
		health.Probe{Name: "webhook", Checker: health.NewHTTPChecker(url)},
	)
	go monitor.Run(ctx)
*/
package health
