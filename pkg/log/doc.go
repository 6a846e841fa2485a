/*
Package log provides structured logging for djt using zerolog.

A single global Logger is configured once at startup with Init. Packages
derive child loggers from it so every entry carries the fields needed to
follow one request or one job through the service:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("tracker")
	jobLogger := log.WithJobKey(logger, key)
	jobLogger.Info().Str("status", string(job.Status)).Msg("Status update applied")

# Fields

	component     subsystem emitting the entry (api, tracker, notify, ...)
	job_key       app:tenant:patient:document:run storage key
	app_id        \
	tenant_id      | copied from the key for filtering
	document_id    |
	run_id        /
	request_id    set by the API middleware, echoed in X-Request-ID

Console output is the default for interactive use. JSON output is meant for
log shippers. Levels below the configured one are dropped before any field
is encoded.
*/
package log
