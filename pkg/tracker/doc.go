// Package tracker exposes the job lifecycle operations used by the API and
// the CLI: handling pipeline status updates, explicit job creation, lookup
// and listing. Every successful mutation publishes one events.Event with
// the job snapshot; stale or replayed updates publish nothing.
package tracker
