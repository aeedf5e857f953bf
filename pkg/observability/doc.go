/*
Package observability exposes mcpecho's runtime signals.

Metrics are Prometheus collectors on a private registry. They implement
session.Observer and state.Recorder, so the registry and the state adapter
report lifecycle and key/value activity without knowing about Prometheus.

The Reporter periodically logs registry statistics on a cron schedule.
*/
package observability
