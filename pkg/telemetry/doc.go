// Package telemetry normalizes and delivers telemetry records to one or
// more observability backends.
//
// The Dispatcher is the entry point. It enriches each submitted record
// with the process-wide user context, scrubs PII, and fans the record out
// concurrently to every registered BackendAdapter. Failed deliveries fall
// back to a bounded offline buffer (pkg/offline) that replays them with
// bounded retries, so backend and network failures stay invisible to the
// application.
package telemetry
