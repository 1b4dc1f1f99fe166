// Package config loads and validates the settings for the API server and
// the worker: HTTP, Postgres, the JetStream broker, worker concurrency and
// delays, the pending-task reconciler and telemetry.
package config
