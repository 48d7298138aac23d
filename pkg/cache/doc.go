// Package cache keeps a history of sync outcomes per device.
//
// The history lets clients answer "when was this clock last synchronized, and did it work?"
// without talking to the device. An [OutcomeCache] can be persisted with
// [OutcomeCache.ExportToFile] and restored with [ImportFromFile], so the history survives
// restarts of the CLI or the HTTP server.
//
// The same OutcomeCache may safely be shared by concurrent sync operations.
package cache
