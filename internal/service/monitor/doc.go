// Package monitor wires the alarm monitor process together.
//
// Run loads the configuration, opens the history store, builds the engine
// with its writer and broadcast hub, starts the ingestion source, the HTTP
// API, the optional gRPC server and the retention job, and tears everything
// down in order when the context is cancelled.
package monitor
