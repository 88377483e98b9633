// Package rest exposes the HTTP API of the alarm monitor.
//
// It serves the transition history, live observer streams over Server-Sent
// Events and WebSocket, the current station baselines, the alarm channel table,
// health and Prometheus metrics, and optionally a static front-end.
package rest
