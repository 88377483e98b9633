// Package broadcast fans notifications out to live observers.
//
// The Hub keeps a lock-protected registry of observers. Publish serializes a
// notification once and hands the bytes to every observer without blocking:
// an observer whose queue is full misses that notification. Transports (SSE,
// websocket, gRPC streams) drain Observer.C and call Hub.Unsubscribe as soon
// as a write fails or the peer goes away.
package broadcast
