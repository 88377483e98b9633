// Package ingest receives raw status payloads from the pub/sub transport and
// feeds decoded words to the engine.
//
// MQTTSource subscribes through paho, NATSSource through nats.go. Both deliver
// messages one at a time to a Handler, which rejects payloads that are not
// exactly two bytes.
package ingest
