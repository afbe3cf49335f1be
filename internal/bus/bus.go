// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus is the in-process trigger bus between HTTP handlers and the
// background dispatchers. Trigger endpoints publish onto bounded channels;
// a single dispatcher per topic consumes.
package bus

import "context"

// Message is one trigger event.
type Message struct {
	// Kind names the requested action, e.g. a scan kind.
	Kind string
	// Force bypasses the already-known checks (manual triggers set this).
	Force bool
}

// Subscriber is one bounded subscription to a topic.
type Subscriber interface {
	// C yields messages until Close.
	C() <-chan Message
	// Close detaches the subscription and closes its channel.
	Close() error
}

// Bus is an in-process pub/sub with bounded delivery.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
}

// Topics used by the controller.
const (
	TopicScan = "scan"
)
