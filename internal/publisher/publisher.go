// Package publisher defines the notification contract used to announce
// persisted policy records to downstream consumers.
package publisher

import "context"

// Message is one notification. Payload is marshaled by the transport.
type Message struct {
	Topic       string
	OrderingKey string
	Attributes  map[string]string
	Payload     any
}

// Publisher delivers messages and returns the transport's message id.
type Publisher interface {
	Publish(ctx context.Context, msg Message) (string, error)
}
