// Package publisher defines the event publisher the join stage announces
// finished schema documents through.
package publisher

import "context"

// Publisher sends a JSON-encodable payload to a topic and returns the
// message id assigned by the backend.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
