package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
)

// Notification is the message handed to the delivery pipeline. Delivery
// is fire-and-forget; it never participates in the transaction that
// produced it.
type Notification struct {
	UserID  string            `json:"userId"`
	Type    string            `json:"type"`
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Payload map[string]string `json:"payload,omitempty"`
}

// Dispatcher delivers a notification to a single recipient.
type Dispatcher interface {
	Dispatch(ctx context.Context, notification Notification) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, notification Notification) error

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(ctx context.Context, notification Notification) error {
	if f == nil {
		return errors.New("notifications: dispatcher not configured")
	}
	return f(ctx, notification)
}

// PubSubDispatcher publishes notifications to a Pub/Sub topic consumed
// by the delivery workers (push, email).
type PubSubDispatcher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubDispatcher constructs a Pub/Sub backed dispatcher.
func NewPubSubDispatcher(topic *pubsub.Topic) (*PubSubDispatcher, error) {
	if topic == nil {
		return nil, errors.New("notifications: topic is required")
	}
	return &PubSubDispatcher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// Dispatch enqueues the notification message on the configured topic.
func (d *PubSubDispatcher) Dispatch(ctx context.Context, notification Notification) error {
	if d == nil || d.topic == nil {
		return errors.New("notifications: dispatcher not initialised")
	}

	data, err := d.marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "userId", notification.UserID)
	setAttr(attrs, "type", notification.Type)
	if orderID, ok := notification.Payload["orderId"]; ok {
		setAttr(attrs, "orderId", orderID)
	}

	result := d.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
