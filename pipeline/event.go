package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Message is one durably stored message announced to the pipeline.
type Message struct {
	Queue string
	ID    int64
}

// Event is the closed set of inbound events. Every variant dispatches
// through Visitor, so a new variant does not compile until every visitor
// handles it.
type Event interface {
	Kind() string
	Accept(ctx context.Context, v Visitor) error
	validate() error
}

// Visitor handles each event variant.
type Visitor interface {
	VisitMessagesArrived(ctx context.Context, ev *MessagesArrived) error
	VisitChannelOpened(ctx context.Context, ev *ChannelOpened) error
	VisitChannelClosed(ctx context.Context, ev *ChannelClosed) error
	VisitDeliveryStarted(ctx context.Context, ev *DeliveryStarted) error
	VisitDeliveryStopped(ctx context.Context, ev *DeliveryStopped) error
	VisitExpirationWorkerStarted(ctx context.Context, ev *ExpirationWorkerStarted) error
	VisitExpirationWorkerStopped(ctx context.Context, ev *ExpirationWorkerStopped) error
	VisitSubscriptionOpened(ctx context.Context, ev *SubscriptionOpened) error
	VisitSubscriptionClosed(ctx context.Context, ev *SubscriptionClosed) error
	VisitShutdown(ctx context.Context, ev *Shutdown) error
}

var errEmptyField = errors.New("required field is empty")

// MessagesArrived announces messages already written to storage. EndOfBatch
// marks the last event of a producer's delivery batch.
type MessagesArrived struct {
	Messages   []Message
	EndOfBatch bool
}

func (*MessagesArrived) Kind() string { return "messages_arrived" }

func (e *MessagesArrived) Accept(ctx context.Context, v Visitor) error {
	return v.VisitMessagesArrived(ctx, e)
}

func (e *MessagesArrived) validate() error {
	if len(e.Messages) == 0 {
		return fmt.Errorf("no messages")
	}
	for _, m := range e.Messages {
		if m.Queue == "" {
			return fmt.Errorf("message %d: queue: %w", m.ID, errEmptyField)
		}
		if m.ID <= 0 {
			return fmt.Errorf("queue %s: invalid message id %d", m.Queue, m.ID)
		}
	}
	return nil
}

// ChannelOpened announces a new client channel.
type ChannelOpened struct {
	ChannelID string
	Client    string
}

func (*ChannelOpened) Kind() string { return "channel_opened" }

func (e *ChannelOpened) Accept(ctx context.Context, v Visitor) error {
	return v.VisitChannelOpened(ctx, e)
}

func (e *ChannelOpened) validate() error {
	if e.ChannelID == "" {
		return fmt.Errorf("channel id: %w", errEmptyField)
	}
	return nil
}

// ChannelClosed announces a closed client channel.
type ChannelClosed struct {
	ChannelID string
}

func (*ChannelClosed) Kind() string { return "channel_closed" }

func (e *ChannelClosed) Accept(ctx context.Context, v Visitor) error {
	return v.VisitChannelClosed(ctx, e)
}

func (e *ChannelClosed) validate() error {
	if e.ChannelID == "" {
		return fmt.Errorf("channel id: %w", errEmptyField)
	}
	return nil
}

// DeliveryStarted resumes delivery on a channel.
type DeliveryStarted struct {
	ChannelID string
}

func (*DeliveryStarted) Kind() string { return "delivery_started" }

func (e *DeliveryStarted) Accept(ctx context.Context, v Visitor) error {
	return v.VisitDeliveryStarted(ctx, e)
}

func (e *DeliveryStarted) validate() error {
	if e.ChannelID == "" {
		return fmt.Errorf("channel id: %w", errEmptyField)
	}
	return nil
}

// DeliveryStopped pauses delivery on a channel.
type DeliveryStopped struct {
	ChannelID string
}

func (*DeliveryStopped) Kind() string { return "delivery_stopped" }

func (e *DeliveryStopped) Accept(ctx context.Context, v Visitor) error {
	return v.VisitDeliveryStopped(ctx, e)
}

func (e *DeliveryStopped) validate() error {
	if e.ChannelID == "" {
		return fmt.Errorf("channel id: %w", errEmptyField)
	}
	return nil
}

// ExpirationWorkerStarted starts message expiration. Failure to start it
// stops the pipeline.
type ExpirationWorkerStarted struct{}

func (*ExpirationWorkerStarted) Kind() string { return "expiration_worker_started" }

func (e *ExpirationWorkerStarted) Accept(ctx context.Context, v Visitor) error {
	return v.VisitExpirationWorkerStarted(ctx, e)
}

func (*ExpirationWorkerStarted) validate() error { return nil }

// ExpirationWorkerStopped stops message expiration.
type ExpirationWorkerStopped struct{}

func (*ExpirationWorkerStopped) Kind() string { return "expiration_worker_stopped" }

func (e *ExpirationWorkerStopped) Accept(ctx context.Context, v Visitor) error {
	return v.VisitExpirationWorkerStopped(ctx, e)
}

func (*ExpirationWorkerStopped) validate() error { return nil }

// SubscriptionOpened binds a subscription to a channel and queue.
type SubscriptionOpened struct {
	SubscriptionID string
	ChannelID      string
	Queue          string
}

func (*SubscriptionOpened) Kind() string { return "subscription_opened" }

func (e *SubscriptionOpened) Accept(ctx context.Context, v Visitor) error {
	return v.VisitSubscriptionOpened(ctx, e)
}

func (e *SubscriptionOpened) validate() error {
	switch {
	case e.SubscriptionID == "":
		return fmt.Errorf("subscription id: %w", errEmptyField)
	case e.ChannelID == "":
		return fmt.Errorf("channel id: %w", errEmptyField)
	case e.Queue == "":
		return fmt.Errorf("queue: %w", errEmptyField)
	}
	return nil
}

// SubscriptionClosed removes a subscription.
type SubscriptionClosed struct {
	SubscriptionID string
}

func (*SubscriptionClosed) Kind() string { return "subscription_closed" }

func (e *SubscriptionClosed) Accept(ctx context.Context, v Visitor) error {
	return v.VisitSubscriptionClosed(ctx, e)
}

func (e *SubscriptionClosed) validate() error {
	if e.SubscriptionID == "" {
		return fmt.Errorf("subscription id: %w", errEmptyField)
	}
	return nil
}

// Shutdown flushes buffered state and stops the consumer.
type Shutdown struct{}

func (*Shutdown) Kind() string { return "shutdown" }

func (e *Shutdown) Accept(ctx context.Context, v Visitor) error {
	return v.VisitShutdown(ctx, e)
}

func (*Shutdown) validate() error { return nil }
