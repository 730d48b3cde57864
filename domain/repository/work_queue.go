package repository

import (
	"context"
	"time"

	"crosspost/domain/model"
)

// IWorkQueue is an at-least-once queue with visibility-timeout redelivery and a
// dead-letter sink after the backend's maximum receive count.
type IWorkQueue interface {
	Enqueue(ctx context.Context, item model.WorkItem) error
	// Dequeue waits up to maxWait and returns nil when nothing arrived.
	Dequeue(ctx context.Context, maxWait time.Duration) (*model.Delivery, error)
	// Ack removes the delivery permanently.
	Ack(ctx context.Context, d *model.Delivery) error
	// Release gives the delivery back to the backend's native redelivery.
	// It never re-enqueues.
	Release(ctx context.Context, d *model.Delivery) error
	// DrainDeadLetters hands up to max dead-lettered messages to fn and removes
	// the ones fn accepted.
	DrainDeadLetters(ctx context.Context, max int, fn func(*model.DeadLetter) error) (int, error)
	Close(ctx context.Context) error
}
