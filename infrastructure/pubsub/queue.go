package pubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crosspost/domain/model"
	"crosspost/infrastructure/logger"

	"cloud.google.com/go/pubsub"
)

const backendName = "pubsub"

// Queue adapts a streaming-pull subscription to the work queue. Leases are
// extended up to the visibility timeout; after that the message is redelivered.
type Queue struct {
	topic   *pubsub.Topic
	sub     *pubsub.Subscription
	deadSub *pubsub.Subscription

	msgs      chan *pubsub.Message
	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	mu        sync.Mutex
	recvErr   error
}

// NewQueue wires a topic and its work subscription. deadLetterSubID may be empty.
func NewQueue(client *pubsub.Client, topicID, subID, deadLetterSubID string, visibility time.Duration, maxOutstanding int) *Queue {
	sub := client.Subscription(subID)
	sub.ReceiveSettings.MaxExtension = visibility
	sub.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
	q := &Queue{
		topic: client.Topic(topicID),
		sub:   sub,
		msgs:  make(chan *pubsub.Message),
		done:  make(chan struct{}),
	}
	if deadLetterSubID != "" {
		q.deadSub = client.Subscription(deadLetterSubID)
	}
	return q
}

func (q *Queue) Enqueue(ctx context.Context, item model.WorkItem) error {
	body, err := item.Encode()
	if err != nil {
		return err
	}
	serverID, err := q.topic.Publish(ctx, &pubsub.Message{
		Data:       body,
		Attributes: map[string]string{"destination": string(item.Destination)},
	}).Get(ctx)
	if err != nil {
		return err
	}
	logger.GetLogger().WithField("server_id", serverID).Debug("Message published")
	return nil
}

func (q *Queue) start() {
	rctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	go func() {
		defer close(q.done)
		err := q.sub.Receive(rctx, func(ctx context.Context, m *pubsub.Message) {
			select {
			case q.msgs <- m:
			case <-ctx.Done():
				m.Nack()
			}
		})
		if err != nil {
			logger.GetLogger().WithField("error", err).Error("Pub/Sub receive stopped")
			q.mu.Lock()
			q.recvErr = err
			q.mu.Unlock()
		}
	}()
}

func (q *Queue) Dequeue(ctx context.Context, maxWait time.Duration) (*model.Delivery, error) {
	q.startOnce.Do(q.start)
	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-q.done:
			q.mu.Lock()
			defer q.mu.Unlock()
			if q.recvErr != nil {
				return nil, q.recvErr
			}
			return nil, fmt.Errorf("pubsub receiver closed")
		case m := <-q.msgs:
			item, err := model.DecodeWorkItem(m.Data)
			if err != nil {
				logger.GetLogger().WithField("message_id", m.ID).WithField("error", err).Error("Dropping malformed message")
				if m.DeliveryAttempt != nil {
					// dead-letter policy will take it
					m.Nack()
				} else {
					m.Ack()
				}
				continue
			}
			return &model.Delivery{ID: m.ID, Item: item, DeliveryCount: deliveryCount(m), Handle: m}, nil
		}
	}
}

func deliveryCount(m *pubsub.Message) int {
	if m.DeliveryAttempt != nil {
		return *m.DeliveryAttempt
	}
	return 1
}

func (q *Queue) Ack(ctx context.Context, d *model.Delivery) error {
	m, ok := d.Handle.(*pubsub.Message)
	if !ok {
		return fmt.Errorf("ack %s: foreign delivery handle", d.ID)
	}
	m.Ack()
	return nil
}

// Release nacks so the subscription's retry policy schedules redelivery.
func (q *Queue) Release(ctx context.Context, d *model.Delivery) error {
	m, ok := d.Handle.(*pubsub.Message)
	if !ok {
		return fmt.Errorf("release %s: foreign delivery handle", d.ID)
	}
	m.Nack()
	return nil
}

func (q *Queue) DrainDeadLetters(ctx context.Context, max int, fn func(*model.DeadLetter) error) (int, error) {
	if q.deadSub == nil || max <= 0 {
		return 0, nil
	}
	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var (
		mu       sync.Mutex
		drained  int
		firstErr error
	)
	q.deadSub.ReceiveSettings.NumGoroutines = 1
	q.deadSub.ReceiveSettings.MaxOutstandingMessages = max
	err := q.deadSub.Receive(rctx, func(_ context.Context, m *pubsub.Message) {
		mu.Lock()
		defer mu.Unlock()
		if drained >= max || firstErr != nil {
			m.Nack()
			return
		}
		if err := fn(deadLetterFrom(m)); err != nil {
			firstErr = err
			m.Nack()
			cancel()
			return
		}
		m.Ack()
		drained++
		if drained >= max {
			cancel()
		}
	})
	if firstErr != nil {
		return drained, firstErr
	}
	if err != nil && rctx.Err() == nil {
		return drained, err
	}
	return drained, nil
}

func deadLetterFrom(m *pubsub.Message) *model.DeadLetter {
	dl := &model.DeadLetter{
		MessageID:     m.ID,
		Backend:       backendName,
		Body:          string(m.Data),
		DeliveryCount: deliveryCount(m),
		Reason:        "max delivery attempts exceeded",
	}
	if item, err := model.DecodeWorkItem(m.Data); err == nil {
		dl.RequestID = item.RequestID
		dl.Destination = string(item.Destination)
	}
	if src, ok := m.Attributes["CloudPubSubDeadLetterSourceSubscription"]; ok {
		dl.Reason += " on " + src
	}
	return dl
}

func (q *Queue) Close(ctx context.Context) error {
	if q.cancel != nil {
		q.cancel()
		select {
		case <-q.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	q.topic.Stop()
	return nil
}
