package servicebus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crosspost/domain/model"
	"crosspost/infrastructure/logger"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"
)

const backendName = "servicebus"

// Queue maps the work queue onto a peek-lock Service Bus queue. The message
// lock is the visibility timeout and the queue's MaxDeliveryCount moves a
// message to the dead-letter sub-queue.
type Queue struct {
	name     string
	client   *azservicebus.Client
	sender   *azservicebus.Sender
	receiver *azservicebus.Receiver
}

func NewQueue(client *azservicebus.Client, name string) (*Queue, error) {
	sender, err := client.NewSender(name, nil)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while making new sender service bus.")
		return nil, err
	}
	receiver, err := client.NewReceiverForQueue(name, &azservicebus.ReceiverOptions{
		ReceiveMode: azservicebus.ReceiveModePeekLock,
	})
	if err != nil {
		_ = sender.Close(context.Background())
		return nil, err
	}
	return &Queue{name: name, client: client, sender: sender, receiver: receiver}, nil
}

// EnsureQueue creates the queue when missing with the given lock duration and
// max delivery count. Lock durations above five minutes are clamped by the broker.
func EnsureQueue(ctx context.Context, ac *admin.Client, name string, lock time.Duration, maxDelivery int) error {
	resp, err := ac.GetQueue(ctx, name, nil)
	if err != nil {
		return fmt.Errorf("get queue %s: %w", name, err)
	}
	if resp != nil {
		return nil
	}
	_, err = ac.CreateQueue(ctx, name, &admin.CreateQueueOptions{
		Properties: &admin.QueueProperties{
			LockDuration:                     to.Ptr(isoDuration(lock)),
			MaxDeliveryCount:                 to.Ptr(int32(maxDelivery)),
			DeadLetteringOnMessageExpiration: to.Ptr(true),
		},
	})
	if err != nil {
		return fmt.Errorf("create queue %s: %w", name, err)
	}
	logger.GetLogger().WithField("queue", name).Info("Service Bus queue created")
	return nil
}

func isoDuration(d time.Duration) string {
	secs := int(d / time.Second)
	if secs < 5 {
		secs = 5
	}
	if secs > 300 {
		secs = 300
	}
	return fmt.Sprintf("PT%dS", secs)
}

func (q *Queue) Enqueue(ctx context.Context, item model.WorkItem) error {
	body, err := item.Encode()
	if err != nil {
		return err
	}
	err = q.sender.SendMessage(ctx, &azservicebus.Message{
		Body:        body,
		ContentType: to.Ptr("application/json"),
		Subject:     to.Ptr(string(item.Destination)),
	}, nil)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while sending message.")
		return err
	}
	return nil
}

func (q *Queue) Dequeue(ctx context.Context, maxWait time.Duration) (*model.Delivery, error) {
	for {
		waitCtx, cancel := context.WithTimeout(ctx, maxWait)
		msgs, err := q.receiver.ReceiveMessages(waitCtx, 1, nil)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, nil
			}
			return nil, err
		}
		if len(msgs) == 0 {
			return nil, nil
		}
		msg := msgs[0]
		item, err := model.DecodeWorkItem(msg.Body)
		if err != nil {
			logger.GetLogger().WithField("message_id", msg.MessageID).WithField("error", err).Error("Dead-lettering malformed message")
			if dlErr := q.receiver.DeadLetterMessage(ctx, msg, &azservicebus.DeadLetterOptions{
				Reason:           to.Ptr("malformed"),
				ErrorDescription: to.Ptr(err.Error()),
			}); dlErr != nil {
				return nil, dlErr
			}
			continue
		}
		return &model.Delivery{
			ID:            msg.MessageID,
			Item:          item,
			DeliveryCount: int(msg.DeliveryCount),
			Handle:        msg,
		}, nil
	}
}

func (q *Queue) Ack(ctx context.Context, d *model.Delivery) error {
	msg, ok := d.Handle.(*azservicebus.ReceivedMessage)
	if !ok {
		return fmt.Errorf("ack %s: foreign delivery handle", d.ID)
	}
	return q.receiver.CompleteMessage(ctx, msg, nil)
}

// Release leaves the message locked; it reappears when the lock expires.
func (q *Queue) Release(ctx context.Context, d *model.Delivery) error { return nil }

func (q *Queue) DrainDeadLetters(ctx context.Context, max int, fn func(*model.DeadLetter) error) (int, error) {
	dlq, err := q.client.NewReceiverForQueue(q.name, &azservicebus.ReceiverOptions{
		ReceiveMode: azservicebus.ReceiveModePeekLock,
		SubQueue:    azservicebus.SubQueueDeadLetter,
	})
	if err != nil {
		return 0, err
	}
	defer func(receiver *azservicebus.Receiver, ctx context.Context) {
		if err := receiver.Close(ctx); err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while closing receiver.")
		}
	}(dlq, context.Background())

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	msgs, err := dlq.ReceiveMessages(waitCtx, max, nil)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return 0, err
	}
	drained := 0
	for _, msg := range msgs {
		if err := fn(deadLetterFrom(msg)); err != nil {
			_ = dlq.AbandonMessage(ctx, msg, nil)
			return drained, err
		}
		if err := dlq.CompleteMessage(ctx, msg, nil); err != nil {
			return drained, err
		}
		drained++
	}
	return drained, nil
}

func deadLetterFrom(msg *azservicebus.ReceivedMessage) *model.DeadLetter {
	dl := &model.DeadLetter{
		MessageID:     msg.MessageID,
		Backend:       backendName,
		Body:          string(msg.Body),
		DeliveryCount: int(msg.DeliveryCount),
	}
	if item, err := model.DecodeWorkItem(msg.Body); err == nil {
		dl.RequestID = item.RequestID
		dl.Destination = string(item.Destination)
	}
	if msg.DeadLetterReason != nil {
		dl.Reason = *msg.DeadLetterReason
	}
	if msg.DeadLetterErrorDescription != nil {
		dl.Reason += ": " + *msg.DeadLetterErrorDescription
	}
	return dl
}

func (q *Queue) Close(ctx context.Context) error {
	return errors.Join(q.sender.Close(ctx), q.receiver.Close(ctx))
}
