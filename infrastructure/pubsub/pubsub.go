package pubsub

import (
	"context"
	"fmt"
	"time"

	"crosspost/infrastructure/logger"

	"cloud.google.com/go/pubsub"
)

// NewPubSub creates a client; PUBSUB_EMULATOR_HOST is honored by the library.
func NewPubSub(ctx context.Context, projectID string) (*pubsub.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("pubsub project id is empty")
	}
	return pubsub.NewClient(ctx, projectID)
}

// Topology names the topics and subscriptions backing the work queue.
type Topology struct {
	TopicID                  string
	SubscriptionID           string
	DeadLetterTopicID        string
	DeadLetterSubscriptionID string
	AckDeadline              time.Duration
	MaxDeliveryAttempts      int
	MinBackoff               time.Duration
	MaxBackoff               time.Duration
}

// EnsureTopology creates missing topics and subscriptions. The work
// subscription forwards to the dead-letter topic after MaxDeliveryAttempts and
// delays redelivery of nacked messages between MinBackoff and MaxBackoff.
func EnsureTopology(ctx context.Context, client *pubsub.Client, t Topology) error {
	topic, err := ensureTopic(ctx, client, t.TopicID)
	if err != nil {
		return err
	}
	cfg := pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: clampDuration(t.AckDeadline, 10*time.Second, 600*time.Second),
	}
	if t.MinBackoff > 0 || t.MaxBackoff > 0 {
		maxBackoff := clampDuration(t.MaxBackoff, 0, 600*time.Second)
		cfg.RetryPolicy = &pubsub.RetryPolicy{
			MinimumBackoff: clampDuration(t.MinBackoff, 0, maxBackoff),
			MaximumBackoff: maxBackoff,
		}
	}
	if t.DeadLetterTopicID != "" {
		deadTopic, err := ensureTopic(ctx, client, t.DeadLetterTopicID)
		if err != nil {
			return err
		}
		cfg.DeadLetterPolicy = &pubsub.DeadLetterPolicy{
			DeadLetterTopic:     deadTopic.String(),
			MaxDeliveryAttempts: clampInt(t.MaxDeliveryAttempts, 5, 100),
		}
		if t.DeadLetterSubscriptionID != "" {
			if err := ensureSubscription(ctx, client, t.DeadLetterSubscriptionID, pubsub.SubscriptionConfig{Topic: deadTopic}); err != nil {
				return err
			}
		}
	}
	return ensureSubscription(ctx, client, t.SubscriptionID, cfg)
}

func ensureTopic(ctx context.Context, client *pubsub.Client, topicID string) (*pubsub.Topic, error) {
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		logger.GetLogger().WithField("topic", topicID).Info("Topic doesn't exist - creating it")
		if topic, err = client.CreateTopic(ctx, topicID); err != nil {
			return nil, err
		}
	}
	return topic, nil
}

func ensureSubscription(ctx context.Context, client *pubsub.Client, subID string, cfg pubsub.SubscriptionConfig) error {
	sub := client.Subscription(subID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	logger.GetLogger().WithField("subscription", subID).Info("Subscription doesn't exist - creating it")
	_, err = client.CreateSubscription(ctx, subID, cfg)
	return err
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
