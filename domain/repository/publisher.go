package repository

import (
	"context"

	"crosspost/domain/model"
)

type PublishInput struct {
	UserID      string
	VideoURL    string
	Caption     string
	Destination model.DestinationKey
}

// PublishResult holds opaque remote identifiers, e.g. {"post_id": "..."}.
type PublishResult map[string]string

// IPublisher posts a video to one platform. Implementations must not retry.
type IPublisher interface {
	Platform() string
	Publish(ctx context.Context, in PublishInput) (PublishResult, error)
}

// IPublisherRegistry resolves a destination key to its platform's publisher.
type IPublisherRegistry interface {
	For(key model.DestinationKey) (IPublisher, bool)
	Platforms() []string
}
