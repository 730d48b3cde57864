package clients

import (
	"context"
	"testing"

	"crosspost/domain/repository"

	"github.com/stretchr/testify/assert"
)

type namedPublisher string

func (n namedPublisher) Platform() string { return string(n) }

func (n namedPublisher) Publish(context.Context, repository.PublishInput) (repository.PublishResult, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(namedPublisher("youtube"), namedPublisher("facebook"), nil)
	assert.Equal(t, []string{"facebook", "youtube"}, r.Platforms())

	p, ok := r.For("youtube:UC1")
	assert.True(t, ok)
	assert.Equal(t, "youtube", p.Platform())

	_, ok = r.For("tiktok:1")
	assert.False(t, ok)
}
