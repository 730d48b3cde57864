package graph

import (
	"context"
	"net/url"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
)

type reelContainerForm struct {
	MediaType   string `url:"media_type"`
	VideoURL    string `url:"video_url"`
	Caption     string `url:"caption,omitempty"`
	AccessToken string `url:"access_token"`
}

type mediaPublishForm struct {
	CreationID  string `url:"creation_id"`
	AccessToken string `url:"access_token"`
}

type containerStatus struct {
	StatusCode string `json:"status_code"`
	Status     string `json:"status"`
}

// InstagramPublisher creates a REELS container, waits for Instagram to finish
// ingesting the video and publishes it.
type InstagramPublisher struct {
	client       *Client
	pollInterval time.Duration
}

func NewInstagramPublisher(client *Client, pollInterval time.Duration) *InstagramPublisher {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &InstagramPublisher{client: client, pollInterval: pollInterval}
}

func (p *InstagramPublisher) Platform() string { return model.PlatformInstagram }

func (p *InstagramPublisher) Publish(ctx context.Context, in repository.PublishInput) (repository.PublishResult, error) {
	token, err := p.client.accessToken(ctx, model.PlatformInstagram, in.UserID, in.Destination)
	if err != nil {
		return nil, err
	}
	account := in.Destination.AccountID()

	var container idResponse
	err = p.client.post(ctx, model.PlatformInstagram, account+"/media", reelContainerForm{
		MediaType:   "REELS",
		VideoURL:    in.VideoURL,
		Caption:     in.Caption,
		AccessToken: token,
	}, &container)
	if err != nil {
		return nil, err
	}
	if err := requireID(model.PlatformInstagram, container); err != nil {
		return nil, err
	}

	if err := p.waitFinished(ctx, container.ID, token); err != nil {
		return nil, err
	}

	var media idResponse
	err = p.client.post(ctx, model.PlatformInstagram, account+"/media_publish", mediaPublishForm{
		CreationID:  container.ID,
		AccessToken: token,
	}, &media)
	if err != nil {
		return nil, err
	}
	if err := requireID(model.PlatformInstagram, media); err != nil {
		return nil, err
	}
	return repository.PublishResult{"container_id": container.ID, "media_id": media.ID}, nil
}

func (p *InstagramPublisher) waitFinished(ctx context.Context, containerID, token string) error {
	params := url.Values{"fields": {"status_code,status"}, "access_token": {token}}
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		var st containerStatus
		if err := p.client.get(ctx, model.PlatformInstagram, containerID, params, &st); err != nil {
			return err
		}
		switch st.StatusCode {
		case "FINISHED", "PUBLISHED":
			return nil
		case "ERROR", "EXPIRED":
			return &model.PublishError{Platform: model.PlatformInstagram, Message: "container " + st.StatusCode + ": " + st.Status}
		}
		select {
		case <-ctx.Done():
			return &model.PublishError{Platform: model.PlatformInstagram, Message: "container not ready", Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}
