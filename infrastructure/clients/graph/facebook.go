package graph

import (
	"context"

	"crosspost/domain/model"
	"crosspost/domain/repository"
)

type pageVideoForm struct {
	FileURL     string `url:"file_url"`
	Description string `url:"description,omitempty"`
	AccessToken string `url:"access_token"`
}

// FacebookPublisher posts a hosted video to a Facebook Page.
type FacebookPublisher struct {
	client *Client
}

func NewFacebookPublisher(client *Client) *FacebookPublisher {
	return &FacebookPublisher{client: client}
}

func (p *FacebookPublisher) Platform() string { return model.PlatformFacebook }

func (p *FacebookPublisher) Publish(ctx context.Context, in repository.PublishInput) (repository.PublishResult, error) {
	token, err := p.client.accessToken(ctx, model.PlatformFacebook, in.UserID, in.Destination)
	if err != nil {
		return nil, err
	}
	var out idResponse
	err = p.client.post(ctx, model.PlatformFacebook, in.Destination.AccountID()+"/videos", pageVideoForm{
		FileURL:     in.VideoURL,
		Description: in.Caption,
		AccessToken: token,
	}, &out)
	if err != nil {
		return nil, err
	}
	if err := requireID(model.PlatformFacebook, out); err != nil {
		return nil, err
	}
	return repository.PublishResult{"video_id": out.ID}, nil
}
