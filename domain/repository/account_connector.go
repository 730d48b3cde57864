package repository

import (
	"context"

	"crosspost/domain/model"
)

// IAccountConnector runs one platform's OAuth authorization-code flow and
// turns the grant into per-account tokens ready to store.
type IAccountConnector interface {
	Platform() string
	AuthCodeURL(state string) string
	Connect(ctx context.Context, userID, code string) ([]*model.OAuthToken, error)
}
