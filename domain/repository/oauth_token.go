package repository

import (
	"context"

	"crosspost/domain/model"
)

type IOAuthToken interface {
	UpsertToken(ctx context.Context, t *model.OAuthToken) error
	// GetToken returns model.ErrTokenNotFound when no row matches.
	GetToken(ctx context.Context, userID, platform, accountID string) (*model.OAuthToken, error)
}

// IDestinationAuthorizer answers whether a user may publish to a destination.
type IDestinationAuthorizer interface {
	Authorized(ctx context.Context, userID string, key model.DestinationKey) (bool, error)
}
