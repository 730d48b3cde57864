package usecase

import (
	"context"
	"errors"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
)

// TokenAuthorizer treats a usable stored OAuth token for the destination's
// account as permission to publish there.
type TokenAuthorizer struct {
	tokens repository.IOAuthToken
	now    func() time.Time
}

func NewTokenAuthorizer(tokens repository.IOAuthToken) *TokenAuthorizer {
	return &TokenAuthorizer{tokens: tokens, now: time.Now}
}

func (a *TokenAuthorizer) Authorized(ctx context.Context, userID string, key model.DestinationKey) (bool, error) {
	tok, err := a.tokens.GetToken(ctx, userID, key.Platform(), key.AccountID())
	if errors.Is(err, model.ErrTokenNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return tok.Usable(a.now()), nil
}
