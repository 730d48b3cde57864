package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"crosspost/domain/model"
	"crosspost/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTokens struct {
	mock.Mock
}

func (m *MockTokens) UpsertToken(ctx context.Context, t *model.OAuthToken) error {
	return m.Called(ctx, t).Error(0)
}

func (m *MockTokens) GetToken(ctx context.Context, userID, platform, accountID string) (*model.OAuthToken, error) {
	args := m.Called(ctx, userID, platform, accountID)
	tok, _ := args.Get(0).(*model.OAuthToken)
	return tok, args.Error(1)
}

func TestTokenAuthorizer(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	tokens := new(MockTokens)
	tokens.On("GetToken", mock.Anything, "u1", "facebook", "page1").Return(&model.OAuthToken{AccessToken: "tok"}, nil)
	tokens.On("GetToken", mock.Anything, "u1", "facebook", "gone").Return(nil, model.ErrTokenNotFound)
	tokens.On("GetToken", mock.Anything, "u1", "instagram", "old").Return(&model.OAuthToken{AccessToken: "tok", ExpiresAt: &past}, nil)
	tokens.On("GetToken", mock.Anything, "u1", "youtube", "chan").Return(&model.OAuthToken{AccessToken: "tok", RefreshToken: "r", ExpiresAt: &past}, nil)
	tokens.On("GetToken", mock.Anything, "u1", "youtube", "err").Return(nil, errors.New("db down"))

	a := usecase.NewTokenAuthorizer(tokens)
	ctx := context.Background()

	ok, err := a.Authorized(ctx, "u1", "facebook:page1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Authorized(ctx, "u1", "facebook:gone")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.Authorized(ctx, "u1", "instagram:old")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.Authorized(ctx, "u1", "youtube:chan")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = a.Authorized(ctx, "u1", "youtube:err")
	assert.Error(t, err)
}
