package utils

import (
	"time"

	"crosspost/infrastructure/logger"

	"github.com/golang-jwt/jwt"
)

// GenerateToken signs an API bearer token for userID valid for ttl.
func GenerateToken(userID string, ttl time.Duration, secretKey string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.StandardClaims{
		Subject:   userID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secretKey))
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while generate token")
		return "", err
	}
	return tokenString, nil
}
