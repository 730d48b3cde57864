package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"crosspost/infrastructure/configuration"
	"crosspost/infrastructure/utils"
)

const defaultTokenTTL = 24 * time.Hour

// issueToken signs an API bearer token for subject and writes only the token
// to w, so the output can be piped. ttlHours is optional and falls back to a day.
func issueToken(w io.Writer, app configuration.App, subject, ttlHours string) error {
	if subject == "" {
		return fmt.Errorf("TOKEN_SUBJECT is required in token mode")
	}
	if app.SecretKey == "" {
		return fmt.Errorf("SECRET_KEY is required in token mode")
	}
	ttl := defaultTokenTTL
	if ttlHours != "" {
		h, err := strconv.Atoi(ttlHours)
		if err != nil || h <= 0 {
			return fmt.Errorf("invalid TOKEN_TTL_HOURS %q", ttlHours)
		}
		ttl = time.Duration(h) * time.Hour
	}
	token, err := utils.GenerateToken(subject, ttl, app.SecretKey)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
