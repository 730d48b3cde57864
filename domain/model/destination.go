package model

import (
	"regexp"
	"strings"
)

// DestinationKey identifies one platform account, e.g. "instagram:17841400000".
type DestinationKey string

const (
	PlatformFacebook  = "facebook"
	PlatformInstagram = "instagram"
	PlatformYouTube   = "youtube"
)

// Account ids never contain '.' or '$' so a key is usable as a document path segment.
var destinationKeyPattern = regexp.MustCompile(`^([a-z]+):([A-Za-z0-9_-]+)$`)

// ParseDestinationKey normalizes and validates a raw destination string.
func ParseDestinationKey(raw string) (DestinationKey, error) {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, ":"); i > 0 {
		raw = strings.ToLower(raw[:i]) + raw[i:]
	}
	if !destinationKeyPattern.MatchString(raw) {
		return "", &ValidationError{Field: "destinations", Reason: "malformed destination " + `"` + raw + `"`}
	}
	return DestinationKey(raw), nil
}

func (k DestinationKey) Platform() string {
	p, _, _ := strings.Cut(string(k), ":")
	return p
}

func (k DestinationKey) AccountID() string {
	_, a, _ := strings.Cut(string(k), ":")
	return a
}

func (k DestinationKey) String() string { return string(k) }
