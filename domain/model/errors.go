package model

import (
	"errors"
	"fmt"
)

var (
	// ErrRecordNotFound means the record never existed or is past expires_at.
	ErrRecordNotFound      = errors.New("upload request not found")
	ErrDestinationNotFound = errors.New("destination not found on upload request")
	ErrTokenNotFound       = errors.New("oauth token not found")

	// ErrUpdateConflict means a conditional destination update lost a race.
	ErrUpdateConflict = errors.New("destination changed concurrently")
)

// ValidationError rejects a dispatch before any record or queue write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InfrastructureError marks a store or queue failure that callers may retry.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *InfrastructureError) Unwrap() error { return e.Err }

// PublishError is returned by publish adapters on auth, network or validation failure.
type PublishError struct {
	Platform   string
	StatusCode int
	Message    string
	Err        error
}

func (e *PublishError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Platform, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Platform, msg)
}

func (e *PublishError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsInfrastructure(err error) bool {
	var ie *InfrastructureError
	return errors.As(err, &ie)
}
