package model

import (
	"sort"
	"time"
)

// MaxAttempts caps application-level publish attempts per destination.
const MaxAttempts = 3

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further worker action will change the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// UploadRequest is one user submission fanned out to several destinations.
type UploadRequest struct {
	RequestID    string                               `json:"request_id"   bson:"_id"`
	UserID       string                               `json:"user_id"      bson:"user_id"`
	VideoURL     string                               `json:"video_url"    bson:"video_url"`
	Caption      string                               `json:"caption"      bson:"caption"`
	Status       Status                               `json:"status"       bson:"status"`
	Destinations map[DestinationKey]*DestinationState `json:"destinations" bson:"destinations"`
	Revision     int64                                `json:"revision"     bson:"revision"`
	CreatedAt    time.Time                            `json:"created_at"   bson:"created_at"`
	UpdatedAt    time.Time                            `json:"updated_at"   bson:"updated_at"`
	ExpiresAt    time.Time                            `json:"expires_at"   bson:"expires_at"`
}

// DestinationState tracks one (request, destination) unit of work.
type DestinationState struct {
	Status       Status            `json:"status"                bson:"status"`
	AttemptCount int               `json:"attempt_count"         bson:"attempt_count"`
	Error        *string           `json:"error,omitempty"       bson:"error,omitempty"`
	Result       map[string]string `json:"result,omitempty"      bson:"result,omitempty"`
	Logs         []LogEntry        `json:"logs"                  bson:"logs"`
	CreatedAt    time.Time         `json:"created_at"            bson:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"            bson:"updated_at"`
}

// NewUploadRequest builds a fresh record with every destination queued.
func NewUploadRequest(requestID, userID, videoURL, caption string, destinations []DestinationKey, now time.Time, retention time.Duration) *UploadRequest {
	now = now.UTC()
	dests := make(map[DestinationKey]*DestinationState, len(destinations))
	for _, d := range destinations {
		dests[d] = &DestinationState{
			Status:    StatusQueued,
			Logs:      []LogEntry{},
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return &UploadRequest{
		RequestID:    requestID,
		UserID:       userID,
		VideoURL:     videoURL,
		Caption:      caption,
		Status:       StatusQueued,
		Destinations: dests,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(retention),
	}
}

// Expired reports whether the record is past its retention window at now.
func (r *UploadRequest) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// DestinationKeys returns the record's destinations in sorted order.
func (r *UploadRequest) DestinationKeys() []DestinationKey {
	keys := make([]DestinationKey, 0, len(r.Destinations))
	for k := range r.Destinations {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Clone returns a deep copy so callers never share log slices or maps.
func (r *UploadRequest) Clone() *UploadRequest {
	if r == nil {
		return nil
	}
	out := *r
	out.Destinations = make(map[DestinationKey]*DestinationState, len(r.Destinations))
	for k, d := range r.Destinations {
		out.Destinations[k] = d.Clone()
	}
	return &out
}

func (d *DestinationState) Clone() *DestinationState {
	if d == nil {
		return nil
	}
	out := *d
	if d.Error != nil {
		e := *d.Error
		out.Error = &e
	}
	if d.Result != nil {
		out.Result = make(map[string]string, len(d.Result))
		for k, v := range d.Result {
			out.Result[k] = v
		}
	}
	out.Logs = make([]LogEntry, len(d.Logs))
	for i, l := range d.Logs {
		out.Logs[i] = l.Clone()
	}
	return &out
}

// DestinationUpdate is a path-scoped mutation of one destination's sub-state.
// Nil fields are left untouched; logs are appended, never replaced.
type DestinationUpdate struct {
	// IfAttemptCount makes the update conditional on the current attempt_count;
	// stores return ErrUpdateConflict on mismatch.
	IfAttemptCount   *int
	Status           *Status
	IncrementAttempt bool
	Error            *string
	Result           map[string]string
	AppendLogs       []LogEntry
}

// Apply mutates d in place the same way the stores do.
func (u DestinationUpdate) Apply(d *DestinationState, now time.Time) {
	if u.Status != nil {
		d.Status = *u.Status
	}
	if u.IncrementAttempt {
		d.AttemptCount++
	}
	if u.Error != nil {
		e := *u.Error
		d.Error = &e
	}
	if u.Result != nil {
		d.Result = make(map[string]string, len(u.Result))
		for k, v := range u.Result {
			d.Result[k] = v
		}
	}
	for _, l := range u.AppendLogs {
		d.Logs = append(d.Logs, l.Clone())
	}
	d.UpdatedAt = now
}

// ListFilter narrows record listings.
type ListFilter struct {
	UserID string
	Status Status
	Limit  int
}

func StatusPtr(s Status) *Status { return &s }

func IntPtr(i int) *int { return &i }
