package repository

import (
	"context"

	"crosspost/domain/model"
)

// IUploadRequest is the record store. Every mutation is path-scoped so workers
// updating different destinations of one request never overwrite each other.
type IUploadRequest interface {
	Create(ctx context.Context, rec *model.UploadRequest) error
	// Get returns model.ErrRecordNotFound for missing or expired records.
	Get(ctx context.Context, requestID string) (*model.UploadRequest, error)
	List(ctx context.Context, filter model.ListFilter) ([]*model.UploadRequest, error)
	// UpdateDestination atomically applies upd to an existing destination, bumps
	// the record revision and updated_at, and returns the record after the update.
	UpdateDestination(ctx context.Context, requestID string, key model.DestinationKey, upd model.DestinationUpdate) (*model.UploadRequest, error)
	// SetStatus writes the overall status only if the record is still at revision.
	SetStatus(ctx context.Context, requestID string, status model.Status, revision int64) (bool, error)
	// PurgeExpired physically removes records past expires_at.
	PurgeExpired(ctx context.Context) (int64, error)
}
