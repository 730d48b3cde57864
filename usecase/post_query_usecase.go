package usecase

import (
	"context"
	"errors"

	"crosspost/domain/model"
	"crosspost/domain/repository"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// IPostQueryUsecase reads upload requests on behalf of their owner. Records
// belonging to someone else are reported as not found.
type IPostQueryUsecase interface {
	Get(ctx context.Context, userID, requestID string) (*model.UploadRequest, error)
	List(ctx context.Context, userID string, status model.Status, limit int) ([]*model.UploadRequest, error)
	Logs(ctx context.Context, userID, requestID string) ([]model.DestinationLog, error)
	DestinationLogs(ctx context.Context, userID, requestID string, key model.DestinationKey) ([]model.LogEntry, error)
}

type postQueryUsecase struct {
	store repository.IUploadRequest
}

func NewPostQueryUsecase(store repository.IUploadRequest) IPostQueryUsecase {
	return &postQueryUsecase{store: store}
}

func (u *postQueryUsecase) Get(ctx context.Context, userID, requestID string) (*model.UploadRequest, error) {
	rec, err := u.store.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, model.ErrRecordNotFound) {
			return nil, err
		}
		return nil, &model.InfrastructureError{Op: "get upload request", Err: err}
	}
	if userID != "" && rec.UserID != userID {
		return nil, model.ErrRecordNotFound
	}
	return rec, nil
}

func (u *postQueryUsecase) List(ctx context.Context, userID string, status model.Status, limit int) ([]*model.UploadRequest, error) {
	if status != "" && !status.Valid() {
		return nil, &model.ValidationError{Field: "status", Reason: "unknown status " + `"` + string(status) + `"`}
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	recs, err := u.store.List(ctx, model.ListFilter{UserID: userID, Status: status, Limit: limit})
	if err != nil {
		return nil, &model.InfrastructureError{Op: "list upload requests", Err: err}
	}
	return recs, nil
}

func (u *postQueryUsecase) Logs(ctx context.Context, userID, requestID string) ([]model.DestinationLog, error) {
	rec, err := u.Get(ctx, userID, requestID)
	if err != nil {
		return nil, err
	}
	return rec.AllLogs(), nil
}

func (u *postQueryUsecase) DestinationLogs(ctx context.Context, userID, requestID string, key model.DestinationKey) ([]model.LogEntry, error) {
	rec, err := u.Get(ctx, userID, requestID)
	if err != nil {
		return nil, err
	}
	return rec.DestinationLogs(key)
}
