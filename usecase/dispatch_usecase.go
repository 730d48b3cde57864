package usecase

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"
)

const MaxCaptionLength = 2200

type DispatchInput struct {
	UserID       string
	VideoURL     string
	Caption      string
	Destinations []string
}

type DispatchResult struct {
	RequestID   string                 `json:"request_id"`
	Status      model.Status           `json:"status"`
	NotEnqueued []model.DestinationKey `json:"not_enqueued"`
}

type IDispatchUsecase interface {
	Dispatch(ctx context.Context, in DispatchInput) (*DispatchResult, error)
}

type dispatchUsecase struct {
	store      repository.IUploadRequest
	queue      repository.IWorkQueue
	publishers repository.IPublisherRegistry
	authorizer repository.IDestinationAuthorizer
	retention  time.Duration
	options
}

func NewDispatchUsecase(
	store repository.IUploadRequest,
	queue repository.IWorkQueue,
	publishers repository.IPublisherRegistry,
	authorizer repository.IDestinationAuthorizer,
	retention time.Duration,
	opts ...Option,
) IDispatchUsecase {
	return &dispatchUsecase{
		store:      store,
		queue:      queue,
		publishers: publishers,
		authorizer: authorizer,
		retention:  retention,
		options:    buildOptions(opts),
	}
}

// Dispatch validates the request, writes the record and fans it out to the
// queue. Enqueue failures after the record write are reported, not rolled back.
func (u *dispatchUsecase) Dispatch(ctx context.Context, in DispatchInput) (*DispatchResult, error) {
	keys, err := u.validate(ctx, in)
	if err != nil {
		return nil, err
	}

	rec := model.NewUploadRequest(u.newID(), in.UserID, in.VideoURL, in.Caption, keys, u.now(), u.retention)
	if err := u.store.Create(ctx, rec); err != nil {
		return nil, &model.InfrastructureError{Op: "create upload request", Err: err}
	}
	lg := logger.GetLogger().WithField("request_id", rec.RequestID)

	notEnqueued := make([]model.DestinationKey, 0)
	for _, key := range keys {
		if err := u.queue.Enqueue(ctx, model.WorkItem{RequestID: rec.RequestID, Destination: key}); err != nil {
			notEnqueued = append(notEnqueued, key)
			u.observer.EnqueueFailed(key.Platform())
			lg.WithField("destination", key).WithField("error", err).Warn("Work item not enqueued; destination will stay queued")
			u.flagNotEnqueued(ctx, rec.RequestID, key, err)
		}
	}
	u.observer.RequestDispatched(len(keys))
	lg.WithField("destinations", len(keys)).WithField("not_enqueued", len(notEnqueued)).Info("Upload request dispatched")

	return &DispatchResult{RequestID: rec.RequestID, Status: rec.Status, NotEnqueued: notEnqueued}, nil
}

func (u *dispatchUsecase) flagNotEnqueued(ctx context.Context, requestID string, key model.DestinationKey, cause error) {
	entry := model.NewLogEntry(u.now(), model.LevelWarning, "work item could not be enqueued",
		map[string]interface{}{"error": cause.Error()})
	if _, err := u.store.UpdateDestination(ctx, requestID, key, model.DestinationUpdate{AppendLogs: []model.LogEntry{entry}}); err != nil {
		logger.GetLogger().WithField("request_id", requestID).WithField("destination", key).WithField("error", err).
			Error("Failed to record enqueue warning")
	}
}

func (u *dispatchUsecase) validate(ctx context.Context, in DispatchInput) ([]model.DestinationKey, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, &model.ValidationError{Field: "user_id", Reason: "required"}
	}
	if err := validateVideoURL(in.VideoURL); err != nil {
		return nil, err
	}
	if n := utf8.RuneCountInString(in.Caption); n > MaxCaptionLength {
		return nil, &model.ValidationError{Field: "caption", Reason: fmt.Sprintf("%d characters exceeds %d", n, MaxCaptionLength)}
	}
	if len(in.Destinations) == 0 {
		return nil, &model.ValidationError{Field: "destinations", Reason: "at least one destination required"}
	}

	seen := make(map[model.DestinationKey]struct{}, len(in.Destinations))
	keys := make([]model.DestinationKey, 0, len(in.Destinations))
	for _, raw := range in.Destinations {
		key, err := model.ParseDestinationKey(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if _, ok := u.publishers.For(key); !ok {
			return nil, &model.ValidationError{Field: "destinations", Reason: fmt.Sprintf("unsupported platform %q", key.Platform())}
		}
		ok, err := u.authorizer.Authorized(ctx, in.UserID, key)
		if err != nil {
			return nil, &model.InfrastructureError{Op: "authorize destination", Err: err}
		}
		if !ok {
			return nil, &model.ValidationError{Field: "destinations", Reason: fmt.Sprintf("%s is not connected for this user", key)}
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

func validateVideoURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !u.IsAbs() || u.Host == "" {
		return &model.ValidationError{Field: "video_url", Reason: "must be an absolute URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &model.ValidationError{Field: "video_url", Reason: "scheme must be http or https"}
	}
	return nil
}
