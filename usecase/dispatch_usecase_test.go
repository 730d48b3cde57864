package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"crosspost/domain/model"
	"crosspost/infrastructure/clients"
	"crosspost/infrastructure/inmemory"
	"crosspost/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const videoURL = "https://cdn.example.com/v/clip.mp4"

func TestDispatch_CreatesRecordAndOneItemPerDestination(t *testing.T) {
	p := newPipeline(t, 10, "facebook", "instagram")
	ctx := context.Background()

	res, err := p.dispatch.Dispatch(ctx, usecase.DispatchInput{
		UserID:       "u1",
		VideoURL:     videoURL,
		Caption:      "launch day",
		Destinations: []string{"instagram:acc1", "facebook:page1", "Instagram:acc1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", res.RequestID)
	assert.Equal(t, model.StatusQueued, res.Status)
	assert.Empty(t, res.NotEnqueued)

	rec := p.record(t, res.RequestID)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, model.StatusQueued, rec.Status)
	assert.Equal(t, []model.DestinationKey{"facebook:page1", "instagram:acc1"}, rec.DestinationKeys())
	for _, d := range rec.Destinations {
		assert.Equal(t, model.StatusQueued, d.Status)
		assert.Zero(t, d.AttemptCount)
		assert.Empty(t, d.Logs)
	}
	assert.Equal(t, p.clock.Now().Add(testRetention), rec.ExpiresAt)

	pending, _, _ := p.queue.Stats()
	assert.Equal(t, 2, pending)
	assert.Equal(t, 1, p.observer.dispatched)
}

func TestDispatch_ValidationWritesNothing(t *testing.T) {
	long := strings.Repeat("é", usecase.MaxCaptionLength+1)
	tests := []struct {
		name  string
		in    usecase.DispatchInput
		field string
	}{
		{"missing user", usecase.DispatchInput{VideoURL: videoURL, Destinations: []string{"facebook:1"}}, "user_id"},
		{"relative url", usecase.DispatchInput{UserID: "u1", VideoURL: "/clip.mp4", Destinations: []string{"facebook:1"}}, "video_url"},
		{"ftp url", usecase.DispatchInput{UserID: "u1", VideoURL: "ftp://host/clip.mp4", Destinations: []string{"facebook:1"}}, "video_url"},
		{"caption too long", usecase.DispatchInput{UserID: "u1", VideoURL: videoURL, Caption: long, Destinations: []string{"facebook:1"}}, "caption"},
		{"no destinations", usecase.DispatchInput{UserID: "u1", VideoURL: videoURL}, "destinations"},
		{"malformed destination", usecase.DispatchInput{UserID: "u1", VideoURL: videoURL, Destinations: []string{"facebook"}}, "destinations"},
		{"unsupported platform", usecase.DispatchInput{UserID: "u1", VideoURL: videoURL, Destinations: []string{"facebook:1", "tiktok:2"}}, "destinations"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(t, 10, "facebook")
			_, err := p.dispatch.Dispatch(context.Background(), tt.in)
			require.Error(t, err)
			var ve *model.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
			assert.Zero(t, p.store.Len())
			pending, _, _ := p.queue.Stats()
			assert.Zero(t, pending)
		})
	}
}

func TestDispatch_CaptionAtLimitAccepted(t *testing.T) {
	p := newPipeline(t, 10, "facebook")
	_, err := p.dispatch.Dispatch(context.Background(), usecase.DispatchInput{
		UserID: "u1", VideoURL: videoURL, Caption: strings.Repeat("é", usecase.MaxCaptionLength),
		Destinations: []string{"facebook:1"},
	})
	require.NoError(t, err)
}

func TestDispatch_UnconnectedDestinationRejected(t *testing.T) {
	store := inmemory.NewStore()
	queue := inmemory.NewQueue(testVisibility, 10)
	auth := new(MockAuthorizer)
	auth.On("Authorized", mock.Anything, "u1", model.DestinationKey("facebook:1")).Return(true, nil)
	auth.On("Authorized", mock.Anything, "u1", model.DestinationKey("facebook:2")).Return(false, nil)

	uc := usecase.NewDispatchUsecase(store, queue, clients.NewRegistry(newMockPublisher("facebook")), auth, testRetention)
	_, err := uc.Dispatch(context.Background(), usecase.DispatchInput{
		UserID: "u1", VideoURL: videoURL, Destinations: []string{"facebook:1", "facebook:2"},
	})
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
	assert.Contains(t, err.Error(), "facebook:2 is not connected")
	assert.Zero(t, store.Len())
	auth.AssertExpectations(t)
}

func TestDispatch_AuthorizerFailureIsInfrastructure(t *testing.T) {
	store := inmemory.NewStore()
	auth := new(MockAuthorizer)
	auth.On("Authorized", mock.Anything, "u1", mock.Anything).Return(false, errors.New("token db down"))

	uc := usecase.NewDispatchUsecase(store, inmemory.NewQueue(testVisibility, 10), clients.NewRegistry(newMockPublisher("facebook")), auth, testRetention)
	_, err := uc.Dispatch(context.Background(), usecase.DispatchInput{
		UserID: "u1", VideoURL: videoURL, Destinations: []string{"facebook:1"},
	})
	require.Error(t, err)
	assert.True(t, model.IsInfrastructure(err))
	assert.Zero(t, store.Len())
}

func TestDispatch_CreateFailureEnqueuesNothing(t *testing.T) {
	queue := inmemory.NewQueue(testVisibility, 10)
	uc := usecase.NewDispatchUsecase(failingCreateStore{inmemory.NewStore()}, queue,
		clients.NewRegistry(newMockPublisher("facebook")), allowAll{}, testRetention)

	_, err := uc.Dispatch(context.Background(), usecase.DispatchInput{
		UserID: "u1", VideoURL: videoURL, Destinations: []string{"facebook:1"},
	})
	require.Error(t, err)
	assert.True(t, model.IsInfrastructure(err))
	pending, _, _ := queue.Stats()
	assert.Zero(t, pending)
}

func TestDispatch_PartialEnqueueFailureIsReported(t *testing.T) {
	clock := newFakeClock()
	store := inmemory.NewStore().WithClock(clock.Now)
	queue := &flakyQueue{
		Queue:   inmemory.NewQueue(testVisibility, 10).WithClock(clock.Now),
		failFor: map[model.DestinationKey]bool{"instagram:acc1": true},
	}
	obs := newRecordingObserver()
	uc := usecase.NewDispatchUsecase(store, queue,
		clients.NewRegistry(newMockPublisher("facebook"), newMockPublisher("instagram")),
		allowAll{}, testRetention, usecase.WithClock(clock.Now), usecase.WithObserver(obs))

	res, err := uc.Dispatch(context.Background(), usecase.DispatchInput{
		UserID: "u1", VideoURL: videoURL, Destinations: []string{"facebook:page1", "instagram:acc1"},
	})
	require.NoError(t, err)
	assert.Equal(t, []model.DestinationKey{"instagram:acc1"}, res.NotEnqueued)
	assert.Equal(t, 1, obs.enqueueErr["instagram"])

	rec, err := store.Get(context.Background(), res.RequestID)
	require.NoError(t, err)
	ig := rec.Destinations["instagram:acc1"]
	assert.Equal(t, model.StatusQueued, ig.Status)
	require.Len(t, ig.Logs, 1)
	assert.Equal(t, model.LevelWarning, ig.Logs[0].Level)
	assert.Equal(t, "broker unavailable", ig.Logs[0].Fields["error"])
	assert.Empty(t, rec.Destinations["facebook:page1"].Logs)

	pending, _, _ := queue.Stats()
	assert.Equal(t, 1, pending)
}
