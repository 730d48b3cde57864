package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/clients"
	"crosspost/infrastructure/inmemory"
	"crosspost/usecase"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testVisibility = 30 * time.Second
	testRetention  = 24 * time.Hour
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type MockPublisher struct {
	mock.Mock
	platform string
}

func newMockPublisher(platform string) *MockPublisher {
	return &MockPublisher{platform: platform}
}

func (m *MockPublisher) Platform() string { return m.platform }

func (m *MockPublisher) Publish(ctx context.Context, in repository.PublishInput) (repository.PublishResult, error) {
	args := m.Called(ctx, in)
	res, _ := args.Get(0).(repository.PublishResult)
	return res, args.Error(1)
}

type MockAuthorizer struct {
	mock.Mock
}

func (m *MockAuthorizer) Authorized(ctx context.Context, userID string, key model.DestinationKey) (bool, error) {
	args := m.Called(ctx, userID, key)
	return args.Bool(0), args.Error(1)
}

type allowAll struct{}

func (allowAll) Authorized(context.Context, string, model.DestinationKey) (bool, error) {
	return true, nil
}

type MockDeadLetter struct {
	mock.Mock
}

func (m *MockDeadLetter) Save(ctx context.Context, dl *model.DeadLetter) error {
	return m.Called(ctx, dl).Error(0)
}

func (m *MockDeadLetter) List(ctx context.Context, limit int) ([]model.DeadLetter, error) {
	args := m.Called(ctx, limit)
	out, _ := args.Get(0).([]model.DeadLetter)
	return out, args.Error(1)
}

// flakyQueue fails Enqueue for the listed destinations.
type flakyQueue struct {
	*inmemory.Queue
	failFor map[model.DestinationKey]bool
}

func (q *flakyQueue) Enqueue(ctx context.Context, item model.WorkItem) error {
	if q.failFor[item.Destination] {
		return errors.New("broker unavailable")
	}
	return q.Queue.Enqueue(ctx, item)
}

// conflictingStore reports a concurrent attempt claim on the next conditional update.
type conflictingStore struct {
	*inmemory.Store
	conflicts int
}

func (s *conflictingStore) UpdateDestination(ctx context.Context, id string, key model.DestinationKey, upd model.DestinationUpdate) (*model.UploadRequest, error) {
	if upd.IfAttemptCount != nil && s.conflicts > 0 {
		s.conflicts--
		return nil, model.ErrUpdateConflict
	}
	return s.Store.UpdateDestination(ctx, id, key, upd)
}

type failingCreateStore struct {
	*inmemory.Store
}

func (failingCreateStore) Create(context.Context, *model.UploadRequest) error {
	return errors.New("connection refused")
}

// recordingObserver counts the telemetry calls the usecases make.
type recordingObserver struct {
	mu         sync.Mutex
	dispatched int
	enqueueErr map[string]int
	attempts   map[string]int
	terminal   map[string]int
	dead       int
	purged     int64
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{enqueueErr: map[string]int{}, attempts: map[string]int{}, terminal: map[string]int{}}
}

func (o *recordingObserver) RequestDispatched(int) {
	o.mu.Lock()
	o.dispatched++
	o.mu.Unlock()
}

func (o *recordingObserver) EnqueueFailed(platform string) {
	o.mu.Lock()
	o.enqueueErr[platform]++
	o.mu.Unlock()
}

func (o *recordingObserver) PublishAttempt(platform, outcome string, _ time.Duration) {
	o.mu.Lock()
	o.attempts[platform+"/"+outcome]++
	o.mu.Unlock()
}

func (o *recordingObserver) DestinationTerminal(platform, status string) {
	o.mu.Lock()
	o.terminal[platform+"/"+status]++
	o.mu.Unlock()
}

func (o *recordingObserver) DeadLettersArchived(n int) {
	o.mu.Lock()
	o.dead += n
	o.mu.Unlock()
}

func (o *recordingObserver) RecordsPurged(n int64) {
	o.mu.Lock()
	o.purged += n
	o.mu.Unlock()
}

// pipeline wires a dispatcher and a worker over in-memory backends sharing one clock.
type pipeline struct {
	clock      *fakeClock
	store      *inmemory.Store
	queue      *inmemory.Queue
	publishers map[string]*MockPublisher
	dispatch   usecase.IDispatchUsecase
	worker     *usecase.Worker
	query      usecase.IPostQueryUsecase
	observer   *recordingObserver
}

func newPipeline(t *testing.T, maxReceive int, platforms ...string) *pipeline {
	t.Helper()
	p := &pipeline{
		clock:      newFakeClock(),
		publishers: map[string]*MockPublisher{},
		observer:   newRecordingObserver(),
	}
	p.store = inmemory.NewStore().WithClock(p.clock.Now)
	p.queue = inmemory.NewQueue(testVisibility, maxReceive).WithClock(p.clock.Now)
	pubs := make([]repository.IPublisher, 0, len(platforms))
	for _, name := range platforms {
		m := newMockPublisher(name)
		p.publishers[name] = m
		pubs = append(pubs, m)
	}
	registry := clients.NewRegistry(pubs...)
	seq := 0
	opts := []usecase.Option{
		usecase.WithClock(p.clock.Now),
		usecase.WithObserver(p.observer),
		usecase.WithIDGenerator(func() string {
			seq++
			return "req-" + string(rune('0'+seq))
		}),
	}
	p.dispatch = usecase.NewDispatchUsecase(p.store, p.queue, registry, allowAll{}, testRetention, opts...)
	p.worker = usecase.NewWorker(p.store, p.queue, registry, usecase.WorkerConfig{
		Concurrency:    1,
		PublishTimeout: time.Second,
		PollWait:       10 * time.Millisecond,
	}, opts...)
	p.query = usecase.NewPostQueryUsecase(p.store)
	return p
}

// drain processes deliveries until the queue holds nothing pending or in
// flight, advancing the clock past the visibility timeout whenever the only
// remaining messages are hidden.
func (p *pipeline) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		d, err := p.queue.Dequeue(ctx, 0)
		require.NoError(t, err)
		if d != nil {
			p.worker.Process(ctx, d)
			continue
		}
		pending, inflight, _ := p.queue.Stats()
		if pending == 0 && inflight == 0 {
			return
		}
		p.clock.Advance(testVisibility + time.Second)
	}
	t.Fatal("queue did not drain")
}

func (p *pipeline) record(t *testing.T, id string) *model.UploadRequest {
	t.Helper()
	rec, err := p.store.Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func countLevel(logs []model.LogEntry, level model.LogLevel) int {
	n := 0
	for _, l := range logs {
		if l.Level == level {
			n++
		}
	}
	return n
}
