package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const statusWriteRetries = 5

// Outcome tells the queue what to do with a delivery after handling.
type Outcome int

const (
	// OutcomeRelease leaves the delivery for the queue's native redelivery.
	OutcomeRelease Outcome = iota
	// OutcomeAck removes the delivery.
	OutcomeAck
)

func (o Outcome) String() string {
	if o == OutcomeAck {
		return "ack"
	}
	return "release"
}

type WorkerConfig struct {
	Concurrency    int
	PublishTimeout time.Duration
	PollWait       time.Duration
	// VisibilityTimeout is the queue's redelivery window. When set, PublishTimeout
	// is capped at model.PublishBudget of it.
	VisibilityTimeout time.Duration
}

// Worker executes publish attempts for queued destinations. It keeps no state
// between deliveries; everything it decides comes from the stored record.
type Worker struct {
	store      repository.IUploadRequest
	queue      repository.IWorkQueue
	publishers repository.IPublisherRegistry
	cfg        WorkerConfig
	options
}

func NewWorker(
	store repository.IUploadRequest,
	queue repository.IWorkQueue,
	publishers repository.IPublisherRegistry,
	cfg WorkerConfig,
	opts ...Option,
) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Minute
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = 20 * time.Second
	}
	if budget := model.PublishBudget(cfg.VisibilityTimeout); cfg.VisibilityTimeout > 0 && cfg.PublishTimeout > budget {
		logger.GetLogger().WithFields(map[string]interface{}{
			"publish_timeout": cfg.PublishTimeout.String(),
			"visibility":      cfg.VisibilityTimeout.String(),
			"capped_to":       budget.String(),
		}).Warn("Publish timeout exceeds the queue visibility window; capping it")
		cfg.PublishTimeout = budget
	}
	return &Worker{store: store, queue: queue, publishers: publishers, cfg: cfg, options: buildOptions(opts)}
}

// Run consumes the queue with cfg.Concurrency goroutines until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		id := i
		g.Go(func() error { return w.loop(ctx, id) })
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, id int) error {
	lg := logger.GetLogger().WithField("worker", id)
	lg.Info("Worker started")
	defer lg.Info("Worker stopped")
	for {
		if ctx.Err() != nil {
			return nil
		}
		d, err := w.queue.Dequeue(ctx, w.cfg.PollWait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			lg.WithField("error", err).Error("Dequeue failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if d == nil {
			continue
		}
		w.Process(ctx, d)
	}
}

// Process handles one delivery and settles it with the queue. Shutdown does
// not cancel an attempt that already started.
func (w *Worker) Process(ctx context.Context, d *model.Delivery) Outcome {
	ctx = context.WithoutCancel(ctx)
	lg := logger.GetLogger().WithFields(logrus.Fields{
		"request_id":     d.Item.RequestID,
		"destination":    d.Item.Destination,
		"delivery_count": d.DeliveryCount,
	})
	outcome, err := w.Handle(ctx, d.Item)
	if err != nil {
		lg.WithField("error", err).Error("Work item not settled")
	}
	switch outcome {
	case OutcomeAck:
		if err := w.queue.Ack(ctx, d); err != nil {
			lg.WithField("error", err).Warn("Ack failed; delivery will be seen again")
		}
	default:
		if err := w.queue.Release(ctx, d); err != nil {
			lg.WithField("error", err).Warn("Release failed")
		}
	}
	lg.WithField("outcome", outcome.String()).Debug("Delivery processed")
	return outcome
}

// Handle runs one attempt for item and reports how the delivery should be settled.
func (w *Worker) Handle(ctx context.Context, item model.WorkItem) (Outcome, error) {
	key := item.Destination
	lg := logger.GetLogger().WithField("request_id", item.RequestID).WithField("destination", key)

	rec, err := w.store.Get(ctx, item.RequestID)
	if errors.Is(err, model.ErrRecordNotFound) {
		lg.Debug("Record absent or expired; dropping work item")
		return OutcomeAck, nil
	}
	if err != nil {
		return OutcomeRelease, &model.InfrastructureError{Op: "load record", Err: err}
	}
	dest, ok := rec.Destinations[key]
	if !ok {
		lg.Warn("Destination not on record; dropping work item")
		return OutcomeAck, nil
	}
	if dest.Status.Terminal() {
		lg.WithField("status", dest.Status).Debug("Destination already terminal; duplicate delivery")
		return OutcomeAck, nil
	}

	publisher, ok := w.publishers.For(key)
	if !ok {
		msg := fmt.Sprintf("no publish adapter for platform %q", key.Platform())
		return w.fail(ctx, rec.RequestID, key, msg, msg, nil)
	}
	if dest.AttemptCount >= model.MaxAttempts {
		msg := fmt.Sprintf("attempt limit reached after %d attempts without a recorded outcome", dest.AttemptCount)
		return w.fail(ctx, rec.RequestID, key, msg, msg, map[string]interface{}{"attempt": dest.AttemptCount})
	}

	attempt := dest.AttemptCount + 1
	rec, err = w.store.UpdateDestination(ctx, rec.RequestID, key, model.DestinationUpdate{
		IfAttemptCount:   model.IntPtr(dest.AttemptCount),
		Status:           model.StatusPtr(model.StatusProcessing),
		IncrementAttempt: true,
		AppendLogs: []model.LogEntry{
			model.NewLogEntry(w.now(), model.LevelInfo, fmt.Sprintf("attempt %d started", attempt),
				map[string]interface{}{"attempt": attempt}),
		},
	})
	switch {
	case errors.Is(err, model.ErrRecordNotFound), errors.Is(err, model.ErrDestinationNotFound):
		return OutcomeAck, nil
	case errors.Is(err, model.ErrUpdateConflict):
		lg.Info("Another delivery claimed this attempt")
		return OutcomeRelease, nil
	case err != nil:
		return OutcomeRelease, &model.InfrastructureError{Op: "start attempt", Err: err}
	}
	w.refreshStatus(ctx, rec)

	input := repository.PublishInput{UserID: rec.UserID, VideoURL: rec.VideoURL, Caption: rec.Caption, Destination: key}
	result, pubErr := w.publish(ctx, publisher, input)

	if pubErr == nil {
		return w.complete(ctx, rec.RequestID, key, attempt, result)
	}
	lg.WithField("attempt", attempt).WithField("error", pubErr).Warn("Publish attempt failed")
	return w.recordFailure(ctx, rec.RequestID, key, attempt, pubErr.Error())
}

func (w *Worker) publish(ctx context.Context, p repository.IPublisher, in repository.PublishInput) (repository.PublishResult, error) {
	pubCtx, cancel := context.WithTimeout(ctx, w.cfg.PublishTimeout)
	defer cancel()
	start := time.Now()
	result, err := p.Publish(pubCtx, in)
	outcome := "success"
	if err == nil && pubCtx.Err() != nil {
		err = pubCtx.Err()
	}
	if err != nil {
		outcome = "failure"
		if errors.Is(pubCtx.Err(), context.DeadlineExceeded) {
			outcome = "timeout"
			err = fmt.Errorf("publish timed out after %s: %w", w.cfg.PublishTimeout, err)
		}
	}
	w.observer.PublishAttempt(p.Platform(), outcome, time.Since(start))
	return result, err
}

func (w *Worker) complete(ctx context.Context, requestID string, key model.DestinationKey, attempt int, result repository.PublishResult) (Outcome, error) {
	fields := map[string]interface{}{"attempt": attempt}
	for k, v := range result {
		fields[k] = v
	}
	rec, err := w.store.UpdateDestination(ctx, requestID, key, model.DestinationUpdate{
		Status: model.StatusPtr(model.StatusCompleted),
		Result: map[string]string(result),
		AppendLogs: []model.LogEntry{
			model.NewLogEntry(w.now(), model.LevelInfo, fmt.Sprintf("published to %s", key.Platform()), fields),
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrRecordNotFound) {
			return OutcomeAck, nil
		}
		return OutcomeRelease, &model.InfrastructureError{Op: "record success", Err: err}
	}
	w.observer.DestinationTerminal(key.Platform(), string(model.StatusCompleted))
	w.refreshStatus(ctx, rec)
	return OutcomeAck, nil
}

// recordFailure appends exactly one ERROR entry for the attempt. On the last
// attempt the same update marks the destination failed.
func (w *Worker) recordFailure(ctx context.Context, requestID string, key model.DestinationKey, attempt int, cause string) (Outcome, error) {
	msg := fmt.Sprintf("attempt %d failed: %s", attempt, cause)
	fields := map[string]interface{}{"attempt": attempt}
	if attempt >= model.MaxAttempts {
		return w.fail(ctx, requestID, key, cause, msg, fields)
	}
	_, err := w.store.UpdateDestination(ctx, requestID, key, model.DestinationUpdate{
		AppendLogs: []model.LogEntry{model.NewLogEntry(w.now(), model.LevelError, msg, fields)},
	})
	if err != nil && !errors.Is(err, model.ErrRecordNotFound) {
		return OutcomeRelease, &model.InfrastructureError{Op: "record failure", Err: err}
	}
	return OutcomeRelease, nil
}

// fail marks the destination terminally failed together with its ERROR entry.
func (w *Worker) fail(ctx context.Context, requestID string, key model.DestinationKey, cause, msg string, fields map[string]interface{}) (Outcome, error) {
	rec, err := w.store.UpdateDestination(ctx, requestID, key, model.DestinationUpdate{
		Status:     model.StatusPtr(model.StatusFailed),
		Error:      &cause,
		AppendLogs: []model.LogEntry{model.NewLogEntry(w.now(), model.LevelError, msg, fields)},
	})
	if err != nil {
		if errors.Is(err, model.ErrRecordNotFound) || errors.Is(err, model.ErrDestinationNotFound) {
			return OutcomeAck, nil
		}
		return OutcomeRelease, &model.InfrastructureError{Op: "record terminal failure", Err: err}
	}
	w.observer.DestinationTerminal(key.Platform(), string(model.StatusFailed))
	w.refreshStatus(ctx, rec)
	return OutcomeAck, nil
}

// refreshStatus persists the aggregate for rec, re-reading on revision races.
func (w *Worker) refreshStatus(ctx context.Context, rec *model.UploadRequest) {
	lg := logger.GetLogger().WithField("request_id", rec.RequestID)
	for i := 0; i < statusWriteRetries; i++ {
		status := model.AggregateStatus(rec.Destinations)
		if status == rec.Status {
			return
		}
		ok, err := w.store.SetStatus(ctx, rec.RequestID, status, rec.Revision)
		if err != nil {
			if !errors.Is(err, model.ErrRecordNotFound) {
				lg.WithField("error", err).Error("Failed to persist overall status")
			}
			return
		}
		if ok {
			lg.WithField("status", status).Debug("Overall status updated")
			return
		}
		if rec, err = w.store.Get(ctx, rec.RequestID); err != nil {
			return
		}
	}
	lg.Warn("Overall status left to the next writer after repeated revision conflicts")
}
