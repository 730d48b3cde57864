package usecase

import (
	"context"
	"fmt"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"
)

// IMaintenanceUsecase runs the periodic housekeeping jobs.
type IMaintenanceUsecase interface {
	PurgeExpired(ctx context.Context) (int64, error)
	ArchiveDeadLetters(ctx context.Context, max int) (int, error)
}

type maintenanceUsecase struct {
	store   repository.IUploadRequest
	queue   repository.IWorkQueue
	archive repository.IDeadLetter
	options
}

// NewMaintenanceUsecase accepts a nil archive; dead letters are then only logged.
func NewMaintenanceUsecase(store repository.IUploadRequest, queue repository.IWorkQueue, archive repository.IDeadLetter, opts ...Option) IMaintenanceUsecase {
	return &maintenanceUsecase{store: store, queue: queue, archive: archive, options: buildOptions(opts)}
}

func (u *maintenanceUsecase) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := u.store.PurgeExpired(ctx)
	if err != nil {
		return 0, &model.InfrastructureError{Op: "purge expired records", Err: err}
	}
	u.observer.RecordsPurged(n)
	if n > 0 {
		logger.GetLogger().WithField("purged", n).Info("Expired upload requests purged")
	}
	return n, nil
}

// ArchiveDeadLetters moves up to max dead-lettered work items into the archive.
// Items the archive rejects stay on the dead-letter queue for the next run.
func (u *maintenanceUsecase) ArchiveDeadLetters(ctx context.Context, max int) (int, error) {
	n, err := u.queue.DrainDeadLetters(ctx, max, func(dl *model.DeadLetter) error {
		logger.GetLogger().WithFields(map[string]interface{}{
			"message_id":     dl.MessageID,
			"request_id":     dl.RequestID,
			"destination":    dl.Destination,
			"delivery_count": dl.DeliveryCount,
			"reason":         dl.Reason,
		}).Warn("Work item dead-lettered")
		if u.archive == nil {
			return nil
		}
		if dl.ArchivedAt.IsZero() {
			dl.ArchivedAt = u.now().UTC()
		}
		if err := u.archive.Save(ctx, dl); err != nil {
			return fmt.Errorf("archive dead letter %s: %w", dl.MessageID, err)
		}
		return nil
	})
	u.observer.DeadLettersArchived(n)
	if err != nil {
		return n, &model.InfrastructureError{Op: "drain dead letters", Err: err}
	}
	return n, nil
}
