package repository

import (
	"context"

	"crosspost/domain/model"
)

type IDeadLetter interface {
	Save(ctx context.Context, dl *model.DeadLetter) error
	List(ctx context.Context, limit int) ([]model.DeadLetter, error)
}
