package usecase

import (
	"time"

	"crosspost/infrastructure/metrics"

	"github.com/google/uuid"
)

type options struct {
	now      func() time.Time
	newID    func() string
	observer metrics.Observer
}

// Option customizes dispatch and worker usecases.
type Option func(*options)

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(o *options) { o.newID = gen }
}

func WithObserver(obs metrics.Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, newID: uuid.NewString, observer: metrics.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
