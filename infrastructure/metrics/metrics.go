package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer receives pipeline telemetry. A nil *Prometheus is a valid no-op.
type Observer interface {
	RequestDispatched(destinations int)
	EnqueueFailed(platform string)
	PublishAttempt(platform, outcome string, duration time.Duration)
	DestinationTerminal(platform, status string)
	DeadLettersArchived(n int)
	RecordsPurged(n int64)
}

// Prometheus exports pipeline metrics.
type Prometheus struct {
	dispatched      prometheus.Counter
	destinations    prometheus.Counter
	enqueueFailures *prometheus.CounterVec
	attempts        *prometheus.CounterVec
	publishLatency  *prometheus.HistogramVec
	terminal        *prometheus.CounterVec
	deadLetters     prometheus.Counter
	purged          prometheus.Counter
}

func NewPrometheus(namespace string, reg prometheus.Registerer) (*Prometheus, error) {
	if namespace == "" {
		namespace = "crosspost"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prometheus{
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "requests_dispatched_total",
			Help: "Upload requests accepted by the dispatcher.",
		}),
		destinations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "destinations_dispatched_total",
			Help: "Destinations across accepted upload requests.",
		}),
		enqueueFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "enqueue_failures_total",
			Help: "Work items the dispatcher failed to enqueue.",
		}, []string{"platform"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "publish_attempts_total",
			Help: "Publish attempts by platform and outcome.",
		}, []string{"platform", "outcome"}),
		publishLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "publish_duration_seconds",
			Help:    "Latency of publish attempts.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"platform"}),
		terminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "destinations_terminal_total",
			Help: "Destinations reaching a terminal status.",
		}, []string{"platform", "status"}),
		deadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "dead_letters_archived_total",
			Help: "Dead-lettered queue messages moved to the archive.",
		}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_purged_total",
			Help: "Expired upload requests removed by the janitor.",
		}),
	}
	if err := p.register(reg); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Prometheus) register(reg prometheus.Registerer) error {
	register := func(c prometheus.Collector) (prometheus.Collector, error) {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				return are.ExistingCollector, nil
			}
			return nil, fmt.Errorf("register metric: %w", err)
		}
		return c, nil
	}
	var err error
	var c prometheus.Collector
	if c, err = register(p.dispatched); err != nil {
		return err
	}
	p.dispatched = c.(prometheus.Counter)
	if c, err = register(p.destinations); err != nil {
		return err
	}
	p.destinations = c.(prometheus.Counter)
	if c, err = register(p.enqueueFailures); err != nil {
		return err
	}
	p.enqueueFailures = c.(*prometheus.CounterVec)
	if c, err = register(p.attempts); err != nil {
		return err
	}
	p.attempts = c.(*prometheus.CounterVec)
	if c, err = register(p.publishLatency); err != nil {
		return err
	}
	p.publishLatency = c.(*prometheus.HistogramVec)
	if c, err = register(p.terminal); err != nil {
		return err
	}
	p.terminal = c.(*prometheus.CounterVec)
	if c, err = register(p.deadLetters); err != nil {
		return err
	}
	p.deadLetters = c.(prometheus.Counter)
	if c, err = register(p.purged); err != nil {
		return err
	}
	p.purged = c.(prometheus.Counter)
	return nil
}

func (p *Prometheus) RequestDispatched(destinations int) {
	if p == nil {
		return
	}
	p.dispatched.Inc()
	p.destinations.Add(float64(destinations))
}

func (p *Prometheus) EnqueueFailed(platform string) {
	if p == nil {
		return
	}
	p.enqueueFailures.WithLabelValues(platform).Inc()
}

func (p *Prometheus) PublishAttempt(platform, outcome string, duration time.Duration) {
	if p == nil {
		return
	}
	p.attempts.WithLabelValues(platform, outcome).Inc()
	p.publishLatency.WithLabelValues(platform).Observe(duration.Seconds())
}

func (p *Prometheus) DestinationTerminal(platform, status string) {
	if p == nil {
		return
	}
	p.terminal.WithLabelValues(platform, status).Inc()
}

func (p *Prometheus) DeadLettersArchived(n int) {
	if p == nil || n <= 0 {
		return
	}
	p.deadLetters.Add(float64(n))
}

func (p *Prometheus) RecordsPurged(n int64) {
	if p == nil || n <= 0 {
		return
	}
	p.purged.Add(float64(n))
}

type nopObserver struct{}

// Nop discards all telemetry.
func Nop() Observer { return nopObserver{} }

func (nopObserver) RequestDispatched(int)                        {}
func (nopObserver) EnqueueFailed(string)                         {}
func (nopObserver) PublishAttempt(string, string, time.Duration) {}
func (nopObserver) DestinationTerminal(string, string)           {}
func (nopObserver) DeadLettersArchived(int)                      {}
func (nopObserver) RecordsPurged(int64)                          {}
