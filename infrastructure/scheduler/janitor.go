// Package scheduler runs the periodic housekeeping jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"crosspost/infrastructure/logger"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const jobTimeout = 2 * time.Minute

// Job is one named housekeeping task.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

type Janitor struct {
	cron *cron.Cron
	jobs []Job
}

// NewJanitor validates every schedule up front so a typo fails at startup.
func NewJanitor(jobs ...Job) (*Janitor, error) {
	c := cron.New(
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)
	j := &Janitor{cron: c}
	for _, job := range jobs {
		if job.Schedule == "" || job.Run == nil {
			continue
		}
		if _, err := cron.ParseStandard(job.Schedule); err != nil {
			return nil, fmt.Errorf("schedule for %s: %w", job.Name, err)
		}
		j.jobs = append(j.jobs, job)
	}
	return j, nil
}

// Run starts the schedules and blocks until ctx is done, then waits for
// running jobs to finish.
func (j *Janitor) Run(ctx context.Context) error {
	for _, job := range j.jobs {
		job := job
		if _, err := j.cron.AddFunc(job.Schedule, func() { j.runOnce(ctx, job) }); err != nil {
			return fmt.Errorf("register %s: %w", job.Name, err)
		}
	}
	j.cron.Start()
	logger.GetLogger().WithField("jobs", len(j.jobs)).Info("Janitor started")
	<-ctx.Done()
	<-j.cron.Stop().Done()
	logger.GetLogger().Info("Janitor stopped")
	return nil
}

func (j *Janitor) runOnce(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()
	start := time.Now()
	lg := logger.GetLogger().WithField("job", job.Name)
	if err := job.Run(jobCtx); err != nil {
		lg.WithField("error", err).Error("Janitor job failed")
		return
	}
	lg.WithField("elapsed", time.Since(start).String()).Debug("Janitor job finished")
}

// cronLogger routes cron's own messages through logrus.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.GetLogger().WithFields(fields(keysAndValues)).Debug("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.GetLogger().WithFields(fields(keysAndValues)).WithField("error", err).Error("cron: " + msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
