package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	apperrors "github.com/svgtranslate/svgbatch/internal/errors"
)

// Scheduler starts jobs on cron schedules. Overlapping runs are allowed;
// the dispatcher treats a scheduled start like any other.
type Scheduler struct {
	cron       *cron.Cron
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewScheduler creates a stopped scheduler over the dispatcher.
func NewScheduler(dispatcher *Dispatcher, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:       cron.New(),
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Add schedules a job type on a cron spec (standard 5-field format).
// Unknown job types are rejected here rather than at first fire.
func (s *Scheduler) Add(spec, jobType string) error {
	if !s.dispatcher.Registered(jobType) {
		return apperrors.ErrJobUnknownType(jobType)
	}
	_, err := s.cron.AddFunc(spec, func() {
		jobID, err := s.dispatcher.Start(context.Background(), jobType)
		if err != nil {
			s.logger.Error("scheduled job start failed",
				"job_type", jobType, "error", err)
			return
		}
		s.logger.Info("scheduled job started",
			"job_type", jobType, "job_id", jobID)
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", jobType, spec, err)
	}
	return nil
}

// Start begins firing schedules on a background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and returns once in-flight trigger callbacks
// have returned. Launched workers keep running; the dispatcher owns
// their lifecycle.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
