package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"

	"github.com/airnet-dev/airquality-pipeline/internal/aq"
)

// Scheduler periodically refreshes synoptic data for all configured sources.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   *aq.Service
	interval  time.Duration
}

// New creates a new Scheduler.
func New(interval time.Duration, service *aq.Service) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		service:   service,
		interval:  interval,
	}
}

// Start schedules the periodic refresh job and starts the underlying
// scheduler.
func (s *Scheduler) Start() error {
	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 15
	}

	_, err := s.scheduler.Every(minutes).Minutes().Do(func() {
		runID := uuid.NewString()[:8]
		log.Printf("scheduler: run %s: refreshing synoptic sources", runID)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		if err := s.service.RefreshSynoptic(ctx); err != nil {
			log.Printf("scheduler: run %s failed: %v", runID, err)
			return
		}
		log.Printf("scheduler: run %s completed", runID)
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
