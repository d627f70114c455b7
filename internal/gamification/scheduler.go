package gamification

import (
	"context"
	"fmt"
	"time"

	"github.com/finlit-network/backend/internal/metrics"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultRolloverSchedule runs shortly after UTC midnight.
const DefaultRolloverSchedule = "5 0 * * *"

// Scheduler regenerates stale daily challenges on cached ledgers and evicts
// idle ones on a cron schedule evaluated in UTC.
type Scheduler struct {
	service *Service
	cron    *cron.Cron
	idleTTL time.Duration
	log     logrus.FieldLogger
}

func NewScheduler(service *Service, schedule string, idleTTL time.Duration, log logrus.FieldLogger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultRolloverSchedule
	}
	s := &Scheduler{
		service: service,
		cron:    cron.New(cron.WithLocation(time.UTC)),
		idleTTL: idleTTL,
		log:     log.WithField("component", "scheduler"),
	}
	if _, err := s.cron.AddFunc(schedule, s.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid rollover schedule %q: %w", schedule, err)
	}
	return s, nil
}

// RunOnce performs one rollover and eviction pass.
func (s *Scheduler) RunOnce() {
	rolled := s.service.Rollover()
	evicted := 0
	if s.idleTTL > 0 {
		evicted = s.service.EvictIdle(s.idleTTL)
	}
	metrics.RecordRollover()
	s.log.WithFields(logrus.Fields{
		"rolled_over": rolled,
		"evicted":     evicted,
		"cached":      s.service.CachedLedgers(),
	}).Info("daily rollover complete")
}

// Start runs the schedule until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	s.log.Info("rollover scheduler started")
	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
		s.log.Info("rollover scheduler stopped")
	}()
}
