package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Refresher pulls a commune's latest transactions into the archive
type Refresher interface {
	Refresh(ctx context.Context, inseeCode string) (int, error)
}

// Scheduler periodically refreshes the tracked communes
type Scheduler struct {
	refresher Refresher
	logger    *logrus.Logger
	communes  []string
	timeout   time.Duration

	cron     *gocron.Scheduler
	jobMutex sync.Mutex // one refresh run at a time
}

// NewScheduler creates a new scheduler
func NewScheduler(refresher Refresher, logger *logrus.Logger, communes []string) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
		logger.SetLevel(logrus.InfoLevel)
	}

	return &Scheduler{
		refresher: refresher,
		logger:    logger,
		communes:  communes,
		timeout:   5 * time.Minute,
		cron:      gocron.NewScheduler(time.UTC),
	}
}

// ValidateSpec checks a standard five-field cron expression
func ValidateSpec(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return nil
}

// Start registers the refresh job on the given cron spec and starts the
// scheduler in the background.
func (s *Scheduler) Start(spec string) error {
	if err := ValidateSpec(spec); err != nil {
		return err
	}

	s.cron.SingletonModeAll()
	if _, err := s.cron.Cron(spec).Do(s.runRefresh); err != nil {
		return fmt.Errorf("failed to schedule refresh: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"spec":     spec,
		"communes": len(s.communes),
	}).Info("Starting refresh scheduler")
	s.cron.StartAsync()
	return nil
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()
	s.logger.Info("Refresh scheduler stopped")
}

// RunNow refreshes every tracked commune synchronously and returns the
// number of communes that failed.
func (s *Scheduler) RunNow(ctx context.Context) int {
	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()

	failed := 0
	for _, code := range s.communes {
		if ctx.Err() != nil {
			s.logger.WithError(ctx.Err()).Warn("Refresh run interrupted")
			return failed + 1
		}

		logger := s.logger.WithField("insee_code", code)
		logger.Info("Starting refresh job")

		n, err := s.refresher.Refresh(ctx, code)
		if err != nil {
			failed++
			logger.WithError(err).Error("Refresh job failed")
			continue
		}
		logger.WithField("transactions", n).Info("Refresh job completed successfully")
	}
	return failed
}

func (s *Scheduler) runRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout*time.Duration(max(len(s.communes), 1)))
	defer cancel()

	start := time.Now()
	failed := s.RunNow(ctx)
	s.logger.WithFields(logrus.Fields{
		"communes": len(s.communes),
		"failed":   failed,
		"duration": time.Since(start).String(),
	}).Info("Scheduled refresh completed")
}
