// Package scheduler paces background cache refreshes.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-co-op/gocron"
)

// Refresher runs one refresh cycle. force bypasses the in-progress gate.
type Refresher interface {
	Refresh(ctx context.Context, force bool) bool
}

// Scheduler periodically triggers cache refreshes, either at fixed
// clock-minutes each hour or on a plain interval.
type Scheduler struct {
	scheduler *gocron.Scheduler
	refresher Refresher
	logger    *slog.Logger

	// alignedMinutes, when non-empty, takes priority over interval. The
	// upstream stations publish shortly after :00, :20 and :40, so aligned
	// runs a minute later pick up each new observation right away.
	alignedMinutes string
	interval       time.Duration
}

// New creates a Scheduler in aligned mode when alignedMinutes is non-empty
// (comma-separated clock minutes, e.g. "1,21,41"), interval mode otherwise.
func New(refresher Refresher, alignedMinutes string, interval time.Duration, loc *time.Location, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		scheduler:      gocron.NewScheduler(loc),
		refresher:      refresher,
		logger:         logger,
		alignedMinutes: strings.TrimSpace(alignedMinutes),
		interval:       interval,
	}
}

// Start schedules the refresh job and starts the underlying scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	job := func() {
		s.logger.Info("scheduled refresh starting")
		s.refresher.Refresh(ctx, false)
	}

	var err error
	if s.alignedMinutes != "" {
		_, err = s.scheduler.Cron(fmt.Sprintf("%s * * * *", s.alignedMinutes)).Do(job)
		if err == nil {
			s.logger.Info("refresh scheduled at fixed clock-minutes", "minutes", s.alignedMinutes)
		}
	} else {
		minutes := int(s.interval.Minutes())
		if minutes <= 0 {
			minutes = 10
		}
		_, err = s.scheduler.Every(minutes).Minutes().Do(job)
		if err == nil {
			s.logger.Info("refresh scheduled on interval", "minutes", minutes)
		}
	}
	if err != nil {
		return fmt.Errorf("scheduling refresh job: %w", err)
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
