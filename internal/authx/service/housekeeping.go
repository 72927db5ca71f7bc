package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/ibimina/authx/internal/authx/store"
)

const (
	defaultHousekeepingInterval = 1 * time.Hour

	// defaultDeviceIdleTTL is how long an unused trusted device survives
	// before housekeeping reclaims it.
	defaultDeviceIdleTTL = 90 * 24 * time.Hour

	// staleBucketAge is how long a rate-limit bucket outlives its window
	// before deletion.
	staleBucketAge = 1 * time.Hour
)

// HousekeepingService periodically prunes expired OTP codes, stale
// rate-limit buckets, and idle trusted devices.
type HousekeepingService struct {
	Store         store.Store
	Logger        *slog.Logger
	Interval      time.Duration
	DeviceIdleTTL time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service with the given
// interval. Non-positive intervals default to 1 hour.
func NewHousekeepingService(st store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = defaultHousekeepingInterval
	}

	return &HousekeepingService{
		Store:         st,
		Logger:        logger,
		Interval:      interval,
		DeviceIdleTTL: defaultDeviceIdleTTL,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start begins the background worker. Non-blocking; call Stop to shut down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop shuts down the worker and blocks until in-progress cleanup finishes.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.cleanup()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup performs the deletions. Each is independent; a failure in one
// never stops the others.
func (s *HousekeepingService) cleanup() {
	ctx := context.Background()
	now := time.Now().UTC()
	s.Logger.Info("starting housekeeping cleanup")

	if err := s.Store.OTPCodes().DeleteExpired(ctx); err != nil {
		s.Logger.Error("failed to delete expired OTP codes", "error", err)
	} else {
		s.Logger.Debug("deleted expired OTP codes")
	}

	if err := s.Store.RateLimits().DeleteStale(ctx, now.Add(-staleBucketAge)); err != nil {
		s.Logger.Error("failed to delete stale rate limit buckets", "error", err)
	} else {
		s.Logger.Debug("deleted stale rate limit buckets")
	}

	if err := s.Store.TrustedDevices().DeleteIdle(ctx, now.Add(-s.DeviceIdleTTL)); err != nil {
		s.Logger.Error("failed to delete idle trusted devices", "error", err)
	} else {
		s.Logger.Debug("deleted idle trusted devices")
	}

	s.Logger.Info("housekeeping cleanup completed")
}
