package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/metrics"
	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/store"
)

const DefaultHousekeepingInterval = 5 * time.Minute

// HousekeepingService periodically removes expired revocations,
// verification tokens and pending registrations. Nothing depends on it for
// correctness; every read already ignores expired rows.
type HousekeepingService struct {
	Store        store.Store
	Revocations  *RevocationService
	Verification *VerificationService
	Logger       *slog.Logger
	Interval     time.Duration
	Now          func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewHousekeepingService creates a housekeeping service. A zero or negative
// interval means DefaultHousekeepingInterval.
func NewHousekeepingService(st store.Store, revocations *RevocationService, verification *VerificationService, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = DefaultHousekeepingInterval
	}
	return &HousekeepingService{
		Store:        st,
		Revocations:  revocations,
		Verification: verification,
		Logger:       logger,
		Interval:     interval,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

func (s *HousekeepingService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Start runs the sweep loop in the background. Call Stop to end it.
func (s *HousekeepingService) Start() {
	s.startOnce.Do(func() {
		s.started = true
		go s.run()
		s.Logger.Info("housekeeping service started", "interval", s.Interval)
	})
}

// Stop ends the loop and blocks until an in-progress sweep has finished.
// It is a no-op if Start was never called, and safe to call twice.
func (s *HousekeepingService) Stop() {
	s.stopOnce.Do(func() {
		// A Start after Stop does nothing.
		s.startOnce.Do(func() {})
		if !s.started {
			return
		}
		close(s.stopCh)
		<-s.doneCh
		s.Logger.Info("housekeeping service stopped")
	})
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.Sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-s.stopCh:
			return
		}
	}
}

// Sweep performs one cleanup pass and returns the rows removed per table.
// Each step is independent; a failure is logged and the rest still run.
func (s *HousekeepingService) Sweep(ctx context.Context) map[string]int64 {
	start := time.Now()
	defer func() { metrics.HousekeepingDuration.Observe(time.Since(start).Seconds()) }()

	now := s.now()
	deleted := make(map[string]int64, 3)

	record := func(table string, n int64, err error) {
		if err != nil {
			s.Logger.Error("housekeeping step failed", "table", table, "error", err)
			return
		}
		deleted[table] = n
		metrics.HousekeepingDeleted.WithLabelValues(table).Add(float64(n))
	}

	if s.Revocations != nil {
		n, err := s.Revocations.Sweep(ctx)
		record("revocations", n, err)
	}

	n, err := s.Store.VerificationTokens().DeleteExpiredVerificationTokens(ctx, now)
	record("verification_tokens", n, err)

	n, err = s.Store.PendingAccounts().DeleteExpiredPendingAccounts(ctx, now)
	record("pending_accounts", n, err)

	if s.Verification != nil {
		s.Verification.PruneLimiters()
	}

	s.Logger.Debug("housekeeping sweep completed", "deleted", deleted)
	return deleted
}
