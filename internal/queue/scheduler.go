package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sifterhq/sifter/internal/models"
	"github.com/sifterhq/sifter/internal/repository"
)

// OrchestratorPayload is the payload carried by orchestrator jobs.
type OrchestratorPayload struct {
	UserID string `json:"user_id"`
}

// Scheduler fires digest runs on cron schedules. Users with a daily
// frequency get a run when the daily cron is due, weekly users when the
// weekly cron is due.
type Scheduler struct {
	mu sync.RWMutex

	service  *Service
	userRepo repository.UserRepository
	logger   *slog.Logger

	parser cron.Parser

	dailyCron  string
	weeklyCron string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	syncInterval time.Duration
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	// DailyCron fires runs for daily-frequency users.
	DailyCron string

	// WeeklyCron fires runs for weekly-frequency users.
	WeeklyCron string

	// SyncInterval is how often to check schedules. Default: 1 minute
	SyncInterval time.Duration
}

// NewScheduler creates a new digest scheduler.
func NewScheduler(service *Service, userRepo repository.UserRepository, config SchedulerConfig) *Scheduler {
	syncInterval := config.SyncInterval
	if syncInterval <= 0 {
		syncInterval = time.Minute
	}
	return &Scheduler{
		service:      service,
		userRepo:     userRepo,
		logger:       slog.Default(),
		parser:       cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		dailyCron:    config.DailyCron,
		weeklyCron:   config.WeeklyCron,
		syncInterval: syncInterval,
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// Start begins the scheduler's background sync loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.syncLoop()

	s.logger.Info("digest scheduler started",
		slog.String("daily_cron", s.dailyCron),
		slog.String("weekly_cron", s.weeklyCron),
		slog.Duration("sync_interval", s.syncInterval))

	return nil
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("digest scheduler stopped")
}

// syncLoop periodically checks schedules and fires due runs.
func (s *Scheduler) syncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.syncSchedules(s.ctx)
		}
	}
}

// syncSchedules fires digest runs for frequencies whose cron is due.
func (s *Scheduler) syncSchedules(ctx context.Context) {
	if s.dailyCron != "" && s.isDue(s.dailyCron) {
		s.fireForFrequency(ctx, models.FrequencyDaily)
	}
	if s.weeklyCron != "" && s.isDue(s.weeklyCron) {
		s.fireForFrequency(ctx, models.FrequencyWeekly)
	}
}

// fireForFrequency enqueues an orchestrator run for every user with the
// given frequency. The dedup key includes the date so reruns within the
// same sync window collapse but tomorrow's run does not.
func (s *Scheduler) fireForFrequency(ctx context.Context, freq models.Frequency) {
	users, err := s.userRepo.GetByFrequency(ctx, freq)
	if err != nil {
		s.logger.Error("failed to get users for scheduling",
			slog.String("frequency", string(freq)),
			slog.Any("error", err))
		return
	}

	day := time.Now().Format("2006-01-02")
	for _, user := range users {
		_, deduped, err := s.service.Enqueue(ctx, models.QueueOrchestrator, "generate-digest",
			OrchestratorPayload{UserID: user.ID.String()},
			EnqueueOptions{
				DedupKey: fmt.Sprintf("orchestrator-%s-%s", user.ID, day),
			})
		if err != nil {
			s.logger.Error("failed to enqueue scheduled digest run",
				slog.String("user_id", user.ID.String()),
				slog.Any("error", err))
			continue
		}
		if !deduped {
			s.logger.Info("scheduled digest run",
				slog.String("user_id", user.ID.String()),
				slog.String("frequency", string(freq)))
		}
	}
}

// isDue checks if a cron schedule is due within the sync window.
func (s *Scheduler) isDue(cronExpr string) bool {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		s.logger.Warn("invalid cron expression", slog.String("cron", cronExpr), slog.Any("error", err))
		return false
	}

	now := time.Now()
	next := schedule.Next(now.Add(-s.syncInterval))
	return !next.After(now)
}

// ValidateCron validates a cron expression.
func (s *Scheduler) ValidateCron(expr string) error {
	_, err := s.parser.Parse(expr)
	return err
}
