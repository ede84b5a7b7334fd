// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: сброс месячных токенов и
// (если включён) периодический сброс лидербордов.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/critics-guild/internal/config"
	"serotonyl.ru/critics-guild/internal/features/audit"
	"serotonyl.ru/critics-guild/internal/features/ledger"
)

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron    *cron.Cron
	ledger  *ledger.Service
	journal *audit.Service
	ctx     context.Context
}

// NewScheduler создаёт планировщик в часовом поясе APP_TIMEZONE.
// Пустой LEADERBOARD_RESET_CRON выключает сброс лидербордов.
func NewScheduler(cfg *config.Config, ledgerService *ledger.Service, journal *audit.Service) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.AppTimezone)
	if err != nil {
		log.WithError(err).WithField("tz", cfg.AppTimezone).Warn("Не удалось загрузить часовой пояс, используем UTC")
		loc = time.UTC
	}

	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		ledger:  ledgerService,
		journal: journal,
		ctx:     context.Background(),
	}

	if _, err := s.cron.AddFunc(cfg.ClaimResetCron, func() { s.run("claims", s.ResetClaims) }); err != nil {
		return nil, fmt.Errorf("некорректный CLAIM_RESET_CRON %q: %w", cfg.ClaimResetCron, err)
	}
	if cfg.LeaderboardResetCron != "" {
		if _, err := s.cron.AddFunc(cfg.LeaderboardResetCron, func() { s.run("leaderboards", s.ResetLeaderboards) }); err != nil {
			return nil, fmt.Errorf("некорректный LEADERBOARD_RESET_CRON %q: %w", cfg.LeaderboardResetCron, err)
		}
	}
	return s, nil
}

// Start запускает все фоновые задачи.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	log.WithField("jobs", len(s.cron.Entries())).Info("Планировщик задач запущен")
}

// Stop останавливает планировщик и ждёт текущие задачи.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}

func (s *Scheduler) run(name string, job func(ctx context.Context) error) {
	log.WithField("job", name).Info("[CRON] Запуск задачи")
	if err := job(s.ctx); err != nil {
		log.WithError(err).WithField("job", name).Error("[CRON] Ошибка задачи")
	}
}

// ResetClaims снимает флаг claimed_tokens у всех. Как и команда
// resetclaims, начинается с COMMAND-записи.
func (s *Scheduler) ResetClaims(ctx context.Context) error {
	cause, err := s.journal.Command(ctx, audit.Ref{}, "Scheduled monthly reset of token claims.")
	if err != nil {
		return err
	}
	n, err := s.ledger.ResetMonthlyClaims(ctx, cause)
	if err != nil {
		return err
	}
	log.WithField("users", n).Info("[CRON] Месячные токены снова доступны")
	return nil
}

// ResetLeaderboards обнуляет звёзды и апвоуты (исторические остаются).
func (s *Scheduler) ResetLeaderboards(ctx context.Context) error {
	cause, err := s.journal.Command(ctx, audit.Ref{}, "Scheduled reset of the leaderboards.")
	if err != nil {
		return err
	}
	n, err := s.ledger.ResetLeaderboards(ctx, cause)
	if err != nil {
		return err
	}
	log.WithField("users", n).Info("[CRON] Лидерборды сброшены")
	return nil
}
