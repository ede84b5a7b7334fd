// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: создаёт БД-пул, репозитории, журнал, сервисы,
// обработчики, фильтры и собирает всё в один объект Bot.
package app

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/critics-guild/internal/bot"
	"serotonyl.ru/critics-guild/internal/bot/filters"
	"serotonyl.ru/critics-guild/internal/config"
	"serotonyl.ru/critics-guild/internal/db/postgres"
	"serotonyl.ru/critics-guild/internal/features/admin"
	"serotonyl.ru/critics-guild/internal/features/audit"
	"serotonyl.ru/critics-guild/internal/features/ledger"
	"serotonyl.ru/critics-guild/internal/features/members"
	"serotonyl.ru/critics-guild/internal/features/requests"
	"serotonyl.ru/critics-guild/internal/features/upvotes"
	"serotonyl.ru/critics-guild/internal/jobs"
	"serotonyl.ru/critics-guild/internal/metrics"
)

// App содержит все компоненты приложения.
type App struct {
	Bot       *bot.Bot
	Scheduler *jobs.Scheduler
	DB        *pgxpool.Pool
	BotAPI    *tgbotapi.BotAPI

	metricsAddr string
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен: журнал нужен всем сервисам.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// === 1. База данных ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	if err := postgres.RunMigrations(ctx, pool, migrations); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	// === 2. Telegram Bot API ===
	botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
	}
	botAPI.Debug = cfg.AppEnv == "development"
	log.Infof("Авторизован как @%s", botAPI.Self.UserName)

	// === 3. Репозитории и транзакции ===
	tx := postgres.NewTxManager(pool)
	auditRepo := audit.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool)
	requestRepo := requests.NewRepository(pool)
	voteRepo := upvotes.NewRepository(pool)
	memberRepo := members.NewRepository(pool)
	adminRepo := admin.NewRepository(pool)

	// === 4. Сервисы ===
	mirror := audit.NewChannelMirror(botAPI, cfg.LogChatID)
	journal := audit.NewService(auditRepo, tx, mirror, mirror)

	pricing, err := requests.NewPricing(cfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка тарифов заявок: %w", err)
	}

	ledgerService := ledger.NewService(ledgerRepo, tx, journal, cfg.MonthlyTokens)
	requestService := requests.NewService(requestRepo, tx, journal, ledgerService, pricing)
	voteService := upvotes.NewService(voteRepo, tx, journal, ledgerService)
	memberService := members.NewService(memberRepo, tx, journal, cfg)
	adminService := admin.NewService(adminRepo, cfg.AdminPasswordHash)

	// === 5. Обработчики ===
	handlers := bot.Handlers{
		Members:  members.NewHandler(memberService, botAPI),
		Ledger:   ledger.NewHandler(ledgerService, memberService, botAPI),
		Requests: requests.NewHandler(requestService, ledgerService, journal, memberService, botAPI, cfg),
		Audit:    audit.NewHandler(journal, botAPI),
		Upvotes:  upvotes.NewHandler(voteService, botAPI),
		Admin:    admin.NewHandler(adminService, botAPI),
	}

	// === 6. Фильтры ===
	chatFilter := filters.NewChatFilter(cfg.RequestsChatID, cfg.LogChatID, memberService, botAPI)

	// === 7. Собираем бота ===
	b := bot.New(botAPI, cfg, journal, memberService, adminService, handlers, chatFilter)

	// === 8. Планировщик задач ===
	scheduler, err := jobs.NewScheduler(cfg, ledgerService, journal)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка планировщика: %w", err)
	}

	return &App{
		Bot:         b,
		Scheduler:   scheduler,
		DB:          pool,
		BotAPI:      botAPI,
		metricsAddr: cfg.MetricsAddr,
	}, nil
}

// ServeMetrics поднимает /metrics до отмены ctx.
func (a *App) ServeMetrics(ctx context.Context) {
	metrics.Serve(ctx, a.metricsAddr)
}

// migrations встроены в код для упрощения деплоя.
var migrations = []postgres.Migration{
	{Version: 1, SQL: migration001Users},
	{Version: 2, SQL: migration002Requests},
	{Version: 3, SQL: migration003Log},
	{Version: 4, SQL: migration004Votes},
	{Version: 5, SQL: migration005Members},
	{Version: 6, SQL: migration006Admin},
	{Version: 7, SQL: migration007ThreadMessages},
}

const migration001Users = `
CREATE TABLE IF NOT EXISTS users (
    user_id BIGINT PRIMARY KEY,
    tokens BIGINT NOT NULL DEFAULT 0,
    stars BIGINT NOT NULL DEFAULT 0,
    historic_stars BIGINT NOT NULL DEFAULT 0,
    mapper_upvotes BIGINT NOT NULL DEFAULT 0,
    historic_mapper_upvotes BIGINT NOT NULL DEFAULT 0,
    critic_upvotes BIGINT NOT NULL DEFAULT 0,
    historic_critic_upvotes BIGINT NOT NULL DEFAULT 0,
    penalties BIGINT NOT NULL DEFAULT 0,
    stakes BIGINT NOT NULL DEFAULT 0,
    claimed_tokens BOOLEAN NOT NULL DEFAULT FALSE,
    completed_mapper_requests BIGINT NOT NULL DEFAULT 0,
    completed_critic_requests BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT NOW(),
    updated_at TIMESTAMP DEFAULT NOW()
);
`

const migration002Requests = `
CREATE TABLE IF NOT EXISTS requests (
    thread_id BIGINT PRIMARY KEY,
    author_id BIGINT NOT NULL,
    list SMALLINT NOT NULL,
    critic_id BIGINT,
    type SMALLINT NOT NULL,
    state SMALLINT NOT NULL,
    created_at TIMESTAMP DEFAULT NOW(),
    updated_at TIMESTAMP DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_requests_author_state ON requests(author_id, state);
CREATE INDEX IF NOT EXISTS idx_requests_critic_state ON requests(critic_id, state);
`

const migration003Log = `
CREATE TABLE IF NOT EXISTS log_entries (
    log_id BIGSERIAL PRIMARY KEY,
    user_id BIGINT,
    request_id BIGINT,
    created_at TIMESTAMPTZ NOT NULL,
    class SMALLINT NOT NULL,
    cause_id BIGINT REFERENCES log_entries(log_id),
    summary TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_log_entries_user ON log_entries(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_log_entries_request ON log_entries(request_id);
CREATE INDEX IF NOT EXISTS idx_log_entries_cause ON log_entries(cause_id);
CREATE INDEX IF NOT EXISTS idx_log_entries_created ON log_entries(created_at);
`

const migration004Votes = `
CREATE TABLE IF NOT EXISTS votes (
    id BIGSERIAL PRIMARY KEY,
    request_id BIGINT NOT NULL REFERENCES requests(thread_id),
    voter_id BIGINT NOT NULL,
    side VARCHAR(16) NOT NULL,
    created_at TIMESTAMP DEFAULT NOW(),
    UNIQUE (request_id, voter_id)
);
`

const migration005Members = `
CREATE TABLE IF NOT EXISTS members (
    user_id BIGINT PRIMARY KEY,
    username VARCHAR(255),
    first_name VARCHAR(255) NOT NULL DEFAULT '',
    last_name VARCHAR(255),
    role VARCHAR(64),
    is_admin BOOLEAN NOT NULL DEFAULT FALSE,
    joined_at TIMESTAMP DEFAULT NOW(),
    updated_at TIMESTAMP DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_members_username ON members(LOWER(username));
`

const migration006Admin = `
CREATE TABLE IF NOT EXISTS admin_sessions (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    session_token VARCHAR(255) UNIQUE,
    authenticated_at TIMESTAMP DEFAULT NOW(),
    expires_at TIMESTAMP,
    last_activity TIMESTAMP DEFAULT NOW(),
    is_active BOOLEAN DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_admin_sessions_user_id ON admin_sessions(user_id);
CREATE TABLE IF NOT EXISTS admin_login_attempts (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT,
    attempt_time TIMESTAMP DEFAULT NOW(),
    success BOOLEAN DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_admin_login_attempts_user ON admin_login_attempts(user_id, attempt_time);
`

// thread_messages связывает ответы в треде (и посты бота) с корневой заявкой.
const migration007ThreadMessages = `
CREATE TABLE IF NOT EXISTS thread_messages (
    message_id BIGINT PRIMARY KEY,
    thread_id BIGINT NOT NULL REFERENCES requests(thread_id),
    created_at TIMESTAMP DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_thread_messages_thread ON thread_messages(thread_id);
`
