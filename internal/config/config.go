// Package config загружает конфигурацию бота из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
// Config создаётся один раз при старте и дальше передаётся по указателю,
// никто его не меняет.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Названия типов заявок — это же хэштеги в постах (#previewer, #bpm, ...).
var TypeNames = []string{
	"previewer",
	"basic_testplay",
	"detailed_mod",
	"curatability",
	"verification",
	"ss",
	"bl",
	"bpm",
	"timing",
	"profile",
	"feedback_on_feedback",
}

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Telegram ---
	AdminIDsRaw      string  `envconfig:"ADMIN_IDS" required:"true"`
	AdminIDs         []int64 `envconfig:"-"` // заполним вручную
	TelegramBotToken string  `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	// Чат, куда публикуются заявки (пост = заявка, id поста = thread id)
	RequestsChatID int64 `envconfig:"REQUESTS_CHAT_ID" required:"true"`
	// Чат администрации: зеркало журнала, алерты, админ-команды
	LogChatID int64 `envconfig:"LOG_CHAT_ID" required:"true"`

	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"botuser"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"critics_guild"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"UTC"`

	// --- Bot runtime ---
	// Сколько апдейтов обрабатываем параллельно.
	BotMaxInflight int `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	// Таймаут long polling (секунды)
	BotUpdateTimeoutSeconds int `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"60"`

	// --- Admin ---
	AdminPasswordHash string `envconfig:"ADMIN_PASSWORD_HASH" required:"true"`

	// --- Guild economy ---
	MonthlyTokens int64 `envconfig:"MONTHLY_TOKENS" default:"3"`
	// Сколько активных (OPEN+CLAIMED) заявок может быть у одного автора
	MaxRequests int `envconfig:"MAX_REQUESTS" default:"1"`
	// При penalties >= MaxPenalties новые заявки не принимаются
	MaxPenalties int64 `envconfig:"MAX_PENALTIES" default:"3"`

	// --- List tags ---
	OpenTag    string `envconfig:"OPEN_TAG" default:"open"`
	CriticTag  string `envconfig:"CRITIC_TAG" default:"critic"`
	TrustedTag string `envconfig:"TRUSTED_TAG" default:"trusted"`

	// --- Pricing ---
	// Типы, разрешённые в открытом списке (без цены)
	OpenTypes []string `envconfig:"OPEN_TYPES" default:"previewer,basic_testplay,detailed_mod,curatability,verification,ss,bl,bpm,timing,profile,feedback_on_feedback"`
	// Цена и награда по типам: "previewer:1,bpm:2"
	CriticCosts    map[string]int64 `envconfig:"CRITIC_COSTS" default:"previewer:1,basic_testplay:1,detailed_mod:2,curatability:1,verification:1,ss:1,bl:1,bpm:1,timing:2,profile:1,feedback_on_feedback:1"`
	CriticRewards  map[string]int64 `envconfig:"CRITIC_REWARDS" default:"previewer:1,basic_testplay:1,detailed_mod:2,curatability:1,verification:1,ss:1,bl:1,bpm:1,timing:2,profile:1,feedback_on_feedback:1"`
	TrustedCosts   map[string]int64 `envconfig:"TRUSTED_COSTS" default:"previewer:2,basic_testplay:2,detailed_mod:3,curatability:2,verification:2,ss:2,bl:2,bpm:2,timing:3,profile:2,feedback_on_feedback:2"`
	TrustedRewards map[string]int64 `envconfig:"TRUSTED_REWARDS" default:"previewer:2,basic_testplay:2,detailed_mod:4,curatability:2,verification:2,ss:2,bl:2,bpm:2,timing:4,profile:2,feedback_on_feedback:2"`

	// --- Jobs ---
	ClaimResetCron       string `envconfig:"CLAIM_RESET_CRON" default:"0 0 1 * *"`
	LeaderboardResetCron string `envconfig:"LEADERBOARD_RESET_CRON" default:""`

	// --- Metrics ---
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// --- Feature Flags ---
	FeatureUpvotesEnabled bool `envconfig:"FEATURE_UPVOTES_ENABLED" default:"true"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// IsAdmin — есть ли userID в ADMIN_IDS.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (c *Config) Validate() error {
	if c.RequestsChatID == 0 {
		return fmt.Errorf("REQUESTS_CHAT_ID не задан или равен 0")
	}
	if c.LogChatID == 0 {
		return fmt.Errorf("LOG_CHAT_ID не задан или равен 0")
	}
	if c.BotMaxInflight <= 0 {
		return fmt.Errorf("BOT_MAX_INFLIGHT должен быть > 0")
	}
	if c.BotUpdateTimeoutSeconds <= 0 {
		return fmt.Errorf("BOT_UPDATE_TIMEOUT_SECONDS должен быть > 0")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.MonthlyTokens < 0 {
		return fmt.Errorf("MONTHLY_TOKENS не может быть отрицательным")
	}
	if c.MaxRequests <= 0 || c.MaxPenalties <= 0 {
		return fmt.Errorf("MAX_REQUESTS и MAX_PENALTIES должны быть > 0")
	}

	tags := map[string]bool{}
	for _, tag := range []string{c.OpenTag, c.CriticTag, c.TrustedTag} {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || tags[tag] {
			return fmt.Errorf("теги списков должны быть непустыми и разными")
		}
		if isTypeName(tag) {
			return fmt.Errorf("тег списка %q совпадает с типом заявки", tag)
		}
		tags[tag] = true
	}

	for _, name := range c.OpenTypes {
		if !isTypeName(name) {
			return fmt.Errorf("OPEN_TYPES: неизвестный тип %q", name)
		}
	}
	if err := validatePrices("CRITIC", c.CriticCosts, c.CriticRewards); err != nil {
		return err
	}
	if err := validatePrices("TRUSTED", c.TrustedCosts, c.TrustedRewards); err != nil {
		return err
	}
	return nil
}

// validatePrices: каждый тип либо есть в обеих картах, либо ни в одной.
func validatePrices(list string, costs, rewards map[string]int64) error {
	for name, cost := range costs {
		if !isTypeName(name) {
			return fmt.Errorf("%s_COSTS: неизвестный тип %q", list, name)
		}
		if cost < 0 {
			return fmt.Errorf("%s_COSTS: отрицательная цена для %q", list, name)
		}
		if _, ok := rewards[name]; !ok {
			return fmt.Errorf("%s_REWARDS: нет награды для %q", list, name)
		}
	}
	for name, reward := range rewards {
		if !isTypeName(name) {
			return fmt.Errorf("%s_REWARDS: неизвестный тип %q", list, name)
		}
		if reward < 0 {
			return fmt.Errorf("%s_REWARDS: отрицательная награда для %q", list, name)
		}
		if _, ok := costs[name]; !ok {
			return fmt.Errorf("%s_COSTS: нет цены для %q", list, name)
		}
	}
	return nil
}

func isTypeName(name string) bool {
	for _, n := range TypeNames {
		if n == name {
			return true
		}
	}
	return false
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	ids, err := parseInt64CSV(cfg.AdminIDsRaw)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_IDS parse: %w", err)
	}
	cfg.AdminIDs = ids

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseInt64CSV(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad int64 %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}
