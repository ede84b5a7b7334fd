// Package admin — service.go: проверка пароля, лимит попыток и сессии.
package admin

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"

	"serotonyl.ru/critics-guild/internal/common"
)

// Параметры Argon2id для новых хешей.
const (
	argonMemory      uint32 = 64 * 1024
	argonIterations  uint32 = 3
	argonParallelism uint8  = 2
	argonKeyLength   uint32 = 32
	argonSaltLength         = 16
)

// Store — хранилище сессий и попыток входа.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetActiveSession(ctx context.Context, userID int64, now time.Time) (*Session, error)
	DeactivateSessions(ctx context.Context, userID int64) error
	UpdateActivity(ctx context.Context, userID int64) error
	LogAttempt(ctx context.Context, userID int64, success bool) error
	CountFailedSince(ctx context.Context, userID int64, since time.Time) (int, error)
}

// Service управляет входом администраторов.
type Service struct {
	store        Store
	passwordHash string
	now          func() time.Time
}

// NewService создаёт сервис. passwordHash — ADMIN_PASSWORD_HASH.
func NewService(store Store, passwordHash string) *Service {
	return &Service{
		store:        store,
		passwordHash: passwordHash,
		now:          time.Now,
	}
}

// Login проверяет пароль и открывает сессию на SessionTTL.
// MaxFailedAttempts неудач за час блокируют вход.
func (s *Service) Login(ctx context.Context, userID int64, password string) error {
	now := s.now()
	failed, err := s.store.CountFailedSince(ctx, userID, now.Add(-LockoutPeriod))
	if err != nil {
		return err
	}
	if failed >= MaxFailedAttempts {
		return common.ErrTooManyAttempts
	}

	match := verifyArgon2id(password, s.passwordHash)
	if err := s.store.LogAttempt(ctx, userID, match); err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("Не удалось записать попытку входа")
	}
	if !match {
		log.WithField("user_id", userID).Warn("Неверный пароль администратора")
		return common.ErrWrongPassword
	}

	token, err := generateSecureToken()
	if err != nil {
		return err
	}
	if err := s.store.CreateSession(ctx, &Session{
		UserID:    userID,
		Token:     token,
		ExpiresAt: now.Add(SessionTTL),
	}); err != nil {
		return err
	}

	log.WithField("user_id", userID).Info("Администратор вошёл")
	return nil
}

// Logout закрывает все сессии пользователя.
func (s *Service) Logout(ctx context.Context, userID int64) error {
	return s.store.DeactivateSessions(ctx, userID)
}

// HasActiveSession проверяет сессию и продлевает её активность.
func (s *Service) HasActiveSession(ctx context.Context, userID int64) bool {
	_, err := s.store.GetActiveSession(ctx, userID, s.now())
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			log.WithError(err).WithField("user_id", userID).Error("Ошибка проверки сессии")
		}
		return false
	}
	if err := s.store.UpdateActivity(ctx, userID); err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("Не удалось обновить активность сессии")
	}
	return true
}

// HashPassword кодирует пароль в формат ADMIN_PASSWORD_HASH:
// $argon2id$v=19$m=65536,t=3,p=2$<salt>$<hash>
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("ошибка генерации соли: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonIterations, argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// verifyArgon2id проверяет пароль по хешу в формате HashPassword.
func verifyArgon2id(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		log.Error("Некорректный формат хеша Argon2id")
		return false
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		log.WithError(err).Error("Ошибка парсинга параметров Argon2id")
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования соли")
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования хеша")
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expected)))
	// сравнение в постоянном времени
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

func generateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("ошибка генерации токена сессии: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
