// Package main — точка входа бота гильдии критиков.
// Загружает конфигурацию, поднимает БД, бота, планировщик сбросов
// и сервер метрик. Останавливается по SIGINT/SIGTERM.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/critics-guild/internal/app"
	"serotonyl.ru/critics-guild/internal/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		setupLogging("production", "info")
		log.WithError(err).Fatal("Не удалось загрузить конфигурацию")
	}
	setupLogging(cfg.AppEnv, cfg.AppLogLevel)

	log.WithField("env", cfg.AppEnv).Info("=== Бот гильдии запускается ===")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Не удалось инициализировать приложение")
	}
	defer application.DB.Close()

	application.Scheduler.Start(ctx)
	defer application.Scheduler.Stop()

	go application.ServeMetrics(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		application.Bot.Start(ctx)
	}()

	log.Info("=== Бот готов к работе ===")
	<-ctx.Done()
	log.Info("Получен сигнал остановки, ждём завершения обработки...")

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		log.Warn("Бот не остановился вовремя, выходим принудительно")
	}
	log.Info("=== Бот остановлен ===")
}

// setupLogging: текстовые логи для разработки, JSON для остальных окружений.
func setupLogging(env, level string) {
	if env == "development" {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339})
	}
	log.SetOutput(os.Stdout)

	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}
