package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/paymenttech/payment-processor/internal/app"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
}

func main() {
	setupLogger()

	cfg, err := app.LoadConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("некорректная конфигурация")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runService(ctx, cfg); err != nil {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("payment-processor остановлен")
}

// runService запускает приложение и не считает отмену контекста ошибкой:
// graceful shutdown по SIGTERM — штатный путь завершения.
func runService(ctx context.Context, cfg app.Config) error {
	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
		"cache":        cfg.CacheDriver,
	}).Info("запускаем payment-processor")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
