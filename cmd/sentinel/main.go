package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"telegram-sentinel/internal/app"
	"telegram-sentinel/internal/infra/config"
	"telegram-sentinel/internal/infra/logger"
)

func main() {
	// envPath определяет расположение .env с секретами и общими настройками.
	envPath := flag.String("env", ".env", "path to .env file")
	logLevel := flag.String("log-level", "", "override LOG_LEVEL for this run")
	flag.Parse()

	// config.Load загружает конфигурацию из .env и переменных окружения.
	if err := config.Load(*envPath); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	env := config.Env()
	level := env.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	logger.Init(level)
	// Файловый лог включается только при явно заданном LOG_FILE.
	if env.LogFile != "" {
		logger.EnableFileSink(logger.FileSink{
			Path:       env.LogFile,
			Level:      env.LogFileLevel,
			MaxSizeMB:  env.LogFileMaxSize,
			MaxBackups: env.LogFileMaxBackups,
			MaxAgeDays: env.LogFileMaxAge,
			Compress:   env.LogFileCompress,
		})
	}
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	// Контекст с обработкой системных сигналов (Ctrl+C/SIGTERM). Важно: stop()
	// нужно вызвать, чтобы снять подписку.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	// Собираем приложение и передаём ему контекст жизненного цикла и stop как внешнюю CancelFunc.
	a := app.New(ctx, stop, env)

	// Запускаем основной цикл; блокируется до shutdown. Ошибки — фатальны.
	if runErr := a.Run(); runErr != nil {
		stop()
		logger.Fatal("app run failed", zap.Error(runErr))
	}
	// Освобождаем обработчик сигналов.
	stop()
	logger.Info("Graceful shutdown complete")
}
