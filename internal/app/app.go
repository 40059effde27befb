// Package app — верхний уровень сборки и инициализации сервиса мониторинга.
// Здесь связываются конфигурация, хранилища (настройки, журнал сообщений),
// движок анализа поверх inference-сайдкара, монитор Telegram-клиентов и
// HTTP API. Отсюда стартуют фоновые службы и обеспечивается корректный shutdown.
package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"telegram-sentinel/internal/domain/analysis"
	"telegram-sentinel/internal/domain/monitor"
	"telegram-sentinel/internal/domain/settings"
	"telegram-sentinel/internal/infra/classifiers"
	"telegram-sentinel/internal/infra/config"
	"telegram-sentinel/internal/infra/inference"
	"telegram-sentinel/internal/infra/lifecycle"
	"telegram-sentinel/internal/infra/logger"
	"telegram-sentinel/internal/infra/msgstore"
	"telegram-sentinel/internal/infra/ratelimit"
	"telegram-sentinel/internal/infra/storage"
	"telegram-sentinel/internal/infra/telegram/pending"
	"telegram-sentinel/internal/web"
)

// webShutdownTimeout ограничивает ожидание корректной остановки HTTP-сервера.
const webShutdownTimeout = 10 * time.Second

// App агрегирует зависимости сервиса и управляет их жизненным циклом.
// Отвечает за:
//   - конфигурацию и каталог данных (настройки, SQLite, кэш пиров),
//   - движок анализа: inference-клиент, кэш классификаторов, скоринг,
//   - монитор Telegram-клиентов (bot / user режимы),
//   - HTTP API с авторизацией и ограничителем частоты,
//   - запуск узлов через lifecycle.Manager и остановку в обратном порядке.
type App struct {
	mainCtx    context.Context    // Контекст жизненного цикла приложения.
	mainCancel context.CancelFunc // Инициирует отмену mainCtx.
	env        config.EnvConfig   // Снимок конфигурации окружения.
	manager    *lifecycle.Manager // Дерево управляемых узлов.

	settings *settings.Store
	messages *msgstore.Store
	limiter  *ratelimit.Limiter
	pending  *pending.Registry
	monitor  *monitor.Monitor
	web      *web.Server
}

// New создаёт каркас приложения. Фактическая сборка зависимостей выполняется
// в Run(), чтобы ошибки инициализации возвращались из одного места.
func New(mainCtx context.Context, mainCancel context.CancelFunc, env config.EnvConfig) *App {
	return &App{
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
		env:        env,
		manager:    lifecycle.New(mainCtx),
	}
}

// Run собирает зависимости, запускает узлы и блокируется до отмены mainCtx.
// Возвращает первую ошибку сборки/запуска либо объединённую ошибку остановки.
func (a *App) Run() error {
	logger.Info("Sentinel initializing...")

	if err := a.assemble(); err != nil {
		return err
	}
	if err := a.registerNodes(); err != nil {
		return err
	}

	if err := a.manager.StartAll(); err != nil {
		// Частично поднятые узлы гасим сразу, ошибку старта отдаём первой.
		if stopErr := a.manager.Shutdown(); stopErr != nil {
			logger.Errorf("shutdown after failed start: %v", stopErr)
		}
		return err
	}

	logger.Info("Sentinel is ready",
		zap.String("address", a.env.ListenAddr()),
		zap.String("dataDir", a.env.DataDir),
		zap.String("inference", a.env.InferenceURL),
	)

	<-a.mainCtx.Done()
	logger.Debug("Shutdown signal received, stopping services...")
	return a.manager.Shutdown()
}

// assemble строит зависимости в порядке «хранилища → движок → монитор → web».
// Здесь только конструкторы и синхронная инициализация; фоновые службы
// стартуют позже через lifecycle.
func (a *App) assemble() error {
	env := a.env

	// Каталог данных общий для настроек, журнала и кэша пиров.
	if err := storage.EnsureDir(env.SettingsFile()); err != nil {
		return errors.Wrap(err, "ensure data dir")
	}

	a.settings = settings.NewStore(env.SettingsFile())
	if _, err := a.settings.Load(); err != nil {
		return errors.Wrap(err, "load settings")
	}

	messages, err := msgstore.Open(env.MessagesDB())
	if err != nil {
		return errors.Wrap(err, "open message store")
	}
	a.messages = messages

	// Весь ML живёт в сайдкаре; кэш классификаторов греет модели по требованию.
	infClient := inference.NewClient(env.InferenceURL)
	cache := classifiers.NewCache(infClient, env.ModelCacheDir)
	engine := analysis.NewEngine(cache)

	a.limiter = ratelimit.New()
	a.pending = pending.New()

	a.monitor = monitor.New(monitor.Config{
		Settings:  a.settings,
		Messages:  messages,
		Engine:    engine,
		Cache:     cache,
		PeersPath: env.PeersCacheFile(),
	})

	a.web = web.NewServer(web.Config{
		Addr:           env.ListenAddr(),
		Production:     env.Production,
		SessionSecret:  env.SessionSecret,
		AdminPassword:  env.AdminPassword,
		ViewerPassword: env.ViewerPassword,
		Settings:       a.settings,
		Messages:       messages,
		Engine:         engine,
		Monitor:        a.monitor,
		Limiter:        a.limiter,
		Pending:        a.pending,
	})

	return nil
}

// registerNodes объявляет управляемые узлы. Порядок остановки обратен порядку
// запуска: web-сервер гаснет первым, затем монитор отключает Telegram-клиента,
// затем фоновые службы, и последним закрывается журнал сообщений.
func (a *App) registerNodes() error {
	type nodeSpec struct {
		name  string
		deps  []string
		start lifecycle.StartFunc
		stop  lifecycle.StopFunc
	}

	nodes := []nodeSpec{
		{
			name: "message_store",
			stop: func(context.Context) error { return a.messages.Close() },
		},
		{
			name: "rate_limiter",
			start: func(ctx context.Context) (context.Context, error) {
				a.limiter.Start(ctx)
				return nil, nil
			},
			stop: func(context.Context) error {
				a.limiter.Stop()
				return nil
			},
		},
		{
			name: "pending_sessions",
			start: func(ctx context.Context) (context.Context, error) {
				a.pending.Start(ctx)
				return nil, nil
			},
			stop: func(context.Context) error {
				a.pending.Stop()
				return nil
			},
		},
		{
			// Мониторинг стартует по команде API, узел нужен для остановки:
			// при shutdown активный Telegram-клиент должен отключиться до
			// закрытия журнала сообщений.
			name: "monitor",
			deps: []string{"message_store"},
			stop: func(context.Context) error {
				a.monitor.Stop()
				return nil
			},
		},
		{
			name: "web_server",
			deps: []string{"message_store", "rate_limiter", "pending_sessions", "monitor"},
			start: func(context.Context) (context.Context, error) {
				go func() {
					if err := a.web.Start(); err != nil {
						logger.Errorf("web server error: %v", err)
						// Без API сервис бесполезен — инициируем общий shutdown.
						a.mainCancel()
					}
				}()
				return nil, nil
			},
			stop: func(context.Context) error {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), webShutdownTimeout)
				defer cancel()
				return a.web.Shutdown(shutdownCtx)
			},
		},
	}

	for _, n := range nodes {
		if err := a.manager.Register(n.name, "", n.deps, n.start, n.stop); err != nil {
			return errors.Wrapf(err, "register node %s", n.name)
		}
	}
	return nil
}
