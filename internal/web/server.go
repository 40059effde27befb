// Package web — управляющий HTTP API сервиса: вход по встроенным учётным
// записям, настройки, выпуск строки сессии Telegram, синхронизация чатов,
// запуск и остановка мониторинга, журнал и статистика. Поверхность только
// JSON; каждый маршрут объявляет требование к роли и бюджет ограничителя.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"telegram-sentinel/internal/domain/analysis"
	"telegram-sentinel/internal/domain/monitor"
	"telegram-sentinel/internal/domain/settings"
	"telegram-sentinel/internal/infra/logger"
	"telegram-sentinel/internal/infra/msgstore"
	"telegram-sentinel/internal/infra/ratelimit"
	"telegram-sentinel/internal/infra/telegram/pending"

	"go.uber.org/zap"
)

// Config — зависимости и параметры окружения веб-сервера.
type Config struct {
	Addr           string
	Production     bool
	SessionSecret  string
	AdminPassword  string
	ViewerPassword string

	Settings *settings.Store
	Messages *msgstore.Store
	Engine   *analysis.Engine
	Monitor  *monitor.Monitor
	Limiter  *ratelimit.Limiter
	Pending  *pending.Registry
}

// Server представляет веб-сервер
type Server struct {
	srv        *http.Server
	auth       *AuthManager
	limiter    *ratelimit.Limiter
	settings   *settings.Store
	messages   *msgstore.Store
	engine     *analysis.Engine
	monitor    *monitor.Monitor
	pending    *pending.Registry
	production bool
	ctx        context.Context
	cancel     context.CancelFunc
}

const (
	readTimeout  = 15 * time.Second
	writeTimeout = 60 * time.Second
	idleTimeout  = 60 * time.Second

	cleanExpiredSessionsInterval = 3 * time.Minute
)

// NewServer создает новый веб-сервер
func NewServer(cfg Config) *Server {
	s := &Server{
		auth:       NewAuthManager(cfg.SessionSecret, cfg.AdminPassword, cfg.ViewerPassword),
		limiter:    cfg.Limiter,
		settings:   cfg.Settings,
		messages:   cfg.Messages,
		engine:     cfg.Engine,
		monitor:    cfg.Monitor,
		pending:    cfg.Pending,
		production: cfg.Production,
	}

	// Настраиваем роутинг
	mux := http.NewServeMux()

	// Публичные эндпоинты (без авторизации)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/login", s.withLimit(ratelimit.ActionLogin, s.handleLogin))

	// Для наблюдателя и админа
	mux.HandleFunc("POST /api/logout", s.withAuth(RoleViewer, s.handleLogout))
	mux.HandleFunc("GET /api/status",
		s.withAuth(RoleViewer, s.withLimit(ratelimit.ActionStatus, s.handleStatus)))
	mux.HandleFunc("GET /api/messages",
		s.withAuth(RoleViewer, s.withLimit(ratelimit.ActionMessages, s.handleMessages)))
	mux.HandleFunc("GET /api/stats",
		s.withAuth(RoleViewer, s.withLimit(ratelimit.ActionStats, s.handleStats)))

	// Только для админа
	mux.HandleFunc("GET /api/settings",
		s.withAuth(RoleAdmin, s.withLimit(ratelimit.ActionSettingsGet, s.handleSettingsGet)))
	mux.HandleFunc("POST /api/settings",
		s.withAuth(RoleAdmin, s.withLimit(ratelimit.ActionSettingsSave, s.handleSettingsSave)))
	mux.HandleFunc("POST /api/session/request-code",
		s.withAuth(RoleAdmin, s.withLimit(ratelimit.ActionSessionRequestCode, s.handleSessionRequestCode)))
	mux.HandleFunc("POST /api/session/complete",
		s.withAuth(RoleAdmin, s.withLimit(ratelimit.ActionSessionComplete, s.handleSessionComplete)))
	mux.HandleFunc("GET /api/telegram/chats",
		s.withAuth(RoleAdmin, s.withLimit(ratelimit.ActionChatSync, s.handleChats)))
	mux.HandleFunc("POST /api/engine/test",
		s.withAuth(RoleAdmin, s.withLimit(ratelimit.ActionEngineTest, s.handleEngineTest)))
	mux.HandleFunc("POST /api/start",
		s.withAuth(RoleAdmin, s.withLimit(ratelimit.ActionEngineControl, s.handleStart)))
	mux.HandleFunc("POST /api/stop",
		s.withAuth(RoleAdmin, s.withLimit(ratelimit.ActionEngineControl, s.handleStop)))

	// HTTP сервер
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      loggingMiddleware(mux),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	return s
}

// Handler возвращает корневой обработчик сервера со всей цепочкой middleware.
// Нужен httptest-тестам.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start запускает веб-сервер
func (s *Server) Start() error {
	logger.Info("Starting web server", zap.String("address", s.srv.Addr))

	// Запускаем фоновую очистку истекших сессий
	s.ctx, s.cancel = context.WithCancel(context.Background())
	go s.cleanupLoop(s.ctx)

	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server error: %w", err)
	}
	return nil
}

// Shutdown корректно останавливает веб-сервер
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down web server...")
	if s.cancel != nil {
		s.cancel()
	}
	return s.srv.Shutdown(ctx)
}

// cleanupLoop периодически очищает истекшие сессии
func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanExpiredSessionsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.auth.CleanExpiredSessions()
		}
	}
}

// handleHealth проверка здоровья сервера
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
