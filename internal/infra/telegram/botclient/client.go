// Package botclient реализует работу через Bot HTTP API: проверку токена,
// приём сообщений длинным опросом и сбор списка чатов, где бот состоит.
// Используется в режиме authMode=bot и как запасной путь синхронизации
// чатов, когда пользовательская сессия не может перечислить диалоги.
package botclient

import (
	"context"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"telegram-sentinel/internal/infra/logger"
)

// UpdateHandler вызывается для каждого апдейта, полученного длинным опросом.
type UpdateHandler func(ctx context.Context, update *models.Update)

// Validate проверяет токен запросом getMe и возвращает учётку бота.
func Validate(ctx context.Context, token string) (*models.User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("bot token is empty")
	}
	b, err := bot.New(token)
	if err != nil {
		return nil, errors.Wrap(err, "create bot client")
	}
	me, err := b.GetMe(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "validate bot token")
	}
	return me, nil
}

// Client держит длинный опрос Bot API и передаёт апдейты обработчику.
type Client struct {
	bot *bot.Bot

	mu     sync.Mutex
	self   *models.User
	cancel context.CancelFunc
	done   chan struct{}
}

// New строит клиента с обработчиком по умолчанию. Сетевых запросов,
// кроме внутренней проверки токена самой библиотекой, здесь нет.
func New(token string, handler UpdateHandler) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("bot token is empty")
	}
	if handler == nil {
		return nil, errors.New("update handler is required")
	}
	b, err := bot.New(token, bot.WithDefaultHandler(func(ctx context.Context, _ *bot.Bot, update *models.Update) {
		handler(ctx, update)
	}))
	if err != nil {
		return nil, errors.Wrap(err, "create bot client")
	}
	return &Client{bot: b}, nil
}

// Start сверяет токен через getMe и запускает длинный опрос в фоне.
// Переданный контекст ограничивает только фазу подключения: опрос живёт
// до вызова Stop.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return errors.New("bot client is already running")
	}

	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return errors.Wrap(err, "validate bot token")
	}
	c.self = me

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		c.bot.Start(runCtx)
	}(c.done)

	logger.Infof("bot client connected as @%s (id=%d)", me.Username, me.ID)
	return nil
}

// Stop останавливает опрос и дожидается выхода фоновой горутины.
// Повторные вызовы безопасны.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Self возвращает учётку бота, полученную при запуске.
func (c *Client) Self() *models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}
