// Package userclient собирает MTProto-клиент gotd для работы от имени
// пользовательского аккаунта: мониторинг целевых чатов, перечисление диалогов
// и выдача кода подтверждения при выпуске новой сессии. Клиент живёт в фоне
// и сигнализирует о готовности после проверки авторизации; сессия хранится
// как base64-строка в документе настроек, метаданные пиров кэшируются в bbolt.
package userclient

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"
	"golang.org/x/time/rate"

	boltstor "github.com/gotd/contrib/bbolt"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"telegram-sentinel/internal/infra/logger"
	"telegram-sentinel/internal/infra/storage"
	"telegram-sentinel/internal/infra/telegram/session"
)

const (
	// requestsPerSecond ограничивает исходящие RPC; burst = 2*rate.
	requestsPerSecond = 10

	deviceModel   = "TelegramSentinel"
	systemVersion = "Linux"
	appVersion    = "1.0.0"

	peersBucket   = "peers"
	dbOpenTimeout = time.Second
	dbFileMode    = 0o600
)

// Config описывает параметры сборки клиента. Handler и PeersPath нужны только
// мониторингу; клиент логина обходится без них.
type Config struct {
	APIID         int
	APIHash       string
	SessionString string
	Handler       telegram.UpdateHandler
	PeersPath     string
}

// Client — обёртка над telegram.Client с фоновым циклом запуска.
// Start блокируется до готовности соединения, Stop гасит цикл и ждёт выхода.
type Client struct {
	tg      *telegram.Client
	sess    *session.StringStorage
	waiter  *floodwait.Waiter
	peersDB *bbolt.DB
	closeDB sync.Once

	mu     sync.Mutex
	self   *tg.User
	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

// New собирает клиент: строковая сессия, middleware floodwait и ratelimit,
// паспорт устройства. При заданных Handler и PeersPath обработчик апдейтов
// оборачивается хуком, персистирующим пиров в bbolt.
func New(cfg Config) (*Client, error) {
	if cfg.APIID <= 0 {
		return nil, errors.New("apiId must be a positive integer")
	}
	if cfg.APIHash == "" {
		return nil, errors.New("apiHash is required")
	}

	sess, err := session.NewStringStorage(cfg.SessionString)
	if err != nil {
		return nil, err
	}

	waiter := floodwait.NewWaiter()
	handler := cfg.Handler

	var db *bbolt.DB
	if cfg.PeersPath != "" && handler != nil {
		if err := storage.EnsureDir(cfg.PeersPath); err != nil {
			return nil, err
		}
		db, err = bbolt.Open(cfg.PeersPath, dbFileMode, &bbolt.Options{Timeout: dbOpenTimeout})
		if err != nil {
			return nil, errors.Wrap(err, "open peers cache")
		}
		handler = contribstorage.UpdateHook(handler, boltstor.NewPeerStorage(db, []byte(peersBucket)))
	}

	options := telegram.Options{
		SessionStorage: sess,
		UpdateHandler:  handler,
		Middlewares: []telegram.Middleware{
			waiter,
			ratelimit.New(rate.Limit(requestsPerSecond), requestsPerSecond*2),
		},
		Device: telegram.DeviceConfig{
			DeviceModel:   deviceModel,
			SystemVersion: systemVersion,
			AppVersion:    appVersion,
		},
	}

	return &Client{
		tg:      telegram.NewClient(cfg.APIID, cfg.APIHash, options),
		sess:    sess,
		waiter:  waiter,
		peersDB: db,
	}, nil
}

// Start подключает клиент в режиме мониторинга: требует авторизованную
// пользовательскую сессию. Блокируется до готовности либо до первой ошибки;
// после успешного старта фоновый цикл живёт до вызова Stop.
func (c *Client) Start(ctx context.Context) error {
	return c.start(ctx, c.checkAuthorization)
}

// Connect подключает одноразовый клиент для прямых вызовов API (например,
// перечисления диалогов). Сессия должна быть авторизована, но принадлежность
// аккаунта боту здесь не проверяется: серверная ошибка BOT_METHOD_INVALID
// на неподходящем запросе информативнее отказа на старте. Вызывающий обязан
// остановить клиент через Stop.
func Connect(ctx context.Context, apiID int, apiHash, sessionString string) (*Client, error) {
	c, err := New(Config{APIID: apiID, APIHash: apiHash, SessionString: sessionString})
	if err != nil {
		return nil, err
	}
	if err := c.start(ctx, c.checkAuthorized); err != nil {
		return nil, err
	}
	return c, nil
}

// start запускает фоновый цикл waiter+client и ждёт сигнала готовности.
// check выполняется внутри установленного соединения до сигнала готовности;
// nil означает «подключиться без проверок» (клиент логина).
func (c *Client) start(ctx context.Context, check func(context.Context) error) error {
	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return errors.New("client is already running")
	}
	done := make(chan struct{})
	runCtx, cancel := context.WithCancel(context.Background())
	c.done = done
	c.cancel = cancel
	c.mu.Unlock()

	ready := make(chan struct{})

	go func() {
		defer close(done)
		err := c.waiter.Run(runCtx, func(ctx context.Context) error {
			return c.tg.Run(ctx, func(ctx context.Context) error {
				if check != nil {
					if err := check(ctx); err != nil {
						return err
					}
				}
				close(ready)
				<-ctx.Done()
				return ctx.Err()
			})
		})
		c.mu.Lock()
		c.runErr = err
		c.mu.Unlock()
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("telegram client run loop exited: %v", err)
		}
	}()

	select {
	case <-ready:
		return nil

	case <-done:
		cancel()
		err := c.lastRunError()
		c.clearRunState()
		if err == nil || errors.Is(err, context.Canceled) {
			err = errors.New("telegram client stopped before becoming ready")
		}
		return err

	case <-ctx.Done():
		cancel()
		<-done
		c.clearRunState()
		return ctx.Err()
	}
}

// checkAuthorized проверяет только факт авторизации сессии.
func (c *Client) checkAuthorized(ctx context.Context) error {
	status, err := c.tg.Auth().Status(ctx)
	if err != nil {
		return errors.Wrap(err, "auth status")
	}
	if !status.Authorized {
		return errors.New("telegram session is not authorized, sign in first")
	}
	return nil
}

// checkAuthorization разрешает мониторинг только авторизованной сессии
// пользовательского аккаунта.
func (c *Client) checkAuthorization(ctx context.Context) error {
	if err := c.checkAuthorized(ctx); err != nil {
		return err
	}

	self, err := c.tg.Self(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch self")
	}
	if self.Bot {
		return errors.New("session belongs to a bot account, user mode needs a user session")
	}

	c.mu.Lock()
	c.self = self
	c.mu.Unlock()

	logger.Infof("user client connected as %s (id=%d)", displayName(self), self.ID)
	return nil
}

// Stop гасит фоновый цикл и закрывает кэш пиров. Повторные вызовы безопасны.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	c.closeDB.Do(func() {
		if c.peersDB != nil {
			if err := c.peersDB.Close(); err != nil {
				logger.Warnf("close peers cache: %v", err)
			}
		}
	})
}

// API возвращает RPC-клиент Telegram.
func (c *Client) API() *tg.Client {
	return c.tg.API()
}

// Self возвращает профиль авторизованного аккаунта (после успешного Start).
func (c *Client) Self() *tg.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// SessionString возвращает текущую строку сессии и признак того, что gotd
// перезаписал её в ходе подключения: тогда строку нужно сохранить в настройки.
func (c *Client) SessionString() (string, bool) {
	return c.sess.Encoded(), c.sess.Changed()
}

func (c *Client) lastRunError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runErr
}

func (c *Client) clearRunState() {
	c.mu.Lock()
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()
}

// displayName собирает человекочитаемое имя пользователя.
func displayName(u *tg.User) string {
	if u == nil {
		return ""
	}
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		name = u.Username
	}
	return name
}
