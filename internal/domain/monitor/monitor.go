// Package monitor — runtime мониторинга: машина состояний поверх Telegram-
// клиентов обоих режимов. Start перечитывает настройки, греет классификатор,
// поднимает подходящего клиента и регистрирует обработчик новых сообщений;
// Stop отключает клиента. Работает не более одного экземпляра подписки.
//
// Семантика отказов: любая ошибка старта возвращает состояние в stopped и
// отдаётся вызывающему дословно. Ошибки инференса гасит движок анализа,
// ошибки вставки в журнал логируются и глотаются. Обрывы транспорта не
// переподключаются автоматически — нужен цикл stop+start.
package monitor

import (
	"context"
	"strconv"
	"sync"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"

	"telegram-sentinel/internal/domain/analysis"
	"telegram-sentinel/internal/domain/settings"
	"telegram-sentinel/internal/infra/classifiers"
	"telegram-sentinel/internal/infra/logger"
	"telegram-sentinel/internal/infra/msgstore"
	"telegram-sentinel/internal/infra/telegram/botclient"
	"telegram-sentinel/internal/infra/telegram/userclient"
)

// State — фаза жизненного цикла мониторинга.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Status — снимок для /api/status. Threshold — доля в (0,1).
type Status struct {
	IsRunning bool
	Model     string
	Threshold float64
}

// Config — зависимости монитора. PeersPath может быть пустым: тогда кэш
// пиров в режиме пользователя не ведётся.
type Config struct {
	Settings  *settings.Store
	Messages  *msgstore.Store
	Engine    *analysis.Engine
	Cache     *classifiers.Cache
	PeersPath string
}

// Monitor владеет активным Telegram-клиентом и фильтром событий.
type Monitor struct {
	settings  *settings.Store
	messages  *msgstore.Store
	engine    *analysis.Engine
	cache     *classifiers.Cache
	peersPath string

	mu          sync.Mutex
	state       State
	model       string
	threshold   float64
	allMessages bool
	targets     map[string]struct{}
	userClient  *userclient.Client
	botClient   *botclient.Client
}

// New строит монитор в состоянии stopped.
func New(cfg Config) *Monitor {
	return &Monitor{
		settings:  cfg.Settings,
		messages:  cfg.Messages,
		engine:    cfg.Engine,
		cache:     cfg.Cache,
		peersPath: cfg.PeersPath,
		state:     StateStopped,
	}
}

// Start запускает мониторинг: накладывает overrides на настройки с
// персистом, греет классификатор выбранной модели и поднимает клиента
// активного режима. Повторный Start при живом мониторинге — ошибка.
func (m *Monitor) Start(ctx context.Context, overrides map[string]any) error {
	m.mu.Lock()
	if m.state != StateStopped {
		m.mu.Unlock()
		return errors.New("already running")
	}
	m.state = StateStarting
	m.mu.Unlock()

	err := m.startLocked(ctx, overrides)

	m.mu.Lock()
	if err != nil {
		m.state = StateStopped
		m.userClient = nil
		m.botClient = nil
	} else {
		m.state = StateRunning
	}
	m.mu.Unlock()

	if err == nil {
		logger.Info("monitoring started")
	}
	return err
}

// startLocked выполняет процедуру старта; состояние starting уже выставлено.
func (m *Monitor) startLocked(ctx context.Context, overrides map[string]any) error {
	s, err := m.settings.Update(overrides)
	if err != nil {
		return err
	}

	if _, err := m.cache.Get(ctx, s.MLModel); err != nil {
		return errors.Wrapf(err, "load classifier %s", s.MLModel)
	}

	// Фильтр и параметры статуса публикуются до подключения клиента:
	// первые события могут прийти сразу после установления соединения.
	m.mu.Lock()
	m.model = s.MLModel
	m.threshold = float64(s.ThreatThreshold) / 100
	m.allMessages = s.AuthMode == settings.AuthModeUser && s.UserAuthAllMessages
	m.targets = targetSet(s.ActiveTargets())
	m.mu.Unlock()

	if s.AuthMode == settings.AuthModeUser {
		return m.startUserMode(ctx, s)
	}
	return m.startBotMode(ctx, s)
}

// startBotMode проверяет токен и поднимает длинный опрос Bot API.
func (m *Monitor) startBotMode(ctx context.Context, s settings.Settings) error {
	if _, err := botclient.Validate(ctx, s.BotToken); err != nil {
		return err
	}

	client, err := botclient.New(s.BotToken, m.onBotUpdate)
	if err != nil {
		return err
	}
	if err := client.Start(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.botClient = client
	m.mu.Unlock()
	return nil
}

// startUserMode подключает MTProto-клиента по строке сессии. Неавторизованная
// сессия и сессия бота отклоняются внутри клиента; ротация строки сессии при
// подключении сохраняется в настройки.
func (m *Monitor) startUserMode(ctx context.Context, s settings.Settings) error {
	if s.SessionString == "" {
		return errors.New("user session is not configured, generate a session string first")
	}
	apiID, err := strconv.Atoi(s.APIID)
	if err != nil || apiID <= 0 {
		return errors.New("apiId must be a positive integer")
	}
	if s.APIHash == "" {
		return errors.New("apiHash is required")
	}

	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewMessage(m.onNewMessage)
	dispatcher.OnNewChannelMessage(m.onNewChannelMessage)

	client, err := userclient.New(userclient.Config{
		APIID:         apiID,
		APIHash:       s.APIHash,
		SessionString: s.SessionString,
		Handler:       dispatcher,
		PeersPath:     m.peersPath,
	})
	if err != nil {
		return err
	}
	if err := client.Start(ctx); err != nil {
		return err
	}

	if encoded, changed := client.SessionString(); changed && encoded != "" {
		if _, err := m.settings.Update(map[string]any{"sessionString": encoded}); err != nil {
			logger.Warnf("rotated session string was not persisted: %v", err)
		} else {
			logger.Info("session string rotated during connect, settings updated")
		}
	}

	m.mu.Lock()
	m.userClient = client
	m.mu.Unlock()
	return nil
}

// Stop отключает активного клиента (best-effort) и возвращает монитор в
// stopped. Остановка уже остановленного монитора — no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return
	}
	m.state = StateStopping
	uc, bc := m.userClient, m.botClient
	m.userClient, m.botClient = nil, nil
	m.mu.Unlock()

	if uc != nil {
		uc.Stop()
	}
	if bc != nil {
		bc.Stop()
	}

	m.mu.Lock()
	m.state = StateStopped
	m.mu.Unlock()
	logger.Info("monitoring stopped")
}

// Status отдаёт снимок для API. До первого старта модель и порог берутся из
// текущих настроек.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	state, model, threshold := m.state, m.model, m.threshold
	m.mu.Unlock()

	if model == "" {
		s := m.settings.Current()
		model = s.MLModel
		threshold = float64(s.ThreatThreshold) / 100
	}
	return Status{
		IsRunning: state == StateRunning,
		Model:     model,
		Threshold: threshold,
	}
}

// UserClient возвращает живого MTProto-клиента, если мониторинг работает в
// режиме пользователя. Синхронизация чатов обязана использовать его вместо
// второго подключения той же сессией: параллельные клиенты на одном ключе
// авторизации приводят к AUTH_KEY_DUPLICATED и отзыву сессии.
func (m *Monitor) UserClient() *userclient.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRunning {
		return nil
	}
	return m.userClient
}

// allows сообщает, проходит ли чат фильтр событий. Пустой список целей
// означает отсутствие фильтра.
func (m *Monitor) allows(chatID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allMessages || len(m.targets) == 0 {
		return true
	}
	_, ok := m.targets[chatID]
	return ok
}

func targetSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
