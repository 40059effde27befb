// Package ratelimit реализует пооперационное ограничение частоты запросов
// управляющего API. Модель — фиксированное окно с блокировкой: в пределах
// окна допускается не более max обращений, превышение включает блокировку на
// cooldown. Записи живут в map под мьютексом; протухшие окна сбрасываются при
// обращении, а фоновый уборщик удаляет записи, к которым давно не обращались.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"telegram-sentinel/internal/infra/logger"
)

// Имена действий управляющего API. Ключ записи лимитера складывается из
// действия и ключа актора, поэтому лимиты разных действий не пересекаются.
const (
	ActionLogin              = "login"
	ActionSettingsGet        = "settings_get"
	ActionSettingsSave       = "settings_save"
	ActionSessionRequestCode = "session_request_code"
	ActionSessionComplete    = "session_complete"
	ActionChatSync           = "chat_sync"
	ActionEngineControl      = "engine_control"
	ActionEngineTest         = "engine_test"
	ActionStatus             = "status"
	ActionMessages           = "messages"
	ActionStats              = "stats"
)

// AnonymousActor — ключ актора для неаутентифицированных запросов.
// Такие вызовы делят один общий бюджет вне зависимости от адреса.
const AnonymousActor = "anonymous"

// sweepInterval — период фоновой уборки записей, к которым давно не обращались.
const sweepInterval = time.Minute

// Policy описывает бюджет одного действия: длительность окна, максимум
// обращений в окне, длительность блокировки после превышения и текст ошибки
// для ответа 429.
type Policy struct {
	Window   time.Duration
	Max      int
	Cooldown time.Duration
	Message  string
}

// policies — таблица бюджетов по действиям.
var policies = map[string]Policy{
	ActionLogin:              {Window: 10 * time.Minute, Max: 10, Cooldown: 5 * time.Minute, Message: "too many login attempts, try again later"},
	ActionSettingsGet:        {Window: time.Minute, Max: 60, Cooldown: 10 * time.Second, Message: "too many settings reads"},
	ActionSettingsSave:       {Window: time.Minute, Max: 6, Cooldown: 20 * time.Second, Message: "too many settings updates"},
	ActionSessionRequestCode: {Window: 10 * time.Minute, Max: 2, Cooldown: 15 * time.Minute, Message: "too many verification code requests"},
	ActionSessionComplete:    {Window: 5 * time.Minute, Max: 8, Cooldown: time.Minute, Message: "too many sign-in attempts"},
	ActionChatSync:           {Window: 2 * time.Minute, Max: 2, Cooldown: 90 * time.Second, Message: "too many chat sync requests"},
	ActionEngineControl:      {Window: time.Minute, Max: 6, Cooldown: 30 * time.Second, Message: "too many start/stop commands"},
	ActionEngineTest:         {Window: time.Minute, Max: 8, Cooldown: 30 * time.Second, Message: "too many test runs"},
	ActionStatus:             {Window: time.Minute, Max: 180, Cooldown: 10 * time.Second, Message: "too many requests"},
	ActionMessages:           {Window: time.Minute, Max: 180, Cooldown: 10 * time.Second, Message: "too many requests"},
	ActionStats:              {Window: time.Minute, Max: 180, Cooldown: 10 * time.Second, Message: "too many requests"},
}

// defaultPolicy применяется к действиям, не описанным в таблице.
var defaultPolicy = Policy{Window: time.Minute, Max: 30, Cooldown: 30 * time.Second, Message: "too many requests"}

// PolicyFor возвращает бюджет действия либо консервативный бюджет по умолчанию.
func PolicyFor(action string) Policy {
	if p, ok := policies[action]; ok {
		return p
	}
	return defaultPolicy
}

// ActorKey собирает ключ актора из имени пользователя, идентификатора сессии
// и адреса клиента. Запросы без аутентификации сводятся к общему ключу
// AnonymousActor.
func ActorKey(username, sessionID, remoteAddr string) string {
	if username == "" && sessionID == "" {
		return AnonymousActor
	}
	return username + "|" + sessionID + "|" + remoteAddr
}

// Decision — результат одной попытки потребления бюджета.
// При отказе RetryAfter сообщает, через сколько можно повторить запрос.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// entry хранит состояние одного ключа: начало и длительность текущего окна,
// число обращений в нём и момент окончания блокировки (нулевой, если
// блокировки нет).
type entry struct {
	windowStart  time.Time
	window       time.Duration
	count        int
	blockedUntil time.Time
}

// Option задаёт дополнительные параметры лимитера при создании.
type Option func(*Limiter)

// WithNow подменяет источник времени. Используется в тестах.
func WithNow(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// Limiter — потокобезопасный лимитер с фиксированными окнами.
// Consume может вызываться из нескольких горутин; Start/Stop идемпотентны.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup

	rootCtx context.Context
	cancel  context.CancelFunc
}

// New создаёт лимитер с пустой таблицей записей.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		entries: make(map[string]entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Consume потребляет единицу бюджета действия для актора, используя табличную
// политику действия.
func (l *Limiter) Consume(action, actorKey string) Decision {
	return l.ConsumeWith(action, actorKey, PolicyFor(action))
}

// ConsumeWith потребляет единицу бюджета по явно заданной политике.
// Алгоритм:
//  1. нет записи — создать с count=1 и разрешить;
//  2. блокировка ещё действует — отказать с остатком блокировки;
//  3. окно истекло — начать новое окно с count=1 и разрешить;
//  4. count достиг максимума — включить блокировку на cooldown и отказать;
//  5. иначе увеличить count и разрешить.
func (l *Limiter) ConsumeWith(action, actorKey string, p Policy) Decision {
	if p.Max < 1 {
		p.Max = 1
	}
	if p.Window <= 0 {
		p.Window = defaultPolicy.Window
	}
	if p.Cooldown < 0 {
		p.Cooldown = 0
	}

	key := action + "|" + actorKey
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	switch {
	case !ok:
		l.entries[key] = entry{windowStart: now, window: p.Window, count: 1}
		return Decision{Allowed: true}

	case e.blockedUntil.After(now):
		return Decision{RetryAfter: e.blockedUntil.Sub(now)}

	case now.Sub(e.windowStart) >= p.Window:
		l.entries[key] = entry{windowStart: now, window: p.Window, count: 1}
		return Decision{Allowed: true}

	case e.count >= p.Max:
		e.blockedUntil = now.Add(p.Cooldown)
		l.entries[key] = e
		return Decision{RetryAfter: p.Cooldown}

	default:
		e.count++
		l.entries[key] = e
		return Decision{Allowed: true}
	}
}

// Sweep удаляет записи, у которых истекли и окно, и блокировка.
// Возвращает число удалённых записей. Вызывается фоновым уборщиком,
// но может быть вызван и вручную.
func (l *Limiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, e := range l.entries {
		windowEnded := now.Sub(e.windowStart) >= e.window
		blockEnded := !e.blockedUntil.After(now)
		if windowEnded && blockEnded {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// Size возвращает текущее число записей. Используется в диагностике и тестах.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Start запускает фоновую уборку протухших записей. Метод идемпотентен;
// при ctx=nil используется context.Background().
func (l *Limiter) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	l.startOnce.Do(func() {
		l.rootCtx, l.cancel = context.WithCancel(ctx)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.sweepLoop()
		}()
	})
}

// Stop останавливает фоновую уборку. Повторные вызовы безопасны.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		if l.cancel != nil {
			l.cancel()
		}
		l.wg.Wait()
	})
}

// sweepLoop периодически вызывает Sweep до отмены корневого контекста.
func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.rootCtx.Done():
			return
		case <-ticker.C:
			if removed := l.Sweep(); removed > 0 {
				logger.Debugf("rate limiter sweep removed %d stale entries", removed)
			}
		}
	}
}
