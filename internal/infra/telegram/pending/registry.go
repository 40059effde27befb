// Package pending хранит незавершённые авторизации пользовательского аккаунта
// между запросом кода и его подтверждением. Записи живут в памяти не дольше
// TTL; вытеснение по возрасту гасит живой MTProto-клиент по принципу
// best-effort. Уборка выполняется при каждом обращении и фоновым тиком.
package pending

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"telegram-sentinel/internal/infra/logger"
)

// TTL — максимальный возраст незавершённой авторизации.
const TTL = 15 * time.Minute

// sweepInterval — период фоновой уборки просроченных записей.
const sweepInterval = time.Minute

// Stopper гасит живое подключение при вытеснении записи из реестра.
type Stopper interface {
	Stop()
}

// Entry — одна незавершённая авторизация: живой клиент, реквизиты приложения
// и контекст отправленного кода. Client хранится как Stopper; владелец записи
// приводит его обратно к конкретному типу после Take.
type Entry struct {
	RequestID     string
	Client        Stopper
	APIID         int
	APIHash       string
	PhoneNumber   string
	PhoneCodeHash string
	CreatedAt     time.Time
}

// Option задаёт дополнительные параметры реестра при создании.
type Option func(*Registry)

// WithNow подменяет источник времени. Используется в тестах.
func WithNow(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry — потокобезопасный реестр незавершённых авторизаций.
// Start/Stop идемпотентны; Stop дополнительно гасит оставшиеся клиенты.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup

	rootCtx context.Context
	cancel  context.CancelFunc
}

// New создаёт пустой реестр.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Put регистрирует новую авторизацию, назначая ей requestId и время создания.
// Возвращает назначенный requestId.
func (r *Registry) Put(e Entry) string {
	r.Sweep()

	e.RequestID = uuid.NewString()
	e.CreatedAt = r.now()

	r.mu.Lock()
	r.entries[e.RequestID] = e
	r.mu.Unlock()

	return e.RequestID
}

// Take изымает запись по requestId. Изъятая запись больше не принадлежит
// реестру: её клиент не будет погашен при уборке.
func (r *Registry) Take(requestID string) (Entry, bool) {
	r.Sweep()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[requestID]
	if !ok {
		return Entry{}, false
	}
	delete(r.entries, requestID)
	return e, true
}

// Reinstate возвращает изъятую запись обратно под прежним requestId,
// сохраняя исходное время создания: TTL отсчитывается от первого Put.
// Используется при повторном входе после требования 2FA-пароля.
func (r *Registry) Reinstate(e Entry) {
	if e.RequestID == "" {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}

	r.mu.Lock()
	r.entries[e.RequestID] = e
	r.mu.Unlock()
}

// Size возвращает число зарегистрированных авторизаций.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep удаляет записи старше TTL и гасит их клиентов вне блокировки.
// Возвращает число вытесненных записей.
func (r *Registry) Sweep() int {
	now := r.now()

	r.mu.Lock()
	var evicted []Entry
	for id, e := range r.entries {
		if now.Sub(e.CreatedAt) >= TTL {
			delete(r.entries, id)
			evicted = append(evicted, e)
		}
	}
	r.mu.Unlock()

	for _, e := range evicted {
		logger.Infof("pending login %s expired, disconnecting client", e.RequestID)
		stopClient(e)
	}
	return len(evicted)
}

// Start запускает фоновую уборку. Метод идемпотентен; при ctx=nil
// используется context.Background().
func (r *Registry) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	r.startOnce.Do(func() {
		r.rootCtx, r.cancel = context.WithCancel(ctx)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.sweepLoop()
		}()
	})
}

// Stop останавливает уборку и гасит всех оставшихся клиентов.
// Повторные вызовы безопасны.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()

		r.mu.Lock()
		remaining := make([]Entry, 0, len(r.entries))
		for id, e := range r.entries {
			delete(r.entries, id)
			remaining = append(remaining, e)
		}
		r.mu.Unlock()

		for _, e := range remaining {
			stopClient(e)
		}
	})
}

// sweepLoop периодически вызывает Sweep до отмены корневого контекста.
func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.rootCtx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// stopClient гасит клиент записи, если он есть.
func stopClient(e Entry) {
	if e.Client != nil {
		e.Client.Stop()
	}
}
