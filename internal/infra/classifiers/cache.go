// Package classifiers — кэш готовых классификаторов поверх inference-сайдкара.
// Инстанцирование модели дорогое (скачивание и загрузка весов на стороне
// сайдкара), поэтому на каждый id поднимается ровно один прогрев, а
// конкурентные запросы ждут его результата.
package classifiers

import (
	"context"
	"sync"

	"github.com/go-faster/errors"

	"telegram-sentinel/internal/domain/models"
	"telegram-sentinel/internal/infra/inference"
	"telegram-sentinel/internal/infra/logger"
)

// warmupText — минимальный вход для прогрева: заставляет сайдкар загрузить
// веса до первого боевого сообщения.
const warmupText = "ok"

// Classifier — готовая к работе модель: спека из каталога плюс клиент сайдкара.
type Classifier struct {
	model    models.Model
	client   *inference.Client
	cacheDir string
}

// Model возвращает спеку модели из каталога.
func (c *Classifier) Model() models.Model {
	return c.model
}

// Classify прогоняет текст через пайплайн модели. Для text-classification
// передаётся topK, для zero-shot — кандидаты и шаблон гипотезы из каталога.
func (c *Classifier) Classify(ctx context.Context, text string, topK int) ([]inference.Prediction, error) {
	req := inference.Request{
		Task:       string(c.model.Task),
		Model:      c.model.Repo,
		Text:       text,
		WeightFile: c.model.Options.WeightFile,
		Subfolder:  c.model.Options.Subfolder,
		DType:      c.model.Options.DType,
		CacheDir:   c.cacheDir,
	}
	if c.model.Task == models.TaskZeroShot && c.model.ZeroShot != nil {
		req.CandidateLabels = c.model.ZeroShot.CandidateLabels()
		req.HypothesisTemplate = c.model.ZeroShot.Hypothesis
		req.MultiLabel = c.model.ZeroShot.MultiLabel
	} else {
		req.TopK = topK
	}
	return c.client.Classify(ctx, req)
}

// loadCall — одна попытка инстанцирования; done закрывается после заполнения
// полей результата.
type loadCall struct {
	done chan struct{}
	c    *Classifier
	err  error
}

// Cache выдаёт классификаторы по id модели. Успешные инстансы живут до
// остановки процесса, вытеснения нет: каталог маленький, модели тяжёлые.
type Cache struct {
	client   *inference.Client
	cacheDir string

	mu       sync.Mutex
	ready    map[string]*Classifier
	inflight map[string]*loadCall
}

// NewCache строит кэш поверх клиента сайдкара. cacheDir пробрасывается в
// сайдкар как каталог весов (MODEL_CACHE_DIR).
func NewCache(client *inference.Client, cacheDir string) *Cache {
	return &Cache{
		client:   client,
		cacheDir: cacheDir,
		ready:    make(map[string]*Classifier),
		inflight: make(map[string]*loadCall),
	}
}

// Get возвращает классификатор модели, прогревая её при первом обращении.
// Конкурентные Get одного id делят один прогрев; его ошибка уходит всем
// ожидающим и НЕ кэшируется — следующий Get пробует заново.
func (cc *Cache) Get(ctx context.Context, modelID string) (*Classifier, error) {
	id := models.NormalizeID(modelID)

	cc.mu.Lock()
	if c, ok := cc.ready[id]; ok {
		cc.mu.Unlock()
		return c, nil
	}
	if call, ok := cc.inflight[id]; ok {
		cc.mu.Unlock()
		select {
		case <-call.done:
			return call.c, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &loadCall{done: make(chan struct{})}
	cc.inflight[id] = call
	cc.mu.Unlock()

	call.c, call.err = cc.load(ctx, id)

	cc.mu.Lock()
	delete(cc.inflight, id)
	if call.err == nil {
		cc.ready[id] = call.c
	}
	cc.mu.Unlock()
	close(call.done)

	return call.c, call.err
}

// load строит классификатор и делает прогревочный вызов.
func (cc *Cache) load(ctx context.Context, id string) (*Classifier, error) {
	m, ok := models.ByID(id)
	if !ok {
		return nil, errors.Errorf("unknown model %q", id)
	}
	c := &Classifier{model: m, client: cc.client, cacheDir: cc.cacheDir}
	if _, err := c.Classify(ctx, warmupText, 1); err != nil {
		return nil, errors.Wrapf(err, "warm up model %s", id)
	}
	logger.Infof("classifier %s ready", id)
	return c, nil
}
