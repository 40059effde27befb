// Package analysis — гибридный движок классификации сообщений.
//
// Назначение:
//   На вход подаётся текст сообщения и актуальные настройки, на выходе —
//   вердикт по семи категориям (safe + шесть рисков) с разбивкой баллов по
//   источникам. Итог смешивается из двух независимых сигналов: ML-модели
//   (через inference-сайдкар) и эвристик (триггеры, контекстные шаблоны,
//   критические правила).
//
// Конвейер анализа одного текста:
//  1. нормализация конфигурации: веса приводятся к сумме 1, проценты — к
//     долям, списки триггеров чистятся повторно;
//  2. эвристический скоринг по категориям;
//  3. критические правила поднимают категорию минимум до своей severity;
//  4. модельный скоринг: метки классификатора отображаются в категории,
//     безопасные метки дают safeScore;
//  5. затухание: модельные баллы умножаются на (1 − 0.65·safeScore);
//  6. смешивание modelWeight·model + heuristicWeight·heuristic с зажимом в [0,1];
//  7. восстановление критических: категория с эвристикой ≥ criticalHitFloor
//     не может опуститься ниже неё после смешивания;
//  8. решение: категории сортируются по баллу, берётся первая, прошедшая свой
//     порог; иначе safe со score = max(0.05, 1 − topScore).
//
// Инварианты:
//   - пустой или пробельный текст → safe с уверенностью 0.99, нулевые баллы;
//   - ошибка классификатора не фатальна: движок переходит на чистые
//     эвристики (веса 0/1) с warn-логом;
//   - эвристики видят полный текст, модель — усечённый до maxAnalysisChars.
package analysis

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/go-faster/errors"

	"telegram-sentinel/internal/domain/models"
	"telegram-sentinel/internal/domain/settings"
	"telegram-sentinel/internal/domain/threat"
	"telegram-sentinel/internal/infra/classifiers"
	"telegram-sentinel/internal/infra/logger"
	"telegram-sentinel/internal/support/debug"
)

// Result — вердикт движка по одному тексту.
type Result struct {
	Type            threat.Category             `json:"type"`
	Score           float64                     `json:"score"`
	Scores          map[threat.Category]float64 `json:"scores"`
	HeuristicScores map[threat.Category]float64 `json:"heuristicScores"`
	ModelScores     map[threat.Category]float64 `json:"modelScores"`
	Thresholds      map[threat.Category]float64 `json:"thresholds"`
}

// Engine связывает кэш классификаторов с алгоритмом скоринга. Сам движок
// состояния не держит: вся конфигурация приходит аргументом Analyze.
type Engine struct {
	cache *classifiers.Cache
}

// NewEngine строит движок поверх кэша классификаторов. nil-кэш допустим:
// модельный скоринг будет считаться недоступным, работают только эвристики.
func NewEngine(cache *classifiers.Cache) *Engine {
	return &Engine{cache: cache}
}

// runtimeConfig — конфигурация одного вызова Analyze, уже в долях и с
// вычищенными списками.
type runtimeConfig struct {
	model            models.Model
	modelWeight      float64
	heuristicWeight  float64
	heuristicsOn     bool
	criticalsOn      bool
	topK             int
	maxChars         int
	urlScamBoost     float64
	keywordHitBoost  float64
	criticalHitFloor float64
	thresholds       map[threat.Category]float64
	triggers         map[threat.Category][]string
	keywords         []string
}

// Analyze классифицирует текст при текущих настройках. Ошибок не возвращает:
// любой сбой модельной части деградирует до эвристик.
func (e *Engine) Analyze(ctx context.Context, text string, s settings.Settings) Result {
	cfg := deriveConfig(s)

	if strings.TrimSpace(text) == "" {
		return Result{
			Type:            threat.Safe,
			Score:           0.99,
			Scores:          zeroScores(),
			HeuristicScores: zeroScores(),
			ModelScores:     zeroScores(),
			Thresholds:      cfg.thresholds,
		}
	}

	heur, trace := heuristicScores(text, cfg)
	if cfg.criticalsOn {
		trace.critical = applyCritical(text, heur, cfg.criticalHitFloor)
	}

	modelWeight, heuristicWeight := cfg.modelWeight, cfg.heuristicWeight
	model := zeroScores()
	safeScore := 0.0
	if modelWeight > 0 {
		var err error
		model, safeScore, err = e.modelScores(ctx, text, cfg)
		if err != nil {
			logger.Warnf("model scoring unavailable, deciding on heuristics alone: %v", err)
			model = zeroScores()
			safeScore = 0
			modelWeight, heuristicWeight = 0, 1
		}
	}

	attenuation := 1 - 0.65*safeScore
	final := make(map[threat.Category]float64, len(threat.Risks))
	for _, cat := range threat.Risks {
		blended := modelWeight*model[cat]*attenuation + heuristicWeight*heur[cat]
		final[cat] = clamp01(blended)
	}
	if cfg.criticalsOn {
		for _, cat := range threat.Risks {
			if heur[cat] >= cfg.criticalHitFloor && final[cat] < heur[cat] {
				final[cat] = heur[cat]
			}
		}
	}

	order := decisionOrder(final)
	verdict := threat.Safe
	score := 0.0
	for _, cat := range order {
		if final[cat] >= cfg.thresholds[cat] {
			verdict = cat
			score = final[cat]
			break
		}
	}
	if verdict == threat.Safe {
		score = math.Max(0.05, 1-final[order[0]])
	}

	if logger.IsDebugEnabled() {
		logger.Debugf("analysis verdict=%s score=%.2f triggers=%v critical=%v",
			verdict, score, trace.triggers, trace.critical)
	}

	return Result{
		Type:            verdict,
		Score:           score,
		Scores:          final,
		HeuristicScores: heur,
		ModelScores:     model,
		Thresholds:      cfg.thresholds,
	}
}

// deriveConfig готовит конфигурацию вызова из документа настроек.
func deriveConfig(s settings.Settings) runtimeConfig {
	model, ok := models.ByID(s.MLModel)
	if !ok {
		model = models.Default()
	}

	modelWeight, heuristicWeight := blendWeights(
		float64(s.ModelWeight)/100,
		float64(s.HeuristicWeight)/100,
		s.EnableHeuristics,
	)

	thresholds := make(map[threat.Category]float64, len(threat.Risks))
	for _, cat := range threat.Risks {
		thresholds[cat] = s.ThresholdFor(cat)
	}

	return runtimeConfig{
		model:            model,
		modelWeight:      modelWeight,
		heuristicWeight:  heuristicWeight,
		heuristicsOn:     s.EnableHeuristics,
		criticalsOn:      s.EnableCriticalPatterns,
		topK:             s.ModelTopK,
		maxChars:         s.MaxAnalysisChars,
		urlScamBoost:     float64(s.URLScamBoost) / 100,
		keywordHitBoost:  float64(s.KeywordHitBoost) / 100,
		criticalHitFloor: float64(s.CriticalHitFloor) / 100,
		thresholds:       thresholds,
		triggers: map[threat.Category][]string{
			threat.Toxicity:    lowerDedupe(s.ToxicityTriggers),
			threat.Threat:      lowerDedupe(s.ThreatTriggers),
			threat.Scam:        lowerDedupe(s.ScamTriggers),
			threat.Recruitment: lowerDedupe(s.RecruitmentTriggers),
			threat.Drugs:       lowerDedupe(s.DrugTriggers),
			threat.Terrorism:   lowerDedupe(s.TerrorismTriggers),
		},
		keywords: lowerDedupe(s.Keywords),
	}
}

// blendWeights нормализует веса источников к сумме 1. Выключенные эвристики
// отдают всё модели; двойной ноль — запасная пара (0.55, 0.45).
func blendWeights(model, heuristic float64, heuristicsOn bool) (float64, float64) {
	if !heuristicsOn {
		return 1.0, 0.0
	}
	sum := model + heuristic
	if sum <= 0 {
		return 0.55, 0.45
	}
	return model / sum, heuristic / sum
}

// modelScores вызывает классификатор и раскладывает метки по категориям.
// Возвращает также safeScore — максимум уверенности «безопасных» меток.
func (e *Engine) modelScores(ctx context.Context, text string, cfg runtimeConfig) (map[threat.Category]float64, float64, error) {
	if e.cache == nil {
		return zeroScores(), 0, errors.New("classifier cache is not configured")
	}
	cls, err := e.cache.Get(ctx, cfg.model.ID)
	if err != nil {
		return zeroScores(), 0, err
	}
	preds, err := cls.Classify(ctx, truncateRunes(text, cfg.maxChars), cfg.topK)
	if err != nil {
		return zeroScores(), 0, err
	}
	debug.Dump("model predictions", preds)

	scores := zeroScores()
	safeScore := 0.0
	for _, p := range preds {
		cat, kind := mapLabel(cfg.model, p.Label)
		switch kind {
		case labelSafe:
			safeScore = math.Max(safeScore, clamp01(p.Score))
		case labelRisk:
			scores[cat] = math.Max(scores[cat], clamp01(p.Score))
		}
	}
	return scores, safeScore, nil
}

// decisionOrder сортирует категории по убыванию балла; при равенстве
// сохраняется фиксированный порядок threat.Risks.
func decisionOrder(scores map[threat.Category]float64) []threat.Category {
	order := append([]threat.Category(nil), threat.Risks...)
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})
	return order
}

// zeroScores — карта всех категорий риска с нулями.
func zeroScores() map[threat.Category]float64 {
	m := make(map[threat.Category]float64, len(threat.Risks))
	for _, cat := range threat.Risks {
		m[cat] = 0
	}
	return m
}

// lowerDedupe повторно чистит список триггеров: движок не доверяет вызывающему
// (engine/test может передать сырые настройки).
func lowerDedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, raw := range in {
		t := strings.ToLower(strings.TrimSpace(raw))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// truncateRunes усекает строку до max рун, не разрывая UTF-8.
func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
