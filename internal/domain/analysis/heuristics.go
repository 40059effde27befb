package analysis

import (
	"math"
	"strings"

	"telegram-sentinel/internal/domain/threat"
)

// heuristicTrace — что именно сработало; уходит в debug-лог движка.
type heuristicTrace struct {
	triggers map[threat.Category][]string
	critical []string
}

// heuristicScores считает эвристические баллы по всем категориям риска.
// Источники, по убыванию веса: пользовательские триггеры (база + шаг за хит),
// встроенные контекстные шаблоны (0.22 за совпадение, потолок 0.9), генерик-
// ключевики в пользу scam и связка «ссылка + платёжный контекст».
func heuristicScores(text string, cfg runtimeConfig) (map[threat.Category]float64, heuristicTrace) {
	scores := zeroScores()
	trace := heuristicTrace{triggers: make(map[threat.Category][]string)}
	if !cfg.heuristicsOn {
		return scores, trace
	}

	for _, cat := range threat.Risks {
		if hits := countPatternHits(text, categoryPatterns[cat]); hits > 0 {
			scores[cat] = math.Max(scores[cat], math.Min(0.9, 0.22*float64(hits)))
		}
	}

	for _, cat := range threat.Risks {
		matched := matchTriggers(text, cfg.triggers[cat])
		if len(matched) == 0 {
			continue
		}
		trace.triggers[cat] = matched
		scores[cat] = math.Max(scores[cat], triggerTable[cat].score(len(matched)))
		if spill, ok := threatSpill[cat]; ok {
			scores[threat.Threat] = math.Max(scores[threat.Threat], spill.score(len(matched)))
		}
	}

	if hits := len(matchTriggers(text, cfg.keywords)); hits > 0 {
		bump := math.Min(0.35+cfg.keywordHitBoost*float64(hits), 0.95)
		scores[threat.Scam] = math.Max(scores[threat.Scam], bump)
	}

	if urlRe.MatchString(text) && hasScamContext(text) {
		scores[threat.Scam] = math.Max(scores[threat.Scam], math.Min(1, 0.6+cfg.urlScamBoost))
	}

	return scores, trace
}

// applyCritical накладывает жёсткие правила: категория поднимается минимум до
// severity правила и не ниже criticalHitFloor. Возвращает имена сработавших
// правил.
func applyCritical(text string, scores map[threat.Category]float64, floor float64) []string {
	var fired []string
	for _, rule := range criticalRules {
		if !rule.re.MatchString(text) {
			continue
		}
		lift := math.Max(rule.severity, floor)
		if scores[rule.category] < lift {
			scores[rule.category] = lift
		}
		fired = append(fired, rule.name)
	}
	return fired
}

// hasScamContext проверяет платёжно-криптовалютный контекст вокруг ссылки.
func hasScamContext(text string) bool {
	lower := strings.ToLower(text)
	for _, term := range scamURLContext {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
