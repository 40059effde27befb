package analysis

import (
	"strings"

	"telegram-sentinel/internal/domain/models"
	"telegram-sentinel/internal/domain/threat"
)

// labelKind — роль сырой метки классификатора в скоринге.
type labelKind int

const (
	labelUnknown labelKind = iota // метка не распознана, в скоринг не идёт
	labelSafe                     // «безопасный» сигнал, гасит модельные баллы
	labelRisk                     // голос за конкретную категорию риска
)

// genericSafeLabels — метки, трактуемые как «безопасно» у любой модели.
// Сравнение точное, по нормализованной форме: подстрочный матч ловил бы
// "toxic" внутри "non-toxic".
var genericSafeLabels = map[string]struct{}{
	"non-toxic": {},
	"not-toxic": {},
	"safe":      {},
	"neutral":   {},
	"normal":    {},
	"benign":    {},
	"label-0":   {},
	"no":        {},
	"ok":        {},
}

// genericHints — подстрока в метке → категория. Применяются, когда у модели
// нет собственной подсказки. Порядок фиксирован, первое совпадение
// выигрывает.
var genericHints = []struct {
	substr string
	cat    threat.Category
}{
	{"toxic", threat.Toxicity},
	{"insult", threat.Toxicity},
	{"obscen", threat.Toxicity},
	{"hate", threat.Toxicity},
	{"offens", threat.Toxicity},
	{"threat", threat.Threat},
	{"danger", threat.Threat},
	{"violen", threat.Threat},
	{"scam", threat.Scam},
	{"fraud", threat.Scam},
	{"spam", threat.Scam},
	{"phish", threat.Scam},
	{"recruit", threat.Recruitment},
	{"drug", threat.Drugs},
	{"narcot", threat.Drugs},
	{"terror", threat.Terrorism},
	{"extrem", threat.Terrorism},
}

// normalizeLabel приводит метку к сравнимой форме: нижний регистр,
// подчёркивания в дефисы (LABEL_1 → label-1).
func normalizeLabel(label string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(label)), "_", "-")
}

// mapLabel переводит сырую метку модели во внутреннюю категорию.
//
// Порядок разрешения:
//  1. zero-shot: точное соответствие кандидатной метке из каталога;
//  2. собственные safe-подсказки модели (до labelHints: "non-toxic"
//     содержит "toxic");
//  3. собственные labelHints модели, в фиксированном порядке категорий;
//  4. общий safe-набор;
//  5. вырожденная "label-1" → toxicity;
//  6. общие подсказки по подстроке.
//
// Нераспознанная метка возвращается как labelUnknown и игнорируется.
func mapLabel(m models.Model, label string) (threat.Category, labelKind) {
	norm := normalizeLabel(label)
	if norm == "" {
		return threat.Safe, labelUnknown
	}

	if m.ZeroShot != nil {
		if cat, ok := m.ZeroShot.CategoryFor(label); ok {
			return cat, labelRisk
		}
	}

	for _, hint := range m.SafeHints {
		if h := normalizeLabel(hint); h != "" && strings.Contains(norm, h) {
			return threat.Safe, labelSafe
		}
	}
	for _, cat := range threat.Risks {
		for _, hint := range m.LabelHints[cat] {
			if h := normalizeLabel(hint); h != "" && strings.Contains(norm, h) {
				return cat, labelRisk
			}
		}
	}

	if _, ok := genericSafeLabels[norm]; ok {
		return threat.Safe, labelSafe
	}
	if norm == "label-1" {
		return threat.Toxicity, labelRisk
	}
	for _, h := range genericHints {
		if strings.Contains(norm, h.substr) {
			return h.cat, labelRisk
		}
	}
	return threat.Safe, labelUnknown
}
