// Package threat — словарь категорий угроз, общий для движка анализа,
// хранилища сообщений и HTTP-слоя.
package threat

// Category — вердикт классификации сообщения.
type Category string

const (
	Safe        Category = "safe"
	Toxicity    Category = "toxicity"
	Threat      Category = "threat"
	Scam        Category = "scam"
	Recruitment Category = "recruitment"
	Drugs       Category = "drugs"
	Terrorism   Category = "terrorism"
)

// Risks — шесть рисковых категорий в фиксированном порядке. Порядок значим:
// при равных итоговых оценках побеждает более ранняя категория списка.
var Risks = []Category{Toxicity, Threat, Scam, Recruitment, Drugs, Terrorism}

// All — все возможные вердикты, включая safe. Используется для нулевого
// заполнения статистики.
var All = []Category{Safe, Toxicity, Threat, Scam, Recruitment, Drugs, Terrorism}

// Valid сообщает, является ли строка известным вердиктом.
func Valid(s string) bool {
	switch Category(s) {
	case Safe, Toxicity, Threat, Scam, Recruitment, Drugs, Terrorism:
		return true
	default:
		return false
	}
}

// IsRisk сообщает, является ли категория рисковой (не safe).
func IsRisk(c Category) bool { return c != Safe && Valid(string(c)) }
