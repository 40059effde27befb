package analysis

import (
	"regexp"
	"strings"
	"sync"
)

// reCache кэширует скомпилированные однословные шаблоны: списки триггеров
// меняются редко, а матчинг выполняется на каждом сообщении.
var reCache sync.Map // ключ → *regexp.Regexp

// ContainsWord проверяет наличие однословного ключа в тексте с учётом границ
// слова и без учёта регистра. В RE2 метасимвол \b понимает только ASCII,
// поэтому границы задаются явно Unicode-классами: (^|[^\p{L}\p{N}]) и
// ([^\p{L}\p{N}]|$). Это даёт корректные границы для кириллицы и для ключей
// со спецсимволами.
//
// Примеры:
//
//	ContainsWord("Я тебя убью!", "убью")   == true
//	ContainsWord("поубьюсь тут", "убью")   == false
//	ContainsWord("СРОЧНО, жми", "срочно")  == true
func ContainsWord(text, kw string) bool {
	if kw == "" {
		return false
	}
	cached, ok := reCache.Load(kw)
	if !ok {
		pattern := `(?i)(^|[^\p{L}\p{N}])` + regexp.QuoteMeta(kw) + `([^\p{L}\p{N}]|$)`
		cached, _ = reCache.LoadOrStore(kw, regexp.MustCompile(pattern))
	}
	return cached.(*regexp.Regexp).FindStringIndex(text) != nil
}

// matchTriggers возвращает сработавшие триггеры в порядке списка. Однословные
// ключи матчатся по границам слова, фразы — вхождением подстроки: так фраза
// ловит и склонённые формы соседних слов. Триггеры ожидаются в нижнем регистре.
func matchTriggers(text string, triggers []string) []string {
	if len(triggers) == 0 {
		return nil
	}
	lower := strings.ToLower(text)
	var matched []string
	for _, trig := range triggers {
		if trig == "" {
			continue
		}
		if strings.Contains(trig, " ") {
			if strings.Contains(lower, trig) {
				matched = append(matched, trig)
			}
			continue
		}
		if ContainsWord(text, trig) {
			matched = append(matched, trig)
		}
	}
	return matched
}

// countPatternHits считает, сколько шаблонов из набора совпало с текстом.
func countPatternHits(text string, patterns []*regexp.Regexp) int {
	hits := 0
	for _, re := range patterns {
		if re.MatchString(text) {
			hits++
		}
	}
	return hits
}
