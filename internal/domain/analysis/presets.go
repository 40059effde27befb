package analysis

import (
	"sort"
	"strings"
)

// Встроенные наборы примеров для самопроверки движка (engine/test без тела).
// Ключ — имя пресета: "all" либо одна из шести категорий риска.
var testPresets = map[string][]string{
	"toxicity": {
		"Ты идиот и ничтожество, тебя все ненавидят.",
		"Заткнись, тупой урод.",
	},
	"threat": {
		"Я тебя убью, если еще раз напишешь.",
		"Найду тебя и пожалеешь, тебе конец.",
	},
	"scam": {
		"Гарантированный доход 15% в день, только сегодня, переведи usdt.",
		"Быстрый заработок без риска, инвестируй сейчас: https://invest-x.example/start",
	},
	"recruitment": {
		"Ищем людей в закрытую группу для специальных задач.",
		"Требуются курьеры, работа без опыта, оплата каждый день.",
	},
	"drugs": {
		"Продам мефедрон, есть закладки по городу.",
		"Есть гашиш и шишки, пиши в личку.",
	},
	"terrorism": {
		"Готовим теракт в людном месте, нужен исполнитель.",
		"Взорвём здание завтра, взрывчатка уже готова.",
	},
}

// safeSamples добавляются в пресет "all": движок должен уметь и промолчать.
var safeSamples = []string{
	"Привет! Как дела?",
	"Встречаемся завтра в десять у офиса.",
	"Спасибо, всё получилось.",
}

// PresetMessages возвращает набор примеров по имени пресета. Пустое имя —
// "all": по одному примеру из каждой категории плюс безопасные строки.
func PresetMessages(name string) ([]string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || key == "all" {
		var all []string
		for _, cat := range presetOrder() {
			all = append(all, testPresets[cat][0])
		}
		all = append(all, safeSamples...)
		return all, true
	}
	msgs, ok := testPresets[key]
	if !ok {
		return nil, false
	}
	return append([]string(nil), msgs...), true
}

// PresetNames — допустимые имена пресетов, по алфавиту, с "all" первым.
func PresetNames() []string {
	names := []string{"all"}
	names = append(names, presetOrder()...)
	return names
}

func presetOrder() []string {
	keys := make([]string, 0, len(testPresets))
	for k := range testPresets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
