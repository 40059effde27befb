package analysis

import (
	"regexp"

	"telegram-sentinel/internal/domain/threat"
)

// triggerParams — параметры скоринга триггерного списка: балл за первый хит,
// прибавка за каждый следующий и потолок.
type triggerParams struct {
	base float64
	step float64
	ceil float64
}

func (p triggerParams) score(hits int) float64 {
	if hits <= 0 {
		return 0
	}
	v := p.base + p.step*float64(hits-1)
	if v > p.ceil {
		return p.ceil
	}
	return v
}

// triggerTable — скоринг пользовательских триггеров по категориям.
var triggerTable = map[threat.Category]triggerParams{
	threat.Toxicity:    {base: 0.52, step: 0.11, ceil: 0.96},
	threat.Threat:      {base: 0.58, step: 0.11, ceil: 0.98},
	threat.Scam:        {base: 0.56, step: 0.10, ceil: 0.98},
	threat.Recruitment: {base: 0.66, step: 0.10, ceil: 0.99},
	threat.Drugs:       {base: 0.74, step: 0.08, ceil: 0.99},
	threat.Terrorism:   {base: 0.78, step: 0.07, ceil: 0.99},
}

// threatSpill — дополнительный вклад хитов тяжёлых категорий в threat.
var threatSpill = map[threat.Category]triggerParams{
	threat.Recruitment: {base: 0.58, step: 0.08, ceil: 0.95},
	threat.Drugs:       {base: 0.62, step: 0.08, ceil: 0.95},
	threat.Terrorism:   {base: 0.68, step: 0.08, ceil: 0.97},
}

// categoryPatterns — встроенные контекстные шаблоны. Каждое совпадение даёт
// 0.22 к категории (потолок 0.9): по одиночке они ничего не решают, но
// усиливают триггеры и модель.
var categoryPatterns = map[threat.Category][]*regexp.Regexp{
	threat.Toxicity: {
		regexp.MustCompile(`(?i)(ты|вы)\s+\p{L}*\s*(идиот|дебил|кретин|тупиц|придур|ничтожеств)`),
		regexp.MustCompile(`(?i)закрой\s+(рот|пасть)`),
		regexp.MustCompile(`(?i)пош[её]л\s+(ты|вон|прочь)`),
		regexp.MustCompile(`(?i)(все|тебя)\s+ненавид\p{L}+`),
		regexp.MustCompile(`(?i)чтоб\s+ты\s+сдох`),
	},
	threat.Threat: {
		regexp.MustCompile(`(?i)(убью|прибью|зарежу|задушу|покалечу)\s+(тебя|вас|его|её)`),
		regexp.MustCompile(`(?i)(тебя|вас)\s+(убью|прибью|зарежу|найду)`),
		regexp.MustCompile(`(?i)найду\s+(тебя|вас|где\s+живёшь|где\s+живешь)`),
		regexp.MustCompile(`(?i)тебе\s+(конец|не\s+жить|крышка)`),
		regexp.MustCompile(`(?i)жди\s+(меня|беды|проблем)`),
	},
	threat.Scam: {
		regexp.MustCompile(`(?i)(гарантированн|стабильн)\p{L}*\s+(доход|заработок|прибыль)`),
		regexp.MustCompile(`(?i)удво\p{L}*\s+(деньги|вклад|депозит|вложени)`),
		regexp.MustCompile(`(?i)\d+\s*%\s*(в\s+день|в\s+неделю|прибыли)`),
		regexp.MustCompile(`(?i)(переведи|скинь|отправь)\s+(деньги|предоплату|на\s+карту)`),
		regexp.MustCompile(`(?i)(вложи|инвестируй)\p{L}*\s+(сейчас|сегодня|срочно)`),
		regexp.MustCompile(`(?i)вы\s+(выиграли|победили)`),
	},
	threat.Recruitment: {
		regexp.MustCompile(`(?i)(ищем|набираем|требуются)\s+(люд|человек|курьер|исполнител)\p{L}*`),
		regexp.MustCompile(`(?i)(работа|подработка)\s+без\s+(опыта|вложений)`),
		regexp.MustCompile(`(?i)(оплата|зарплата)\s+(наличными|сразу|каждый\s+день)`),
		regexp.MustCompile(`(?i)пиши\p{L}*\s+в\s+(лс|личку)`),
		regexp.MustCompile(`(?i)(закрыт|секретн)\p{L}*\s+(групп|чат|канал)`),
	},
	threat.Drugs: {
		regexp.MustCompile(`(?i)(продам|купить|есть)\s+\p{L}{0,15}\s*(меф|гаш|шишк|скорост)`),
		regexp.MustCompile(`(?i)закладк\p{L}*\s+(по|в|у|рядом)`),
		regexp.MustCompile(`(?i)(кладмен|закладчик)\p{L}*`),
		regexp.MustCompile(`(?i)(высшего|чистейш\p{L}*)\s+(качества|пробы)`),
	},
	threat.Terrorism: {
		regexp.MustCompile(`(?i)(готовим|планируем|устроим)\s+(теракт|взрыв|нападение|атаку)`),
		regexp.MustCompile(`(?i)(взорв|подорв)\p{L}*\s+(здание|вокзал|метро|школу|мост)`),
		regexp.MustCompile(`(?i)(во\s+имя|ради)\s+(джихада|халифата)`),
		regexp.MustCompile(`(?i)захват\p{L}*\s+заложник\p{L}*`),
		regexp.MustCompile(`(?i)нужен\s+(исполнитель|смертник)`),
	},
}

// criticalRule — «жёсткое» правило: совпадение поднимает категорию минимум до
// severity (и не ниже criticalHitFloor), независимо от мнения модели.
type criticalRule struct {
	category threat.Category
	severity float64
	name     string
	re       *regexp.Regexp
}

// criticalRules — компактный набор однозначных формулировок. Severity лежит
// в диапазоне 0.88–0.95: ложное срабатывание здесь дороже пропуска, поэтому
// шаблоны узкие.
var criticalRules = []criticalRule{
	{threat.Threat, 0.93, "direct-kill-verb",
		regexp.MustCompile(`(?i)(^|[^\p{L}\p{N}])(убью|прибью|зарежу|задушу|пристрелю)([^\p{L}\p{N}]|$)`)},
	{threat.Threat, 0.90, "direct-doom",
		regexp.MustCompile(`(?i)тебе\s+конец`)},
	{threat.Threat, 0.90, "hunt-down",
		regexp.MustCompile(`(?i)найду\s+(тебя|вас)\s+и`)},

	{threat.Toxicity, 0.88, "severe-slur",
		regexp.MustCompile(`(?i)(^|[^\p{L}\p{N}])(ничтожество|мразь|тварь)([^\p{L}\p{N}]|$)`)},
	{threat.Toxicity, 0.88, "death-wish",
		regexp.MustCompile(`(?i)чтоб\s+ты\s+сдох`)},

	{threat.Scam, 0.90, "guaranteed-income",
		regexp.MustCompile(`(?i)гарантированн\p{L}*\s+(доход|прибыль|заработок)`)},
	{threat.Scam, 0.89, "money-doubling",
		regexp.MustCompile(`(?i)удво\p{L}*\s+(ваши|твои)?\s*(деньги|вложения|депозит)`)},
	{threat.Scam, 0.88, "upfront-transfer",
		regexp.MustCompile(`(?i)(переведи|отправь)\s+(предоплату|депозит|usdt|btc|крипту)`)},

	{threat.Recruitment, 0.90, "people-hunt",
		regexp.MustCompile(`(?i)ищем\s+люд\p{L}*`)},
	{threat.Recruitment, 0.90, "courier-call",
		regexp.MustCompile(`(?i)требуются\s+курьер\p{L}*`)},
	{threat.Recruitment, 0.89, "special-tasks",
		regexp.MustCompile(`(?i)(особые|специальн\p{L}*)\s+(задани|задач)\p{L}*`)},

	{threat.Drugs, 0.94, "hard-drug-name",
		regexp.MustCompile(`(?i)(^|[^\p{L}\p{N}])(мефедрон|героин|амфетамин|кокаин)\p{L}*`)},
	{threat.Drugs, 0.92, "stash-offer",
		regexp.MustCompile(`(?i)закладк\p{L}*\s+(по|в|у|рядом)`)},

	{threat.Terrorism, 0.95, "terror-attack",
		regexp.MustCompile(`(?i)(^|[^\p{L}\p{N}])теракт`)},
	{threat.Terrorism, 0.95, "hostage-taking",
		regexp.MustCompile(`(?i)захват\s+заложник\p{L}*`)},
	{threat.Terrorism, 0.93, "bombing-intent",
		regexp.MustCompile(`(?i)(взорв[её]м|взорву|взорвать)\s+\p{L}+`)},
	{threat.Terrorism, 0.93, "attack-plan",
		regexp.MustCompile(`(?i)готовим\s+(нападение|атаку|взрыв)`)},
}

// urlRe — признак ссылки в тексте.
var urlRe = regexp.MustCompile(`(?i)https?://`)

// scamURLContext — платёжно-криптовалютный контекст вокруг ссылки. Ссылка
// сама по себе не сигнал, ссылка рядом с такими словами — сигнал скама.
var scamURLContext = []string{
	"оплат", "кошел", "перевод", "карт", "крипт", "бирж", "инвест",
	"бонус", "выплат", "депозит", "заработ",
	"wallet", "crypto", "usdt", "btc", "pay", "bank", "invest",
}
