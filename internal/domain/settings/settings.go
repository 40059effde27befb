// Package settings — персистентный документ настроек мониторинга и его
// нормализация. Документ один (singleton), хранится как pretty-JSON с правами
// 0600 и правится только через API. Любой вход (файл, тело запроса) проходит
// через один и тот же нормализатор: типы приводятся, числа зажимаются в
// диапазоны, списки чистятся от дублей. Благодаря этому остальной код читает
// поля без повторных проверок.
package settings

import (
	"math"
	"strings"

	"telegram-sentinel/internal/domain/models"
	"telegram-sentinel/internal/domain/threat"
)

// AuthMode — способ подключения к Telegram.
const (
	AuthModeBot  = "bot"
	AuthModeUser = "user"
)

// Settings — документ настроек целиком. Поля соответствуют JSON-документу
// admin-settings.json; camelCase-теги совпадают с ключами веб-клиента.
type Settings struct {
	// Учётные данные Telegram.
	APIID         string `json:"apiId"`
	APIHash       string `json:"apiHash"`
	AuthMode      string `json:"authMode"`
	BotToken      string `json:"botToken"`
	SessionString string `json:"sessionString"`
	SessionName   string `json:"sessionName"`

	// Цели мониторинга. TargetChats — legacy-зеркало списка активного режима.
	BotTargetChats      []string `json:"botTargetChats"`
	UserTargetChats     []string `json:"userTargetChats"`
	TargetChats         []string `json:"targetChats"`
	UserAuthAllMessages bool     `json:"userAuthAllMessages"`

	// Прокси: описательные поля, ядро их не интерпретирует.
	ProxyEnabled bool   `json:"proxyEnabled"`
	ProxyType    string `json:"proxyType"`
	ProxyHost    string `json:"proxyHost"`
	ProxyPort    int    `json:"proxyPort"`
	ProxyUser    string `json:"proxyUser"`
	ProxyPass    string `json:"proxyPass"`

	// Медиа: описательные поля.
	MediaEnabled   bool     `json:"mediaEnabled"`
	MediaMaxSizeMB int      `json:"mediaMaxSizeMb"`
	MediaTypes     []string `json:"mediaTypes"`

	// Ручки движка анализа. Все процентные поля хранятся целыми процентами.
	MLModel                string         `json:"mlModel"`
	ThreatThreshold        int            `json:"threatThreshold"`
	CategoryThresholds     map[string]int `json:"categoryThresholds"`
	EnableHeuristics       bool           `json:"enableHeuristics"`
	EnableCriticalPatterns bool           `json:"enableCriticalPatterns"`
	ModelWeight            int            `json:"modelWeight"`
	HeuristicWeight        int            `json:"heuristicWeight"`
	ModelTopK              int            `json:"modelTopK"`
	MaxAnalysisChars       int            `json:"maxAnalysisChars"`
	URLScamBoost           int            `json:"urlScamBoost"`
	KeywordHitBoost        int            `json:"keywordHitBoost"`
	CriticalHitFloor       int            `json:"criticalHitFloor"`

	// Триггерные списки: нижний регистр, без дублей.
	Keywords            []string `json:"keywords"`
	ScamTriggers        []string `json:"scamTriggers"`
	DrugTriggers        []string `json:"drugTriggers"`
	RecruitmentTriggers []string `json:"recruitmentTriggers"`
	TerrorismTriggers   []string `json:"terrorismTriggers"`
	ThreatTriggers      []string `json:"threatTriggers"`
	ToxicityTriggers    []string `json:"toxicityTriggers"`
}

// defaultTargetChat — чат мониторинга по умолчанию, если ни один список не задан.
const defaultTargetChat = "-1003803680927"

// Диапазоны числовых ручек движка.
const (
	minThresholdPct = 1
	maxThresholdPct = 99
	minWeightPct    = 0
	maxWeightPct    = 100
	minTopK         = 1
	maxTopK         = 30
	minAnalysisLen  = 200
	maxAnalysisLen  = 4000
	minBoostPct     = 0
	maxBoostPct     = 100
)

// Defaults возвращает полностью заполненный документ по умолчанию.
// Триггерные списки заточены под русскоязычные чаты; английские дополнения
// держим короткими, чтобы не плодить ложные срабатывания.
func Defaults() Settings {
	return Settings{
		APIID:         "",
		APIHash:       "",
		AuthMode:      AuthModeBot,
		BotToken:      "",
		SessionString: "",
		SessionName:   "sentinel",

		BotTargetChats:      []string{},
		UserTargetChats:     []string{},
		TargetChats:         []string{},
		UserAuthAllMessages: false,

		ProxyEnabled: false,
		ProxyType:    "socks5",
		ProxyHost:    "",
		ProxyPort:    1080,
		ProxyUser:    "",
		ProxyPass:    "",

		MediaEnabled:   false,
		MediaMaxSizeMB: 10,
		MediaTypes:     []string{"photo", "video"},

		MLModel:         models.DefaultID,
		ThreatThreshold: 70,
		CategoryThresholds: map[string]int{
			string(threat.Toxicity):    70,
			string(threat.Threat):      72,
			string(threat.Scam):        70,
			string(threat.Recruitment): 74,
			string(threat.Drugs):       74,
			string(threat.Terrorism):   76,
		},
		EnableHeuristics:       true,
		EnableCriticalPatterns: true,
		ModelWeight:            55,
		HeuristicWeight:        45,
		ModelTopK:              5,
		MaxAnalysisChars:       1000,
		URLScamBoost:           15,
		KeywordHitBoost:        5,
		CriticalHitFloor:       85,

		Keywords: []string{
			"бесплатно", "срочно", "гарантия", "бонус", "приз", "выигрыш",
			"акция", "жми", "подпишись", "успей", "лотерея", "депозит",
		},
		ScamTriggers: []string{
			"гарантированный доход", "быстрый заработок", "пассивный доход",
			"только сегодня", "инвестируй", "удвоим", "без риска",
			"схема заработка", "перевод на карту", "переведи", "usdt",
			"крипта", "биткоин", "выплата сразу", "казино",
		},
		DrugTriggers: []string{
			"мефедрон", "закладка", "закладки", "гашиш", "марихуана",
			"амфетамин", "героин", "кокаин", "шишки", "спайс", "мдма",
			"экстази", "наркотики", "дурь",
		},
		RecruitmentTriggers: []string{
			"ищем людей", "набор в команду", "требуются курьеры",
			"закрытая группа", "особые задания", "специальных задач",
			"работа без опыта", "анонимная работа", "вербовка",
		},
		TerrorismTriggers: []string{
			"теракт", "взрывчатка", "взорвать", "бомба", "джихад", "шахид",
			"экстремизм", "терроризм", "захват заложников", "готовим нападение",
		},
		ThreatTriggers: []string{
			"убью", "убить", "прибью", "зарежу", "покалечу", "сломаю",
			"найду тебя", "тебе конец", "расправа", "пожалеешь", "отомщу",
		},
		ToxicityTriggers: []string{
			"идиот", "ничтожество", "ненавидят", "ненавижу", "тупой",
			"придурок", "дебил", "мразь", "тварь", "урод", "заткнись",
			"убожество", "кретин", "дурак",
		},
	}
}

// Normalize приводит типизированный документ к каноничному виду: зажимает
// числа, чистит списки, заменяет неизвестную модель на дефолтную и
// пересчитывает зеркало targetChats. Идемпотентна: Normalize(Normalize(x)) ==
// Normalize(x).
func Normalize(s Settings) Settings {
	d := Defaults()

	s.APIID = sanitizeAPIID(s.APIID)
	s.APIHash = strings.TrimSpace(s.APIHash)
	s.AuthMode = sanitizeAuthMode(s.AuthMode)
	s.BotToken = strings.TrimSpace(s.BotToken)
	s.SessionString = strings.TrimSpace(s.SessionString)
	s.SessionName = fallbackString(strings.TrimSpace(s.SessionName), d.SessionName)

	s.ProxyType = fallbackString(strings.ToLower(strings.TrimSpace(s.ProxyType)), d.ProxyType)
	s.ProxyHost = strings.TrimSpace(s.ProxyHost)
	if s.ProxyPort <= 0 || s.ProxyPort > 65535 {
		s.ProxyPort = d.ProxyPort
	}

	if s.MediaMaxSizeMB <= 0 {
		s.MediaMaxSizeMB = d.MediaMaxSizeMB
	}
	s.MediaTypes = dedupeChats(s.MediaTypes)
	if len(s.MediaTypes) == 0 {
		s.MediaTypes = append([]string(nil), d.MediaTypes...)
	}

	s.MLModel = models.NormalizeID(s.MLModel)
	s.ThreatThreshold = clampInt(s.ThreatThreshold, minThresholdPct, maxThresholdPct)
	s.CategoryThresholds = normalizeCategoryThresholds(s.CategoryThresholds, d.CategoryThresholds)
	s.ModelWeight = clampInt(s.ModelWeight, minWeightPct, maxWeightPct)
	s.HeuristicWeight = clampInt(s.HeuristicWeight, minWeightPct, maxWeightPct)
	s.ModelTopK = clampInt(s.ModelTopK, minTopK, maxTopK)
	s.MaxAnalysisChars = clampInt(s.MaxAnalysisChars, minAnalysisLen, maxAnalysisLen)
	s.URLScamBoost = clampInt(s.URLScamBoost, minBoostPct, maxBoostPct)
	s.KeywordHitBoost = clampInt(s.KeywordHitBoost, minBoostPct, maxBoostPct)
	s.CriticalHitFloor = clampInt(s.CriticalHitFloor, minBoostPct, maxBoostPct)

	s.Keywords = dedupeTriggers(s.Keywords)
	s.ScamTriggers = dedupeTriggers(s.ScamTriggers)
	s.DrugTriggers = dedupeTriggers(s.DrugTriggers)
	s.RecruitmentTriggers = dedupeTriggers(s.RecruitmentTriggers)
	s.TerrorismTriggers = dedupeTriggers(s.TerrorismTriggers)
	s.ThreatTriggers = dedupeTriggers(s.ThreatTriggers)
	s.ToxicityTriggers = dedupeTriggers(s.ToxicityTriggers)

	// Списки целей: каждый режим резолвится независимо через legacy-поле,
	// затем через хардкод-дефолт; зеркало держит список активного режима.
	legacy := dedupeChats(s.TargetChats)
	s.BotTargetChats = resolveTargets(dedupeChats(s.BotTargetChats), legacy)
	s.UserTargetChats = resolveTargets(dedupeChats(s.UserTargetChats), legacy)
	if s.AuthMode == AuthModeUser {
		s.TargetChats = append([]string(nil), s.UserTargetChats...)
	} else {
		s.TargetChats = append([]string(nil), s.BotTargetChats...)
	}

	return s
}

// ActiveTargets возвращает список целей активного режима.
func (s Settings) ActiveTargets() []string {
	if s.AuthMode == AuthModeUser {
		return s.UserTargetChats
	}
	return s.BotTargetChats
}

// ThresholdFor возвращает эффективный порог категории в долях (0,1):
// персональный порог, если он задан и ненулевой, иначе глобальный.
func (s Settings) ThresholdFor(cat threat.Category) float64 {
	if pct, ok := s.CategoryThresholds[string(cat)]; ok && pct > 0 {
		return float64(pct) / 100
	}
	return float64(s.ThreatThreshold) / 100
}

// Merge накладывает частичный JSON-документ (map из тела запроса) на базовый
// и нормализует результат. Ключи с неподходящим JSON-типом игнорируются —
// поле остаётся базовым. Неизвестные ключи отбрасываются молча.
func Merge(base Settings, patch map[string]any) Settings {
	if len(patch) == 0 {
		return Normalize(base)
	}
	s := base

	mergeString(patch, "apiId", &s.APIID)
	mergeString(patch, "apiHash", &s.APIHash)
	mergeString(patch, "authMode", &s.AuthMode)
	mergeString(patch, "botToken", &s.BotToken)
	mergeString(patch, "sessionString", &s.SessionString)
	mergeString(patch, "sessionName", &s.SessionName)

	mergeStringList(patch, "botTargetChats", &s.BotTargetChats)
	mergeStringList(patch, "userTargetChats", &s.UserTargetChats)
	mergeStringList(patch, "targetChats", &s.TargetChats)
	mergeBool(patch, "userAuthAllMessages", &s.UserAuthAllMessages)

	mergeBool(patch, "proxyEnabled", &s.ProxyEnabled)
	mergeString(patch, "proxyType", &s.ProxyType)
	mergeString(patch, "proxyHost", &s.ProxyHost)
	mergeInt(patch, "proxyPort", &s.ProxyPort)
	mergeString(patch, "proxyUser", &s.ProxyUser)
	mergeString(patch, "proxyPass", &s.ProxyPass)

	mergeBool(patch, "mediaEnabled", &s.MediaEnabled)
	mergeInt(patch, "mediaMaxSizeMb", &s.MediaMaxSizeMB)
	mergeStringList(patch, "mediaTypes", &s.MediaTypes)

	mergeString(patch, "mlModel", &s.MLModel)
	mergePercent(patch, "threatThreshold", &s.ThreatThreshold)
	mergeThresholdMap(patch, "categoryThresholds", &s.CategoryThresholds)
	mergeBool(patch, "enableHeuristics", &s.EnableHeuristics)
	mergeBool(patch, "enableCriticalPatterns", &s.EnableCriticalPatterns)
	mergePercent(patch, "modelWeight", &s.ModelWeight)
	mergePercent(patch, "heuristicWeight", &s.HeuristicWeight)
	mergeInt(patch, "modelTopK", &s.ModelTopK)
	mergeInt(patch, "maxAnalysisChars", &s.MaxAnalysisChars)
	mergePercent(patch, "urlScamBoost", &s.URLScamBoost)
	mergePercent(patch, "keywordHitBoost", &s.KeywordHitBoost)
	mergePercent(patch, "criticalHitFloor", &s.CriticalHitFloor)

	mergeStringList(patch, "keywords", &s.Keywords)
	mergeStringList(patch, "scamTriggers", &s.ScamTriggers)
	mergeStringList(patch, "drugTriggers", &s.DrugTriggers)
	mergeStringList(patch, "recruitmentTriggers", &s.RecruitmentTriggers)
	mergeStringList(patch, "terrorismTriggers", &s.TerrorismTriggers)
	mergeStringList(patch, "threatTriggers", &s.ThreatTriggers)
	mergeStringList(patch, "toxicityTriggers", &s.ToxicityTriggers)

	return Normalize(s)
}

// FromDocument строит Settings из сырого JSON-объекта, подставляя дефолты
// для отсутствующих и некорректных полей.
func FromDocument(raw map[string]any) Settings {
	return Merge(Defaults(), raw)
}

// sanitizeAPIID оставляет только строку положительного целого; иное — пусто.
func sanitizeAPIID(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return ""
		}
	}
	if strings.Trim(v, "0") == "" {
		return ""
	}
	return v
}

// sanitizeAuthMode допускает только bot|user, иначе bot.
func sanitizeAuthMode(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case AuthModeUser:
		return AuthModeUser
	default:
		return AuthModeBot
	}
}

func fallbackString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// normalizeCategoryThresholds строит полную карту порогов шести категорий:
// заданные значения зажимаются в 1..99, отсутствующие берутся из дефолтов.
func normalizeCategoryThresholds(in, defaults map[string]int) map[string]int {
	out := make(map[string]int, len(threat.Risks))
	for _, cat := range threat.Risks {
		key := string(cat)
		if v, ok := in[key]; ok && v != 0 {
			out[key] = clampInt(v, minThresholdPct, maxThresholdPct)
			continue
		}
		out[key] = defaults[key]
	}
	return out
}

// dedupeTriggers: trim, нижний регистр, без пустых и дублей, порядок сохранён.
func dedupeTriggers(in []string) []string {
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

// dedupeChats: trim, без пустых, дубли убираются с сохранением первого
// вхождения; регистр не трогаем (идентификаторы чатов чувствительны к форме).
func dedupeChats(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, raw := range in {
		t := strings.TrimSpace(raw)
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

// resolveTargets реализует цепочку фолбэков списка целей.
func resolveTargets(own, legacy []string) []string {
	if len(own) > 0 {
		return own
	}
	if len(legacy) > 0 {
		return append([]string(nil), legacy...)
	}
	return []string{defaultTargetChat}
}

// --- чтение полей частичного документа ---

func mergeString(m map[string]any, key string, dst *string) {
	if v, ok := m[key].(string); ok {
		*dst = v
	}
}

func mergeBool(m map[string]any, key string, dst *bool) {
	if v, ok := m[key].(bool); ok {
		*dst = v
	}
}

// mergeInt принимает любое JSON-число и округляет до целого.
func mergeInt(m map[string]any, key string, dst *int) {
	if v, ok := numberValue(m[key]); ok {
		*dst = int(math.Round(v))
	}
}

// mergePercent принимает либо долю в [0,1], либо процент в (1,100];
// результат — целый процент. Значения вне обоих диапазонов игнорируются.
func mergePercent(m map[string]any, key string, dst *int) {
	v, ok := numberValue(m[key])
	if !ok {
		return
	}
	if pct, ok := percentOf(v); ok {
		*dst = pct
	}
}

// percentOf интерпретирует число как долю или процент.
func percentOf(v float64) (int, bool) {
	switch {
	case v >= 0 && v <= 1:
		return int(math.Round(v * 100)), true
	case v > 1 && v <= 100:
		return int(math.Round(v)), true
	default:
		return 0, false
	}
}

func mergeStringList(m map[string]any, key string, dst *[]string) {
	raw, ok := m[key].([]any)
	if !ok {
		return
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	*dst = out
}

// mergeThresholdMap читает карту категория→порог; значения проходят ту же
// интерпретацию доля/процент, что и остальные процентные поля.
func mergeThresholdMap(m map[string]any, key string, dst *map[string]int) {
	raw, ok := m[key].(map[string]any)
	if !ok {
		return
	}
	out := make(map[string]int, len(raw))
	for k, v := range *dst {
		out[k] = v
	}
	for k, item := range raw {
		if !threat.Valid(k) || k == string(threat.Safe) {
			continue
		}
		if num, ok := numberValue(item); ok {
			if pct, ok := percentOf(num); ok {
				out[k] = pct
			}
		}
	}
	*dst = out
}

// numberValue достаёт число из значения, полученного от encoding/json.
func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
