// Package models — статический каталог ML-моделей классификации.
// Каталог вкомпилирован: движок анализа и API выбирают модель по id,
// неизвестные идентификаторы сводятся к модели по умолчанию. Каждая запись
// описывает задачу (text-classification или zero-shot), репозиторий весов,
// опции inference-рантайма и подсказки для маппинга сырых меток на внутренние
// категории угроз.
package models

import (
	"strings"

	"telegram-sentinel/internal/domain/threat"
)

// Task — тип inference-пайплайна модели.
type Task string

const (
	TaskTextClassification Task = "text-classification"
	TaskZeroShot           Task = "zero-shot-classification"
)

// DefaultID — модель по умолчанию. Лёгкая русскоязычная модель токсичности:
// стартует быстро и покрывает основной трафик чатов.
const DefaultID = "rubert-tiny2-toxicity"

// Options — дополнительные параметры загрузки весов inference-рантаймом.
type Options struct {
	WeightFile string `json:"weightFile,omitempty"`
	Subfolder  string `json:"subfolder,omitempty"`
	DType      string `json:"dtype,omitempty"`
}

// ZeroShot — конфигурация zero-shot-классификации: candidate label для каждой
// категории, шаблон гипотезы и флаг multi-label.
type ZeroShot struct {
	Labels     map[threat.Category]string
	Hypothesis string
	MultiLabel bool
}

// Model — запись каталога.
type Model struct {
	ID          string
	Name        string
	Description string
	Repo        string
	Task        Task
	Options     Options
	ZeroShot    *ZeroShot
	// LabelHints: подстроки сырых меток модели → категория. Проверяются до
	// общих эвристик движка.
	LabelHints map[threat.Category][]string
	// SafeHints: метки, которые считаются «безопасными» именно у этой модели.
	SafeHints []string
}

// zeroShotLabels — общий набор candidate labels для русскоязычных zero-shot
// моделей. Формулировки подобраны под шаблон «Этот текст содержит {}».
var zeroShotLabels = map[threat.Category]string{
	threat.Toxicity:    "оскорбления и токсичность",
	threat.Threat:      "угрозы насилия",
	threat.Scam:        "мошенничество и обман",
	threat.Recruitment: "вербовку и подозрительный наём",
	threat.Drugs:       "продажу наркотиков",
	threat.Terrorism:   "терроризм и экстремизм",
}

// catalog — все известные модели. Порядок — порядок показа в интерфейсе.
var catalog = []Model{
	{
		ID:          DefaultID,
		Name:        "RuBERT Tiny Toxicity",
		Description: "Компактная русскоязычная модель токсичности и угроз.",
		Repo:        "cointegrated/rubert-tiny-toxicity",
		Task:        TaskTextClassification,
		Options:     Options{DType: "q8"},
		LabelHints: map[threat.Category][]string{
			threat.Toxicity: {"insult", "obscenity", "toxic"},
			threat.Threat:   {"threat", "dangerous"},
		},
		SafeHints: []string{"non-toxic"},
	},
	{
		ID:          "toxic-bert",
		Name:        "Toxic-BERT",
		Description: "Англоязычная модель токсичности unitary/toxic-bert.",
		Repo:        "unitary/toxic-bert",
		Task:        TaskTextClassification,
		Options:     Options{WeightFile: "model.onnx"},
		LabelHints: map[threat.Category][]string{
			threat.Toxicity: {"toxic", "insult", "obscene", "identity_hate"},
			threat.Threat:   {"threat"},
		},
	},
	{
		ID:          "xlm-roberta-xnli",
		Name:        "XLM-RoBERTa XNLI",
		Description: "Многоязычный zero-shot классификатор по шести категориям.",
		Repo:        "joeddav/xlm-roberta-large-xnli",
		Task:        TaskZeroShot,
		Options:     Options{Subfolder: "onnx", DType: "q8"},
		ZeroShot: &ZeroShot{
			Labels:     zeroShotLabels,
			Hypothesis: "Этот текст содержит {}.",
			MultiLabel: true,
		},
	},
	{
		ID:          "mdeberta-xnli",
		Name:        "mDeBERTa XNLI",
		Description: "Запасной многоязычный zero-shot классификатор.",
		Repo:        "MoritzLaurer/mDeBERTa-v3-base-mnli-xnli",
		Task:        TaskZeroShot,
		Options:     Options{Subfolder: "onnx"},
		ZeroShot: &ZeroShot{
			Labels:     zeroShotLabels,
			Hypothesis: "Этот текст содержит {}.",
			MultiLabel: true,
		},
	},
}

// Catalog возвращает копию списка моделей.
func Catalog() []Model {
	out := make([]Model, len(catalog))
	copy(out, catalog)
	return out
}

// ByID ищет модель по идентификатору (без учёта регистра и пробелов по краям).
func ByID(id string) (Model, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, m := range catalog {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// Default возвращает модель по умолчанию.
func Default() Model {
	m, _ := ByID(DefaultID)
	return m
}

// NormalizeID возвращает id, если модель известна, иначе DefaultID.
func NormalizeID(id string) string {
	if _, ok := ByID(id); ok {
		return strings.ToLower(strings.TrimSpace(id))
	}
	return DefaultID
}

// IDs возвращает список идентификаторов каталога.
func IDs() []string {
	out := make([]string, 0, len(catalog))
	for _, m := range catalog {
		out = append(out, m.ID)
	}
	return out
}

// CategoryFor ищет категорию по candidate label zero-shot модели.
func (z *ZeroShot) CategoryFor(label string) (threat.Category, bool) {
	needle := strings.ToLower(strings.TrimSpace(label))
	for cat, candidate := range z.Labels {
		if strings.ToLower(candidate) == needle {
			return cat, true
		}
	}
	return "", false
}

// CandidateLabels возвращает candidate labels в фиксированном порядке категорий.
func (z *ZeroShot) CandidateLabels() []string {
	out := make([]string, 0, len(threat.Risks))
	for _, cat := range threat.Risks {
		if label, ok := z.Labels[cat]; ok {
			out = append(out, label)
		}
	}
	return out
}
