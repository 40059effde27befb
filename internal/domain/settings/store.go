// Хранилище документа настроек: загрузка с нормализацией, атомарная запись,
// потокобезопасный доступ к текущему снимку.

package settings

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/go-faster/errors"

	"telegram-sentinel/internal/infra/logger"
	"telegram-sentinel/internal/infra/storage"
)

// Store владеет документом настроек. Все изменения проходят через Save/Update,
// читатели получают консистентный снимок через Current.
type Store struct {
	path    string
	mu      sync.RWMutex
	current Settings
	loaded  bool
}

// NewStore создаёт хранилище для файла path. Файл читается только в Load.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load читает документ с диска и кэширует нормализованную форму.
//
// Холодный старт (файла нет) — дефолты записываются на диск. Повреждённый
// JSON — предупреждение в лог, в память идут дефолты, файл НЕ перезаписывается:
// админ может восстановить его руками, а следующий Save перепишет начисто.
func (st *Store) Load() (Settings, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	raw, err := os.ReadFile(st.path)
	switch {
	case err == nil:
		var doc map[string]any
		if jsonErr := json.Unmarshal(raw, &doc); jsonErr != nil {
			logger.Warnf("settings file %s is corrupt (%v); using defaults without overwriting", st.path, jsonErr)
			st.current = Normalize(Defaults())
			st.loaded = true
			return st.snapshotLocked(), nil
		}
		st.current = FromDocument(doc)
		st.loaded = true
		return st.snapshotLocked(), nil

	case os.IsNotExist(err):
		defaults := Normalize(Defaults())
		if writeErr := st.writeLocked(defaults); writeErr != nil {
			return Settings{}, errors.Wrap(writeErr, "write default settings")
		}
		logger.Infof("settings file %s created with defaults", st.path)
		st.current = defaults
		st.loaded = true
		return st.snapshotLocked(), nil

	default:
		return Settings{}, errors.Wrapf(err, "read settings file %s", st.path)
	}
}

// Current возвращает снимок текущих настроек. До первого Load — дефолты.
func (st *Store) Current() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if !st.loaded {
		return Normalize(Defaults())
	}
	return st.snapshotLocked()
}

// Save нормализует документ, пишет его на диск и обновляет снимок в памяти.
// Возвращает записанную (нормализованную) форму.
func (st *Store) Save(s Settings) (Settings, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	normalized := Normalize(s)
	if err := st.writeLocked(normalized); err != nil {
		return Settings{}, err
	}
	st.current = normalized
	st.loaded = true
	return st.snapshotLocked(), nil
}

// Update накладывает частичный документ на текущие настройки и сохраняет
// результат. Merge и запись выполняются под одним замком: конкурирующие
// POST /settings не теряют чужие поля.
func (st *Store) Update(patch map[string]any) (Settings, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	base := st.current
	if !st.loaded {
		base = Defaults()
	}
	merged := Merge(base, patch)
	if err := st.writeLocked(merged); err != nil {
		return Settings{}, err
	}
	st.current = merged
	st.loaded = true
	return st.snapshotLocked(), nil
}

// writeLocked сериализует документ (pretty JSON) и пишет атомарно с правами 0600.
func (st *Store) writeLocked(s Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal settings")
	}
	data = append(data, '\n')
	if err := storage.AtomicWriteFile(st.path, data); err != nil {
		return errors.Wrap(err, "persist settings")
	}
	return nil
}

// snapshotLocked возвращает копию текущего документа: срезы и карта порогов
// дублируются, чтобы читатели не делили память с хранилищем.
func (st *Store) snapshotLocked() Settings {
	s := st.current
	s.BotTargetChats = append([]string(nil), s.BotTargetChats...)
	s.UserTargetChats = append([]string(nil), s.UserTargetChats...)
	s.TargetChats = append([]string(nil), s.TargetChats...)
	s.MediaTypes = append([]string(nil), s.MediaTypes...)
	s.Keywords = append([]string(nil), s.Keywords...)
	s.ScamTriggers = append([]string(nil), s.ScamTriggers...)
	s.DrugTriggers = append([]string(nil), s.DrugTriggers...)
	s.RecruitmentTriggers = append([]string(nil), s.RecruitmentTriggers...)
	s.TerrorismTriggers = append([]string(nil), s.TerrorismTriggers...)
	s.ThreatTriggers = append([]string(nil), s.ThreatTriggers...)
	s.ToxicityTriggers = append([]string(nil), s.ToxicityTriggers...)
	thresholds := make(map[string]int, len(s.CategoryThresholds))
	for k, v := range s.CategoryThresholds {
		thresholds[k] = v
	}
	s.CategoryThresholds = thresholds
	return s
}
