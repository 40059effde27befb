package session

// Пакет session содержит хранилище MTProto-сессии поверх base64-строки.
// Сессия живёт внутри документа настроек, а не в отдельном файле: клиент
// получает строку при создании, gotd читает и пишет байты сессии через
// интерфейс tdsession.Storage, а флаг Changed сообщает вызывающему коду,
// что строку пора сохранить обратно в настройки.

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/go-faster/errors"

	tdsession "github.com/gotd/td/session"
)

// StringStorage реализует tdsession.Storage поверх строки в памяти.
// Потокобезопасен: операции Load/Store защищены мьютексом.
type StringStorage struct {
	mux     sync.Mutex
	data    []byte
	changed bool
}

// Компиляторная проверка соответствия интерфейсу tdsession.Storage.
var _ tdsession.Storage = (*StringStorage)(nil)

// NewStringStorage создаёт хранилище из base64-строки сессии.
// Пустая строка означает отсутствие сессии (первый вход).
func NewStringStorage(encoded string) (*StringStorage, error) {
	s := &StringStorage{}
	if encoded == "" {
		return s, nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Wrap(err, "decode session string")
	}
	s.data = data
	return s, nil
}

// LoadSession отдаёт байты сессии либо tdsession.ErrNotFound, если сессии нет.
func (s *StringStorage) LoadSession(_ context.Context) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil session storage is invalid")
	}
	s.mux.Lock()
	defer s.mux.Unlock()

	if len(s.data) == 0 {
		return nil, tdsession.ErrNotFound
	}
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out, nil
}

// StoreSession запоминает новые байты сессии и взводит флаг изменения.
func (s *StringStorage) StoreSession(_ context.Context, data []byte) error {
	if s == nil {
		return errors.New("nil session storage is invalid")
	}
	s.mux.Lock()
	defer s.mux.Unlock()

	s.data = make([]byte, len(data))
	copy(s.data, data)
	s.changed = true
	return nil
}

// Encoded возвращает текущую сессию в виде base64-строки.
// Для пустой сессии возвращается пустая строка.
func (s *StringStorage) Encoded() string {
	s.mux.Lock()
	defer s.mux.Unlock()

	if len(s.data) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(s.data)
}

// Changed сообщает, записывал ли gotd новую сессию с момента создания хранилища.
func (s *StringStorage) Changed() bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.changed
}
