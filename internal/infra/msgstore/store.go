// Package msgstore — журнал классифицированных сообщений в SQLite.
// Только добавление и чтение: ни обновлений, ни удалений наружу не отдаётся.
// Формат строки и индексы фиксированы; база открывается в WAL-режиме.
package msgstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-faster/errors"
	_ "modernc.org/sqlite"

	"telegram-sentinel/internal/domain/threat"
)

// Entry — одна строка журнала. Указатели соответствуют NULL-колонкам:
// сообщения из встроенной самопроверки не имеют Telegram-идентификаторов.
type Entry struct {
	ID                int64
	TelegramMessageID *int64
	TelegramChatID    *string
	MessageTs         int64 // секунды epoch, момент сообщения в Telegram
	ReceivedTs        int64 // миллисекунды epoch, момент вставки
	Chat              string
	Sender            string
	Text              string
	Type              threat.Category
	Score             float64
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	telegram_message_id INTEGER NULL,
	telegram_chat_id TEXT NULL,
	message_ts INTEGER NOT NULL,
	received_ts INTEGER NOT NULL,
	chat TEXT NOT NULL,
	sender TEXT NOT NULL,
	text TEXT NOT NULL,
	type TEXT NOT NULL,
	score REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_received_ts ON messages(received_ts DESC);
CREATE INDEX IF NOT EXISTS idx_messages_type ON messages(type);
`

// Store владеет подключением к SQLite. Безопасен для конкурентного
// использования; в штатном режиме пишет только обработчик событий.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open открывает (создавая при необходимости) базу по пути path, применяет
// прагмы и схему.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// Один коннект: WAL и так пускает читателей параллельно с писателем, а
	// пул из нескольких соединений ловит SQLITE_BUSY на вставках.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "apply %q", pragma)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close закрывает подключение.
func (s *Store) Close() error {
	return s.db.Close()
}

// Store вставляет строку журнала. messageTs приводится к неотрицательным
// секундам (непозитивное значение — текущий момент), score зажимается в
// [0,1], receivedTs выставляется моментом вставки.
func (s *Store) Store(ctx context.Context, e Entry) error {
	now := s.now()
	messageTs := e.MessageTs
	if messageTs <= 0 {
		messageTs = now.Unix()
	}
	score := e.Score
	if score < 0 {
		score = 0
	} else if score > 1 {
		score = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages
			(telegram_message_id, telegram_chat_id, message_ts, received_ts, chat, sender, text, type, score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableInt(e.TelegramMessageID),
		nullableText(e.TelegramChatID),
		messageTs,
		now.UnixMilli(),
		e.Chat,
		e.Sender,
		e.Text,
		string(e.Type),
		score,
	)
	if err != nil {
		return errors.Wrap(err, "insert message")
	}
	return nil
}

// ReadRecent возвращает последние строки журнала по убыванию receivedTs
// (при равенстве — по убыванию id). limit зажимается в [1,1000].
func (s *Store) ReadRecent(ctx context.Context, limit int) ([]Entry, error) {
	if limit < 1 {
		limit = 1
	} else if limit > 1000 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, telegram_message_id, telegram_chat_id, message_ts, received_ts,
		       chat, sender, text, type, score
		FROM messages
		ORDER BY received_ts DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query recent messages")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			msgID  sql.NullInt64
			chatID sql.NullString
			typ    string
		)
		if err := rows.Scan(&e.ID, &msgID, &chatID, &e.MessageTs, &e.ReceivedTs,
			&e.Chat, &e.Sender, &e.Text, &typ, &e.Score); err != nil {
			return nil, errors.Wrap(err, "scan message row")
		}
		if msgID.Valid {
			v := msgID.Int64
			e.TelegramMessageID = &v
		}
		if chatID.Valid {
			v := chatID.String
			e.TelegramChatID = &v
		}
		e.Type = threat.Category(typ)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate message rows")
	}
	return out, nil
}

// ReadStats возвращает количество строк по каждой из семи категорий;
// отсутствующие категории представлены нулями.
func (s *Store) ReadStats(ctx context.Context) (map[threat.Category]int64, error) {
	stats := make(map[threat.Category]int64, len(threat.All))
	for _, cat := range threat.All {
		stats[cat] = 0
	}

	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM messages GROUP BY type`)
	if err != nil {
		return nil, errors.Wrap(err, "query message stats")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			typ   string
			count int64
		)
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, errors.Wrap(err, "scan stats row")
		}
		if threat.Valid(typ) {
			stats[threat.Category(typ)] = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate stats rows")
	}
	return stats, nil
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableText(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
