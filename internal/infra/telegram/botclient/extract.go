package botclient

import (
	"strconv"
	"strings"

	"github.com/go-telegram/bot/models"
)

// EventMessage возвращает сообщение из апдейта: обычное или пост канала.
// Остальные типы апдейтов мониторингу не интересны.
func EventMessage(u *models.Update) *models.Message {
	switch {
	case u == nil:
		return nil
	case u.Message != nil:
		return u.Message
	case u.ChannelPost != nil:
		return u.ChannelPost
	}
	return nil
}

// MessageText возвращает текст сообщения либо подпись к медиа.
func MessageText(m *models.Message) string {
	if m == nil {
		return ""
	}
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// SenderDisplay возвращает отображаемое имя отправителя. Для постов
// каналов, где From пуст, берётся название канала-отправителя, затем
// название самого чата.
func SenderDisplay(m *models.Message) string {
	if m == nil {
		return ""
	}
	if m.From != nil {
		if name := joinName(m.From.FirstName, m.From.LastName); name != "" {
			return name
		}
		if m.From.Username != "" {
			return m.From.Username
		}
	}
	if m.SenderChat != nil && m.SenderChat.Title != "" {
		return m.SenderChat.Title
	}
	return ChatTitle(m)
}

// ChatTitle возвращает человекочитаемое имя чата сообщения.
func ChatTitle(m *models.Message) string {
	if m == nil {
		return ""
	}
	if m.Chat.Title != "" {
		return m.Chat.Title
	}
	if name := joinName(m.Chat.FirstName, m.Chat.LastName); name != "" {
		return name
	}
	if m.Chat.Username != "" {
		return m.Chat.Username
	}
	return ChatID(m)
}

// ChatID возвращает идентификатор чата строкой в нотации Bot API.
func ChatID(m *models.Message) string {
	if m == nil {
		return ""
	}
	return strconv.FormatInt(m.Chat.ID, 10)
}

// MessageTime возвращает время сообщения в секундах эпохи.
// Ноль означает, что время проставит хранилище при вставке.
func MessageTime(m *models.Message) int64 {
	if m == nil {
		return 0
	}
	return int64(m.Date)
}

func joinName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}
