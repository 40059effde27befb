// Обработчики новых сообщений обоих транспортов. Каждый путь сводит событие
// к общей форме (текст, отправитель, чат, идентификаторы, время), прогоняет
// её через движок анализа и пишет вердикт в журнал. Сообщения без текста и
// исходящие пропускаются.

package monitor

import (
	"context"
	"strings"

	botmodels "github.com/go-telegram/bot/models"
	"github.com/gotd/td/tg"

	"telegram-sentinel/internal/domain/threat"
	"telegram-sentinel/internal/infra/logger"
	"telegram-sentinel/internal/infra/msgstore"
	"telegram-sentinel/internal/infra/telegram/botclient"
	"telegram-sentinel/internal/support/debug"
	"telegram-sentinel/internal/tgutil"
)

// event — нормализованное входящее сообщение.
type event struct {
	messageID int64
	chatID    string
	chat      string
	sender    string
	text      string
	ts        int64
}

// record классифицирует событие и сохраняет вердикт. Ошибка вставки не
// останавливает мониторинг: строка теряется с записью в лог.
func (m *Monitor) record(ctx context.Context, ev event) {
	res := m.engine.Analyze(ctx, ev.text, m.settings.Current())

	msgID, chatID := ev.messageID, ev.chatID
	err := m.messages.Store(ctx, msgstore.Entry{
		TelegramMessageID: &msgID,
		TelegramChatID:    &chatID,
		MessageTs:         ev.ts,
		Chat:              ev.chat,
		Sender:            ev.sender,
		Text:              ev.text,
		Type:              res.Type,
		Score:             res.Score,
	})
	if err != nil {
		logger.Errorf("classified message was not stored: %v", err)
	}

	if res.Type != threat.Safe {
		logger.Infof("detected %s (%.2f) in %q from %q", res.Type, res.Score, ev.chat, ev.sender)
	} else if logger.IsDebugEnabled() {
		logger.Debugf("message in %q from %q is safe (%.2f)", ev.chat, ev.sender, res.Score)
	}
}

// --- Bot API ---

// onBotUpdate обрабатывает апдейт длинного опроса: берёт сообщение или пост
// канала, фильтрует по целям и отдаёт в общий конвейер.
func (m *Monitor) onBotUpdate(ctx context.Context, update *botmodels.Update) {
	msg := botclient.EventMessage(update)
	if msg == nil {
		return
	}
	text := botclient.MessageText(msg)
	if strings.TrimSpace(text) == "" {
		return
	}
	chatID := botclient.ChatID(msg)
	if !m.allows(chatID) {
		return
	}
	ev := event{
		messageID: int64(msg.ID),
		chatID:    chatID,
		chat:      botclient.ChatTitle(msg),
		sender:    botclient.SenderDisplay(msg),
		text:      text,
		ts:        botclient.MessageTime(msg),
	}
	debug.Trace("botapi", ev.chat, ev.sender, ev.text)
	m.record(ctx, ev)
}

// --- MTProto ---

// onNewMessage обрабатывает входящее личное или групповое сообщение.
func (m *Monitor) onNewMessage(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
	m.handleUserEvent(ctx, e, u.Message)
	return nil
}

// onNewChannelMessage обрабатывает сообщение канала или супергруппы.
func (m *Monitor) onNewChannelMessage(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
	m.handleUserEvent(ctx, e, u.Message)
	return nil
}

// handleUserEvent сводит апдейт gotd к общей форме события. Идентификатор
// чата приводится к нотации Bot API, чтобы один список целей работал в обоих
// режимах.
func (m *Monitor) handleUserEvent(ctx context.Context, entities tg.Entities, raw tg.MessageClass) {
	msg, ok := raw.(*tg.Message)
	if !ok || msg.Out {
		return
	}
	if strings.TrimSpace(msg.Message) == "" {
		return
	}
	chatID := tgutil.ChatID(msg.PeerID)
	if !m.allows(chatID) {
		return
	}
	ev := event{
		messageID: int64(msg.ID),
		chatID:    chatID,
		chat:      chatDisplay(entities, msg.PeerID),
		sender:    senderDisplay(entities, msg),
		text:      msg.Message,
		ts:        int64(msg.Date),
	}
	debug.Trace("mtproto", ev.chat, ev.sender, ev.text)
	m.record(ctx, ev)
}

// senderDisplay восстанавливает имя отправителя по entities апдейта.
// Для сообщений без FromID (личные диалоги, посты каналов) отправителем
// считается сам peer.
func senderDisplay(entities tg.Entities, msg *tg.Message) string {
	from := msg.FromID
	if from == nil {
		from = msg.PeerID
	}
	switch peer := from.(type) {
	case *tg.PeerUser:
		if user, ok := entities.Users[peer.UserID]; ok && user != nil {
			if name := userName(user); name != "" {
				return name
			}
		}
	case *tg.PeerChat:
		if chat, ok := entities.Chats[peer.ChatID]; ok && chat != nil && chat.Title != "" {
			return chat.Title
		}
	case *tg.PeerChannel:
		if ch, ok := entities.Channels[peer.ChannelID]; ok && ch != nil && ch.Title != "" {
			return ch.Title
		}
	}
	return chatDisplay(entities, msg.PeerID)
}

// chatDisplay возвращает человекочитаемое имя чата; когда entities не
// содержат нужной сущности, остаётся идентификатор.
func chatDisplay(entities tg.Entities, peer tg.PeerClass) string {
	switch p := peer.(type) {
	case *tg.PeerUser:
		if user, ok := entities.Users[p.UserID]; ok && user != nil {
			if name := userName(user); name != "" {
				return name
			}
		}
	case *tg.PeerChat:
		if chat, ok := entities.Chats[p.ChatID]; ok && chat != nil && chat.Title != "" {
			return chat.Title
		}
	case *tg.PeerChannel:
		if ch, ok := entities.Channels[p.ChannelID]; ok && ch != nil && ch.Title != "" {
			return ch.Title
		}
	}
	return tgutil.ChatID(peer)
}

// userName собирает отображаемое имя пользователя: имя и фамилия, затем username.
func userName(u *tg.User) string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name != "" {
		return name
	}
	return u.Username
}
