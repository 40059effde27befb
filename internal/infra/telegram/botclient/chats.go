package botclient

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"telegram-sentinel/internal/infra/logger"
)

// collectLimit ограничивает разовый getUpdates при сборе чатов.
const collectLimit = 100

// Chat описывает чат, доступный боту. ID хранится строкой в нотации
// Bot API, Photo содержит прямую ссылку на маленькую аватарку (если есть).
type Chat struct {
	ID       string
	Title    string
	Username string
	Type     string
	PhotoURL string
}

// CollectChats собирает список чатов бота: разовый срез getUpdates
// (сообщения, посты каналов, события membership) объединяется с уже
// сохранёнными целями, затем каждый чат уточняется через getChat.
// Чаты, на которые getChat отвечает ошибкой (бот удалён, чат скрыт),
// пропускаются. Порядок: сначала seed, затем найденные в апдейтах.
func CollectChats(ctx context.Context, token string, seed []string) ([]Chat, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("bot token is empty")
	}
	b, err := bot.New(token)
	if err != nil {
		return nil, errors.Wrap(err, "create bot client")
	}

	updates, err := b.GetUpdates(ctx, &bot.GetUpdatesParams{
		Limit:          collectLimit,
		AllowedUpdates: []string{"message", "channel_post", "my_chat_member"},
	})
	if err != nil {
		return nil, errors.Wrap(err, "fetch bot updates")
	}

	ids := mergeChatIDs(seed, discoverChatIDs(updates))
	chats := make([]Chat, 0, len(ids))
	for _, id := range ids {
		chat, err := describeChat(ctx, b, id)
		if err != nil {
			logger.Debugf("chat %s is not reachable via bot api: %v", id, err)
			continue
		}
		chats = append(chats, chat)
	}
	return chats, nil
}

// discoverChatIDs вытаскивает идентификаторы чатов из апдейтов в порядке
// первого появления. Дедупликация происходит позже, при слиянии с seed.
func discoverChatIDs(updates []*models.Update) []string {
	ids := make([]string, 0, len(updates))
	for _, u := range updates {
		if u == nil {
			continue
		}
		var chat *models.Chat
		switch {
		case u.Message != nil:
			chat = &u.Message.Chat
		case u.ChannelPost != nil:
			chat = &u.ChannelPost.Chat
		case u.MyChatMember != nil:
			chat = &u.MyChatMember.Chat
		}
		if chat == nil {
			continue
		}
		ids = append(ids, strconv.FormatInt(chat.ID, 10))
	}
	return ids
}

// mergeChatIDs объединяет сохранённые цели и найденные чаты, убирая
// дубликаты и пустые значения. Seed идёт первым.
func mergeChatIDs(seed, discovered []string) []string {
	seen := make(map[string]struct{}, len(seed)+len(discovered))
	merged := make([]string, 0, len(seed)+len(discovered))
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
	}
	for _, id := range seed {
		add(id)
	}
	for _, id := range discovered {
		add(id)
	}
	return merged
}

// describeChat запрашивает детали чата и ссылку на его аватарку.
// Ошибка getFile не считается фатальной: чат возвращается без фото.
func describeChat(ctx context.Context, b *bot.Bot, id string) (Chat, error) {
	info, err := b.GetChat(ctx, &bot.GetChatParams{ChatID: chatIDParam(id)})
	if err != nil {
		return Chat{}, errors.Wrap(err, "getChat")
	}

	chat := Chat{
		ID:       strconv.FormatInt(info.ID, 10),
		Title:    chatFullTitle(info),
		Username: info.Username,
		Type:     string(info.Type),
	}
	if info.Photo != nil && info.Photo.SmallFileID != "" {
		file, err := b.GetFile(ctx, &bot.GetFileParams{FileID: info.Photo.SmallFileID})
		if err != nil {
			logger.Debugf("chat %s photo is not downloadable: %v", chat.ID, err)
			return chat, nil
		}
		chat.PhotoURL = b.FileDownloadLink(file)
	}
	return chat, nil
}

// chatIDParam подготавливает значение для поля ChatID запроса getChat:
// числовые идентификаторы передаются как int64, остальное (например,
// @username) — как есть.
func chatIDParam(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

// chatFullTitle выбирает человекочитаемое имя чата: заголовок для групп
// и каналов, имя собеседника для личных диалогов.
func chatFullTitle(info *models.ChatFullInfo) string {
	if info.Title != "" {
		return info.Title
	}
	if name := strings.TrimSpace(strings.TrimSpace(info.FirstName) + " " + strings.TrimSpace(info.LastName)); name != "" {
		return name
	}
	if info.Username != "" {
		return info.Username
	}
	return strconv.FormatInt(info.ID, 10)
}
