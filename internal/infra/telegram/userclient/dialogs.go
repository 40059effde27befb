package userclient

import (
	"bytes"
	"context"

	"github.com/go-faster/errors"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"telegram-sentinel/internal/tgutil"
)

const dialogPageLimit = 100

var errDialogsNotModified = errors.New("dialogs not modified")

// ChatInfo — один диалог аккаунта в Bot API-нотации идентификаторов.
// Peer и PhotoID нужны для последующей загрузки аватарки.
type ChatInfo struct {
	ID       string
	Title    string
	Username string
	Type     string
	Peer     tg.InputPeerClass
	PhotoID  int64
}

// IsBotMethodInvalid распознаёт отказ Telegram выполнять пользовательский
// метод под ботовой сессией. Используется для прозрачного перехода на Bot API.
func IsBotMethodInvalid(err error) bool {
	return tgerr.Is(err, "BOT_METHOD_INVALID")
}

// Dialogs постранично выгружает весь список диалогов через messages.getDialogs
// (пагинация по offset_date/offset_id/offset_peer) и приводит его к плоскому
// списку чатов. Папки пропускаются; порядок соответствует списку диалогов.
func (c *Client) Dialogs(ctx context.Context) ([]ChatInfo, error) {
	api := c.tg.API()

	var result []ChatInfo
	seen := make(map[string]struct{})

	offsetDate := 0
	offsetID := 0
	var offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}

	userHashes := make(map[int64]int64)
	channelHashes := make(map[int64]int64)

	for {
		resp, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      dialogPageLimit,
		})
		if err != nil {
			return nil, errors.Wrap(err, "messages.getDialogs")
		}

		batch, err := normalizeDialogsResponse(resp)
		if err != nil {
			if errors.Is(err, errDialogsNotModified) {
				return result, nil
			}
			return nil, err
		}
		if len(batch.Dialogs) == 0 {
			break
		}

		collectAccessHashes(batch, userHashes, channelHashes)
		result = appendChats(result, seen, batch)

		lastDialog := batch.Dialogs[len(batch.Dialogs)-1]
		prevOffsetDate := offsetDate
		prevOffsetID := offsetID

		switch dlg := lastDialog.(type) {
		case *tg.Dialog:
			offsetID = dlg.TopMessage
			offsetDate = messageDate(batch.Messages, dlg.TopMessage)
			offsetPeer = dialogPeerToInput(dlg.Peer, userHashes, channelHashes)
		case *tg.DialogFolder:
			offsetID = dlg.TopMessage
			offsetDate = messageDate(batch.Messages, dlg.TopMessage)
			offsetPeer = dialogPeerToInput(dlg.Peer, userHashes, channelHashes)
		default:
			offsetPeer = &tg.InputPeerEmpty{}
		}

		if offsetDate == 0 {
			offsetDate = prevOffsetDate
		}
		if offsetID == 0 {
			offsetID = prevOffsetID
		}
		if offsetPeer == nil {
			offsetPeer = &tg.InputPeerEmpty{}
		}

		if len(batch.Dialogs) < dialogPageLimit {
			break
		}
	}

	return result, nil
}

// DownloadChatPhoto скачивает маленькую аватарку чата. Отсутствие фото не
// ошибка: возвращается nil без данных.
func (c *Client) DownloadChatPhoto(ctx context.Context, chat ChatInfo) ([]byte, error) {
	if chat.PhotoID == 0 || chat.Peer == nil {
		return nil, nil
	}

	loc := &tg.InputPeerPhotoFileLocation{
		Peer:    chat.Peer,
		PhotoID: chat.PhotoID,
	}

	var buf bytes.Buffer
	if _, err := downloader.NewDownloader().Download(c.tg.API(), loc).Stream(ctx, &buf); err != nil {
		return nil, errors.Wrap(err, "download chat photo")
	}
	return buf.Bytes(), nil
}

func normalizeDialogsResponse(resp tg.MessagesDialogsClass) (*tg.MessagesDialogs, error) {
	switch data := resp.(type) {
	case *tg.MessagesDialogs:
		return data, nil
	case *tg.MessagesDialogsSlice:
		return &tg.MessagesDialogs{
			Dialogs:  data.Dialogs,
			Messages: data.Messages,
			Chats:    data.Chats,
			Users:    data.Users,
		}, nil
	case *tg.MessagesDialogsNotModified:
		return nil, errDialogsNotModified
	default:
		return nil, errors.Errorf("unexpected dialogs response %T", resp)
	}
}

// appendChats превращает диалоги страницы в ChatInfo, подтягивая названия и
// фото из сущностей той же страницы. Дубли по идентификатору отбрасываются.
func appendChats(dst []ChatInfo, seen map[string]struct{}, batch *tg.MessagesDialogs) []ChatInfo {
	users := make(map[int64]*tg.User, len(batch.Users))
	for _, u := range batch.Users {
		if user, ok := u.(*tg.User); ok {
			users[user.ID] = user
		}
	}
	chats := make(map[int64]*tg.Chat, len(batch.Chats))
	channels := make(map[int64]*tg.Channel)
	for _, ch := range batch.Chats {
		switch item := ch.(type) {
		case *tg.Chat:
			chats[item.ID] = item
		case *tg.Channel:
			channels[item.ID] = item
		}
	}

	for _, dialog := range batch.Dialogs {
		dlg, ok := dialog.(*tg.Dialog)
		if !ok {
			continue
		}

		var info ChatInfo
		switch peer := dlg.Peer.(type) {
		case *tg.PeerUser:
			user := users[peer.UserID]
			if user == nil {
				continue
			}
			info = ChatInfo{
				ID:       tgutil.ChatID(peer),
				Title:    displayName(user),
				Username: user.Username,
				Type:     "private",
				Peer:     &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash},
				PhotoID:  userPhotoID(user),
			}
		case *tg.PeerChat:
			chat := chats[peer.ChatID]
			if chat == nil {
				continue
			}
			info = ChatInfo{
				ID:      tgutil.ChatID(peer),
				Title:   chat.Title,
				Type:    "group",
				Peer:    &tg.InputPeerChat{ChatID: chat.ID},
				PhotoID: chatPhotoID(chat.Photo),
			}
		case *tg.PeerChannel:
			channel := channels[peer.ChannelID]
			if channel == nil {
				continue
			}
			kind := "supergroup"
			if channel.Broadcast {
				kind = "channel"
			}
			info = ChatInfo{
				ID:       tgutil.ChatID(peer),
				Title:    channel.Title,
				Username: channel.Username,
				Type:     kind,
				Peer:     &tg.InputPeerChannel{ChannelID: channel.ID, AccessHash: channel.AccessHash},
				PhotoID:  chatPhotoID(channel.Photo),
			}
		default:
			continue
		}

		if _, dup := seen[info.ID]; dup {
			continue
		}
		seen[info.ID] = struct{}{}
		dst = append(dst, info)
	}
	return dst
}

func userPhotoID(u *tg.User) int64 {
	if photo, ok := u.Photo.(*tg.UserProfilePhoto); ok {
		return photo.PhotoID
	}
	return 0
}

func chatPhotoID(photo tg.ChatPhotoClass) int64 {
	if p, ok := photo.(*tg.ChatPhoto); ok {
		return p.PhotoID
	}
	return 0
}

func collectAccessHashes(batch *tg.MessagesDialogs, userHashes, channelHashes map[int64]int64) {
	for _, entity := range batch.Users {
		if user, ok := entity.(*tg.User); ok {
			userHashes[user.ID] = user.AccessHash
		}
	}
	for _, entity := range batch.Chats {
		if channel, ok := entity.(*tg.Channel); ok {
			channelHashes[channel.ID] = channel.AccessHash
		}
	}
}

func messageDate(messages []tg.MessageClass, id int) int {
	for _, msg := range messages {
		switch item := msg.(type) {
		case *tg.Message:
			if item.ID == id {
				return item.Date
			}
		case *tg.MessageService:
			if item.ID == id {
				return item.Date
			}
		}
	}
	return 0
}

func dialogPeerToInput(peer tg.PeerClass, userHashes, channelHashes map[int64]int64) tg.InputPeerClass {
	switch entity := peer.(type) {
	case *tg.PeerUser:
		return &tg.InputPeerUser{
			UserID:     entity.UserID,
			AccessHash: userHashes[entity.UserID],
		}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: entity.ChatID}
	case *tg.PeerChannel:
		return &tg.InputPeerChannel{
			ChannelID:  entity.ChannelID,
			AccessHash: channelHashes[entity.ChannelID],
		}
	default:
		return &tg.InputPeerEmpty{}
	}
}
