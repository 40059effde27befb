package tgutil

import (
	"strconv"

	"github.com/gotd/td/tg"
)

// PeerID нормализует получателя до его числового идентификатора (user/chat/channel).
// Возвращает 0 для неизвестного типа peer.
func PeerID(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return p.ChatID
	case *tg.PeerChannel:
		return p.ChannelID
	default:
		return 0
	}
}

// ChatID приводит peer к строковому идентификатору в формате Bot API:
// каналы и супергруппы получают префикс -100, обычные группы — знак минус,
// пользователи — числовой id без префикса. Такая форма совпадает с тем, что
// присылает Bot API, поэтому списки целевых чатов работают в обоих режимах.
func ChatID(peer tg.PeerClass) string {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return strconv.FormatInt(p.UserID, 10)
	case *tg.PeerChat:
		return "-" + strconv.FormatInt(p.ChatID, 10)
	case *tg.PeerChannel:
		return "-100" + strconv.FormatInt(p.ChannelID, 10)
	default:
		return ""
	}
}
