package userclient

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

func TestAppendChatsMapsEntities(t *testing.T) {
	t.Parallel()

	batch := &tg.MessagesDialogs{
		Dialogs: []tg.DialogClass{
			&tg.Dialog{Peer: &tg.PeerUser{UserID: 42}},
			&tg.Dialog{Peer: &tg.PeerChat{ChatID: 1001}},
			&tg.Dialog{Peer: &tg.PeerChannel{ChannelID: 555}},
			&tg.Dialog{Peer: &tg.PeerChannel{ChannelID: 777}},
			&tg.DialogFolder{},
			&tg.Dialog{Peer: &tg.PeerUser{UserID: 42}},   // дубль
			&tg.Dialog{Peer: &tg.PeerUser{UserID: 9999}}, // нет сущности
		},
		Users: []tg.UserClass{
			&tg.User{
				ID: 42, AccessHash: 71, FirstName: "Анна", LastName: "Ким",
				Username: "annakim",
				Photo:    &tg.UserProfilePhoto{PhotoID: 123},
			},
		},
		Chats: []tg.ChatClass{
			&tg.Chat{ID: 1001, Title: "Рабочая группа"},
			&tg.Channel{
				ID: 555, AccessHash: 81, Title: "Новости", Username: "news",
				Broadcast: true,
				Photo:     &tg.ChatPhoto{PhotoID: 456},
			},
			&tg.Channel{ID: 777, AccessHash: 91, Title: "Обсуждение", Megagroup: true},
		},
	}

	got := appendChats(nil, make(map[string]struct{}), batch)
	if len(got) != 4 {
		t.Fatalf("chats = %d, want 4: %#v", len(got), got)
	}

	user := got[0]
	if user.ID != "42" || user.Title != "Анна Ким" || user.Type != "private" || user.PhotoID != 123 {
		t.Errorf("user chat mismatch: %#v", user)
	}
	if peer, ok := user.Peer.(*tg.InputPeerUser); !ok || peer.AccessHash != 71 {
		t.Errorf("user peer mismatch: %#v", user.Peer)
	}

	group := got[1]
	if group.ID != "-1001" || group.Title != "Рабочая группа" || group.Type != "group" {
		t.Errorf("group chat mismatch: %#v", group)
	}

	channel := got[2]
	if channel.ID != "-100555" || channel.Type != "channel" || channel.Username != "news" || channel.PhotoID != 456 {
		t.Errorf("channel mismatch: %#v", channel)
	}

	mega := got[3]
	if mega.ID != "-100777" || mega.Type != "supergroup" || mega.PhotoID != 0 {
		t.Errorf("supergroup mismatch: %#v", mega)
	}
}

func TestNormalizeDialogsResponse(t *testing.T) {
	t.Parallel()

	slice := &tg.MessagesDialogsSlice{
		Dialogs: []tg.DialogClass{&tg.Dialog{Peer: &tg.PeerUser{UserID: 1}}},
	}
	flat, err := normalizeDialogsResponse(slice)
	if err != nil {
		t.Fatalf("slice: %v", err)
	}
	if len(flat.Dialogs) != 1 {
		t.Errorf("slice must flatten into MessagesDialogs: %#v", flat)
	}

	if _, err := normalizeDialogsResponse(&tg.MessagesDialogsNotModified{}); !errors.Is(err, errDialogsNotModified) {
		t.Errorf("not-modified must map to sentinel, got %v", err)
	}
}

func TestDialogPeerToInputUsesAccessHashes(t *testing.T) {
	t.Parallel()

	userHashes := map[int64]int64{42: 71}
	channelHashes := map[int64]int64{555: 81}

	in := dialogPeerToInput(&tg.PeerUser{UserID: 42}, userHashes, channelHashes)
	if peer, ok := in.(*tg.InputPeerUser); !ok || peer.AccessHash != 71 {
		t.Errorf("user input peer mismatch: %#v", in)
	}

	in = dialogPeerToInput(&tg.PeerChannel{ChannelID: 555}, userHashes, channelHashes)
	if peer, ok := in.(*tg.InputPeerChannel); !ok || peer.AccessHash != 81 {
		t.Errorf("channel input peer mismatch: %#v", in)
	}

	if _, ok := dialogPeerToInput(nil, userHashes, channelHashes).(*tg.InputPeerEmpty); !ok {
		t.Error("unknown peer must map to InputPeerEmpty")
	}
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		user *tg.User
		want string
	}{
		{"full name", &tg.User{FirstName: "Анна", LastName: "Ким"}, "Анна Ким"},
		{"first only", &tg.User{FirstName: "Анна"}, "Анна"},
		{"username fallback", &tg.User{Username: "annakim"}, "annakim"},
		{"nil", nil, ""},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := displayName(tc.user); got != tc.want {
				t.Errorf("displayName = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestIsBotMethodInvalid(t *testing.T) {
	t.Parallel()

	base := tgerr.New(400, "BOT_METHOD_INVALID")
	if !IsBotMethodInvalid(errors.Wrap(base, "messages.getDialogs")) {
		t.Error("wrapped BOT_METHOD_INVALID must be recognized")
	}
	if IsBotMethodInvalid(tgerr.New(420, "FLOOD_WAIT_3")) {
		t.Error("other RPC errors must not match")
	}
	if IsBotMethodInvalid(errors.New("plain")) {
		t.Error("non-RPC errors must not match")
	}
}
