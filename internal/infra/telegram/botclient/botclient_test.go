package botclient

import (
	"reflect"
	"testing"

	"github.com/go-telegram/bot/models"
)

func TestDiscoverChatIDsWalksAllUpdateKinds(t *testing.T) {
	t.Parallel()

	updates := []*models.Update{
		{Message: &models.Message{Chat: models.Chat{ID: -1001}}},
		nil,
		{ChannelPost: &models.Message{Chat: models.Chat{ID: -1003803680927}}},
		{MyChatMember: &models.ChatMemberUpdated{Chat: models.Chat{ID: 42}}},
		{}, // callback query и прочие апдейты без чата
		{Message: &models.Message{Chat: models.Chat{ID: -1001}}},
	}

	got := discoverChatIDs(updates)
	want := []string{"-1001", "-1003803680927", "42", "-1001"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("discoverChatIDs() = %#v, want %#v", got, want)
	}
}

func TestMergeChatIDsSeedComesFirst(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		seed       []string
		discovered []string
		want       []string
	}{
		{
			name:       "seed before discovered",
			seed:       []string{"-1001", "-1002"},
			discovered: []string{"-1003", "-1001"},
			want:       []string{"-1001", "-1002", "-1003"},
		},
		{
			name:       "empty and blank entries dropped",
			seed:       []string{"", "  ", "-1001"},
			discovered: []string{"-1001", ""},
			want:       []string{"-1001"},
		},
		{
			name:       "whitespace trimmed before dedup",
			seed:       []string{" -1001 "},
			discovered: []string{"-1001"},
			want:       []string{"-1001"},
		},
		{
			name:       "no input",
			seed:       nil,
			discovered: nil,
			want:       []string{},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := mergeChatIDs(tc.seed, tc.discovered)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("mergeChatIDs(%v, %v) = %#v, want %#v", tc.seed, tc.discovered, got, tc.want)
			}
		})
	}
}

func TestChatIDParam(t *testing.T) {
	t.Parallel()

	if got := chatIDParam("-1003803680927"); got != int64(-1003803680927) {
		t.Fatalf("chatIDParam(numeric) = %#v, want int64", got)
	}
	if got := chatIDParam("@durov"); got != "@durov" {
		t.Fatalf("chatIDParam(username) = %#v, want string as-is", got)
	}
}

func TestChatFullTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		info *models.ChatFullInfo
		want string
	}{
		{
			name: "group title",
			info: &models.ChatFullInfo{ID: -1001, Title: "Рабочая группа"},
			want: "Рабочая группа",
		},
		{
			name: "private full name",
			info: &models.ChatFullInfo{ID: 42, FirstName: "Анна", LastName: "Ким"},
			want: "Анна Ким",
		},
		{
			name: "private first name only",
			info: &models.ChatFullInfo{ID: 42, FirstName: "Анна"},
			want: "Анна",
		},
		{
			name: "username fallback",
			info: &models.ChatFullInfo{ID: 42, Username: "anna"},
			want: "anna",
		},
		{
			name: "bare id",
			info: &models.ChatFullInfo{ID: -1007},
			want: "-1007",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := chatFullTitle(tc.info); got != tc.want {
				t.Fatalf("chatFullTitle() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestEventMessagePicksMessageOrChannelPost(t *testing.T) {
	t.Parallel()

	msg := &models.Message{ID: 1}
	post := &models.Message{ID: 2}

	if got := EventMessage(nil); got != nil {
		t.Fatalf("EventMessage(nil) = %#v, want nil", got)
	}
	if got := EventMessage(&models.Update{}); got != nil {
		t.Fatalf("EventMessage(empty) = %#v, want nil", got)
	}
	if got := EventMessage(&models.Update{Message: msg}); got != msg {
		t.Fatalf("EventMessage(message) = %#v, want the message", got)
	}
	if got := EventMessage(&models.Update{ChannelPost: post}); got != post {
		t.Fatalf("EventMessage(channel post) = %#v, want the post", got)
	}
}

func TestMessageTextPrefersTextOverCaption(t *testing.T) {
	t.Parallel()

	if got := MessageText(&models.Message{Text: "привет", Caption: "подпись"}); got != "привет" {
		t.Fatalf("MessageText() = %q, want text", got)
	}
	if got := MessageText(&models.Message{Caption: "подпись"}); got != "подпись" {
		t.Fatalf("MessageText() = %q, want caption", got)
	}
	if got := MessageText(nil); got != "" {
		t.Fatalf("MessageText(nil) = %q, want empty", got)
	}
}

func TestSenderDisplayFallbackChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  *models.Message
		want string
	}{
		{
			name: "full name",
			msg:  &models.Message{From: &models.User{FirstName: "Анна", LastName: "Ким"}},
			want: "Анна Ким",
		},
		{
			name: "username when name empty",
			msg:  &models.Message{From: &models.User{Username: "anna"}},
			want: "anna",
		},
		{
			name: "channel post uses sender chat",
			msg:  &models.Message{SenderChat: &models.Chat{Title: "Новости"}, Chat: models.Chat{ID: -100, Title: "Новости"}},
			want: "Новости",
		},
		{
			name: "anonymous admin falls back to chat title",
			msg:  &models.Message{Chat: models.Chat{ID: -1001, Title: "Рабочая группа"}},
			want: "Рабочая группа",
		},
		{
			name: "last resort is chat id",
			msg:  &models.Message{Chat: models.Chat{ID: -1001}},
			want: "-1001",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := SenderDisplay(tc.msg); got != tc.want {
				t.Fatalf("SenderDisplay() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestChatIDAndTime(t *testing.T) {
	t.Parallel()

	msg := &models.Message{Chat: models.Chat{ID: -1003803680927}, Date: 1700000000}
	if got := ChatID(msg); got != "-1003803680927" {
		t.Fatalf("ChatID() = %q, want %q", got, "-1003803680927")
	}
	if got := MessageTime(msg); got != 1700000000 {
		t.Fatalf("MessageTime() = %d, want %d", got, 1700000000)
	}
	if got := MessageTime(nil); got != 0 {
		t.Fatalf("MessageTime(nil) = %d, want 0", got)
	}
}
