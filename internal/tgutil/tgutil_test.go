package tgutil_test

import (
	"testing"

	"github.com/gotd/td/tg"

	"telegram-sentinel/internal/tgutil"
)

func TestPeerID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		peer tg.PeerClass
		want int64
	}{
		{"user", &tg.PeerUser{UserID: 42}, 42},
		{"chat", &tg.PeerChat{ChatID: 1001}, 1001},
		{"channel", &tg.PeerChannel{ChannelID: 987654}, 987654},
		{"nil", nil, 0},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tgutil.PeerID(tc.peer); got != tc.want {
				t.Errorf("PeerID = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestChatID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		peer tg.PeerClass
		want string
	}{
		{"user keeps plain id", &tg.PeerUser{UserID: 42}, "42"},
		{"legacy chat is negated", &tg.PeerChat{ChatID: 1001}, "-1001"},
		{"channel gets -100 prefix", &tg.PeerChannel{ChannelID: 3803680927}, "-1003803680927"},
		{"nil maps to empty", nil, ""},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tgutil.ChatID(tc.peer); got != tc.want {
				t.Errorf("ChatID = %q, want %q", got, tc.want)
			}
		})
	}
}
