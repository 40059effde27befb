package msgstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"telegram-sentinel/internal/domain/threat"
	"telegram-sentinel/internal/infra/msgstore"
)

func openStore(t *testing.T) *msgstore.Store {
	t.Helper()
	st, err := msgstore.Open(filepath.Join(t.TempDir(), "messages.sqlite3"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	ctx := context.Background()

	msgID := int64(777)
	chatID := "-1001234567890"
	in := msgstore.Entry{
		TelegramMessageID: &msgID,
		TelegramChatID:    &chatID,
		MessageTs:         1700000000,
		Chat:              "Рабочий чат",
		Sender:            "Иван Петров",
		Text:              "Гарантированный доход, переведи usdt",
		Type:              threat.Scam,
		Score:             0.86,
	}
	if err := st.Store(ctx, in); err != nil {
		t.Fatalf("Store: %v", err)
	}

	rows, err := st.ReadRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ReadRecent: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	got := rows[0]
	if got.ID == 0 {
		t.Error("id must be assigned")
	}
	if got.TelegramMessageID == nil || *got.TelegramMessageID != msgID {
		t.Errorf("telegramMessageId = %v", got.TelegramMessageID)
	}
	if got.TelegramChatID == nil || *got.TelegramChatID != chatID {
		t.Errorf("telegramChatId = %v", got.TelegramChatID)
	}
	if got.MessageTs != in.MessageTs {
		t.Errorf("messageTs = %d, want %d", got.MessageTs, in.MessageTs)
	}
	if got.ReceivedTs <= 0 {
		t.Errorf("receivedTs = %d, want insert-time epoch ms", got.ReceivedTs)
	}
	if got.Chat != in.Chat || got.Sender != in.Sender || got.Text != in.Text {
		t.Errorf("text fields mismatch: %+v", got)
	}
	if got.Type != threat.Scam || got.Score != 0.86 {
		t.Errorf("verdict fields mismatch: type=%s score=%v", got.Type, got.Score)
	}
}

func TestStoreNullableTelegramIDs(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	ctx := context.Background()

	if err := st.Store(ctx, msgstore.Entry{
		Chat: "self-test", Sender: "engine", Text: "пример", Type: threat.Safe, Score: 0.99,
	}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	rows, err := st.ReadRecent(ctx, 1)
	if err != nil {
		t.Fatalf("ReadRecent: %v", err)
	}
	if rows[0].TelegramMessageID != nil || rows[0].TelegramChatID != nil {
		t.Errorf("telegram ids must stay NULL: %+v", rows[0])
	}
}

func TestReadRecentOrderAndLimit(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	ctx := context.Background()

	texts := []string{"первое", "второе", "третье", "четвёртое", "пятое"}
	for i, text := range texts {
		err := st.Store(ctx, msgstore.Entry{
			MessageTs: int64(1700000000 + i),
			Chat:      "чат", Sender: "автор", Text: text,
			Type: threat.Safe, Score: 0.9,
		})
		if err != nil {
			t.Fatalf("Store %q: %v", text, err)
		}
	}

	rows, err := st.ReadRecent(ctx, 3)
	if err != nil {
		t.Fatalf("ReadRecent: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	for i, want := range []string{"пятое", "четвёртое", "третье"} {
		if rows[i].Text != want {
			t.Errorf("rows[%d].Text = %q, want %q", i, rows[i].Text, want)
		}
	}
	for i := 1; i < len(rows); i++ {
		if rows[i-1].ReceivedTs < rows[i].ReceivedTs {
			t.Errorf("rows not ordered by receivedTs DESC: %d before %d",
				rows[i-1].ReceivedTs, rows[i].ReceivedTs)
		}
	}
}

func TestStoreClampsScoreAndCoercesTs(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	ctx := context.Background()
	before := time.Now().Unix()

	cases := []struct {
		score     float64
		messageTs int64
		wantScore float64
	}{
		{score: 1.7, messageTs: 1700000000, wantScore: 1},
		{score: -0.2, messageTs: 0, wantScore: 0},
		{score: 0.5, messageTs: -42, wantScore: 0.5},
	}
	for _, tc := range cases {
		err := st.Store(ctx, msgstore.Entry{
			MessageTs: tc.messageTs,
			Chat:      "чат", Sender: "автор", Text: "текст",
			Type: threat.Toxicity, Score: tc.score,
		})
		if err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	rows, err := st.ReadRecent(ctx, 3)
	if err != nil {
		t.Fatalf("ReadRecent: %v", err)
	}
	// rows идут в обратном порядке вставки
	if rows[2].Score != 1 {
		t.Errorf("score 1.7 must clamp to 1, got %v", rows[2].Score)
	}
	if rows[1].Score != 0 {
		t.Errorf("score -0.2 must clamp to 0, got %v", rows[1].Score)
	}
	after := time.Now().Unix()
	if ts := rows[1].MessageTs; ts < before || ts > after {
		t.Errorf("messageTs 0 must coerce to insert time, got %d", ts)
	}
	if ts := rows[0].MessageTs; ts < before || ts > after {
		t.Errorf("negative messageTs must coerce to insert time, got %d", ts)
	}
}

func TestReadRecentClampsLimit(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := st.Store(ctx, msgstore.Entry{
			Chat: "чат", Sender: "автор", Text: "текст",
			Type: threat.Safe, Score: 0.9,
		}); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	rows, err := st.ReadRecent(ctx, 0)
	if err != nil {
		t.Fatalf("ReadRecent(0): %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("limit 0 must clamp to 1, got %d rows", len(rows))
	}
	if _, err := st.ReadRecent(ctx, 100000); err != nil {
		t.Errorf("oversized limit must clamp, not fail: %v", err)
	}
}

func TestReadStatsCoversAllCategories(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	ctx := context.Background()

	stats, err := st.ReadStats(ctx)
	if err != nil {
		t.Fatalf("ReadStats: %v", err)
	}
	if len(stats) != len(threat.All) {
		t.Fatalf("stats keys = %d, want %d", len(stats), len(threat.All))
	}
	for cat, n := range stats {
		if n != 0 {
			t.Errorf("empty store must report zero for %s, got %d", cat, n)
		}
	}

	for _, typ := range []threat.Category{threat.Scam, threat.Scam, threat.Safe} {
		if err := st.Store(ctx, msgstore.Entry{
			Chat: "чат", Sender: "автор", Text: "текст", Type: typ, Score: 0.8,
		}); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	stats, err = st.ReadStats(ctx)
	if err != nil {
		t.Fatalf("ReadStats: %v", err)
	}
	if stats[threat.Scam] != 2 || stats[threat.Safe] != 1 || stats[threat.Drugs] != 0 {
		t.Errorf("stats = %v", stats)
	}
}
