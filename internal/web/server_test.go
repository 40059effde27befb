package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"telegram-sentinel/internal/domain/analysis"
	"telegram-sentinel/internal/domain/models"
	"telegram-sentinel/internal/domain/monitor"
	"telegram-sentinel/internal/domain/settings"
	"telegram-sentinel/internal/infra/classifiers"
	"telegram-sentinel/internal/infra/inference"
	"telegram-sentinel/internal/infra/msgstore"
	"telegram-sentinel/internal/infra/ratelimit"
	"telegram-sentinel/internal/infra/telegram/pending"
	"telegram-sentinel/internal/web"
)

type testEnv struct {
	ts       *httptest.Server
	client   *http.Client
	settings *settings.Store
	messages *msgstore.Store
}

// newTestEnv собирает сервер на временном каталоге и подставном
// inference-сайдкаре. Каждый тест получает собственный лимитер, чтобы
// бюджеты не пересекались между тестами.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	st := settings.NewStore(filepath.Join(dir, "admin-settings.json"))
	if _, err := st.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	msgs, err := msgstore.Open(filepath.Join(dir, "messages.sqlite3"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = msgs.Close() })

	sidecar := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"label":"neutral","score":0.9}]`))
	}))
	t.Cleanup(sidecar.Close)

	cache := classifiers.NewCache(inference.NewClient(sidecar.URL), dir)
	engine := analysis.NewEngine(cache)
	mon := monitor.New(monitor.Config{
		Settings:  st,
		Messages:  msgs,
		Engine:    engine,
		Cache:     cache,
		PeersPath: filepath.Join(dir, "peers.bbolt"),
	})

	server := web.NewServer(web.Config{
		Addr:           ":0",
		SessionSecret:  "test-secret",
		AdminPassword:  "admin-pass",
		ViewerPassword: "viewer-pass",
		Settings:       st,
		Messages:       msgs,
		Engine:         engine,
		Monitor:        mon,
		Limiter:        ratelimit.New(),
		Pending:        pending.New(),
	})

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}

	return &testEnv{
		ts:       ts,
		client:   &http.Client{Jar: jar},
		settings: st,
		messages: msgs,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (e *testEnv) login(t *testing.T, username, password string) {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/login", map[string]string{
		"username": username,
		"password": password,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login as %s: status %d", username, resp.StatusCode)
	}
}

func decodeMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return m
}

func TestHealthIsPublic(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /health status = %d, want 200", resp.StatusCode)
	}
	body := decodeMap(t, resp)
	if body["status"] != "ok" {
		t.Fatalf("GET /health body = %#v", body)
	}
}

func TestLoginLogoutRoundTrip(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/login", map[string]string{
		"username": "admin",
		"password": "admin-pass",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}
	body := decodeMap(t, resp)
	if body["username"] != "admin" || body["role"] != "admin" {
		t.Fatalf("login body = %#v", body)
	}

	resp = env.do(t, http.MethodGet, "/api/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status with session = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/api/logout", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/status", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status after logout = %d, want 401", resp.StatusCode)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	tests := []struct {
		name string
		body map[string]string
	}{
		{"wrong password", map[string]string{"username": "admin", "password": "nope"}},
		{"unknown user", map[string]string{"username": "root", "password": "admin-pass"}},
		{"empty body", map[string]string{}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/login", tc.body)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("login status = %d, want 401", resp.StatusCode)
			}
		})
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	for _, path := range []string{"/api/settings", "/api/status", "/api/messages", "/api/stats"} {
		resp := env.do(t, http.MethodGet, path, nil)
		body := decodeMap(t, resp)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("GET %s status = %d, want 401", path, resp.StatusCode)
		}
		if body["error"] == "" {
			t.Fatalf("GET %s: error envelope missing: %#v", path, body)
		}
	}
}

func TestViewerCannotUseAdminRoutes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.login(t, "viewer", "viewer-pass")

	resp := env.do(t, http.MethodGet, "/api/settings", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer GET /api/settings = %d, want 403", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/start", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer POST /api/start = %d, want 403", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/api/status", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("viewer GET /api/status = %d, want 200", resp.StatusCode)
	}
}

func TestLoginRateLimit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	for i := 0; i < 10; i++ {
		resp := env.do(t, http.MethodPost, "/api/login", map[string]string{
			"username": "admin",
			"password": "admin-pass",
		})
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("login #%d status = %d, want 200", i+1, resp.StatusCode)
		}
	}

	resp := env.do(t, http.MethodPost, "/api/login", map[string]string{
		"username": "admin",
		"password": "admin-pass",
	})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("login #11 status = %d, want 429", resp.StatusCode)
	}
	retryAfter, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || retryAfter < 300 {
		t.Fatalf("Retry-After = %q, want >= 300", resp.Header.Get("Retry-After"))
	}
	body := decodeMap(t, resp)
	if body["action"] != "login" {
		t.Fatalf("429 action = %v, want login", body["action"])
	}
	if sec, ok := body["retryAfterSec"].(float64); !ok || sec < 300 {
		t.Fatalf("429 retryAfterSec = %v, want >= 300", body["retryAfterSec"])
	}
	if ms, ok := body["retryAfterMs"].(float64); !ok || ms < 300000 {
		t.Fatalf("429 retryAfterMs = %v, want >= 300000", body["retryAfterMs"])
	}
}

func TestSettingsRoundTripNormalizesUnknownModel(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.login(t, "admin", "admin-pass")

	resp := env.do(t, http.MethodPost, "/api/settings", map[string]any{
		"mlModel":         "no-such-model",
		"threatThreshold": 85,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/settings status = %d, want 200", resp.StatusCode)
	}
	saved := decodeMap(t, resp)
	if saved["mlModel"] != models.DefaultID {
		t.Fatalf("mlModel = %v, want default %q", saved["mlModel"], models.DefaultID)
	}
	if saved["threatThreshold"] != float64(85) {
		t.Fatalf("threatThreshold = %v, want 85", saved["threatThreshold"])
	}

	resp = env.do(t, http.MethodGet, "/api/settings", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/settings status = %d, want 200", resp.StatusCode)
	}
	loaded := decodeMap(t, resp)
	if loaded["mlModel"] != models.DefaultID || loaded["threatThreshold"] != float64(85) {
		t.Fatalf("persisted settings mismatch: mlModel=%v threatThreshold=%v",
			loaded["mlModel"], loaded["threatThreshold"])
	}
}

func TestStatusStoppedByDefault(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.login(t, "viewer", "viewer-pass")

	resp := env.do(t, http.MethodGet, "/api/status", nil)
	body := decodeMap(t, resp)
	if body["isRunning"] != false {
		t.Fatalf("isRunning = %v, want false", body["isRunning"])
	}
	if body["model"] != models.DefaultID {
		t.Fatalf("model = %v, want %q", body["model"], models.DefaultID)
	}
	if body["threshold"] != 0.7 {
		t.Fatalf("threshold = %v, want 0.7", body["threshold"])
	}
}

func TestStartWithoutTelegramConfigFails(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.login(t, "admin", "admin-pass")

	resp := env.do(t, http.MethodPost, "/api/start", nil)
	body := decodeMap(t, resp)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("POST /api/start status = %d, want 500", resp.StatusCode)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "bot token") {
		t.Fatalf("error = %v, want bot token failure", body["error"])
	}

	resp = env.do(t, http.MethodGet, "/api/status", nil)
	status := decodeMap(t, resp)
	if status["isRunning"] != false {
		t.Fatalf("isRunning after failed start = %v, want false", status["isRunning"])
	}
}

func TestStopWhenStoppedReturnsStatus(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.login(t, "admin", "admin-pass")

	resp := env.do(t, http.MethodPost, "/api/stop", nil)
	body := decodeMap(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/stop status = %d, want 200", resp.StatusCode)
	}
	if body["isRunning"] != false {
		t.Fatalf("isRunning = %v, want false", body["isRunning"])
	}
}

func TestMessagesAndStats(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	entries := []msgstore.Entry{
		{MessageTs: 1700000000, Chat: "Рабочая группа", Sender: "Анна", Text: "созвон в три", Type: "safe", Score: 0.05},
		{MessageTs: 1700000100, Chat: "Рабочая группа", Sender: "troll", Text: "ты ничтожество", Type: "toxicity", Score: 0.91},
	}
	for _, e := range entries {
		if err := env.messages.Store(context.Background(), e); err != nil {
			t.Fatalf("Store() error: %v", err)
		}
	}

	env.login(t, "viewer", "viewer-pass")

	resp := env.do(t, http.MethodGet, "/api/messages?limit=1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/messages status = %d, want 200", resp.StatusCode)
	}
	var feed struct {
		Messages []struct {
			ID     int64   `json:"id"`
			Time   string  `json:"time"`
			Chat   string  `json:"chat"`
			Sender string  `json:"sender"`
			Text   string  `json:"text"`
			Type   string  `json:"type"`
			Score  float64 `json:"score"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	resp.Body.Close()
	if len(feed.Messages) != 1 {
		t.Fatalf("messages = %d rows, want 1", len(feed.Messages))
	}
	got := feed.Messages[0]
	if got.Text != "ты ничтожество" || got.Type != "toxicity" || got.Score != 0.91 {
		t.Fatalf("newest row mismatch: %#v", got)
	}
	if ok, _ := regexp.MatchString(`^\d{2}\.\d{2}\.\d{4}, \d{2}:\d{2}:\d{2}$`, got.Time); !ok {
		t.Fatalf("time %q does not match locale format", got.Time)
	}

	resp = env.do(t, http.MethodGet, "/api/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/stats status = %d, want 200", resp.StatusCode)
	}
	var stats map[string]int64
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	resp.Body.Close()
	if len(stats) != 7 {
		t.Fatalf("stats has %d keys, want 7: %#v", len(stats), stats)
	}
	if stats["toxicity"] != 1 || stats["safe"] != 1 || stats["scam"] != 0 {
		t.Fatalf("stats counts mismatch: %#v", stats)
	}
}

func TestMessagesRejectsBadLimit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.login(t, "viewer", "viewer-pass")

	for _, limit := range []string{"0", "-5", "abc"} {
		resp := env.do(t, http.MethodGet, "/api/messages?limit="+limit, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("limit=%s status = %d, want 400", limit, resp.StatusCode)
		}
	}
}

func TestEngineTestRunsPreset(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.login(t, "admin", "admin-pass")

	resp := env.do(t, http.MethodPost, "/api/engine/test", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/engine/test status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Results []struct {
			Text   string `json:"text"`
			Result struct {
				Type  string  `json:"type"`
				Score float64 `json:"score"`
			} `json:"result"`
		} `json:"results"`
		Summary map[string]int `json:"summary"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode engine test: %v", err)
	}
	resp.Body.Close()

	if len(out.Results) == 0 {
		t.Fatalf("default preset produced no results")
	}
	if len(out.Summary) != 7 {
		t.Fatalf("summary has %d keys, want 7: %#v", len(out.Summary), out.Summary)
	}
	total := 0
	for _, n := range out.Summary {
		total += n
	}
	if total != len(out.Results) {
		t.Fatalf("summary total = %d, results = %d", total, len(out.Results))
	}
	for _, item := range out.Results {
		if item.Result.Score < 0 || item.Result.Score > 1 {
			t.Fatalf("score %v out of range for %q", item.Result.Score, item.Text)
		}
	}
}

func TestEngineTestRejectsUnknownPreset(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.login(t, "admin", "admin-pass")

	resp := env.do(t, http.MethodPost, "/api/engine/test", map[string]any{"preset": "bogus"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown preset status = %d, want 400", resp.StatusCode)
	}
}

func TestSessionRequestCodeValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.login(t, "admin", "admin-pass")

	tests := []struct {
		name    string
		body    map[string]any
		wantErr string
	}{
		{"zero apiId", map[string]any{"apiId": 0, "apiHash": "h", "phoneNumber": "+7900"}, "apiId"},
		{"string apiId junk", map[string]any{"apiId": "abc", "apiHash": "h", "phoneNumber": "+7900"}, "apiId"},
		{"missing apiHash", map[string]any{"apiId": 12345, "phoneNumber": "+7900"}, "apiHash"},
		{"missing phone", map[string]any{"apiId": 12345, "apiHash": "h"}, "phoneNumber"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/session/request-code", tc.body)
			body := decodeMap(t, resp)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			if msg, _ := body["error"].(string); !strings.Contains(msg, tc.wantErr) {
				t.Fatalf("error = %v, want mention of %s", body["error"], tc.wantErr)
			}
		})
	}
}

func TestSessionCompleteUnknownRequest(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.login(t, "admin", "admin-pass")

	resp := env.do(t, http.MethodPost, "/api/session/complete", map[string]string{
		"requestId": "d2c0ffee-0000-0000-0000-000000000000",
		"code":      "12345",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown requestId status = %d, want 404", resp.StatusCode)
	}
}

func TestChatSyncUserModeWithoutCredentials(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.login(t, "admin", "admin-pass")

	if _, err := env.settings.Update(map[string]any{"authMode": "user"}); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	resp := env.do(t, http.MethodGet, "/api/telegram/chats", nil)
	body := decodeMap(t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "apiId") {
		t.Fatalf("error = %v, want apiId validation", body["error"])
	}
}

func TestChatSyncBotModeWithoutToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.login(t, "admin", "admin-pass")

	resp := env.do(t, http.MethodGet, "/api/telegram/chats", nil)
	body := decodeMap(t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "bot token") {
		t.Fatalf("error = %v, want bot token validation", body["error"])
	}
}
