package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"telegram-sentinel/internal/domain/analysis"
	"telegram-sentinel/internal/domain/monitor"
	"telegram-sentinel/internal/domain/settings"
	"telegram-sentinel/internal/domain/threat"
	"telegram-sentinel/internal/infra/logger"
	"telegram-sentinel/internal/infra/telegram/botclient"
	"telegram-sentinel/internal/infra/telegram/pending"
	"telegram-sentinel/internal/infra/telegram/userclient"
)

// handleLogin проверяет учётные данные и выдаёт cookie сессии.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sess, ok := s.auth.Login(strings.TrimSpace(req.Username), req.Password)
	if !ok {
		logger.Warnf("failed login attempt for %q from %s", req.Username, clientIP(r))
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	s.setSessionCookie(w, s.auth.CookieValue(sess))
	logger.Infof("user %s signed in from %s", sess.Username, clientIP(r))
	writeJSON(w, http.StatusOK, map[string]string{
		"username": sess.Username,
		"role":     sess.Role,
	})
}

// handleLogout закрывает сессию и гасит cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		s.auth.Logout(cookie.Value)
	}
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleSettingsGet возвращает нормализованный документ настроек.
func (s *Server) handleSettingsGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.Current())
}

// handleSettingsSave вливает тело запроса в текущие настройки через общий
// нормализатор, сохраняет и возвращает результат.
func (s *Server) handleSettingsSave(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	updated, err := s.settings.Update(patch)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleSessionRequestCode подключает свежий клиент Telegram, запрашивает код
// подтверждения и регистрирует незавершённую авторизацию в реестре.
func (s *Server) handleSessionRequestCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIID       any    `json:"apiId"`
		APIHash     string `json:"apiHash"`
		PhoneNumber string `json:"phoneNumber"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	apiID := parseAPIID(req.APIID)
	if apiID <= 0 {
		writeError(w, http.StatusBadRequest, "apiId must be a positive integer")
		return
	}
	apiHash := strings.TrimSpace(req.APIHash)
	if apiHash == "" {
		writeError(w, http.StatusBadRequest, "apiHash is required")
		return
	}
	phone := strings.TrimSpace(req.PhoneNumber)
	if phone == "" {
		writeError(w, http.StatusBadRequest, "phoneNumber is required")
		return
	}

	flow, err := userclient.NewLoginFlow(r.Context(), apiID, apiHash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	codeHash, viaApp, err := flow.SendCode(r.Context(), phone)
	if err != nil {
		flow.Stop()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	requestID := s.pending.Put(pending.Entry{
		Client:        flow,
		APIID:         apiID,
		APIHash:       apiHash,
		PhoneNumber:   phone,
		PhoneCodeHash: codeHash,
	})
	logger.Infof("verification code sent to %s, request %s", phone, requestID)
	writeJSON(w, http.StatusOK, map[string]any{
		"requestId":        requestID,
		"isCodeViaApp":     viaApp,
		"expiresInSeconds": int(pending.TTL.Seconds()),
	})
}

// handleSessionComplete завершает авторизацию кодом и, если аккаунт защищён
// облачным паролем, паролем. Успех возвращает строку сессии и сохраняет её
// в настройках; 2FA без пароля возвращает запись в реестр с ответом 409;
// любой другой исход гасит клиент.
func (s *Server) handleSessionComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RequestID string `json:"requestId"`
		Code      string `json:"code"`
		Password  string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		writeError(w, http.StatusBadRequest, "requestId is required")
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	entry, ok := s.pending.Take(requestID)
	if !ok {
		writeError(w, http.StatusNotFound, "login request not found or expired")
		return
	}
	flow, ok := entry.Client.(*userclient.LoginFlow)
	if !ok {
		writeError(w, http.StatusInternalServerError, "pending login entry is unusable")
		return
	}

	err := flow.SignIn(r.Context(), entry.PhoneNumber, code, entry.PhoneCodeHash)
	switch {
	case err == nil:
	case errors.Is(err, userclient.ErrPasswordNeeded):
		if req.Password == "" {
			s.pending.Reinstate(entry)
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":            "two-factor password required",
				"requiresPassword": true,
				"requestId":        entry.RequestID,
			})
			return
		}
		if perr := flow.SignInWithPassword(r.Context(), req.Password); perr != nil {
			flow.Stop()
			writeError(w, http.StatusInternalServerError, perr.Error())
			return
		}
	default:
		flow.Stop()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sessionString := flow.SessionString()
	flow.Stop()

	if _, err := s.settings.Update(map[string]any{
		"apiId":         strconv.Itoa(entry.APIID),
		"apiHash":       entry.APIHash,
		"sessionString": sessionString,
	}); err != nil {
		logger.Warnf("generated session string was not persisted: %v", err)
	}

	logger.Infof("session string issued for %s", entry.PhoneNumber)
	writeJSON(w, http.StatusOK, map[string]string{"sessionString": sessionString})
}

// chatPayload — один чат в ответе синхронизации, общий для обоих путей.
type chatPayload struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Username string `json:"username,omitempty"`
	Type     string `json:"type"`
	Photo    string `json:"photo,omitempty"`
}

// handleChats собирает список чатов, доступных текущему режиму подключения.
// Пользовательский путь перечисляет диалоги; если Telegram отверг метод под
// ботовой сессией и токен бота настроен, запрос прозрачно уходит на Bot API.
func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	current := s.settings.Current()

	if current.AuthMode == settings.AuthModeBot {
		s.respondBotChats(r.Context(), w, current)
		return
	}

	chats, err := s.userChats(r.Context())
	if err != nil {
		if userclient.IsBotMethodInvalid(err) && strings.TrimSpace(current.BotToken) != "" {
			logger.Warnf("dialog listing rejected for bot session, falling back to bot api: %v", err)
			s.respondBotChats(r.Context(), w, current)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

// respondBotChats отвечает списком чатов, собранным через Bot API и
// засеянным сохранёнными целевыми чатами бота.
func (s *Server) respondBotChats(ctx context.Context, w http.ResponseWriter, current settings.Settings) {
	token := strings.TrimSpace(current.BotToken)
	if token == "" {
		writeError(w, http.StatusBadRequest, "bot token is not configured")
		return
	}

	found, err := botclient.CollectChats(ctx, token, current.BotTargetChats)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	chats := make([]chatPayload, 0, len(found))
	for _, c := range found {
		chats = append(chats, chatPayload{
			ID:       c.ID,
			Title:    c.Title,
			Username: c.Username,
			Type:     c.Type,
			Photo:    c.PhotoURL,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

// userChats перечисляет диалоги пользовательской сессии. Живой клиент
// мониторинга переиспользуется: второе подключение под той же сессией
// обрывает первое на стороне Telegram (AUTH_KEY_DUPLICATED). Без мониторинга
// поднимается одноразовый клиент.
func (s *Server) userChats(ctx context.Context) ([]chatPayload, error) {
	if c := s.monitor.UserClient(); c != nil {
		return collectUserChats(ctx, c)
	}

	current := s.settings.Current()
	apiID, err := strconv.Atoi(current.APIID)
	if err != nil || apiID <= 0 {
		return nil, errors.New("apiId must be a positive integer")
	}
	if strings.TrimSpace(current.APIHash) == "" {
		return nil, errors.New("apiHash is required")
	}
	if strings.TrimSpace(current.SessionString) == "" {
		return nil, errors.New("user session is not configured, generate a session string first")
	}

	c, err := userclient.Connect(ctx, apiID, current.APIHash, current.SessionString)
	if err != nil {
		return nil, err
	}
	defer c.Stop()
	return collectUserChats(ctx, c)
}

// collectUserChats выгружает диалоги клиента и подтягивает аватарки.
// Аватарки кодируются data-URL, чтобы веб-клиенту не требовался доступ к
// Telegram; недоступное фото — не ошибка.
func collectUserChats(ctx context.Context, c *userclient.Client) ([]chatPayload, error) {
	dialogs, err := c.Dialogs(ctx)
	if err != nil {
		return nil, err
	}

	chats := make([]chatPayload, 0, len(dialogs))
	for _, d := range dialogs {
		p := chatPayload{ID: d.ID, Title: d.Title, Username: d.Username, Type: d.Type}
		if raw, err := c.DownloadChatPhoto(ctx, d); err != nil {
			logger.Debugf("chat %s photo is not downloadable: %v", d.ID, err)
		} else if len(raw) > 0 {
			p.Photo = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(raw)
		}
		chats = append(chats, p)
	}
	return chats, nil
}

// handleEngineTest прогоняет движок по пробным сообщениям с настройками,
// наложенными поверх сохранённых (без сохранения). Пустой список сообщений
// заменяется встроенным пресетом.
func (s *Server) handleEngineTest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Settings map[string]any `json:"settings"`
		Messages []string       `json:"messages"`
		Preset   string         `json:"preset"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cfg := s.settings.Current()
	if len(req.Settings) > 0 {
		cfg = settings.Normalize(settings.Merge(cfg, req.Settings))
	}

	msgs := req.Messages
	if len(msgs) == 0 {
		name := strings.TrimSpace(req.Preset)
		if name == "" {
			name = "all"
		}
		preset, ok := analysis.PresetMessages(name)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown preset %q", name))
			return
		}
		msgs = preset
	}

	type testItem struct {
		Text   string          `json:"text"`
		Result analysis.Result `json:"result"`
	}
	results := make([]testItem, 0, len(msgs))
	summary := make(map[threat.Category]int, len(threat.All))
	for _, cat := range threat.All {
		summary[cat] = 0
	}
	for _, text := range msgs {
		res := s.engine.Analyze(r.Context(), text, cfg)
		results = append(results, testItem{Text: text, Result: res})
		summary[res.Type]++
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"summary": summary,
	})
}

// handleStart вливает накладываемые настройки и запускает мониторинг.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var overrides map[string]any
	if err := decodeJSON(r, &overrides); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.monitor.Start(r.Context(), overrides); err != nil {
		status := http.StatusInternalServerError
		if err.Error() == "already running" {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusPayload(s.monitor.Status()))
}

// handleStop останавливает мониторинг.
func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.monitor.Stop()
	writeJSON(w, http.StatusOK, statusPayload(s.monitor.Status()))
}

// handleStatus возвращает текущее состояние мониторинга.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusPayload(s.monitor.Status()))
}

const (
	defaultMessagesLimit = 50
	maxMessagesLimit     = 500
)

// messageTimeFormat — формат времени строк журнала в ответе API.
const messageTimeFormat = "02.01.2006, 15:04:05"

// handleMessages возвращает до limit последних классифицированных сообщений.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit := defaultMessagesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxMessagesLimit)
	}

	rows, err := s.messages.ReadRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type messagePayload struct {
		ID     int64           `json:"id"`
		Time   string          `json:"time"`
		Chat   string          `json:"chat"`
		Sender string          `json:"sender"`
		Text   string          `json:"text"`
		Type   threat.Category `json:"type"`
		Score  float64         `json:"score"`
	}
	out := make([]messagePayload, 0, len(rows))
	for _, row := range rows {
		out = append(out, messagePayload{
			ID:     row.ID,
			Time:   time.Unix(row.MessageTs, 0).Format(messageTimeFormat),
			Chat:   row.Chat,
			Sender: row.Sender,
			Text:   row.Text,
			Type:   row.Type,
			Score:  row.Score,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

// handleStats возвращает счётчики сообщений по всем категориям.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.messages.ReadStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// statusPayload приводит состояние мониторинга к ответу API.
func statusPayload(st monitor.Status) map[string]any {
	return map[string]any{
		"isRunning": st.IsRunning,
		"model":     st.Model,
		"threshold": st.Threshold,
	}
}

// parseAPIID принимает apiId и числом, и строкой: веб-клиент исторически
// шлёт оба варианта.
func parseAPIID(v any) int {
	switch value := v.(type) {
	case float64:
		if value == math.Trunc(value) {
			return int(value)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	case json.Number:
		if n, err := value.Int64(); err == nil {
			return int(n)
		}
	}
	return 0
}
