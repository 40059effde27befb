package web

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Роли веб-доступа. Админ управляет мониторингом и настройками, наблюдатель
// читает статус, журнал и статистику.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// sessionTTL — время жизни сессии с момента последней активности.
const sessionTTL = 24 * time.Hour

// Session представляет активную сессию пользователя.
type Session struct {
	ID        string
	Username  string
	Role      string
	CreatedAt time.Time
	LastSeen  time.Time
}

// account — встроенная учётная запись. Пароли приходят из окружения,
// значения по умолчанию годятся только для локальной разработки.
type account struct {
	username string
	password string
	role     string
}

// AuthManager хранит встроенные учётные записи и активные сессии.
// Значение cookie — идентификатор сессии с HMAC-подписью, так что сервер
// отличает выданные им cookie от подделанных без обращения к карте сессий.
type AuthManager struct {
	mu       sync.Mutex
	secret   []byte
	accounts []account
	sessions map[string]*Session
	ttl      time.Duration
}

// NewAuthManager создает менеджер аутентификации с двумя встроенными
// учётными записями: admin и viewer.
func NewAuthManager(secret, adminPassword, viewerPassword string) *AuthManager {
	return &AuthManager{
		secret: []byte(secret),
		accounts: []account{
			{username: "admin", password: adminPassword, role: RoleAdmin},
			{username: "viewer", password: viewerPassword, role: RoleViewer},
		},
		sessions: make(map[string]*Session),
		ttl:      sessionTTL,
	}
}

// Login проверяет учётные данные и при совпадении открывает новую сессию.
func (am *AuthManager) Login(username, password string) (Session, bool) {
	var matched *account
	for i := range am.accounts {
		if am.accounts[i].username == username {
			matched = &am.accounts[i]
			break
		}
	}
	if matched == nil {
		return Session{}, false
	}
	if subtle.ConstantTimeCompare([]byte(matched.password), []byte(password)) != 1 {
		return Session{}, false
	}

	now := time.Now()
	sess := &Session{
		ID:        uuid.NewString(),
		Username:  matched.username,
		Role:      matched.role,
		CreatedAt: now,
		LastSeen:  now,
	}

	am.mu.Lock()
	am.sessions[sess.ID] = sess
	am.mu.Unlock()

	return *sess, true
}

// CookieValue кодирует сессию в значение cookie: "<id>.<подпись>".
func (am *AuthManager) CookieValue(sess Session) string {
	return sess.ID + "." + am.sign(sess.ID)
}

// Resolve проверяет подпись cookie и возвращает копию живой сессии,
// продлевая её срок. Просроченная сессия удаляется.
func (am *AuthManager) Resolve(cookieValue string) (Session, bool) {
	id, ok := am.verify(cookieValue)
	if !ok {
		return Session{}, false
	}

	am.mu.Lock()
	defer am.mu.Unlock()

	sess, exists := am.sessions[id]
	if !exists {
		return Session{}, false
	}
	if time.Since(sess.LastSeen) > am.ttl {
		delete(am.sessions, id)
		return Session{}, false
	}
	sess.LastSeen = time.Now()
	return *sess, true
}

// Logout удаляет сессию по значению cookie. Подделанные значения игнорируются.
func (am *AuthManager) Logout(cookieValue string) {
	id, ok := am.verify(cookieValue)
	if !ok {
		return
	}
	am.mu.Lock()
	delete(am.sessions, id)
	am.mu.Unlock()
}

// CleanExpiredSessions удаляет сессии, простоявшие без активности дольше TTL.
func (am *AuthManager) CleanExpiredSessions() {
	am.mu.Lock()
	defer am.mu.Unlock()

	now := time.Now()
	for id, sess := range am.sessions {
		if now.Sub(sess.LastSeen) > am.ttl {
			delete(am.sessions, id)
		}
	}
}

// sign вычисляет HMAC-подпись идентификатора сессии.
func (am *AuthManager) sign(id string) string {
	mac := hmac.New(sha256.New, am.secret)
	mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// verify разбирает значение cookie и сверяет подпись.
func (am *AuthManager) verify(cookieValue string) (string, bool) {
	id, sig, found := strings.Cut(cookieValue, ".")
	if !found || id == "" {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(am.sign(id))) {
		return "", false
	}
	return id, true
}
