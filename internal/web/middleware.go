package web

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"telegram-sentinel/internal/infra/logger"
	"telegram-sentinel/internal/infra/ratelimit"
)

const (
	sessionCookieName = "sentinel_session"
	sessionMaxAge     = 86400 // сутки в секундах
)

type contextKey int

const sessionContextKey contextKey = iota

// sessionFrom достаёт сессию, положенную в контекст запроса ранее по цепочке.
func sessionFrom(ctx context.Context) (Session, bool) {
	sess, ok := ctx.Value(sessionContextKey).(Session)
	return sess, ok
}

// withAuth требует живую сессию и, для admin-маршрутов, роль админа.
// Отсутствие аутентификации — 401, нехватка прав — 403.
func (s *Server) withAuth(role string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		sess, ok := s.auth.Resolve(cookie.Value)
		if !ok {
			s.clearSessionCookie(w)
			writeError(w, http.StatusUnauthorized, "session expired, sign in again")
			return
		}
		if role == RoleAdmin && sess.Role != RoleAdmin {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), sessionContextKey, sess)))
	}
}

// withLimit потребляет бюджет действия до вызова обработчика. Ключ актора
// складывается из сессии и адреса клиента; запросы без сессии делят общий
// анонимный бюджет. Отказ — 429 с заголовком Retry-After и метаданными в теле.
func (s *Server) withLimit(action string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := ratelimit.AnonymousActor
		if sess, ok := sessionFrom(r.Context()); ok {
			actor = ratelimit.ActorKey(sess.Username, sess.ID, clientIP(r))
		}

		decision := s.limiter.Consume(action, actor)
		if !decision.Allowed {
			retrySec := int(math.Ceil(decision.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(retrySec))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":         ratelimit.PolicyFor(action).Message,
				"action":        action,
				"retryAfterMs":  decision.RetryAfter.Milliseconds(),
				"retryAfterSec": retrySec,
			})
			return
		}
		next(w, r)
	}
}

// setSessionCookie выдаёт cookie сессии. Secure включается только в проде,
// чтобы локальная разработка по http не теряла сессию.
func (s *Server) setSessionCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   sessionMaxAge,
		HttpOnly: true,
		Secure:   s.production,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie немедленно гасит cookie сессии.
func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.production,
		SameSite: http.SameSiteLaxMode,
	})
}

// clientIP возвращает адрес клиента с учётом обратного прокси.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// loggingMiddleware логирует все запросы
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debugf("HTTP %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}
