package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"telegram-sentinel/internal/infra/logger"

	"go.uber.org/zap"
)

// maxBodyBytes ограничивает размер тела запроса управляющего API.
const maxBodyBytes = 1 << 20

// writeJSON сериализует payload и отправляет его с заданным статусом.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal response", zap.Error(err))
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	writeResponse(w, data)
}

// writeError отправляет стандартный конверт ошибки {"error": ...}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON разбирает JSON-тело запроса в dst. Пустое тело не ошибка:
// dst остаётся нетронутым, обработчики сами решают, что значит отсутствие
// полей. Тело ограничено maxBodyBytes.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// writeResponse записывает ответ в ResponseWriter с автоматическим логированием ошибок.
// Автоматически определяет место вызова для отладки.
func writeResponse(w http.ResponseWriter, data []byte) {
	var writeErr error

	if _, writeErr = w.Write(data); writeErr == nil {
		return
	}

	// Получаем информацию о вызывающей функции
	callerLocation := "unknown"
	if _, file, line, ok := runtime.Caller(1); ok {
		if wd, getwdErr := os.Getwd(); getwdErr == nil {
			if rel, relErr := filepath.Rel(wd, file); relErr == nil {
				file = rel
			}
		}
		callerLocation = file + ":" + strconv.Itoa(line)
	}

	logger.Error("failed to write response",
		zap.String("caller", callerLocation),
		zap.Error(writeErr))
}
