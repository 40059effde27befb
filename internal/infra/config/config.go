// Пакет config отвечает за сбор и предоставление конфигурации процесса
// (мониторинг Telegram-чатов). Он:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует входные значения,
//  3. вычисляет производные пути рабочего каталога (настройки, SQLite, кэш пиров),
//  4. предоставляет доступ к результату через singleton.
//
// Бизнес-контекст: окружение задаёт только «операционные» ручки — порт HTTP,
// учётные данные веб-доступа, каталог данных, адрес inference-сервиса и
// логирование. Настройки самого мониторинга (Telegram-учётка, модель, триггеры)
// живут в отдельном документе admin-settings.json и управляются через API.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// EnvConfig описывает параметры, приходящие из окружения (.env).
//
// NB: значения уже проходят минимальную валидацию и нормализацию в loadConfig.
// В рантайме по месту использования предполагается, что EnvConfig последователен.
type EnvConfig struct {
	Production     bool
	Port           int
	SessionSecret  string
	AdminPassword  string
	ViewerPassword string
	DataDir        string
	InferenceURL   string
	ModelCacheDir  string
	LogLevel       string
	// Файловое логирование
	LogFile           string
	LogFileLevel      string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool
}

// SettingsFile возвращает путь к документу настроек в каталоге данных.
func (e EnvConfig) SettingsFile() string { return filepath.Join(e.DataDir, "admin-settings.json") }

// MessagesDB возвращает путь к базе сообщений SQLite.
func (e EnvConfig) MessagesDB() string { return filepath.Join(e.DataDir, "messages.sqlite3") }

// PeersCacheFile возвращает путь к bbolt-кэшу пиров Telegram.
func (e EnvConfig) PeersCacheFile() string { return filepath.Join(e.DataDir, "peers.bbolt") }

// ListenAddr возвращает адрес прослушивания HTTP-сервера.
func (e EnvConfig) ListenAddr() string { return ":" + strconv.Itoa(e.Port) }

// Config хранит конфигурацию среды и предупреждения, накопленные при загрузке.
type Config struct {
	Env      EnvConfig
	warnings []string
	mu       sync.RWMutex
}

// Значения по умолчанию для параметров окружения.
const (
	defaultPort          = 3000
	defaultDataDir       = "data"
	defaultInferenceURL  = "http://127.0.0.1:8090"
	defaultLogLevel      = "info"
	defaultSessionSecret = "dev-session-secret"
	// Пароли по умолчанию — только для локальной разработки; в проде задаются через env.
	defaultAdminPassword  = "admin123"
	defaultViewerPassword = "viewer123"
	// Файловое логирование (LOG_FILE не имеет дефолта — должен быть явно указан для активации)
	defaultLogFileLevel      = "debug"
	defaultLogFileMaxSize    = 50
	defaultLogFileMaxBackups = 3
	defaultLogFileMaxAge     = 7
	defaultLogFileCompress   = true
)

var (
	cfgInstance *Config
	cfgDone     bool
)

// Load — точка входа для инициализации глобальной конфигурации всего приложения.
// При первом вызове читает .env (необязательный файл), формирует EnvConfig и
// фиксирует результат в singleton. Повторный вызов запрещён (возвращается
// ошибка), чтобы избежать гонок конфигурации на старте.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	if cfgInstance == nil {
		cfgInstance = &Config{}
	}
	cfgInstance.mu.Lock()
	defer cfgInstance.mu.Unlock()
	newCfg, err := loadConfig(envPath)
	cfgInstance = newCfg
	cfgDone = true
	return err
}

// loadConfig выполняет фактическую загрузку/валидацию без установки глобального
// состояния. Удобно для тестов: можно собрать временный Config и проверить его.
func loadConfig(envPath string) (*Config, error) {
	var warnings []string

	// .env опционален: сервис стартует на дефолтах, если файла нет.
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			appendWarningf(&warnings, "env file %q not loaded: %v", envPath, err)
		}
	} else if err := godotenv.Load(); err == nil {
		appendWarningf(&warnings, "loaded environment from default .env")
	}

	port := parseIntDefault("PORT", defaultPort, betweenPorts, &warnings)
	dataDir := sanitizeValue("DATA_DIR", os.Getenv("DATA_DIR"), defaultDataDir, &warnings)
	logLevel := sanitizeLogLevel(os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings)
	inferenceURL := sanitizeBaseURL("INFERENCE_URL", os.Getenv("INFERENCE_URL"), defaultInferenceURL, &warnings)
	modelCacheDir := sanitizeValue("MODEL_CACHE_DIR", os.Getenv("MODEL_CACHE_DIR"),
		filepath.Join(dataDir, "models"), &warnings)

	sessionSecret := strings.TrimSpace(os.Getenv("SESSION_SECRET"))
	adminPassword := strings.TrimSpace(os.Getenv("ADMIN_PASSWORD"))
	viewerPassword := strings.TrimSpace(os.Getenv("VIEWER_PASSWORD"))

	production := isProduction()
	if sessionSecret == "" {
		sessionSecret = defaultSessionSecret
		appendWarningf(&warnings, "env SESSION_SECRET is not set; using insecure development secret")
	}
	if adminPassword == "" {
		adminPassword = defaultAdminPassword
		appendWarningf(&warnings, "env ADMIN_PASSWORD is not set; using development default")
	}
	if viewerPassword == "" {
		viewerPassword = defaultViewerPassword
		appendWarningf(&warnings, "env VIEWER_PASSWORD is not set; using development default")
	}
	if production && (adminPassword == defaultAdminPassword || sessionSecret == defaultSessionSecret) {
		appendWarningf(&warnings, "production mode with development credentials; set ADMIN_PASSWORD and SESSION_SECRET")
	}

	logFile := strings.TrimSpace(os.Getenv("LOG_FILE"))
	logFileLevel := sanitizeLogLevel(os.Getenv("LOG_FILE_LEVEL"), defaultLogFileLevel, &warnings)
	logFileMaxSize := parseIntDefault("LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSize, greaterThanZero, &warnings)
	logFileMaxBackups := parseIntDefault("LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups, nonNegative, &warnings)
	logFileMaxAge := parseIntDefault("LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAge, nonNegative, &warnings)
	logFileCompress := parseBoolDefault("LOG_FILE_COMPRESS", defaultLogFileCompress, &warnings)

	env := EnvConfig{
		Production:     production,
		Port:           port,
		SessionSecret:  sessionSecret,
		AdminPassword:  adminPassword,
		ViewerPassword: viewerPassword,
		DataDir:        dataDir,
		InferenceURL:   inferenceURL,
		ModelCacheDir:  modelCacheDir,
		LogLevel:       logLevel,
		// Файловое логирование
		LogFile:           logFile,
		LogFileLevel:      logFileLevel,
		LogFileMaxSize:    logFileMaxSize,
		LogFileMaxBackups: logFileMaxBackups,
		LogFileMaxAge:     logFileMaxAge,
		LogFileCompress:   logFileCompress,
	}

	return &Config{Env: env, warnings: warnings}, nil
}

// isProduction проверяет флаг прод-режима. APP_ENV — основной ключ,
// NODE_ENV принимается как алиас для совместимости с прежними деплоями.
func isProduction() bool {
	for _, key := range []string{"APP_ENV", "NODE_ENV"} {
		if strings.EqualFold(strings.TrimSpace(os.Getenv(key)), "production") {
			return true
		}
	}
	return false
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке .env
// (например, когда подставлено значение по умолчанию). Возвращается копия.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton. Это неизменяемый снимок
// на момент последней загрузки; для обновления надо перечитать конфиг целиком.
func Env() EnvConfig {
	return cfgInstance.Env
}

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// дополнительную проверку validator — возвращает defaultVal и пишет предупреждение.
// Это позволяет не падать на несущественных настройках и иметь дефолты.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// appendWarningf — служебная функция для накопления предупреждений о некорректных
// переменных окружения. Список затем доступен через Warnings().
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

// Простые валидаторы чисел для parseIntDefault.
func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }
func betweenPorts(v int) bool    { return v > 0 && v < 65536 }

// parseBoolDefault читает name как bool. Если пусто/некорректно — возвращает defaultVal и пишет предупреждение.
func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// sanitizeLogLevel нормализует уровень и ограничивает значения набором
// {debug, info, warn, error}. Всё остальное превращается в defaultVal.
func sanitizeLogLevel(level string, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		return defaultVal
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultVal)
		return defaultVal
	}
}

// sanitizeValue возвращает обрезанное значение переменной или fallback, если пусто.
func sanitizeValue(name, value, fallback string, warnings *[]string) string {
	_ = name
	v := strings.TrimSpace(value)
	if v == "" {
		return fallback
	}
	return v
}

// sanitizeBaseURL проверяет, что значение — корректный http(s) URL без завершающего
// слеша. При неудаче возвращает fallback и добавляет предупреждение.
func sanitizeBaseURL(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return fallback
	}
	u, err := url.Parse(v)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		appendWarningf(warnings, "env %s value %q is not a valid http(s) URL; using default %q", name, v, fallback)
		return fallback
	}
	return strings.TrimRight(v, "/")
}
