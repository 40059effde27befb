// Консольный генератор строки сессии Telegram. Проводит интерактивный вход
// от имени пользовательского аккаунта (код подтверждения, 2FA) и печатает
// base64-строку, которую нужно вставить в настройки сервиса (sessionString).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/joho/godotenv"

	"telegram-sentinel/internal/infra/logger"
	"telegram-sentinel/internal/infra/pr"
	"telegram-sentinel/internal/infra/telegram/terminal"
	"telegram-sentinel/internal/infra/telegram/userclient"
)

func main() {
	if err := pr.Init(); err != nil {
		logger.Errorf("failed to init terminal IO: %v", err)
		os.Exit(1)
	}

	envPath := flag.String("env", "", "optional path to .env with TELEGRAM_API_ID / TELEGRAM_API_HASH")
	flag.Parse()

	// Шум рабочих логов мешает диалогу — поднимаем порог до warn.
	logger.Init("warn")

	if *envPath != "" {
		if err := godotenv.Load(*envPath); err != nil {
			pr.ErrPrintf("env file %q not loaded: %v\n", *envPath, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		pr.ErrPrintf("session generation failed: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// run собирает учётные данные приложения, проводит вход и печатает результат.
func run(ctx context.Context) error {
	apiID, err := promptAPIID()
	if err != nil {
		return err
	}
	apiHash, err := promptValue("TELEGRAM_API_HASH", "Enter api_hash: ")
	if err != nil {
		return err
	}

	flow, err := userclient.NewLoginFlow(ctx, apiID, apiHash)
	if err != nil {
		return err
	}
	defer flow.Stop()

	authFlow := auth.NewFlow(terminal.Authenticator{}, auth.SendCodeOptions{})
	if err := flow.Authenticate(ctx, authFlow); err != nil {
		return err
	}

	if self, selfErr := flow.Self(ctx); selfErr == nil {
		pr.Printf("\nSigned in as %s %s (@%s)\n", self.FirstName, self.LastName, self.Username)
	}

	pr.Println("\nSession string (store it as sessionString in the admin settings):")
	pr.Println()
	pr.Println(flow.SessionString())
	pr.Println()
	pr.Println("Keep the string secret: it grants full access to the account.")
	return nil
}

// promptAPIID берёт api_id из окружения либо запрашивает его интерактивно.
func promptAPIID() (int, error) {
	raw, err := promptValue("TELEGRAM_API_ID", "Enter api_id: ")
	if err != nil {
		return 0, err
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("api_id must be a positive integer, got %q", raw)
	}
	return id, nil
}

// promptValue читает значение из переменной окружения, а при её отсутствии —
// из терминала.
func promptValue(envKey, prompt string) (string, error) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		return v, nil
	}
	pr.SetPrompt(prompt)
	line, err := pr.Rl().Readline()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
