// Package terminal предоставляет интерактивный слой авторизации gotd для
// консольной генерации строки сессии: чтение номера телефона, кода
// подтверждения и 2FA-пароля из терминала, согласие с ToS и первичная
// регистрация.
package terminal

import (
	"context"
	"strings"
	"syscall"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"golang.org/x/term"

	"telegram-sentinel/internal/infra/pr"
)

// readLine выводит приглашение, читает строку и обрезает пробелы по краям.
func readLine(prompt string) (string, error) {
	pr.SetPrompt(prompt)
	line, err := pr.Rl().Readline()
	return strings.TrimSpace(line), err
}

// Authenticator реализует auth.UserAuthenticator поверх терминала.
// Если PhoneNumber пуст, номер запрашивается интерактивно.
type Authenticator struct {
	PhoneNumber string
}

// Phone возвращает заранее известный номер либо запрашивает его у пользователя.
// Формат не проверяется; ожидается E.164.
func (t Authenticator) Phone(_ context.Context) (string, error) {
	if t.PhoneNumber != "" {
		return t.PhoneNumber, nil
	}
	return readLine("Enter phone number (E.164): ")
}

// Code запрашивает код подтверждения у пользователя.
func (t Authenticator) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	return readLine("Enter the code from Telegram: ")
}

// Password считывает 2FA-пароль без отображения вводимых символов.
func (t Authenticator) Password(_ context.Context) (string, error) {
	pr.Print("Enter 2FA password: ")
	passwordBytes, err := term.ReadPassword(syscall.Stdin)
	pr.Println()
	if err != nil {
		return "", err
	}
	return string(passwordBytes), nil
}

// AcceptTermsOfService выводит условия использования и запрашивает согласие.
// Принимаются только ответы "y"/"Y".
func (t Authenticator) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	pr.Printf("Telegram Terms of Service: %s\n", tos.Text)
	resp, err := readLine("Do you accept? (y/n): ")
	if err != nil {
		return err
	}
	if resp != "y" && resp != "Y" {
		return errors.New("user did not accept terms of service")
	}
	return nil
}

// SignUp собирает имя и фамилию для незарегистрированного номера.
func (t Authenticator) SignUp(_ context.Context) (auth.UserInfo, error) {
	firstName, err := readLine("Enter your first name: ")
	if err != nil {
		return auth.UserInfo{}, err
	}
	lastName, _ := readLine("Enter your last name (optional): ")
	return auth.UserInfo{
		FirstName: firstName,
		LastName:  lastName,
	}, nil
}
