package userclient

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
)

// ErrPasswordNeeded сигнализирует, что аккаунт защищён облачным паролем (2FA)
// и вход нужно завершить через SignInWithPassword.
var ErrPasswordNeeded = auth.ErrPasswordAuthNeeded

// LoginFlow — живой неавторизованный клиент для выпуска новой строки сессии:
// отправка кода подтверждения, вход по коду и, при необходимости, по паролю.
// Клиент держит соединение между запросом кода и подтверждением; владелец
// обязан вызвать Stop, когда поток завершён или вытеснен по TTL.
type LoginFlow struct {
	c *Client
}

// NewLoginFlow подключает свежий клиент с пустой сессией. Авторизация не
// проверяется: поток и существует ради её получения.
func NewLoginFlow(ctx context.Context, apiID int, apiHash string) (*LoginFlow, error) {
	c, err := New(Config{APIID: apiID, APIHash: apiHash})
	if err != nil {
		return nil, err
	}
	if err := c.start(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "connect login client")
	}
	return &LoginFlow{c: c}, nil
}

// SendCode запрашивает код подтверждения для номера телефона.
// Возвращает phoneCodeHash и признак того, что код доставлен в приложение
// Telegram, а не по SMS.
func (f *LoginFlow) SendCode(ctx context.Context, phone string) (codeHash string, viaApp bool, err error) {
	sent, err := f.c.tg.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", false, errors.Wrap(err, "send code")
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return "", false, errors.Errorf("unexpected sendCode response %T", sent)
	}
	_, viaApp = code.Type.(*tg.AuthSentCodeTypeApp)
	return code.PhoneCodeHash, viaApp, nil
}

// SignIn завершает вход по коду подтверждения. Если аккаунт защищён облачным
// паролем, возвращается ErrPasswordNeeded и вход продолжается через
// SignInWithPassword.
func (f *LoginFlow) SignIn(ctx context.Context, phone, code, codeHash string) error {
	if _, err := f.c.tg.Auth().SignIn(ctx, phone, code, codeHash); err != nil {
		if errors.Is(err, auth.ErrPasswordAuthNeeded) {
			return ErrPasswordNeeded
		}
		return errors.Wrap(err, "sign in")
	}
	return nil
}

// SignInWithPassword завершает вход облачным паролём после ErrPasswordNeeded.
func (f *LoginFlow) SignInWithPassword(ctx context.Context, password string) error {
	if _, err := f.c.tg.Auth().Password(ctx, password); err != nil {
		return errors.Wrap(err, "2fa sign in")
	}
	return nil
}

// Authenticate выполняет интерактивный сценарий авторизации gotd целиком
// (код, 2FA, согласие с ToS). Используется консольным генератором сессии;
// веб-поток вместо этого дергает SendCode/SignIn по шагам.
func (f *LoginFlow) Authenticate(ctx context.Context, flow auth.Flow) error {
	if err := flow.Run(ctx, f.c.tg.Auth()); err != nil {
		return errors.Wrap(err, "auth flow")
	}
	return nil
}

// Self возвращает профиль только что авторизованного аккаунта.
func (f *LoginFlow) Self(ctx context.Context) (*tg.User, error) {
	return f.c.tg.Self(ctx)
}

// SessionString экспортирует строку сессии. После успешного входа gotd уже
// записал авторизованную сессию в хранилище, так что строка готова к
// сохранению в настройки.
func (f *LoginFlow) SessionString() string {
	return f.c.sess.Encoded()
}

// Stop гасит живое соединение потока.
func (f *LoginFlow) Stop() {
	f.c.Stop()
}
