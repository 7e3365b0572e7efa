// mail отвечает за исходящие письма auth-сервиса.
//
// Сервисный слой работает с интерфейсом Mailer и вызывает его в режиме
// fire-and-forget: ошибка отправки логируется, но никогда не проваливает
// породившую её операцию (регистрацию, сброс пароля и т.д.).
package mail

import (
	"context"
	"fmt"

	gomail "github.com/wneessen/go-mail"

	"github.com/vostrikovaep/go-events-platform/auth-service/internal/config"
)

// Mailer — контракт отправки писем аутентификации.
type Mailer interface {
	// SendConfirmationEmail отправляет ссылку подтверждения e-mail.
	SendConfirmationEmail(ctx context.Context, to, link string) error
	// SendPasswordResetEmail отправляет ссылку сброса пароля.
	SendPasswordResetEmail(ctx context.Context, to, link string) error
	// SendWelcomeEmail отправляет приветственное письмо после подтверждения.
	SendWelcomeEmail(ctx context.Context, to string) error
}

// SMTPMailer — реализация Mailer поверх SMTP.
type SMTPMailer struct {
	client *gomail.Client
	from   string
}

// NewSMTP создаёт SMTP-клиент по конфигурации. Соединение устанавливается
// лениво при отправке, поэтому недоступность сервера на старте не фатальна.
func NewSMTP(cfg config.SMTPConfig) (*SMTPMailer, error) {
	const op = "mail.NewSMTP"

	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &SMTPMailer{client: client, from: cfg.From}, nil
}

// SendConfirmationEmail отправляет ссылку подтверждения e-mail.
func (m *SMTPMailer) SendConfirmationEmail(ctx context.Context, to, link string) error {
	body := fmt.Sprintf(
		"Здравствуйте!\n\nПодтвердите ваш e-mail, перейдя по ссылке:\n%s\n\nЕсли вы не регистрировались, проигнорируйте это письмо.\n",
		link,
	)

	return m.send(ctx, to, "Подтверждение e-mail", body)
}

// SendPasswordResetEmail отправляет ссылку сброса пароля.
func (m *SMTPMailer) SendPasswordResetEmail(ctx context.Context, to, link string) error {
	body := fmt.Sprintf(
		"Здравствуйте!\n\nДля сброса пароля перейдите по ссылке:\n%s\n\nСсылка действует ограниченное время. Если вы не запрашивали сброс, проигнорируйте это письмо.\n",
		link,
	)

	return m.send(ctx, to, "Сброс пароля", body)
}

// SendWelcomeEmail отправляет приветственное письмо после подтверждения.
func (m *SMTPMailer) SendWelcomeEmail(ctx context.Context, to string) error {
	body := "Здравствуйте!\n\nВаш e-mail подтверждён, аккаунт полностью активен. Добро пожаловать!\n"

	return m.send(ctx, to, "Добро пожаловать", body)
}

func (m *SMTPMailer) send(ctx context.Context, to, subject, body string) error {
	const op = "mail.send"

	msg := gomail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

var _ Mailer = (*SMTPMailer)(nil)
