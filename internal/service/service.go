// service содержит бизнес-логику auth-сервиса: регистрацию и аутентификацию
// пользователей и организаций, выпуск/ротацию/отзыв токенов, одноразовые
// токены (подтверждение e-mail, сброс пароля) и настройку организации.
//
// Основные аспекты:
//   - Экземпляр Service безопасен для конкурентного использования из разных
//     горутин при условии, что переданное хранилище (storage.Storage)
//     потокобезопасно; сам Service состояния запроса не хранит.
//   - Все ошибки токенов (подпись/формат/просрочка/отзыв/replay) наружу
//     схлопываются в единый ErrInvalidToken: клиент не должен уметь отличать
//     причину отказа. Детали остаются в логах.
//   - Ошибки возвращаются и далее маппятся транспортом на HTTP-статусы
//     (см. комментарии к переменным ошибок ниже).
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vostrikovaep/go-events-platform/auth-service/internal/cache"
	"github.com/vostrikovaep/go-events-platform/auth-service/internal/config"
	"github.com/vostrikovaep/go-events-platform/auth-service/internal/mail"
	"github.com/vostrikovaep/go-events-platform/auth-service/internal/pkg/log"
	"github.com/vostrikovaep/go-events-platform/auth-service/internal/storage"
)

var (
	// ErrInvalidCredentials — пара логин/пароль неверна, пользователь не найден
	// или учётная запись мягко удалена. Транспорт: 401.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrEmailNotConfirmed — e-mail ещё не подтверждён, вход запрещён.
	// Транспорт: 403.
	ErrEmailNotConfirmed = errors.New("email not confirmed")

	// ErrAccountDeleted — учётная запись мягко удалена; любые операции от её
	// имени отклоняются. Транспорт: 403.
	ErrAccountDeleted = errors.New("account deleted")

	// ErrInvalidToken — единый отказ для всех токенов (access, refresh,
	// одноразовых): неверная подпись, просрочка, отзыв, replay уже
	// ротированного токена. Причина намеренно не раскрывается. Транспорт: 401.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrEmailTaken — e-mail уже занят другим пользователем. Транспорт: 409.
	ErrEmailTaken = errors.New("email already taken")

	// ErrInvalidEmail — e-mail имеет некорректный формат. Транспорт: 400.
	ErrInvalidEmail = errors.New("invalid email format")

	// ErrWeakPassword — пароль не удовлетворяет политикам сложности. Транспорт: 400.
	ErrWeakPassword = errors.New("password is too weak")

	// ErrEmptyPassword — пароль пустой. Транспорт: 400.
	ErrEmptyPassword = errors.New("password is empty")

	// ErrAlreadyConfirmed — e-mail уже подтверждён. Транспорт: 409.
	ErrAlreadyConfirmed = errors.New("email already confirmed")

	// ErrAlreadyHasOrganization — у пользователя уже есть организация. Транспорт: 409.
	ErrAlreadyHasOrganization = errors.New("organization already exists")

	// ErrUnknownCategory — категория организации не существует. Транспорт: 400.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrUnauthorized — операция недоступна для роли/ресурса текущего
	// пользователя. Транспорт: 403.
	ErrUnauthorized = errors.New("operation is not allowed")

	// ErrRefreshTokenCollision — исчерпаны попытки сгенерировать уникальный
	// refresh-токен (крайне редкие коллизии хэша в БД). Транспорт: 500.
	ErrRefreshTokenCollision = errors.New("refresh token collision")
)

// Service реализует бизнес-логику auth-сервиса.
type Service struct {
	storage storage.Storage
	cfg     config.AuthConfig
	mailer  mail.Mailer        // может быть nil, если почта не сконфигурирована
	rcache  cache.RefreshCache // может быть nil, если кэш не сконфигурирован
}

// New создаёт новый экземпляр Service.
func New(storage storage.Storage, cfg config.AuthConfig) *Service {
	return &Service{
		storage: storage,
		cfg:     cfg,
	}
}

// SetMailer устанавливает отправителя писем (опционально).
func (s *Service) SetMailer(m mail.Mailer) {
	s.mailer = m
}

// SetRefreshCache устанавливает кэш refresh-токенов (опционально).
func (s *Service) SetRefreshCache(c cache.RefreshCache) {
	s.rcache = c
}

// sendAsync выполняет отправку письма в отдельной горутине на отвязанном от
// запроса контексте. Ошибка отправки логируется и никогда не проваливает
// породившую её операцию.
func (s *Service) sendAsync(ctx context.Context, event string, fn func(context.Context) error) {
	if s.mailer == nil {
		return
	}

	lg := log.From(ctx)

	go func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()

		if err := fn(sctx); err != nil {
			lg.Error(event,
				slog.String("err", err.Error()),
			)
		}
	}()
}
