package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vostrikovaep/go-events-platform/auth-service/internal/pkg/log"
	"github.com/vostrikovaep/go-events-platform/auth-service/internal/pkg/redact"
	"github.com/vostrikovaep/go-events-platform/auth-service/internal/storage"
)

// ConfirmEmail подтверждает e-mail по одноразовому токену назначения
// email_confirmation. После подтверждения на адрес уходит приветственное
// письмо (fire-and-forget).
func (s *Service) ConfirmEmail(ctx context.Context, userID uuid.UUID, token string) error {
	const op = "service.password.ConfirmEmail"

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	// Удалённый аккаунт не отличим от неверного токена.
	if user.IsDeleted {
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	if user.EmailConfirmed {
		return fmt.Errorf("%s: %w", op, ErrAlreadyConfirmed)
	}

	if err := s.validateOneTimeToken(user, PurposeEmailConfirmation, token, time.Now().UTC()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.ConfirmUserEmail(ctx, user.ID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("email_confirmed",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
	)

	to := user.Email
	s.sendAsync(ctx, "welcome_email_send_failed", func(ctx context.Context) error {
		return s.mailer.SendWelcomeEmail(ctx, to)
	})

	return nil
}

// ResendConfirmation повторно отправляет ссылку подтверждения e-mail.
// Для несуществующего или удалённого адреса операция молчаливо успешна.
func (s *Service) ResendConfirmation(ctx context.Context, email string) error {
	const op = "service.password.ResendConfirmation"

	normEmail, err := validateEmail(email)
	if err != nil {
		return fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	user, err := s.storage.UserByEmail(ctx, normEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if user.IsDeleted {
		return nil
	}

	if user.EmailConfirmed {
		return fmt.Errorf("%s: %w", op, ErrAlreadyConfirmed)
	}

	s.sendConfirmationLink(ctx, user)

	return nil
}

// ForgotPassword инициирует сброс пароля.
//
// Результат снаружи всегда одинаков: для существующего подтверждённого
// аккаунта уходит письмо со ссылкой, во всех остальных случаях не происходит
// ничего — существование адреса не раскрывается.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	const op = "service.password.ForgotPassword"

	normEmail, err := validateEmail(email)
	if err != nil {
		// Даже некорректный формат не раскрываем: снаружи тот же успех.
		return nil
	}

	user, err := s.storage.UserByEmail(ctx, normEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if user.IsDeleted || !user.EmailConfirmed {
		return nil
	}

	token := s.issueOneTimeToken(user, PurposePasswordReset, time.Now().UTC())
	link := s.buildFrontendLink("/reset-password", user, token)
	to := user.Email

	log.From(ctx).Info("password_reset_requested",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
		slog.String("email", redact.Email(user.Email)),
	)

	s.sendAsync(ctx, "reset_email_send_failed", func(ctx context.Context) error {
		return s.mailer.SendPasswordResetEmail(ctx, to, link)
	})

	return nil
}

// ResetPassword устанавливает новый пароль по одноразовому токену назначения
// password_reset. Смена ротирует security stamp, что инвалидирует все ранее
// выданные одноразовые токены пользователя, включая сам использованный.
func (s *Service) ResetPassword(ctx context.Context, userID uuid.UUID, token, newPassword string) error {
	const op = "service.password.ResetPassword"

	if err := validatePassword(newPassword); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if user.IsDeleted {
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	if err := s.validateOneTimeToken(user, PurposePasswordReset, token, time.Now().UTC()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.applyNewPassword(ctx, user.ID, newPassword); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("password_reset_completed",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
	)

	return nil
}

// ChangePassword меняет пароль аутентифицированного пользователя после
// проверки текущего пароля. Смена ротирует security stamp.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error {
	const op = "service.password.ChangePassword"

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if user.IsDeleted {
		return fmt.Errorf("%s: %w", op, ErrAccountDeleted)
	}

	if !checkPassword(user.PasswordHash, currentPassword) {
		return fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if err := validatePassword(newPassword); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.applyNewPassword(ctx, user.ID, newPassword); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("password_changed",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
	)

	return nil
}

// applyNewPassword хэширует новый пароль и одной записью обновляет хэш и
// security stamp.
func (s *Service) applyNewPassword(ctx context.Context, userID uuid.UUID, newPassword string) error {
	const op = "service.password.applyNewPassword"

	hashed, err := hashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	stamp, err := newSecurityStamp()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.UpdateUserPassword(ctx, userID, hashed, stamp); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
