package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/vostrikovaep/go-events-platform/auth-service/internal/models"
	"github.com/vostrikovaep/go-events-platform/auth-service/internal/pkg/log"
	"github.com/vostrikovaep/go-events-platform/auth-service/internal/pkg/redact"
	"github.com/vostrikovaep/go-events-platform/auth-service/internal/storage"
)

// RegisterParams — входные данные регистрации.
type RegisterParams struct {
	Email     string
	Password  string
	GivenName string
	Surname   string
	// AsOrganization — создать аккаунт организации (роль Organization);
	// такому аккаунту после регистрации требуется настройка профиля организации.
	AsOrganization bool
}

// Register регистрирует нового пользователя или организацию.
//
// Учётная запись создаётся неподтверждённой; на e-mail уходит ссылка
// подтверждения (fire-and-forget). Пара токенов выдаётся сразу, но вход по
// паролю до подтверждения e-mail невозможен.
func (s *Service) Register(ctx context.Context, p RegisterParams) (*models.TokenPair, *models.User, error) {
	const op = "service.auth.Register"

	normEmail, err := validateEmail(p.Email)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	if err := validatePassword(p.Password); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.storage.UserByEmail(ctx, normEmail)
	if err == nil {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	hashedPassword, err := hashPassword(p.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	stamp, err := newSecurityStamp()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	role := models.RoleUser
	if p.AsOrganization {
		role = models.RoleOrganization
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:            uuid.New(),
		Email:         normEmail,
		PasswordHash:  hashedPassword,
		GivenName:     strings.TrimSpace(p.GivenName),
		Surname:       strings.TrimSpace(p.Surname),
		SecurityStamp: stamp,
		Roles:         []string{role},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.storage.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
		}

		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("user_registered",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
		slog.String("email", redact.Email(user.Email)),
		slog.String("role", role),
	)

	s.sendConfirmationLink(ctx, user)

	tp, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	return tp, user, nil
}

// Login выполняет вход по email+пароль.
//
// Несуществующий, удалённый и не прошедший проверку пароля аккаунт наружу
// неразличимы (единый ErrInvalidCredentials); неподтверждённый e-mail —
// отдельная, явная причина отказа.
func (s *Service) Login(ctx context.Context, email, password string) (*models.TokenPair, *models.User, error) {
	const op = "service.auth.Login"

	normEmail, err := validateEmail(email)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if len(password) == 0 {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	user, err := s.storage.UserByEmail(ctx, normEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	if user.IsDeleted {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if !checkPassword(user.PasswordHash, password) {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if !user.EmailConfirmed {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrEmailNotConfirmed)
	}

	tp, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	return tp, user, nil
}

// Refresh обменивает refresh-токен на новую пару токенов (ротация).
//
// Предъявленный токен отзывается с причиной "rotated" и ссылкой на преемника;
// обе записи применяются одной транзакцией, поэтому при конкурентном обмене
// одного токена успешна ровно одна попытка.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, *models.User, error) {
	const op = "service.auth.Refresh"

	token, err := s.validateRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.storage.UserByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	if user.IsDeleted {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrAccountDeleted)
	}

	now := time.Now().UTC()

	accessToken, err := s.generateAccessToken(ctx, user, now)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	plain, _, err := s.rotateRefreshToken(ctx, token.TokenHash, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.TokenPair{
		AccessToken:     accessToken,
		RefreshToken:    plain,
		AccessExpiresAt: now.Add(s.cfg.AccessTokenTTL),
	}, user, nil
}

// Revoke отзывает refresh-токен (logout).
//
// Операция идемпотентна и намеренно молчалива: неизвестный или уже
// неактивный токен — не ошибка, факт существования токена не раскрывается.
func (s *Service) Revoke(ctx context.Context, refreshToken string) error {
	const op = "service.auth.Revoke"

	lg := log.From(ctx)

	hash := hashRefreshSecret(refreshToken)

	revoked, err := s.storage.RevokeRefreshToken(ctx, hash, models.ReasonUserRevoked)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Debug("revoke_unknown_token",
				slog.String("op", op),
			)
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if revoked {
		s.markRevokedInCache(ctx, hash)
	}

	return nil
}

// CurrentSession возвращает пользователя текущей сессии по его ID из
// валидированного access-токена.
func (s *Service) CurrentSession(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	const op = "service.auth.CurrentSession"

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if user.IsDeleted {
		return nil, fmt.Errorf("%s: %w", op, ErrAccountDeleted)
	}

	return user, nil
}

// ValidateToken проверяет access-токен и возвращает его claims.
// Используется транспортным слоем для авторизации входящих запросов.
func (s *Service) ValidateToken(ctx context.Context, accessToken string) (*AccessClaims, error) {
	const op = "service.auth.ValidateToken"

	claims, err := s.validateAccessToken(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return claims, nil
}

// issueTokenPair выпускает новую пару access+refresh токенов.
func (s *Service) issueTokenPair(ctx context.Context, user *models.User) (*models.TokenPair, error) {
	const op = "service.auth.issueTokenPair"

	now := time.Now().UTC()

	accessToken, err := s.generateAccessToken(ctx, user, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	plain, _, err := s.persistNewRefreshToken(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.TokenPair{
		AccessToken:     accessToken,
		RefreshToken:    plain,
		AccessExpiresAt: now.Add(s.cfg.AccessTokenTTL),
	}, nil
}

// sendConfirmationLink выпускает одноразовый токен подтверждения и отправляет
// ссылку на e-mail пользователя (fire-and-forget).
func (s *Service) sendConfirmationLink(ctx context.Context, user *models.User) {
	token := s.issueOneTimeToken(user, PurposeEmailConfirmation, time.Now().UTC())
	link := s.buildFrontendLink("/confirm-email", user, token)
	to := user.Email

	s.sendAsync(ctx, "confirmation_email_send_failed", func(ctx context.Context) error {
		return s.mailer.SendConfirmationEmail(ctx, to, link)
	})
}

// hashPassword хэширует пароль с помощью bcrypt.
func hashPassword(password string) (string, error) {
	const op = "service.auth.hashPassword"

	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return string(bytes), nil
}

// checkPassword сравнивает пароль с хэшем.
func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// newSecurityStamp генерирует новое значение security stamp.
func newSecurityStamp() (string, error) {
	const op = "service.auth.newSecurityStamp"

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

// validateEmail проверяет базовый формат email и обрезает пробелы снаружи.
func validateEmail(raw string) (string, error) {
	const op = "service.auth.validateEmail"

	email := strings.TrimSpace(raw)
	if email == "" {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	if _, err := mail.ParseAddress(email); err != nil {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	return strings.ToLower(email), nil
}

// validatePassword проверяет минимальные требования к паролю.
// Политика по умолчанию: длина >= 8, хотя бы одна строчная, заглавная, цифра и спецсимвол.
func validatePassword(pw string) error {
	const op = "service.auth.validatePassword"

	if len(pw) == 0 {
		return fmt.Errorf("%s: %w", op, ErrEmptyPassword)
	}

	if len([]rune(pw)) < 8 {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	var hasLower, hasUpper, hasDigit, hasSpecial bool
	for _, r := range pw {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if !(hasLower && hasUpper && hasDigit && hasSpecial) {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	return nil
}
