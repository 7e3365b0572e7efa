package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vostrikovaep/go-events-platform/auth-service/internal/models"
)

var (
	// ErrNotFound — запись не найдена (пользователь/токен/организация).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (email/refresh-token/организация).
	ErrAlreadyExists = errors.New("already exists")
	// ErrExpired — refresh-токен просрочен.
	ErrExpired = errors.New("expired")
	// ErrRevoked — refresh-токен уже отозван (ротацией или logout).
	ErrRevoked = errors.New("revoked")
)

// UserStorage выполняет операции над пользователями.
type UserStorage interface {
	// SaveUser создает нового пользователя в БД.
	SaveUser(ctx context.Context, user *models.User) error
	// UserByEmail находит пользователя по email.
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// ConfirmUserEmail выставляет email_confirmed = TRUE.
	ConfirmUserEmail(ctx context.Context, id uuid.UUID) error
	// UpdateUserPassword меняет хэш пароля и security stamp одной записью.
	UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash, securityStamp string) error
}

// RefreshTokenStorage выполняет операции над реестром refresh-токенов.
type RefreshTokenStorage interface {
	// SaveRefreshToken сохраняет новый refresh-токен в БД.
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
	// RefreshTokenByHash находит refresh-токен по его хэшу.
	RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	// RotateRefreshToken атомарно отзывает токен oldHash (reason "rotated",
	// replaced_by_hash = next.TokenHash) и сохраняет next в одной транзакции.
	// Если oldHash не активен, транзакция не применяется:
	// ErrNotFound/ErrRevoked/ErrExpired в зависимости от состояния строки.
	RotateRefreshToken(ctx context.Context, oldHash string, next *models.RefreshToken) error
	// RevokeRefreshToken пытается отозвать токен с указанием причины.
	// Возвращает:
	//   (true, nil)  — токен был активен и отозван сейчас;
	//   (false, nil) — токен существует, но уже неактивен;
	//   (false, ErrNotFound) — токен не найден.
	RevokeRefreshToken(ctx context.Context, hash, reason string) (bool, error)
	// PurgeExpiredTokens удаляет строки, просроченные раньше cutoff.
	// Свежепросроченные строки остаются в реестре как след ротаций.
	PurgeExpiredTokens(ctx context.Context, cutoff time.Time) error
}

// OrganizationStorage выполняет операции над организациями и категориями.
type OrganizationStorage interface {
	// SaveOrganization создает организацию; у пользователя она может быть одна.
	SaveOrganization(ctx context.Context, org *models.Organization) error
	// OrganizationByUserID находит организацию по владельцу.
	OrganizationByUserID(ctx context.Context, userID uuid.UUID) (*models.Organization, error)
	// CategoryExists проверяет существование категории.
	CategoryExists(ctx context.Context, id int64) (bool, error)
}

// Storage задает контракт работы с БД.
type Storage interface {
	UserStorage
	RefreshTokenStorage
	OrganizationStorage
	Close()
}
