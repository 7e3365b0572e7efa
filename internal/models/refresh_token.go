package models

import (
	"time"

	"github.com/google/uuid"
)

// Причины отзыва refresh-токена (reason_revoked).
const (
	// ReasonRotated — токен обменян на новую пару (штатная ротация).
	ReasonRotated = "rotated"
	// ReasonUserRevoked — токен отозван явным logout.
	ReasonUserRevoked = "user revoked"
)

// RefreshToken — строка реестра refresh-токенов.
//
// Описание:
//   - TokenHash — sha256/base64url от секрета; сам секрет в БД не попадает;
//   - RevokedAt/ReasonRevoked — заполняются ровно один раз при ротации или logout;
//   - ReplacedByHash — хэш токена-преемника; вместе с RevokedAt образует цепочку
//     ротаций, строки из реестра не удаляются, пока могут понадобиться для аудита.
type RefreshToken struct {
	TokenHash      string
	UserID         uuid.UUID
	CreatedAt      time.Time
	ExpiresAt      time.Time
	RevokedAt      *time.Time
	ReasonRevoked  string
	ReplacedByHash string
}

// IsRevoked — токен был отозван (ротацией или logout).
func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsExpired — срок действия токена истёк к моменту now.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsActive — токен пригоден для обмена: не отозван и не просрочен.
// Переход в неактивное состояние необратим.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.IsRevoked() && !t.IsExpired(now)
}
