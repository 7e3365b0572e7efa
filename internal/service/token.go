package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/vostrikovaep/go-events-platform/auth-service/internal/cache"
	"github.com/vostrikovaep/go-events-platform/auth-service/internal/models"
	"github.com/vostrikovaep/go-events-platform/auth-service/internal/pkg/log"
	"github.com/vostrikovaep/go-events-platform/auth-service/internal/storage"
)

// AccessClaims — типизированный набор claims access-токена.
// Набор полей фиксирован: идентификатор, e-mail, необязательные имя/фамилия
// и повторяемое поле ролей; произвольных claims сервис не выпускает.
type AccessClaims struct {
	UserID    string   `json:"uid"`
	Email     string   `json:"email"`
	GivenName string   `json:"given_name,omitempty"`
	Surname   string   `json:"family_name,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// generateAccessToken генерирует подписанный access-токен для пользователя.
// jti (RegisteredClaims.ID) уникален для каждого выпуска.
func (s *Service) generateAccessToken(ctx context.Context, user *models.User, now time.Time) (string, error) {
	const op = "service.token.generateAccessToken"

	lg := log.From(ctx)

	claims := AccessClaims{
		UserID:    user.ID.String(),
		Email:     user.Email,
		GivenName: user.GivenName,
		Surname:   user.Surname,
		Roles:     user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.cfg.Issuer,
			Subject:   user.ID.String(),
			Audience:  jwt.ClaimStrings(s.cfg.Audience),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		lg.Error("access_token_sign_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// validateAccessToken проверяет подпись, издателя, аудиторию и срок действия.
// Любая причина отказа наружу неразличима: всегда ErrInvalidToken.
// Допуска на рассинхронизацию часов нет: TTL короткие, и leeway только
// растягивал бы гарантию истечения.
func (s *Service) validateAccessToken(tokenStr string) (*AccessClaims, error) {
	const op = "service.token.validateAccessToken"

	token, err := jwt.ParseWithClaims(tokenStr, &AccessClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
			}

			return []byte(s.cfg.JWTSecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience...),
		jwt.WithExpirationRequired(),
	)

	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	if _, err := uuid.Parse(claims.UserID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return claims, nil
}

// mintRefreshSecret генерирует криптослучайный секрет refresh-токена
// (256 бит) и его sha256/base64url-хэш для хранения в реестре.
func mintRefreshSecret() (plain, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}

	plain = base64.RawURLEncoding.EncodeToString(b)
	return plain, hashRefreshSecret(plain), nil
}

// hashRefreshSecret — sha256 → base64url; в БД попадает только хэш.
func hashRefreshSecret(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// persistNewRefreshToken выпускает и сохраняет новый refresh-токен.
// Коллизия хэша в БД крайне маловероятна, но на неё есть ретраи.
func (s *Service) persistNewRefreshToken(ctx context.Context, userID uuid.UUID) (string, *models.RefreshToken, error) {
	const (
		op          = "service.token.persistNewRefreshToken"
		maxAttempts = 5
	)

	lg := log.From(ctx)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		plain, hash, err := mintRefreshSecret()
		if err != nil {
			lg.Error("refresh_rand_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", nil, fmt.Errorf("%s: %w", op, err)
		}

		now := time.Now().UTC()
		token := &models.RefreshToken{
			TokenHash: hash,
			UserID:    userID,
			CreatedAt: now,
			ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
		}

		if err := s.storage.SaveRefreshToken(ctx, token); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				// Редкая коллизия — пробуем сгенерировать заново.
				continue
			}

			lg.Error("save_refresh_token_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", nil, fmt.Errorf("%s: %w", op, err)
		}

		s.cacheRefreshToken(ctx, token)

		return plain, token, nil
	}

	lg.Error("refresh_collision_exceeded",
		slog.String("op", op),
	)

	return "", nil, fmt.Errorf("%s: %w", op, ErrRefreshTokenCollision)
}

// rotateRefreshToken атомарно обменивает oldHash на свежевыпущенный токен.
// Проигравший конкурентной ротации того же токена получает ErrInvalidToken —
// повторный успех по одному и тому же токену невозможен.
func (s *Service) rotateRefreshToken(ctx context.Context, oldHash string, userID uuid.UUID) (string, *models.RefreshToken, error) {
	const (
		op          = "service.token.rotateRefreshToken"
		maxAttempts = 5
	)

	lg := log.From(ctx)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		plain, hash, err := mintRefreshSecret()
		if err != nil {
			lg.Error("refresh_rand_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", nil, fmt.Errorf("%s: %w", op, err)
		}

		now := time.Now().UTC()
		next := &models.RefreshToken{
			TokenHash: hash,
			UserID:    userID,
			CreatedAt: now,
			ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
		}

		err = s.storage.RotateRefreshToken(ctx, oldHash, next)
		if err == nil {
			s.markRevokedInCache(ctx, oldHash)
			s.cacheRefreshToken(ctx, next)

			return plain, next, nil
		}

		if errors.Is(err, storage.ErrAlreadyExists) {
			continue
		}

		// Кто-то успел ротировать или отозвать токен раньше нас, либо он
		// просрочен/не существует: наружу всё одинаково.
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrRevoked) || errors.Is(err, storage.ErrExpired) {
			lg.Warn("refresh_rotation_rejected",
				slog.String("op", op),
				slog.String("reason", err.Error()),
			)
			s.markRevokedInCache(ctx, oldHash)

			return "", nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		lg.Error("refresh_rotation_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}

	lg.Error("refresh_collision_exceeded",
		slog.String("op", op),
	)

	return "", nil, fmt.Errorf("%s: %w", op, ErrRefreshTokenCollision)
}

// validateRefreshToken находит предъявленный refresh-токен и проверяет его
// пригодность к обмену. Неактивное состояние любого вида — ErrInvalidToken.
func (s *Service) validateRefreshToken(ctx context.Context, plain string) (*models.RefreshToken, error) {
	const op = "service.token.validateRefreshToken"

	lg := log.From(ctx)

	hash := hashRefreshSecret(plain)

	// Быстрый отрицательный ответ из кэша; положительный всё равно
	// перепроверяется по БД — источник истины для ротации только реестр.
	if s.rcache != nil {
		if entry, ok, err := s.rcache.Get(ctx, hash); err == nil && ok {
			if entry.Revoked || !time.Now().UTC().Before(entry.ExpiresAt) {
				lg.Warn("refresh_rejected_by_cache",
					slog.String("op", op),
				)
				return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
			}
		}
	}

	token, err := s.storage.RefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Warn("refresh_lookup_not_found",
				slog.String("op", op),
			)
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		lg.Error("refresh_lookup_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC()

	if token.IsRevoked() {
		// Сюда попадает и replay уже ротированного токена.
		lg.Warn("refresh_revoked",
			slog.String("op", op),
			slog.String("user_id", token.UserID.String()),
			slog.String("reason", token.ReasonRevoked),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	if token.IsExpired(now) {
		lg.Warn("refresh_expired",
			slog.String("op", op),
			slog.String("user_id", token.UserID.String()),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return token, nil
}

// cacheRefreshToken кладёт свежевыпущенный токен в кэш (best-effort).
func (s *Service) cacheRefreshToken(ctx context.Context, token *models.RefreshToken) {
	if s.rcache == nil {
		return
	}

	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return
	}

	entry := &cache.RefreshEntry{
		UserID:    token.UserID,
		Revoked:   false,
		ExpiresAt: token.ExpiresAt,
	}

	if err := s.rcache.Set(ctx, token.TokenHash, entry, ttl); err != nil {
		log.From(ctx).Warn("refresh_cache_set_failed",
			slog.String("err", err.Error()),
		)
	}
}

// markRevokedInCache помечает токен отозванным в кэше (best-effort).
func (s *Service) markRevokedInCache(ctx context.Context, hash string) {
	if s.rcache == nil {
		return
	}

	if err := s.rcache.MarkRevoked(ctx, hash); err != nil {
		log.From(ctx).Warn("refresh_cache_revoke_failed",
			slog.String("err", err.Error()),
		)
	}
}
