package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vostrikovaep/go-events-platform/auth-service/internal/models"
	"github.com/vostrikovaep/go-events-platform/auth-service/internal/storage"
)

// SaveRefreshToken сохраняет новый refresh-токен в БД.
func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const op = "storage.postgres.SaveRefreshToken"

	query := `
        INSERT INTO refresh_tokens(token_hash, user_id, created_at, expires_at)
        VALUES ($1, $2, $3, $4)
    `

	_, err := s.db.Exec(ctx, query,
		token.TokenHash,
		token.UserID,
		token.CreatedAt,
		token.ExpiresAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RefreshTokenByHash находит refresh-токен по его хэшу.
func (s *Storage) RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	const op = "storage.postgres.RefreshTokenByHash"

	query := `
        SELECT token_hash, user_id, created_at, expires_at,
               revoked_at, reason_revoked, replaced_by_hash
        FROM refresh_tokens
        WHERE token_hash = $1
    `

	var token models.RefreshToken
	err := s.db.QueryRow(ctx, query, hash).Scan(
		&token.TokenHash,
		&token.UserID,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.RevokedAt,
		&token.ReasonRevoked,
		&token.ReplacedByHash,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &token, nil
}

// RotateRefreshToken атомарно обменивает oldHash на next.
//
// В одной транзакции:
//  1. условный UPDATE старой строки (revoked_at IS NULL AND expires_at > now) —
//     проигравший конкурентной гонки видит 0 строк и транзакцию не применяет;
//  2. INSERT строки-преемника.
//
// Отмена контекста до фиксации откатывает обе записи: старый токен остаётся
// неотозванным, преемник не появляется.
func (s *Storage) RotateRefreshToken(ctx context.Context, oldHash string, next *models.RefreshToken) error {
	const op = "storage.postgres.RotateRefreshToken"

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()

	const upd = `
		UPDATE refresh_tokens
		SET revoked_at = $2, reason_revoked = $3, replaced_by_hash = $4
		WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > $2
		RETURNING user_id
	`

	var userID string
	err = tx.QueryRow(ctx, upd, oldHash, now, models.ReasonRotated, next.TokenHash).Scan(&userID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%s: %w", op, err)
		}

		// Строка не обновлена: различаем отсутствие, отзыв и просрочку.
		const sel = `
			SELECT revoked_at, expires_at
			FROM refresh_tokens
			WHERE token_hash = $1
		`

		var revokedAt *time.Time
		var expiresAt time.Time
		err = tx.QueryRow(ctx, sel, oldHash).Scan(&revokedAt, &expiresAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
			}

			return fmt.Errorf("%s: %w", op, err)
		}

		if revokedAt != nil {
			return fmt.Errorf("%s: %w", op, storage.ErrRevoked)
		}

		return fmt.Errorf("%s: %w", op, storage.ErrExpired)
	}

	const ins = `
        INSERT INTO refresh_tokens(token_hash, user_id, created_at, expires_at)
        VALUES ($1, $2, $3, $4)
    `

	_, err = tx.Exec(ctx, ins,
		next.TokenHash,
		next.UserID,
		next.CreatedAt,
		next.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RevokeRefreshToken пытается отозвать refresh-токен, если он ещё активен.
// Возвращает:
//
//	(true, nil)  — токен был активен и отозван сейчас;
//	(false, nil) — токен существует, но уже был отозван или просрочен;
//	(false, ErrNotFound) — токен не найден.
func (s *Storage) RevokeRefreshToken(ctx context.Context, hash, reason string) (bool, error) {
	const op = "storage.postgres.RevokeRefreshToken"

	now := time.Now().UTC()

	const upd = `
		UPDATE refresh_tokens
		SET revoked_at = $2, reason_revoked = $3
		WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > $2
		RETURNING user_id
	`

	var userID string
	err := s.db.QueryRow(ctx, upd, hash, now, reason).Scan(&userID)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	const sel = `
		SELECT revoked_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`

	var revokedAt *time.Time
	err = s.db.QueryRow(ctx, sel, hash).Scan(&revokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return false, fmt.Errorf("%s: %w", op, err)
	}

	return false, nil
}

// PurgeExpiredTokens удаляет строки, просроченные раньше cutoff.
// Используется фоновой задачей с большим окном ретенции: свежие строки
// остаются в реестре как аудиторский след цепочек ротаций.
func (s *Storage) PurgeExpiredTokens(ctx context.Context, cutoff time.Time) error {
	const op = "storage.postgres.PurgeExpiredTokens"

	query := `
        DELETE FROM refresh_tokens
        WHERE expires_at <= $1
    `

	_, err := s.db.Exec(ctx, query, cutoff)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
