package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vostrikovaep/go-events-platform/auth-service/internal/models"
	"github.com/vostrikovaep/go-events-platform/auth-service/internal/storage"
)

// SaveOrganization создает организацию. Уникальный индекс по user_id
// гарантирует не более одной организации на пользователя.
func (s *Storage) SaveOrganization(ctx context.Context, org *models.Organization) error {
	const op = "storage.postgres.SaveOrganization"

	query := `
		INSERT INTO organizations(id, user_id, name, category_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.db.Exec(ctx, query,
		org.ID,
		org.UserID,
		org.Name,
		org.CategoryID,
		org.CreatedAt,
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

// OrganizationByUserID находит организацию по владельцу.
func (s *Storage) OrganizationByUserID(ctx context.Context, userID uuid.UUID) (*models.Organization, error) {
	const op = "storage.postgres.OrganizationByUserID"

	query := `
		SELECT id, user_id, name, category_id, created_at
		FROM organizations
		WHERE user_id = $1
	`

	var org models.Organization
	err := s.db.QueryRow(ctx, query, userID).Scan(
		&org.ID,
		&org.UserID,
		&org.Name,
		&org.CategoryID,
		&org.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &org, nil
}

// CategoryExists проверяет существование категории.
func (s *Storage) CategoryExists(ctx context.Context, id int64) (bool, error) {
	const op = "storage.postgres.CategoryExists"

	query := `SELECT EXISTS(SELECT 1 FROM categories WHERE id = $1)`

	var exists bool
	if err := s.db.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return exists, nil
}
