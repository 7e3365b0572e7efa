package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vostrikovaep/go-events-platform/auth-service/internal/models"
	"github.com/vostrikovaep/go-events-platform/auth-service/internal/pkg/log"
	"github.com/vostrikovaep/go-events-platform/auth-service/internal/storage"
)

// CompleteOrganizationSetup создаёт профиль организации для аккаунта с ролью
// Organization и перевыпускает сессию.
//
// Предусловия: у пользователя ещё нет организации, категория существует.
func (s *Service) CompleteOrganizationSetup(ctx context.Context, userID uuid.UUID, name string, categoryID int64) (*models.TokenPair, *models.User, error) {
	const op = "service.organization.CompleteOrganizationSetup"

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	if user.IsDeleted {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrAccountDeleted)
	}

	if !user.HasRole(models.RoleOrganization) {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	_, err = s.storage.OrganizationByUserID(ctx, user.ID)
	if err == nil {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrAlreadyHasOrganization)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	exists, err := s.storage.CategoryExists(ctx, categoryID)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrUnknownCategory)
	}

	org := &models.Organization{
		ID:         uuid.New(),
		UserID:     user.ID,
		Name:       strings.TrimSpace(name),
		CategoryID: categoryID,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.storage.SaveOrganization(ctx, org); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, nil, fmt.Errorf("%s: %w", op, ErrAlreadyHasOrganization)
		}

		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("organization_created",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
		slog.String("organization_id", org.ID.String()),
	)

	tp, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	return tp, user, nil
}
