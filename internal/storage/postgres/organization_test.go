package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vostrikovaep/go-events-platform/auth-service/internal/models"
	"github.com/vostrikovaep/go-events-platform/auth-service/internal/storage"
)

// TestIntegration_SaveOrganization_And_GetByUserID_OK — happy-path:
// создание организации и поиск по владельцу.
func TestIntegration_SaveOrganization_And_GetByUserID_OK(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	u := mustSaveUser(t, st, "org@example.com")

	org := &models.Organization{
		ID:         uuid.New(),
		UserID:     u.ID,
		Name:       "Дом культуры",
		CategoryID: 2,
		CreatedAt:  time.Now().UTC(),
	}

	require.NoError(t, st.SaveOrganization(context.Background(), org))

	got, err := st.OrganizationByUserID(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, org.ID, got.ID)
	require.Equal(t, "Дом культуры", got.Name)
	require.Equal(t, int64(2), got.CategoryID)

	_, err = st.OrganizationByUserID(context.Background(), uuid.New())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// TestIntegration_SaveOrganization_OnePerUser — UNIQUE(user_id): вторая
// организация того же пользователя отклоняется.
func TestIntegration_SaveOrganization_OnePerUser(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	u := mustSaveUser(t, st, "one-org@example.com")

	first := &models.Organization{
		ID:         uuid.New(),
		UserID:     u.ID,
		Name:       "Первая",
		CategoryID: 1,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, st.SaveOrganization(context.Background(), first))

	second := &models.Organization{
		ID:         uuid.New(),
		UserID:     u.ID,
		Name:       "Вторая",
		CategoryID: 1,
		CreatedAt:  time.Now().UTC(),
	}
	err := st.SaveOrganization(context.Background(), second)
	require.ErrorIs(t, err, storage.ErrAlreadyExists)
}

// TestIntegration_CategoryExists — сид категорий применяется миграцией.
func TestIntegration_CategoryExists(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	for id := int64(1); id <= 5; id++ {
		exists, err := st.CategoryExists(context.Background(), id)
		require.NoError(t, err)
		require.True(t, exists, "category %d", id)
	}

	exists, err := st.CategoryExists(context.Background(), 99)
	require.NoError(t, err)
	require.False(t, exists)
}
