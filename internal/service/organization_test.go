package service

import (
	"context"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vostrikovaep/go-events-platform/auth-service/internal/models"
	"github.com/vostrikovaep/go-events-platform/auth-service/internal/storage"
)

func orgUser(t *testing.T) *models.User {
	t.Helper()
	user := confirmedUser(t, "org@example.com", "Abcdef1!")
	user.Roles = []string{models.RoleOrganization}
	return user
}

func TestCompleteOrganizationSetup_OK(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := orgUser(t)

	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)
	st.EXPECT().OrganizationByUserID(gomock.Any(), user.ID).Return(nil, storage.ErrNotFound)
	st.EXPECT().CategoryExists(gomock.Any(), int64(3)).Return(true, nil)

	var saved *models.Organization
	st.EXPECT().SaveOrganization(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, org *models.Organization) error {
			saved = org
			return nil
		})
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)

	tp, got, err := svc.CompleteOrganizationSetup(context.Background(), user.ID, "  Дом культуры  ", 3)
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)
	require.NotEmpty(t, tp.AccessToken)
	require.NotEmpty(t, tp.RefreshToken)

	require.NotNil(t, saved)
	require.Equal(t, user.ID, saved.UserID)
	require.Equal(t, "Дом культуры", saved.Name)
	require.Equal(t, int64(3), saved.CategoryID)
}

func TestCompleteOrganizationSetup_NotOrganizationRole(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := confirmedUser(t, "user@example.com", "Abcdef1!")

	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)

	_, _, err := svc.CompleteOrganizationSetup(context.Background(), user.ID, "Name", 1)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestCompleteOrganizationSetup_AlreadyHasOrganization(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := orgUser(t)

	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)
	st.EXPECT().OrganizationByUserID(gomock.Any(), user.ID).
		Return(&models.Organization{ID: uuid.New(), UserID: user.ID}, nil)

	_, _, err := svc.CompleteOrganizationSetup(context.Background(), user.ID, "Name", 1)
	require.ErrorIs(t, err, ErrAlreadyHasOrganization)
}

func TestCompleteOrganizationSetup_RaceOnSave(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := orgUser(t)

	// Конкурентная настройка: lookup не нашёл, но UNIQUE(user_id) сработал на вставке.
	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)
	st.EXPECT().OrganizationByUserID(gomock.Any(), user.ID).Return(nil, storage.ErrNotFound)
	st.EXPECT().CategoryExists(gomock.Any(), int64(1)).Return(true, nil)
	st.EXPECT().SaveOrganization(gomock.Any(), gomock.Any()).Return(storage.ErrAlreadyExists)

	_, _, err := svc.CompleteOrganizationSetup(context.Background(), user.ID, "Name", 1)
	require.ErrorIs(t, err, ErrAlreadyHasOrganization)
}

func TestCompleteOrganizationSetup_UnknownCategory(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := orgUser(t)

	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)
	st.EXPECT().OrganizationByUserID(gomock.Any(), user.ID).Return(nil, storage.ErrNotFound)
	st.EXPECT().CategoryExists(gomock.Any(), int64(99)).Return(false, nil)

	_, _, err := svc.CompleteOrganizationSetup(context.Background(), user.ID, "Name", 99)
	require.ErrorIs(t, err, ErrUnknownCategory)
}

func TestCompleteOrganizationSetup_DeletedAccount(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := orgUser(t)
	user.IsDeleted = true

	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)

	_, _, err := svc.CompleteOrganizationSetup(context.Background(), user.ID, "Name", 1)
	require.ErrorIs(t, err, ErrAccountDeleted)
}
