package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vostrikovaep/go-events-platform/auth-service/internal/config"
	"github.com/vostrikovaep/go-events-platform/auth-service/internal/models"
	"github.com/vostrikovaep/go-events-platform/auth-service/internal/storage"
	"github.com/vostrikovaep/go-events-platform/auth-service/mocks"
)

func testCfg() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:       "unit-jwt-secret",
		OneTimeSecret:   "unit-onetime-secret",
		AccessTokenTTL:  30 * time.Second,
		RefreshTokenTTL: 24 * time.Hour,
		ConfirmTokenTTL: 48 * time.Hour,
		ResetTokenTTL:   time.Hour,
		Issuer:          "auth-service",
		Audience:        []string{"api-gateway"},
		FrontendBaseURL: "http://localhost:3000",
	}
}

func newSvc(t *testing.T) (*Service, *mocks.MockStorage, *gomock.Controller) {
	t.Helper()
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStorage(ctrl)
	svc := New(st, testCfg())
	return svc, st, ctrl
}

func mustHashPW(t *testing.T, pw string) string {
	t.Helper()
	h, err := hashPassword(pw)
	require.NoError(t, err)
	return h
}

func confirmedUser(t *testing.T, email, pw string) *models.User {
	t.Helper()
	now := time.Now().UTC()
	return &models.User{
		ID:             uuid.New(),
		Email:          email,
		PasswordHash:   mustHashPW(t, pw),
		EmailConfirmed: true,
		SecurityStamp:  "stamp-1",
		Roles:          []string{models.RoleUser},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestRegister_OK(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	ctx := context.Background()
	email := "User@Example.com"
	norm := "user@example.com"
	pw := "Abcdef1!"

	// Сначала UserByEmail → ErrNotFound, потом SaveUser, потом SaveRefreshToken.
	st.EXPECT().UserByEmail(gomock.Any(), norm).Return(nil, storage.ErrNotFound)

	var saved *models.User
	st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, u *models.User) error {
			saved = u
			return nil
		})
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)

	tp, user, err := svc.Register(ctx, RegisterParams{
		Email:     email,
		Password:  pw,
		GivenName: "Ivan",
		Surname:   "Petrov",
	})
	require.NoError(t, err)
	require.NotNil(t, user)
	require.NotEqual(t, uuid.Nil, user.ID)
	require.NotEmpty(t, tp.AccessToken)
	require.NotEmpty(t, tp.RefreshToken)
	require.WithinDuration(t, time.Now().Add(svc.cfg.AccessTokenTTL), tp.AccessExpiresAt, 2*time.Second)

	// Учётная запись создаётся с нормализованным адресом, ролью User и
	// неподтверждённым e-mail.
	require.NotNil(t, saved)
	require.Equal(t, norm, saved.Email)
	require.Equal(t, []string{models.RoleUser}, saved.Roles)
	require.False(t, saved.EmailConfirmed)
	require.NotEmpty(t, saved.SecurityStamp)
	require.NotEqual(t, pw, saved.PasswordHash)
	require.True(t, checkPassword(saved.PasswordHash, pw))
}

func TestRegister_AsOrganization_Role(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	st.EXPECT().UserByEmail(gomock.Any(), "org@example.com").Return(nil, storage.ErrNotFound)

	var saved *models.User
	st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, u *models.User) error {
			saved = u
			return nil
		})
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)

	_, _, err := svc.Register(context.Background(), RegisterParams{
		Email:          "org@example.com",
		Password:       "Abcdef1!",
		AsOrganization: true,
	})
	require.NoError(t, err)
	require.Equal(t, []string{models.RoleOrganization}, saved.Roles)
}

func TestRegister_InvalidEmail(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	_, _, err := svc.Register(context.Background(), RegisterParams{
		Email:    "not-an-email",
		Password: "Abcdef1!",
	})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidEmail)
}

func TestRegister_WeakOrEmptyPassword(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	_, _, err := svc.Register(context.Background(), RegisterParams{Email: "u@e.com", Password: ""})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrEmptyPassword)

	_, _, err = svc.Register(context.Background(), RegisterParams{Email: "u@e.com", Password: "short"})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrWeakPassword)

	// Длина достаточная, но нет спецсимвола.
	_, _, err = svc.Register(context.Background(), RegisterParams{Email: "u@e.com", Password: "Abcdefg1"})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrWeakPassword)
}

func TestRegister_EmailTaken_OnLookup(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	st.EXPECT().UserByEmail(gomock.Any(), "user@example.com").
		Return(&models.User{ID: uuid.New(), Email: "user@example.com"}, nil)

	_, _, err := svc.Register(context.Background(), RegisterParams{
		Email:    "user@example.com",
		Password: "Abcdef1!",
	})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegister_EmailTaken_OnSave(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	// Гонка двух регистраций: lookup не нашёл, но UNIQUE сработал на вставке.
	st.EXPECT().UserByEmail(gomock.Any(), "user@example.com").Return(nil, storage.ErrNotFound)
	st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).Return(storage.ErrAlreadyExists)

	_, _, err := svc.Register(context.Background(), RegisterParams{
		Email:    "user@example.com",
		Password: "Abcdef1!",
	})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegister_StorageLookupError_Propagated(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	st.EXPECT().UserByEmail(gomock.Any(), "user@example.com").
		Return(nil, errors.New("db down"))

	_, _, err := svc.Register(context.Background(), RegisterParams{
		Email:    "user@example.com",
		Password: "Abcdef1!",
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrEmailTaken)
}

func TestLogin_OK(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	pw := "Abcdef1!"
	user := confirmedUser(t, "user@example.com", pw)

	st.EXPECT().UserByEmail(gomock.Any(), "user@example.com").Return(user, nil)
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)

	tp, got, err := svc.Login(context.Background(), "User@Example.com", pw)
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)
	require.NotEmpty(t, tp.AccessToken)
	require.NotEmpty(t, tp.RefreshToken)
}

func TestLogin_WrongPassword(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := confirmedUser(t, "user@example.com", "Abcdef1!")

	st.EXPECT().UserByEmail(gomock.Any(), "user@example.com").Return(user, nil)

	_, _, err := svc.Login(context.Background(), "user@example.com", "Wrong1!pass")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_UnknownAndDeleted_Indistinguishable(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	// Несуществующий и удалённый аккаунт дают одну и ту же ошибку.
	st.EXPECT().UserByEmail(gomock.Any(), "ghost@example.com").Return(nil, storage.ErrNotFound)

	_, _, errUnknown := svc.Login(context.Background(), "ghost@example.com", "Abcdef1!")
	require.ErrorIs(t, errUnknown, ErrInvalidCredentials)

	deleted := confirmedUser(t, "gone@example.com", "Abcdef1!")
	deleted.IsDeleted = true
	st.EXPECT().UserByEmail(gomock.Any(), "gone@example.com").Return(deleted, nil)

	_, _, errDeleted := svc.Login(context.Background(), "gone@example.com", "Abcdef1!")
	require.ErrorIs(t, errDeleted, ErrInvalidCredentials)
}

func TestLogin_EmailNotConfirmed(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := confirmedUser(t, "user@example.com", "Abcdef1!")
	user.EmailConfirmed = false

	st.EXPECT().UserByEmail(gomock.Any(), "user@example.com").Return(user, nil)

	_, _, err := svc.Login(context.Background(), "user@example.com", "Abcdef1!")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrEmailNotConfirmed)
}

func TestRefresh_OK_RotatesToken(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := confirmedUser(t, "user@example.com", "Abcdef1!")
	plain, hash, err := mintRefreshSecret()
	require.NoError(t, err)

	now := time.Now().UTC()
	stored := &models.RefreshToken{
		TokenHash: hash,
		UserID:    user.ID,
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(23 * time.Hour),
	}

	st.EXPECT().RefreshTokenByHash(gomock.Any(), hash).Return(stored, nil)
	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)

	var next *models.RefreshToken
	st.EXPECT().RotateRefreshToken(gomock.Any(), hash, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, n *models.RefreshToken) error {
			next = n
			return nil
		})

	tp, got, err := svc.Refresh(context.Background(), plain)
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)
	require.NotEmpty(t, tp.AccessToken)
	require.NotEmpty(t, tp.RefreshToken)

	// Новый секрет не совпадает с предъявленным, а его хэш — с хэшем в реестре.
	require.NotEqual(t, plain, tp.RefreshToken)
	require.NotNil(t, next)
	require.Equal(t, hashRefreshSecret(tp.RefreshToken), next.TokenHash)
	require.Equal(t, user.ID, next.UserID)
}

func TestRefresh_ReplayOfRotatedToken_Rejected(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := confirmedUser(t, "user@example.com", "Abcdef1!")
	plain, hash, err := mintRefreshSecret()
	require.NoError(t, err)

	now := time.Now().UTC()
	revokedAt := now.Add(-time.Minute)
	rotated := &models.RefreshToken{
		TokenHash:      hash,
		UserID:         user.ID,
		CreatedAt:      now.Add(-time.Hour),
		ExpiresAt:      now.Add(23 * time.Hour),
		RevokedAt:      &revokedAt,
		ReasonRevoked:  models.ReasonRotated,
		ReplacedByHash: "successor-hash",
	}

	// Replay отклоняется ещё до обращения к пользователю; новый токен не выпускается.
	st.EXPECT().RefreshTokenByHash(gomock.Any(), hash).Return(rotated, nil)

	_, _, err = svc.Refresh(context.Background(), plain)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefresh_ExpiredAndUnknown_SameError(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := confirmedUser(t, "user@example.com", "Abcdef1!")

	plainExpired, hashExpired, err := mintRefreshSecret()
	require.NoError(t, err)

	now := time.Now().UTC()
	expired := &models.RefreshToken{
		TokenHash: hashExpired,
		UserID:    user.ID,
		CreatedAt: now.Add(-48 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}

	st.EXPECT().RefreshTokenByHash(gomock.Any(), hashExpired).Return(expired, nil)

	_, _, errExpired := svc.Refresh(context.Background(), plainExpired)
	require.ErrorIs(t, errExpired, ErrInvalidToken)

	plainUnknown, hashUnknown, err := mintRefreshSecret()
	require.NoError(t, err)

	st.EXPECT().RefreshTokenByHash(gomock.Any(), hashUnknown).Return(nil, storage.ErrNotFound)

	// Наружу причины неразличимы.
	_, _, errUnknown := svc.Refresh(context.Background(), plainUnknown)
	require.ErrorIs(t, errUnknown, ErrInvalidToken)
}

func TestRefresh_DeletedAccount(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := confirmedUser(t, "user@example.com", "Abcdef1!")
	user.IsDeleted = true

	plain, hash, err := mintRefreshSecret()
	require.NoError(t, err)

	now := time.Now().UTC()
	stored := &models.RefreshToken{
		TokenHash: hash,
		UserID:    user.ID,
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(23 * time.Hour),
	}

	st.EXPECT().RefreshTokenByHash(gomock.Any(), hash).Return(stored, nil)
	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)

	_, _, err = svc.Refresh(context.Background(), plain)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrAccountDeleted)
}

func TestRefresh_ConcurrentRotation_LoserRejected(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := confirmedUser(t, "user@example.com", "Abcdef1!")
	plain, hash, err := mintRefreshSecret()
	require.NoError(t, err)

	now := time.Now().UTC()
	stored := &models.RefreshToken{
		TokenHash: hash,
		UserID:    user.ID,
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(23 * time.Hour),
	}

	// Между lookup и ротацией токен успел отозваться конкурентом.
	st.EXPECT().RefreshTokenByHash(gomock.Any(), hash).Return(stored, nil)
	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)
	st.EXPECT().RotateRefreshToken(gomock.Any(), hash, gomock.Any()).Return(storage.ErrRevoked)

	_, _, err = svc.Refresh(context.Background(), plain)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevoke_ActiveToken(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	plain, hash, err := mintRefreshSecret()
	require.NoError(t, err)

	st.EXPECT().RevokeRefreshToken(gomock.Any(), hash, models.ReasonUserRevoked).Return(true, nil)

	require.NoError(t, svc.Revoke(context.Background(), plain))
}

func TestRevoke_UnknownToken_Silent(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	st.EXPECT().RevokeRefreshToken(gomock.Any(), gomock.Any(), models.ReasonUserRevoked).
		Return(false, storage.ErrNotFound)

	// Неизвестный токен — не ошибка.
	require.NoError(t, svc.Revoke(context.Background(), "no-such-token"))
}

func TestRevoke_AlreadyInactive_Silent(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	st.EXPECT().RevokeRefreshToken(gomock.Any(), gomock.Any(), models.ReasonUserRevoked).
		Return(false, nil)

	require.NoError(t, svc.Revoke(context.Background(), "already-revoked"))
}

func TestCurrentSession_OK(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := confirmedUser(t, "user@example.com", "Abcdef1!")
	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)

	got, err := svc.CurrentSession(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, user.Email, got.Email)
}

func TestCurrentSession_UnknownAndDeleted(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	unknown := uuid.New()
	st.EXPECT().UserByID(gomock.Any(), unknown).Return(nil, storage.ErrNotFound)

	_, err := svc.CurrentSession(context.Background(), unknown)
	require.ErrorIs(t, err, ErrInvalidToken)

	deleted := confirmedUser(t, "gone@example.com", "Abcdef1!")
	deleted.IsDeleted = true
	st.EXPECT().UserByID(gomock.Any(), deleted.ID).Return(deleted, nil)

	_, err = svc.CurrentSession(context.Background(), deleted.ID)
	require.ErrorIs(t, err, ErrAccountDeleted)
}

func TestValidateEmail_Normalization(t *testing.T) {
	t.Parallel()

	got, err := validateEmail("  User@Example.COM ")
	require.NoError(t, err)
	require.Equal(t, "user@example.com", got)

	_, err = validateEmail("")
	require.ErrorIs(t, err, ErrInvalidEmail)

	_, err = validateEmail("nope")
	require.ErrorIs(t, err, ErrInvalidEmail)
}
