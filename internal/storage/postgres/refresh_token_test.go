package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vostrikovaep/go-events-platform/auth-service/internal/models"
	"github.com/vostrikovaep/go-events-platform/auth-service/internal/storage"
)

func newToken(userID uuid.UUID, hash string, ttl time.Duration) *models.RefreshToken {
	now := time.Now().UTC()
	return &models.RefreshToken{
		TokenHash: hash,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// TestIntegration_SaveRefreshToken_And_GetByHash_OK — happy-path реестра.
func TestIntegration_SaveRefreshToken_And_GetByHash_OK(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	u := mustSaveUser(t, st, "tokens@example.com")
	tok := newToken(u.ID, "hash-1", 24*time.Hour)

	require.NoError(t, st.SaveRefreshToken(context.Background(), tok))

	got, err := st.RefreshTokenByHash(context.Background(), "hash-1")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.UserID)
	require.Nil(t, got.RevokedAt)
	require.Empty(t, got.ReasonRevoked)
	require.Empty(t, got.ReplacedByHash)
	require.True(t, got.IsActive(time.Now().UTC()))

	_, err = st.RefreshTokenByHash(context.Background(), "no-such-hash")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// TestIntegration_SaveRefreshToken_DuplicateHash — конфликт первичного ключа.
func TestIntegration_SaveRefreshToken_DuplicateHash(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	u := mustSaveUser(t, st, "dup@example.com")

	require.NoError(t, st.SaveRefreshToken(context.Background(), newToken(u.ID, "dup-hash", time.Hour)))

	err := st.SaveRefreshToken(context.Background(), newToken(u.ID, "dup-hash", time.Hour))
	require.ErrorIs(t, err, storage.ErrAlreadyExists)
}

// TestIntegration_RotateRefreshToken_OK — успешная ротация: старая строка
// отозвана причиной "rotated" со ссылкой на преемника, преемник активен.
func TestIntegration_RotateRefreshToken_OK(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	u := mustSaveUser(t, st, "rotate@example.com")
	require.NoError(t, st.SaveRefreshToken(context.Background(), newToken(u.ID, "old-hash", 24*time.Hour)))

	next := newToken(u.ID, "next-hash", 24*time.Hour)
	require.NoError(t, st.RotateRefreshToken(context.Background(), "old-hash", next))

	old, err := st.RefreshTokenByHash(context.Background(), "old-hash")
	require.NoError(t, err)
	require.NotNil(t, old.RevokedAt)
	require.Equal(t, models.ReasonRotated, old.ReasonRevoked)
	require.Equal(t, "next-hash", old.ReplacedByHash)

	succ, err := st.RefreshTokenByHash(context.Background(), "next-hash")
	require.NoError(t, err)
	require.True(t, succ.IsActive(time.Now().UTC()))
}

// TestIntegration_RotateRefreshToken_Replay — повторная ротация того же
// токена отклоняется как отзыв, второй преемник не появляется.
func TestIntegration_RotateRefreshToken_Replay(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	u := mustSaveUser(t, st, "replay@example.com")
	require.NoError(t, st.SaveRefreshToken(context.Background(), newToken(u.ID, "replay-hash", 24*time.Hour)))

	require.NoError(t, st.RotateRefreshToken(context.Background(), "replay-hash", newToken(u.ID, "succ-1", 24*time.Hour)))

	err := st.RotateRefreshToken(context.Background(), "replay-hash", newToken(u.ID, "succ-2", 24*time.Hour))
	require.ErrorIs(t, err, storage.ErrRevoked)

	_, err = st.RefreshTokenByHash(context.Background(), "succ-2")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// TestIntegration_RotateRefreshToken_ExpiredAndUnknown — различение причин
// на уровне хранилища.
func TestIntegration_RotateRefreshToken_ExpiredAndUnknown(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	u := mustSaveUser(t, st, "expired@example.com")
	require.NoError(t, st.SaveRefreshToken(context.Background(), newToken(u.ID, "expired-hash", -time.Hour)))

	err := st.RotateRefreshToken(context.Background(), "expired-hash", newToken(u.ID, "succ-x", time.Hour))
	require.ErrorIs(t, err, storage.ErrExpired)

	// Просроченная строка осталась в реестре: удаляет её только ретенция.
	_, err = st.RefreshTokenByHash(context.Background(), "expired-hash")
	require.NoError(t, err)

	err = st.RotateRefreshToken(context.Background(), "ghost-hash", newToken(u.ID, "succ-y", time.Hour))
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// TestIntegration_RotateRefreshToken_ConcurrentExactlyOneWins — конкурентные
// ротации одного токена: успешна ровно одна, в реестре ровно один преемник.
func TestIntegration_RotateRefreshToken_ConcurrentExactlyOneWins(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	u := mustSaveUser(t, st, "race@example.com")
	require.NoError(t, st.SaveRefreshToken(context.Background(), newToken(u.ID, "race-hash", 24*time.Hour)))

	const workers = 8

	var wg sync.WaitGroup
	results := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := newToken(u.ID, fmt.Sprintf("race-succ-%d", i), 24*time.Hour)
			results[i] = st.RotateRefreshToken(context.Background(), "race-hash", next)
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, storage.ErrRevoked)
		}
	}
	require.Equal(t, 1, wins)

	// Преемник ровно один, и именно на него ссылается отозванная строка.
	old, err := st.RefreshTokenByHash(context.Background(), "race-hash")
	require.NoError(t, err)
	require.NotNil(t, old.RevokedAt)

	var successors int
	for i := 0; i < workers; i++ {
		_, err := st.RefreshTokenByHash(context.Background(), fmt.Sprintf("race-succ-%d", i))
		if err == nil {
			successors++
		} else {
			require.ErrorIs(t, err, storage.ErrNotFound)
		}
	}
	require.Equal(t, 1, successors)

	succ, err := st.RefreshTokenByHash(context.Background(), old.ReplacedByHash)
	require.NoError(t, err)
	require.True(t, succ.IsActive(time.Now().UTC()))
}

// TestIntegration_RevokeRefreshToken — отзыв активного, повторный отзыв и
// отзыв несуществующего токена.
func TestIntegration_RevokeRefreshToken(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	u := mustSaveUser(t, st, "revoke@example.com")
	require.NoError(t, st.SaveRefreshToken(context.Background(), newToken(u.ID, "revoke-hash", 24*time.Hour)))

	revoked, err := st.RevokeRefreshToken(context.Background(), "revoke-hash", models.ReasonUserRevoked)
	require.NoError(t, err)
	require.True(t, revoked)

	got, err := st.RefreshTokenByHash(context.Background(), "revoke-hash")
	require.NoError(t, err)
	require.NotNil(t, got.RevokedAt)
	require.Equal(t, models.ReasonUserRevoked, got.ReasonRevoked)
	require.Empty(t, got.ReplacedByHash)

	// Повторный отзыв — (false, nil): строка существует, но уже неактивна.
	revoked, err = st.RevokeRefreshToken(context.Background(), "revoke-hash", models.ReasonUserRevoked)
	require.NoError(t, err)
	require.False(t, revoked)

	_, err = st.RevokeRefreshToken(context.Background(), "ghost", models.ReasonUserRevoked)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// TestIntegration_PurgeExpiredTokens — удаляются только строки старше cutoff.
func TestIntegration_PurgeExpiredTokens(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()

	u := mustSaveUser(t, st, "purge@example.com")

	require.NoError(t, st.SaveRefreshToken(context.Background(), newToken(u.ID, "stale-hash", -96*time.Hour)))
	require.NoError(t, st.SaveRefreshToken(context.Background(), newToken(u.ID, "fresh-expired-hash", -time.Hour)))
	require.NoError(t, st.SaveRefreshToken(context.Background(), newToken(u.ID, "active-hash", 24*time.Hour)))

	cutoff := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, st.PurgeExpiredTokens(context.Background(), cutoff))

	_, err := st.RefreshTokenByHash(context.Background(), "stale-hash")
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = st.RefreshTokenByHash(context.Background(), "fresh-expired-hash")
	require.NoError(t, err)

	_, err = st.RefreshTokenByHash(context.Background(), "active-hash")
	require.NoError(t, err)
}
