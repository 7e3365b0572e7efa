package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vostrikovaep/go-events-platform/auth-service/internal/models"
)

// Назначения одноразовых токенов. Токены разных назначений не взаимозаменяемы
// даже для одного пользователя: назначение входит в подписываемую строку.
const (
	// PurposeEmailConfirmation — подтверждение e-mail после регистрации.
	PurposeEmailConfirmation = "email_confirmation"
	// PurposePasswordReset — сброс забытого пароля.
	PurposePasswordReset = "password_reset"
)

// Одноразовые токены нигде не хранятся: значение детерминированно вычисляется
// из {userID, назначение, текущий security stamp, момент выпуска} под
// серверным секретом и проверяется повторным вычислением.
//
// Формат: base64url(unix-время выпуска) + "." + base64url(HMAC-SHA256).
// Обе части URL-безопасны, токен можно класть в query-параметр как есть.
//
// Инвалидация без хранения: смена пароля ротирует security stamp, после чего
// повторное вычисление для любого ранее выданного токена не сойдётся.

// issueOneTimeToken выпускает одноразовый токен для пользователя.
func (s *Service) issueOneTimeToken(user *models.User, purpose string, now time.Time) string {
	payload := strconv.FormatInt(now.Unix(), 10)
	mac := s.oneTimeMAC(user, purpose, payload)

	return base64.RawURLEncoding.EncodeToString([]byte(payload)) +
		"." +
		base64.RawURLEncoding.EncodeToString(mac)
}

// validateOneTimeToken проверяет токен повторным вычислением от текущего
// stamp пользователя. Любое расхождение (подделка, чужое назначение,
// изменившийся stamp, вышедшее окно валидности) — единый ErrInvalidToken.
func (s *Service) validateOneTimeToken(user *models.User, purpose, token string, now time.Time) error {
	const op = "service.onetime.validateOneTimeToken"

	payloadPart, macPart, found := strings.Cut(token, ".")
	if !found {
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	gotMAC, err := base64.RawURLEncoding.DecodeString(macPart)
	if err != nil {
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	payload := string(payloadBytes)
	issuedUnix, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	issuedAt := time.Unix(issuedUnix, 0).UTC()
	if issuedAt.After(now) {
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}
	if now.Sub(issuedAt) > s.oneTimeTTL(purpose) {
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	// Сравнение константно по времени.
	if !hmac.Equal(gotMAC, s.oneTimeMAC(user, purpose, payload)) {
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return nil
}

// oneTimeMAC — HMAC-SHA256 над каноничной строкой uid|purpose|stamp|issuedAt.
func (s *Service) oneTimeMAC(user *models.User, purpose, payload string) []byte {
	h := hmac.New(sha256.New, []byte(s.cfg.OneTimeSecret))
	h.Write([]byte(user.ID.String()))
	h.Write([]byte{'|'})
	h.Write([]byte(purpose))
	h.Write([]byte{'|'})
	h.Write([]byte(user.SecurityStamp))
	h.Write([]byte{'|'})
	h.Write([]byte(payload))

	return h.Sum(nil)
}

// oneTimeTTL — окно валидности по назначению.
func (s *Service) oneTimeTTL(purpose string) time.Duration {
	if purpose == PurposePasswordReset {
		return s.cfg.ResetTokenTTL
	}

	return s.cfg.ConfirmTokenTTL
}

// buildFrontendLink строит ссылку на страницу фронтенда с uid и токеном.
func (s *Service) buildFrontendLink(path string, user *models.User, token string) string {
	q := url.Values{}
	q.Set("uid", user.ID.String())
	q.Set("token", token)

	return strings.TrimRight(s.cfg.FrontendBaseURL, "/") + path + "?" + q.Encode()
}
