// transport/http содержит публичный HTTP API auth-сервиса.
// Здесь выполняется только разбор/валидация полезной нагрузки и маппинг
// данных и ошибок доменного слоя (service) в HTTP. Вся бизнес-логика —
// в пакете service.
//
// Принципы:
//   - Контекст запроса прокидывается в сервис без потерь;
//   - Ошибки сервиса явно транслируются в статусы:
//   - ErrInvalidEmail/ErrWeakPassword/ErrEmptyPassword/ErrUnknownCategory -> 400;
//   - ErrInvalidCredentials/ErrInvalidToken -> 401;
//   - ErrEmailNotConfirmed/ErrAccountDeleted/ErrUnauthorized -> 403;
//   - ErrEmailTaken/ErrAlreadyConfirmed/ErrAlreadyHasOrganization -> 409;
//   - иные ошибки -> 500 c единым безопасным сообщением.
//
// Безопасность:
//   - Для 500 наружу не утекают детали внутренних ошибок; подробности
//     попадают в логи через middleware;
//   - logout и forgot-password отвечают успехом независимо от того,
//     существует ли токен/адрес (см. service).
package http

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/vostrikovaep/go-events-platform/auth-service/internal/models"
	"github.com/vostrikovaep/go-events-platform/auth-service/internal/service"
)

type Server struct {
	service *service.Service
}

// NewServer создаёт HTTP-сервер авторизации поверх сервисного слоя.
func NewServer(service *service.Service) *Server {
	return &Server{service: service}
}

// Register регистрирует маршруты публичного API на приложении fiber.
func (s *Server) Register(app *fiber.App) {
	auth := app.Group("/v1/auth")

	auth.Post("/register", s.handleRegister)
	auth.Post("/login", s.handleLogin)
	auth.Post("/refresh", s.handleRefresh)
	auth.Post("/revoke", s.handleRevoke)
	auth.Post("/confirm-email", s.handleConfirmEmail)
	auth.Post("/resend-confirmation", s.handleResendConfirmation)
	auth.Post("/forgot-password", s.handleForgotPassword)
	auth.Post("/reset-password", s.handleResetPassword)

	auth.Post("/change-password", s.BearerAuth(), s.handleChangePassword)
	auth.Get("/session", s.BearerAuth(), s.handleSession)

	app.Post("/v1/organizations/setup", s.BearerAuth(), s.handleOrganizationSetup)
}

type errorResponse struct {
	Error string `json:"error"`
}

type userResponse struct {
	UserID         string   `json:"user_id"`
	Email          string   `json:"email"`
	GivenName      string   `json:"given_name,omitempty"`
	Surname        string   `json:"surname,omitempty"`
	Roles          []string `json:"roles"`
	EmailConfirmed bool     `json:"email_confirmed"`
}

type sessionResponse struct {
	UserID          string   `json:"user_id"`
	Email           string   `json:"email"`
	Roles           []string `json:"roles"`
	AccessToken     string   `json:"access_token"`
	RefreshToken    string   `json:"refresh_token"`
	AccessExpiresAt int64    `json:"access_expires_at"`
	// OrganizationSetupRequired — true для аккаунта организации,
	// которому ещё предстоит настройка профиля.
	OrganizationSetupRequired bool `json:"organization_setup_required,omitempty"`
}

func newSessionResponse(tp *models.TokenPair, user *models.User, setupRequired bool) sessionResponse {
	return sessionResponse{
		UserID:                    user.ID.String(),
		Email:                     user.Email,
		Roles:                     user.Roles,
		AccessToken:               tp.AccessToken,
		RefreshToken:              tp.RefreshToken,
		AccessExpiresAt:           tp.AccessExpiresAt.Unix(),
		OrganizationSetupRequired: setupRequired,
	}
}

// mapServiceError транслирует сентинельные ошибки сервиса в HTTP-ответ.
func mapServiceError(c *fiber.Ctx, err error) error {
	var status int

	switch {
	case errors.Is(err, service.ErrInvalidEmail),
		errors.Is(err, service.ErrWeakPassword),
		errors.Is(err, service.ErrEmptyPassword),
		errors.Is(err, service.ErrUnknownCategory):
		status = fiber.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrInvalidToken):
		status = fiber.StatusUnauthorized
	case errors.Is(err, service.ErrEmailNotConfirmed),
		errors.Is(err, service.ErrAccountDeleted),
		errors.Is(err, service.ErrUnauthorized):
		status = fiber.StatusForbidden
	case errors.Is(err, service.ErrEmailTaken),
		errors.Is(err, service.ErrAlreadyConfirmed),
		errors.Is(err, service.ErrAlreadyHasOrganization):
		status = fiber.StatusConflict
	default:
		return c.Status(fiber.StatusInternalServerError).
			JSON(errorResponse{Error: "internal server error"})
	}

	return c.Status(status).JSON(errorResponse{Error: unwrapSentinel(err).Error()})
}

// unwrapSentinel достаёт последнюю ошибку цепочки — сентинель без
// внутренних op-префиксов.
func unwrapSentinel(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// badRequest — ответ на ошибку валидации полезной нагрузки.
func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
}

// authedUserID достаёт ID пользователя, положенный BearerAuth.
func authedUserID(c *fiber.Ctx) (uuid.UUID, bool) {
	uid, ok := c.Locals(localsUserID).(uuid.UUID)
	return uid, ok
}

// handleRegister — POST /v1/auth/register.
func (s *Server) handleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err)
	}

	tp, user, err := s.service.Register(c.UserContext(), service.RegisterParams{
		Email:          req.Email,
		Password:       req.Password,
		GivenName:      req.GivenName,
		Surname:        req.Surname,
		AsOrganization: req.AsOrganization,
	})
	if err != nil {
		return mapServiceError(c, err)
	}

	setupRequired := user.HasRole(models.RoleOrganization)

	return c.Status(fiber.StatusCreated).JSON(newSessionResponse(tp, user, setupRequired))
}

// handleLogin — POST /v1/auth/login.
func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err)
	}

	tp, user, err := s.service.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(newSessionResponse(tp, user, false))
}

// handleRefresh — POST /v1/auth/refresh.
func (s *Server) handleRefresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err)
	}

	tp, user, err := s.service.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(newSessionResponse(tp, user, false))
}

// handleRevoke — POST /v1/auth/revoke.
// Отвечает 204 и для неизвестного токена: logout идемпотентен и не
// раскрывает, существовал ли токен.
func (s *Server) handleRevoke(c *fiber.Ctx) error {
	var req revokeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err)
	}

	if err := s.service.Revoke(c.UserContext(), req.RefreshToken); err != nil {
		return mapServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// handleConfirmEmail — POST /v1/auth/confirm-email.
func (s *Server) handleConfirmEmail(c *fiber.Ctx) error {
	var req confirmEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err)
	}

	uid, err := uuid.Parse(req.UserID)
	if err != nil {
		return badRequest(c, err)
	}

	if err := s.service.ConfirmEmail(c.UserContext(), uid, req.Token); err != nil {
		return mapServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// handleResendConfirmation — POST /v1/auth/resend-confirmation.
func (s *Server) handleResendConfirmation(c *fiber.Ctx) error {
	var req emailRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err)
	}

	if err := s.service.ResendConfirmation(c.UserContext(), req.Email); err != nil {
		return mapServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// handleForgotPassword — POST /v1/auth/forgot-password.
// Отвечает 204 независимо от существования адреса.
func (s *Server) handleForgotPassword(c *fiber.Ctx) error {
	var req emailRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err)
	}

	if err := s.service.ForgotPassword(c.UserContext(), req.Email); err != nil {
		return mapServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// handleResetPassword — POST /v1/auth/reset-password.
func (s *Server) handleResetPassword(c *fiber.Ctx) error {
	var req resetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err)
	}

	uid, err := uuid.Parse(req.UserID)
	if err != nil {
		return badRequest(c, err)
	}

	if err := s.service.ResetPassword(c.UserContext(), uid, req.Token, req.NewPassword); err != nil {
		return mapServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// handleChangePassword — POST /v1/auth/change-password (требует bearer).
func (s *Server) handleChangePassword(c *fiber.Ctx) error {
	uid, ok := authedUserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).
			JSON(errorResponse{Error: service.ErrInvalidToken.Error()})
	}

	var req changePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err)
	}

	if err := s.service.ChangePassword(c.UserContext(), uid, req.CurrentPassword, req.NewPassword); err != nil {
		return mapServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// handleSession — GET /v1/auth/session (требует bearer).
func (s *Server) handleSession(c *fiber.Ctx) error {
	uid, ok := authedUserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).
			JSON(errorResponse{Error: service.ErrInvalidToken.Error()})
	}

	user, err := s.service.CurrentSession(c.UserContext(), uid)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(userResponse{
		UserID:         user.ID.String(),
		Email:          user.Email,
		GivenName:      user.GivenName,
		Surname:        user.Surname,
		Roles:          user.Roles,
		EmailConfirmed: user.EmailConfirmed,
	})
}

// handleOrganizationSetup — POST /v1/organizations/setup (требует bearer).
func (s *Server) handleOrganizationSetup(c *fiber.Ctx) error {
	uid, ok := authedUserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).
			JSON(errorResponse{Error: service.ErrInvalidToken.Error()})
	}

	var req organizationSetupRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err)
	}

	tp, user, err := s.service.CompleteOrganizationSetup(c.UserContext(), uid, req.Name, req.CategoryID)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(newSessionResponse(tp, user, false))
}

// BuildApp собирает приложение fiber: middleware восстановления,
// логирование запросов, таймаут обработчика, метрики и все маршруты API.
func BuildApp(srv *Server, logger *slog.Logger, handlerTimeout time.Duration) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError

			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				code = fiberErr.Code
			}

			return c.Status(code).JSON(errorResponse{Error: err.Error()})
		},
	})

	app.Use(Recover())
	app.Use(RequestLogger(logger))
	app.Use(WithTimeout(handlerTimeout))
	app.Use(Metrics())

	srv.Register(app)

	return app
}
