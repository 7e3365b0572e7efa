package http

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vostrikovaep/go-events-platform/auth-service/internal/pkg/log"
	"github.com/vostrikovaep/go-events-platform/auth-service/internal/service"
)

// localsUserID — ключ fiber.Locals с ID пользователя из access-токена.
const localsUserID = "auth_user_id"

// localsClaims — ключ fiber.Locals с claims access-токена.
const localsClaims = "auth_claims"

// RequestLogger реализует логирование запросов с контекстным логгером.
//
// Поведение и формат логов:
//   - Вытягивает X-Request-Id из заголовков, иначе генерирует UUID;
//   - Кладёт обогащённый *slog.Logger в контекст запроса (pkg/log), чтобы он
//     был доступен глубже по стеку;
//   - После выполнения обработчика пишет одну строку уровня Info: msg="http",
//     status=<код>, dur=<время выполнения>.
//
// Безопасность: в логи попадают только метод/путь/peer/request_id, никаких
// тел запросов и токенов.
func RequestLogger(base *slog.Logger) fiber.Handler {
	if base == nil {
		base = slog.Default()
	}

	return func(c *fiber.Ctx) error {
		start := time.Now()

		rid := c.Get("X-Request-Id")
		if rid == "" {
			rid = uuid.NewString()
		}

		l := base.With(
			slog.String("request_id", rid),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("peer", c.IP()),
		)
		c.SetUserContext(log.Into(c.UserContext(), l))
		c.Set("X-Request-Id", rid)

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}

		l.Info("http",
			slog.Int("status", status),
			slog.Duration("dur", time.Since(start)),
		)

		return err
	}
}

// Recover перехватывает паники в обработчиках, логирует их со стеком и
// отвечает клиенту нейтральной 500 без раскрытия внутренних деталей.
func Recover() fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.From(c.UserContext()).Error("panic_recovered",
					slog.String("path", c.Path()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)

				err = c.Status(fiber.StatusInternalServerError).
					JSON(errorResponse{Error: "internal server error"})
			}
		}()

		return c.Next()
	}
}

// WithTimeout ограничивает время обработки запроса, если вызывающая сторона
// не передала собственный дедлайн.
func WithTimeout(d time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := c.UserContext().Deadline(); ok {
			return c.Next()
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), d)
		defer cancel()

		c.SetUserContext(ctx)
		return c.Next()
	}
}

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_http_requests_total",
		Help: "Количество HTTP-запросов по маршруту и статусу.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auth_http_request_duration_seconds",
		Help:    "Длительность обработки HTTP-запросов.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Metrics собирает prometheus-метрики по каждому запросу.
// Метки используют шаблон маршрута, а не сырой путь, чтобы не раздувать
// кардинальность.
func Metrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		route := c.Route().Path
		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}

		httpRequestsTotal.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())

		return err
	}
}

// BearerAuth проверяет заголовок Authorization: Bearer <access-токен> через
// сервисный валидатор и кладёт ID пользователя и claims в Locals.
// Любая причина отказа — единый 401 без деталей.
func (s *Server) BearerAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)

		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" {
			return c.Status(fiber.StatusUnauthorized).
				JSON(errorResponse{Error: service.ErrInvalidToken.Error()})
		}

		claims, err := s.service.ValidateToken(c.UserContext(), tokenStr)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).
				JSON(errorResponse{Error: service.ErrInvalidToken.Error()})
		}

		uid, err := uuid.Parse(claims.UserID)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).
				JSON(errorResponse{Error: service.ErrInvalidToken.Error()})
		}

		c.Locals(localsUserID, uid)
		c.Locals(localsClaims, claims)

		return c.Next()
	}
}
