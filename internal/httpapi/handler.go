// Package httpapi exposes the resolver and the authoring service over Fiber.
package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/MagnunAVF/link-engine/internal/admin"
	"github.com/MagnunAVF/link-engine/internal/config"
	"github.com/MagnunAVF/link-engine/internal/link"
	"github.com/MagnunAVF/link-engine/internal/logger"
	"github.com/MagnunAVF/link-engine/internal/metrics"
	"github.com/MagnunAVF/link-engine/internal/resolver"
	"github.com/MagnunAVF/link-engine/internal/store"
)

type Options struct {
	Resolver *resolver.Resolver
	Admin    *admin.Service
	Auth     *Authenticator
	Frontend config.FrontendConfig
	// Health reports whether the backing services answer.
	Health func(ctx context.Context) error
	Now    func() time.Time
}

type Handler struct {
	resolver  *resolver.Resolver
	admin     *admin.Service
	auth      *Authenticator
	frontend  config.FrontendConfig
	health    func(ctx context.Context) error
	now       func() time.Time
	validator *validator.Validate
}

func New(opts Options) *Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Health == nil {
		opts.Health = func(context.Context) error { return nil }
	}
	return &Handler{
		resolver:  opts.Resolver,
		admin:     opts.Admin,
		auth:      opts.Auth,
		frontend:  opts.Frontend,
		health:    opts.Health,
		now:       opts.Now,
		validator: validator.New(),
	}
}

type AppConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  string
	ProxyHeader  string
}

// NewApp builds the Fiber app with the shared middleware stack. Immutable is
// required: click jobs keep request values after the handler returns.
// With a ProxyHeader set, c.IP() takes the first valid address it lists.
func NewApp(cfg AppConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		Immutable:             true,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		ProxyHeader:           cfg.ProxyHeader,
		EnableIPValidation:    cfg.ProxyHeader != "",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	app.Use(recover.New())
	app.Use(logger.FiberMiddleware())
	app.Use(metrics.Middleware())
	if cfg.CORSOrigins != "" {
		app.Use(cors.New(cors.Config{AllowOrigins: cfg.CORSOrigins}))
	}
	return app
}

// Register mounts every route. The short-code catch-all goes last.
func (h *Handler) Register(app *fiber.App) {
	app.Get("/health", h.handleHealth)
	app.Get("/metrics", metrics.Handler())

	app.Post("/verify-password", h.handleVerifyPassword)
	public := app.Group("/api/public")
	public.Post("/verify-password", h.handleVerifyPassword)
	public.Get("/links", h.handlePublicLinks)

	links := app.Group("/api/links", h.auth.Middleware())
	links.Post("/", h.handleCreateLink)
	links.Get("/", h.handleListLinks)
	links.Post("/bulk", h.handleBulk)
	links.Get("/:id", h.handleGetLink)
	links.Put("/:id", h.handleUpdateLink)
	links.Patch("/:id/status", h.handleSetStatus)
	links.Delete("/:id", h.handleDeleteLink)

	batches := app.Group("/api/batches", h.auth.Middleware())
	batches.Post("/", h.handleCreateBatch)

	dashboard := app.Group("/api/dashboard", h.auth.Middleware())
	dashboard.Get("/stats", h.handleStats)
	dashboard.Get("/top-links", h.handleTopLinks)
	dashboard.Get("/recent-links", h.handleRecentLinks)

	analytics := app.Group("/api/analytics", h.auth.Middleware())
	analytics.Get("/clicks-over-time", h.handleClicksOverTime)
	analytics.Get("/geo", h.handleTopCountries)
	analytics.Get("/referrers", h.handleTopReferrers)

	app.Get("/:shortCode", h.handleRedirect)
}

func (h *Handler) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()
	if err := h.health(ctx); err != nil {
		logger.FromContext(ctx).Warn("health check failed", "err", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}
	logger.FromContext(c.UserContext()).Error("unhandled error", "err", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Server error."})
}

// writeError maps domain errors onto status codes.
func writeError(c *fiber.Ctx, err error) error {
	status, msg := fiber.StatusInternalServerError, "Server error."
	switch {
	case errors.Is(err, resolver.ErrNotFound), errors.Is(err, store.ErrNotFound):
		status, msg = fiber.StatusNotFound, "Link not found."
	case errors.Is(err, resolver.ErrInactive):
		status, msg = fiber.StatusGone, "This link is currently inactive."
	case errors.Is(err, resolver.ErrUnauthorized):
		status, msg = fiber.StatusUnauthorized, "Incorrect password."
	case errors.Is(err, link.ErrCollision):
		status, msg = fiber.StatusConflict, "Another link with this short code is already active."
	case errors.Is(err, store.ErrConflict):
		status, msg = fiber.StatusConflict, "Conflicting data."
	case isInputError(err):
		status, msg = fiber.StatusBadRequest, err.Error()
	default:
		logger.FromContext(c.UserContext()).Error("request failed", "err", err)
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func isInputError(err error) bool {
	for _, target := range []error{
		link.ErrInvalidShortCode, link.ErrReservedShortCode, link.ErrInvalidDestination,
		link.ErrInvalidWindow, link.ErrInvalidSplash,
		admin.ErrInvalidVisibility, admin.ErrUnknownBatch, admin.ErrInvalidAction, admin.ErrEmptySelection,
		admin.ErrPasswordTooLong,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// bind parses and validates a JSON body, answering 400 itself on failure.
func (h *Handler) bind(c *fiber.Ctx, dst any) (bool, error) {
	if err := c.BodyParser(dst); err != nil {
		return false, badRequest(c, "Invalid request body.")
	}
	if err := h.validator.Struct(dst); err != nil {
		var details []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details = append(details, fe.Field()+" failed "+fe.Tag())
			}
		}
		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Validation failed.", "details": details})
	}
	return true, nil
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil && id > 0
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
