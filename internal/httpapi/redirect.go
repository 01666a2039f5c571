package httpapi

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/MagnunAVF/link-engine/internal"
	"github.com/MagnunAVF/link-engine/internal/logger"
	"github.com/MagnunAVF/link-engine/internal/resolver"
)

func clientOf(c *fiber.Ctx) resolver.ClientContext {
	return resolver.ClientContext{
		IPAddress: c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
		Referrer:  c.Get(fiber.HeaderReferer),
	}
}

func (h *Handler) handleRedirect(c *fiber.Ctx) error {
	ctx := c.UserContext()
	out, err := h.resolver.Resolve(ctx, c.Params("shortCode"), h.now(), clientOf(c))
	if err != nil {
		logger.FromContext(ctx).Error("resolve short code", "short_code", c.Params("shortCode"), "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Server error."})
	}

	switch out.Kind {
	case resolver.NotFound:
		return c.Redirect(h.frontendURL(h.frontend.NotFoundPath, nil), fiber.StatusFound)
	case resolver.Inactive:
		return c.Redirect(h.frontendURL(h.frontend.InactivePath, nil), fiber.StatusFound)
	case resolver.PasswordGate:
		return c.Redirect(h.frontendURL(h.frontend.UnlockPath, url.Values{"link": {out.ShortCode}}), fiber.StatusFound)
	case resolver.SplashRedirect:
		return c.Redirect(h.frontendURL(h.frontend.SplashPath, splashQuery(out)), fiber.StatusFound)
	default:
		return c.Redirect(out.Destination, fiber.StatusFound)
	}
}

func splashQuery(out resolver.Outcome) url.Values {
	q := url.Values{
		"to":        {out.Destination},
		"design":    {string(out.Design)},
		"duration":  {strconv.Itoa(out.DelaySeconds)},
		"shortCode": {out.ShortCode},
	}
	if out.Design == internal.SplashMinimal {
		return q
	}
	b := out.Branding
	for key, value := range map[string]string{
		"companyName":  b.CompanyName,
		"logoUrl":      b.LogoURL,
		"heroImageUrl": b.HeroImageURL,
		"callToAction": b.CallToAction,
		"iconUrl":      b.IconURL,
	} {
		if value != "" {
			q.Set(key, value)
		}
	}
	return q
}

func (h *Handler) frontendURL(path string, q url.Values) string {
	u := strings.TrimRight(h.frontend.BaseURL, "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

type verifyPasswordRequest struct {
	ShortCode string `json:"shortCode" validate:"required,max=64"`
	Password  string `json:"password" validate:"required,max=72"`
}

func (h *Handler) handleVerifyPassword(c *fiber.Ctx) error {
	var req verifyPasswordRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	dest, err := h.resolver.VerifyPassword(c.UserContext(), req.ShortCode, req.Password, h.now(), clientOf(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"redirectTo": dest})
}
