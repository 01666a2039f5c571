package httpapi

import "github.com/gofiber/fiber/v2"

func (h *Handler) handlePublicLinks(c *fiber.Ctx) error {
	links, err := h.admin.PublicLinks(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(links)
}

func (h *Handler) handleStats(c *fiber.Ctx) error {
	s, err := h.admin.Stats(c.UserContext(), ownerID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"batches": fiber.Map{"total": s.Batches},
		"links": fiber.Map{
			"total":  s.Links,
			"active": s.ActiveLinks,
			"paused": s.PausedLinks,
			"public": s.PublicLinks,
		},
		"clicks": fiber.Map{"total": s.Clicks},
	})
}

func (h *Handler) handleTopCountries(c *fiber.Ctx) error {
	buckets, err := h.admin.TopCountries(c.UserContext(), ownerID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(buckets)
}

func (h *Handler) handleTopReferrers(c *fiber.Ctx) error {
	buckets, err := h.admin.TopReferrers(c.UserContext(), ownerID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(buckets)
}

func (h *Handler) handleClicksOverTime(c *fiber.Ctx) error {
	days, err := h.admin.ClicksOverTime(c.UserContext(), ownerID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(days)
}

func (h *Handler) handleTopLinks(c *fiber.Ctx) error {
	links, err := h.admin.TopLinks(c.UserContext(), ownerID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(links)
}

func (h *Handler) handleRecentLinks(c *fiber.Ctx) error {
	links, err := h.admin.RecentLinks(c.UserContext(), ownerID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(links)
}
