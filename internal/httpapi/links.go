package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/MagnunAVF/link-engine/internal"
	"github.com/MagnunAVF/link-engine/internal/admin"
)

type linkRequest struct {
	Name               string            `json:"name" validate:"max=200"`
	ShortCode          string            `json:"shortCode" validate:"max=64"`
	RedirectTo         string            `json:"redirectTo" validate:"required,url"`
	BatchID            string            `json:"batchId" validate:"omitempty,numeric"`
	Visibility         string            `json:"visibility" validate:"omitempty,oneof=PUBLIC PRIVATE SHARE"`
	Password           *string           `json:"password" validate:"omitempty,max=72"`
	IsPaused           bool              `json:"isPaused"`
	ActiveFrom         *time.Time        `json:"activeFrom"`
	ActiveUntil        *time.Time        `json:"activeUntil"`
	UseSplashPage      bool              `json:"useSplashPage"`
	SplashDesign       string            `json:"splashDesign" validate:"omitempty,oneof=minimal branded company"`
	SplashDelaySeconds int               `json:"splashDelaySeconds" validate:"min=0,max=60"`
	Branding           internal.Branding `json:"branding"`
}

func (r linkRequest) input() (admin.LinkInput, bool) {
	in := admin.LinkInput{
		Name:               r.Name,
		ShortCode:          r.ShortCode,
		RedirectTo:         r.RedirectTo,
		Visibility:         internal.Visibility(r.Visibility),
		Password:           r.Password,
		IsPaused:           r.IsPaused,
		ActiveFrom:         r.ActiveFrom,
		ActiveUntil:        r.ActiveUntil,
		UseSplashPage:      r.UseSplashPage,
		SplashDesign:       internal.SplashDesign(r.SplashDesign),
		SplashDelaySeconds: r.SplashDelaySeconds,
		Branding:           r.Branding,
	}
	if r.BatchID != "" {
		id, ok := parseID(r.BatchID)
		if !ok {
			return in, false
		}
		in.BatchID = &id
	}
	return in, true
}

func (h *Handler) readLink(c *fiber.Ctx) (admin.LinkInput, bool, error) {
	var req linkRequest
	if ok, err := h.bind(c, &req); !ok {
		return admin.LinkInput{}, false, err
	}
	in, ok := req.input()
	if !ok {
		return in, false, badRequest(c, "Invalid batch id.")
	}
	return in, true, nil
}

func (h *Handler) handleCreateLink(c *fiber.Ctx) error {
	in, ok, err := h.readLink(c)
	if !ok {
		return err
	}
	l, err := h.admin.Create(c.UserContext(), ownerID(c), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(l)
}

func (h *Handler) handleListLinks(c *fiber.Ctx) error {
	q := admin.ListQuery{
		Page:       c.QueryInt("page", 1),
		Limit:      c.QueryInt("limit", 0),
		Search:     c.Query("search"),
		Visibility: internal.Visibility(c.Query("visibility")),
	}
	if raw := c.Query("batchId"); raw != "" {
		id, ok := parseID(raw)
		if !ok {
			return badRequest(c, "Invalid batch id.")
		}
		q.BatchID = &id
	}

	page, err := h.admin.List(c.UserContext(), ownerID(c), q)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(page)
}

func (h *Handler) handleGetLink(c *fiber.Ctx) error {
	id, ok := parseID(c.Params("id"))
	if !ok {
		return badRequest(c, "Invalid link id.")
	}
	l, err := h.admin.Get(c.UserContext(), ownerID(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(l)
}

func (h *Handler) handleUpdateLink(c *fiber.Ctx) error {
	id, ok := parseID(c.Params("id"))
	if !ok {
		return badRequest(c, "Invalid link id.")
	}
	in, ok, err := h.readLink(c)
	if !ok {
		return err
	}
	l, err := h.admin.Update(c.UserContext(), ownerID(c), id, in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(l)
}

type statusRequest struct {
	IsPaused *bool `json:"isPaused" validate:"required"`
}

func (h *Handler) handleSetStatus(c *fiber.Ctx) error {
	id, ok := parseID(c.Params("id"))
	if !ok {
		return badRequest(c, "Invalid link id.")
	}
	var req statusRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}
	if err := h.admin.SetPaused(c.UserContext(), ownerID(c), id, *req.IsPaused); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"id": formatID(id), "isPaused": *req.IsPaused})
}

func (h *Handler) handleDeleteLink(c *fiber.Ctx) error {
	id, ok := parseID(c.Params("id"))
	if !ok {
		return badRequest(c, "Invalid link id.")
	}
	if err := h.admin.Delete(c.UserContext(), ownerID(c), id); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type bulkRequest struct {
	Action  string   `json:"action" validate:"required,oneof=delete pause resume changeBatch"`
	LinkIDs []string `json:"linkIds" validate:"required,min=1,dive,numeric"`
	Payload struct {
		BatchID string `json:"batchId" validate:"omitempty,numeric"`
	} `json:"payload"`
}

func (h *Handler) handleBulk(c *fiber.Ctx) error {
	var req bulkRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	bulk := admin.BulkRequest{Action: admin.BulkAction(req.Action)}
	for _, raw := range req.LinkIDs {
		id, ok := parseID(raw)
		if !ok {
			return badRequest(c, "Invalid link id.")
		}
		bulk.LinkIDs = append(bulk.LinkIDs, id)
	}
	if req.Payload.BatchID != "" {
		id, ok := parseID(req.Payload.BatchID)
		if !ok {
			return badRequest(c, "Invalid batch id.")
		}
		bulk.BatchID = &id
	}

	res, err := h.admin.Bulk(c.UserContext(), ownerID(c), bulk)
	if err != nil {
		return writeError(c, err)
	}
	skipped := make([]string, 0, len(res.Skipped))
	for _, id := range res.Skipped {
		skipped = append(skipped, formatID(id))
	}
	return c.JSON(fiber.Map{
		"message": "Bulk " + req.Action + " completed.",
		"count":   res.Count,
		"skipped": skipped,
	})
}

type batchRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

func (h *Handler) handleCreateBatch(c *fiber.Ctx) error {
	var req batchRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}
	b, err := h.admin.CreateBatch(c.UserContext(), ownerID(c), req.Name)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(b)
}
