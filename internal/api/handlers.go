package api

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/beegy-labs/notification-service/internal/domain/device"
	"github.com/beegy-labs/notification-service/internal/domain/notification"
	"github.com/beegy-labs/notification-service/internal/domain/preference"
)

// Handlers binds the HTTP surface to the services.
type Handlers struct {
	notifications notification.Service
	preferences   preference.Service
	devices       device.Service
	validate      *validator.Validate
	logger        *zap.Logger
}

func NewHandlers(
	notifications notification.Service,
	preferences preference.Service,
	devices device.Service,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		notifications: notifications,
		preferences:   preferences,
		devices:       devices,
		validate:      validator.New(),
		logger:        logger,
	}
}

// RegisterRoutes mounts the v1 API.
func (h *Handlers) RegisterRoutes(r fiber.Router) {
	r.Post("/notifications/send", h.Send)
	r.Post("/notifications/send-bulk", h.SendBulk)
	r.Get("/notifications", h.List)
	r.Post("/notifications/mark-read", h.MarkRead)
	r.Get("/notifications/:id/status", h.Status)

	r.Get("/preferences", h.GetPreferences)
	r.Put("/preferences", h.UpdatePreferences)
	r.Get("/preferences/quiet-hours", h.GetQuietHours)
	r.Put("/preferences/quiet-hours", h.UpdateQuietHours)

	r.Post("/devices/register", h.RegisterDevice)
	r.Post("/devices/unregister", h.UnregisterDevice)
	r.Get("/devices", h.ListDevices)
}

func (h *Handlers) Send(c *fiber.Ctx) error {
	req := &notification.SendRequest{}
	if err := c.BodyParser(req); err != nil {
		return badRequest(c, "malformed request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}
	resp, err := h.notifications.Send(c.Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(resp)
}

func (h *Handlers) SendBulk(c *fiber.Ctx) error {
	req := &notification.BulkRequest{}
	if err := c.BodyParser(req); err != nil {
		return badRequest(c, "malformed request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}
	resp, err := h.notifications.SendBulk(c.Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(resp)
}

func (h *Handlers) List(c *fiber.Ctx) error {
	req := &notification.ListRequest{
		TenantID:   c.Query("tenant_id"),
		AccountID:  c.Query("account_id"),
		Channel:    notification.Channel(c.Query("channel")),
		UnreadOnly: c.QueryBool("unread_only"),
		Page:       c.QueryInt("page", 1),
		PageSize:   c.QueryInt("page_size", 20),
	}
	resp, err := h.notifications.List(c.Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(resp)
}

func (h *Handlers) MarkRead(c *fiber.Ctx) error {
	req := &notification.MarkReadRequest{}
	if err := c.BodyParser(req); err != nil {
		return badRequest(c, "malformed request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}
	resp, err := h.notifications.MarkRead(c.Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(resp)
}

func (h *Handlers) Status(c *fiber.Ctx) error {
	resp, err := h.notifications.Status(c.Context(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(resp)
}

func (h *Handlers) GetPreferences(c *fiber.Ctx) error {
	prefs, err := h.preferences.GetPreferences(c.Context(), c.Query("tenant_id"), c.Query("account_id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(prefs)
}

type updatePreferencesRequest struct {
	TenantID  string                         `json:"tenant_id" validate:"required"`
	AccountID string                         `json:"account_id" validate:"required"`
	Channels  []preference.ChannelPreference `json:"channel_preferences"`
	Types     []preference.TypePreference    `json:"type_preferences"`
}

func (h *Handlers) UpdatePreferences(c *fiber.Ctx) error {
	req := &updatePreferencesRequest{}
	if err := c.BodyParser(req); err != nil {
		return badRequest(c, "malformed request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}
	err := h.preferences.UpdatePreferences(c.Context(), req.TenantID, req.AccountID, &preference.Preferences{
		Channels: req.Channels,
		Types:    req.Types,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "message": "preferences updated"})
}

func (h *Handlers) GetQuietHours(c *fiber.Ctx) error {
	q, err := h.preferences.GetQuietHours(c.Context(), c.Query("tenant_id"), c.Query("account_id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(q)
}

type updateQuietHoursRequest struct {
	TenantID  string `json:"tenant_id" validate:"required"`
	AccountID string `json:"account_id" validate:"required"`
	Enabled   bool   `json:"enabled"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
	Timezone  string `json:"timezone" validate:"required"`
}

func (h *Handlers) UpdateQuietHours(c *fiber.Ctx) error {
	req := &updateQuietHoursRequest{}
	if err := c.BodyParser(req); err != nil {
		return badRequest(c, "malformed request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}
	err := h.preferences.UpdateQuietHours(c.Context(), req.TenantID, req.AccountID, preference.QuietHours{
		Enabled:   req.Enabled,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Timezone:  req.Timezone,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "message": "quiet hours updated"})
}

func (h *Handlers) RegisterDevice(c *fiber.Ctx) error {
	req := &device.RegisterRequest{}
	if err := c.BodyParser(req); err != nil {
		return badRequest(c, "malformed request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}
	id, err := h.devices.Register(c.Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"success":         true,
		"device_token_id": id,
		"message":         "device token registered",
	})
}

type unregisterDeviceRequest struct {
	TenantID  string `json:"tenant_id" validate:"required"`
	AccountID string `json:"account_id" validate:"required"`
	Token     string `json:"token" validate:"required"`
}

func (h *Handlers) UnregisterDevice(c *fiber.Ctx) error {
	req := &unregisterDeviceRequest{}
	if err := c.BodyParser(req); err != nil {
		return badRequest(c, "malformed request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}
	removed, err := h.devices.Unregister(c.Context(), req.TenantID, req.AccountID, req.Token)
	if err != nil {
		return h.fail(c, err)
	}
	msg := "device token removed"
	if !removed {
		msg = "device token not found"
	}
	return c.JSON(fiber.Map{"success": removed, "message": msg})
}

func (h *Handlers) ListDevices(c *fiber.Ctx) error {
	tokens, err := h.devices.Tokens(c.Context(), c.Query("tenant_id"), c.Query("account_id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"tokens": tokens})
}

// fail maps service errors onto status codes. Validation problems are
// the caller's fault, unknown ids are 404, the rest is on us.
func (h *Handlers) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, notification.ErrValidation):
		return badRequest(c, err.Error())
	case errors.Is(err, notification.ErrNotFound),
		errors.Is(err, device.ErrNotFound),
		errors.Is(err, preference.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	default:
		h.logger.Error("request failed",
			zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "internal server error",
		})
	}
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"error":   msg,
	})
}
