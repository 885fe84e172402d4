package handlers

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/proxpanel/license-server/internal/licensing"
	"github.com/proxpanel/license-server/internal/models"
	"gorm.io/gorm"
)

// LicenseHandler handles license issuance, validation and admin actions
type LicenseHandler struct {
	db       *gorm.DB
	engine   *licensing.Engine
	validate *validator.Validate
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(db *gorm.DB, engine *licensing.Engine) *LicenseHandler {
	return &LicenseHandler{
		db:       db,
		engine:   engine,
		validate: validator.New(),
	}
}

// GenerateLicenseRequest is the payload for issuing a new license
type GenerateLicenseRequest struct {
	PluginID       string `json:"plugin_id" validate:"required"`
	CustomerEmail  string `json:"customer_email" validate:"required,email"`
	CustomerName   string `json:"customer_name"`
	LicenseType    string `json:"license_type" validate:"required,oneof=1-year 3-year 5-year perpetual"`
	MaxActivations int    `json:"max_activations" validate:"omitempty,min=1"`
}

// Generate issues a new license
func (h *LicenseHandler) Generate(c *fiber.Ctx) error {
	var req GenerateLicenseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}
	if err := h.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	}

	lic, err := h.engine.Issue(licensing.IssueRequest{
		PluginID:       req.PluginID,
		CustomerEmail:  req.CustomerEmail,
		CustomerName:   req.CustomerName,
		LicenseType:    models.LicenseType(req.LicenseType),
		MaxActivations: req.MaxActivations,
	})
	if err != nil {
		if errors.Is(err, licensing.ErrMissingField) || errors.Is(err, licensing.ErrInvalidLicenseType) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to generate license",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    lic,
	})
}

// ValidateLicenseRequest is the payload plugins send on every license check
type ValidateLicenseRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	PluginID   string `json:"plugin_id" validate:"required"`
	MachineID  string `json:"machine_id"`
}

// Validate runs a license check. Negative verdicts (expired, revoked, cap
// reached, not found) are 200 responses with valid=false; only storage
// failures map to 500.
func (h *LicenseHandler) Validate(c *fiber.Ctx) error {
	var req ValidateLicenseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}
	if err := h.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	}

	verdict, err := h.engine.Validate(licensing.ValidateRequest{
		LicenseKey: req.LicenseKey,
		PluginID:   req.PluginID,
		MachineID:  req.MachineID,
		IPAddress:  c.IP(),
		UserAgent:  c.Get("User-Agent"),
	})
	if err != nil {
		if errors.Is(err, licensing.ErrMissingField) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Validation failed",
		})
	}

	if !verdict.Valid {
		return c.JSON(fiber.Map{
			"success": true,
			"valid":   false,
			"reason":  verdict.Reason,
		})
	}

	resp := fiber.Map{
		"success":        true,
		"valid":          true,
		"days_remaining": verdict.DaysRemaining,
		"warnings":       verdict.Warnings,
	}
	if verdict.License != nil {
		resp["license_id"] = verdict.License.LicenseID
		resp["license_type"] = verdict.License.LicenseType
		resp["expires_at"] = verdict.License.ExpiresAt
		resp["customer_name"] = verdict.License.CustomerName
	}
	return c.JSON(resp)
}

// RevokeLicenseRequest is the payload for revoking a license
type RevokeLicenseRequest struct {
	Reason string `json:"reason" validate:"required"`
	Actor  string `json:"actor"`
}

// Revoke terminates a license and all its active activations
func (h *LicenseHandler) Revoke(c *fiber.Ctx) error {
	id := c.Params("id")

	var req RevokeLicenseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}
	if err := h.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	}

	if err := h.engine.Revoke(id, req.Reason, req.Actor); err != nil {
		if errors.Is(err, licensing.ErrLicenseNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"message": "License not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to revoke license",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "License revoked",
	})
}

// SuspendLicenseRequest is the payload for suspending a license
type SuspendLicenseRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// Suspend moves an active license to suspended
func (h *LicenseHandler) Suspend(c *fiber.Ctx) error {
	id := c.Params("id")

	var req SuspendLicenseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}
	if err := h.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	}

	if err := h.engine.Suspend(id, req.Reason); err != nil {
		if errors.Is(err, licensing.ErrLicenseNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"message": "License not found",
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "License suspended",
	})
}

// List returns licenses with pagination and optional status/plugin filters
func (h *LicenseHandler) List(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 25)
	status := c.Query("status", "")
	pluginID := c.Query("plugin_id", "")

	if page < 1 {
		page = 1
	}
	if limit > 100 {
		limit = 100
	}
	offset := (page - 1) * limit

	query := h.db.Model(&models.License{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if pluginID != "" {
		query = query.Where("plugin_id = ?", pluginID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to list licenses",
		})
	}

	var licenses []models.License
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&licenses).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to list licenses",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    licenses,
		"meta": fiber.Map{
			"page":       page,
			"limit":      limit,
			"total":      total,
			"totalPages": (total + int64(limit) - 1) / int64(limit),
		},
	})
}

// Get returns a single license with its activations
func (h *LicenseHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")

	var lic models.License
	if err := h.db.Preload("Activations").Where("license_id = ?", id).First(&lic).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "License not found",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    lic,
	})
}
