package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/proxpanel/license-server/internal/database"
	"github.com/proxpanel/license-server/internal/models"
	"gorm.io/gorm"
)

// PluginHandler serves the synced plugin catalog for dashboard search
type PluginHandler struct {
	db    *gorm.DB
	cache *database.Cache
}

// NewPluginHandler creates a new plugin handler
func NewPluginHandler(db *gorm.DB, cache *database.Cache) *PluginHandler {
	return &PluginHandler{db: db, cache: cache}
}

// List returns catalog plugins, optionally filtered by a search term or
// category. The unfiltered list is served cache-first.
func (h *PluginHandler) List(c *fiber.Ctx) error {
	q := c.Query("q", "")
	category := c.Query("category", "")

	if q == "" && category == "" {
		var cached []models.Plugin
		if err := h.cache.Get(database.CacheKeyPluginList, &cached); err == nil {
			return c.JSON(fiber.Map{
				"success": true,
				"data":    cached,
			})
		}
	}

	query := h.db.Model(&models.Plugin{})
	if q != "" {
		like := "%" + q + "%"
		query = query.Where("plugin_id LIKE ? OR name LIKE ?", like, like)
	}
	if category != "" {
		query = query.Where("category = ?", category)
	}

	var plugins []models.Plugin
	if err := query.Order("plugin_id").Find(&plugins).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to list plugins",
		})
	}

	if q == "" && category == "" {
		h.cache.Set(database.CacheKeyPluginList, plugins, database.CacheTTLPlugins)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    plugins,
	})
}
