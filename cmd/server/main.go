package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/proxpanel/license-server/internal/config"
	"github.com/proxpanel/license-server/internal/database"
	"github.com/proxpanel/license-server/internal/handlers"
	"github.com/proxpanel/license-server/internal/licensing"
	"github.com/proxpanel/license-server/internal/middleware"
	"github.com/proxpanel/license-server/internal/models"
	"github.com/proxpanel/license-server/internal/services"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to database
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	// Run migrations
	if err := models.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Redis is optional; without it the catalog cache is disabled
	var cache *database.Cache
	if redisClient, err := database.ConnectRedis(cfg); err != nil {
		log.Printf("Warning: Redis unavailable, catalog cache disabled: %v", err)
	} else {
		cache = database.NewCache(redisClient)
		defer redisClient.Close()
	}

	// Validation engine
	engine := licensing.NewEngine(db)

	// Start the daily expiration scan
	scanService := services.NewExpirationScanService(db, services.LogNotifier{}, cfg.ScanSendTime)
	scanService.Start()

	// Start plugin catalog sync
	pluginSyncService := services.NewPluginSyncService(db, cache, cfg.CatalogURL,
		time.Duration(cfg.CatalogSyncInterval)*time.Minute)
	pluginSyncService.Start()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "ProxPanel License Server v1.0",
		ServerHeader: "ProxPanel",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(compress.New())
	app.Use(middleware.Logger())
	app.Use(middleware.CORS())

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "proxpanel-license-server",
		})
	})

	// Initialize handlers
	licenseHandler := handlers.NewLicenseHandler(db, engine)
	pluginHandler := handlers.NewPluginHandler(db, cache)

	// API routes
	api := app.Group("/api")

	// License routes
	licenses := api.Group("/licenses")
	licenses.Post("/", licenseHandler.Generate)
	licenses.Post("/validate", licenseHandler.Validate)
	licenses.Get("/", licenseHandler.List)
	licenses.Get("/:id", licenseHandler.Get)
	licenses.Post("/:id/revoke", licenseHandler.Revoke)
	licenses.Post("/:id/suspend", licenseHandler.Suspend)

	// Plugin catalog routes
	api.Get("/plugins", pluginHandler.List)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		scanService.Stop()
		pluginSyncService.Stop()
		app.Shutdown()
	}()

	// Start server
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	log.Printf("Starting ProxPanel license server on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
