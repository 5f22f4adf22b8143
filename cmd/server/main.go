package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreastra/coreastra/internal/audit"
	"github.com/coreastra/coreastra/internal/config"
	"github.com/coreastra/coreastra/internal/database"
	"github.com/coreastra/coreastra/internal/handlers"
	"github.com/coreastra/coreastra/internal/routes"
	"github.com/coreastra/coreastra/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	// JSON structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting CoreAstra", "version", handlers.Version)

	// ─── Config ──────────────────────────────────────────────────────────
	cfg := config.Load()

	// ─── Database ────────────────────────────────────────────────────────
	// The database backs the audit trail and command history. When it is
	// unreachable the server still runs; audit events go to the log.
	var recorder audit.Recorder = audit.LogRecorder{}
	if err := database.Connect(cfg); err != nil {
		slog.Warn("Database unavailable, auditing to log only", "error", err)
	} else if err := database.Migrate(); err != nil {
		slog.Error("Database migration failed", "error", err)
		os.Exit(1)
	} else {
		recorder = audit.NewDBRecorder(database.DB)
	}
	db := database.DB

	// ─── Backups ────────────────────────────────────────────────────────
	backupStore, err := services.NewBackupStore(cfg.BackupDir, cfg.MaxBackupSize, recorder)
	if err != nil {
		slog.Error("Backup store init failed", "error", err)
		os.Exit(1)
	}

	// ─── Command pipeline ───────────────────────────────────────────────
	classifier := services.NewRiskClassifier(cfg.DangerousPatterns, cfg.RequireConfirm, cfg.AutoBackup)
	executor := services.NewExecutor(classifier, backupStore, recorder)

	// ─── Session registry ───────────────────────────────────────────────
	registry, err := services.NewRegistry(services.RegistryConfig{
		Capacity:        cfg.SessionCapacity,
		DefaultDuration: cfg.SessionDefaultDuration,
		MaxDuration:     cfg.SessionMaxDuration,
		IdleTimeout:     cfg.SessionIdleTimeout,
	}, recorder)
	if err != nil {
		slog.Error("Session registry init failed", "error", err)
		os.Exit(1)
	}

	sweeper := services.NewSweeper(registry, cfg.SweepInterval)
	sweeper.Start()

	// ─── Handlers ───────────────────────────────────────────────────────
	sessionHandler := handlers.NewSessionHandler(registry, cfg, recorder)
	commandHandler := handlers.NewCommandHandler(executor, db)
	backupHandler := handlers.NewBackupHandler(backupStore)
	auditHandler := handlers.NewAuditHandler(db)
	systemHandler := handlers.NewSystemHandler(db, cfg, registry)

	// ─── Fiber App ──────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      "coreastra v" + handlers.Version,
		ServerHeader: "coreastra",
		BodyLimit:    100 * 1024 * 1024, // uploads stage through the server
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal server error"
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				message = e.Message
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": message,
			})
		},
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, PATCH, OPTIONS",
	}))

	app.Use(recover.New(recover.Config{
		EnableStackTrace: false,
	}))

	// Request logger
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if c.Path() == "/api/health" {
			return err
		}
		slog.Info("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
		)
		return err
	})

	// ─── Routes ─────────────────────────────────────────────────────────
	routes.Setup(app, sessionHandler, commandHandler, backupHandler, auditHandler, systemHandler)

	// ─── Graceful Shutdown ──────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down CoreAstra...")

		sweeper.Stop()
		registry.Shutdown()

		if err := app.Shutdown(); err != nil {
			slog.Error("Fiber shutdown error", "error", err)
		}

		if db != nil {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
	}()

	// ─── Start ──────────────────────────────────────────────────────────
	listenAddr := ":" + cfg.Port
	slog.Info("CoreAstra listening", "addr", listenAddr)

	if err := app.Listen(listenAddr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}
