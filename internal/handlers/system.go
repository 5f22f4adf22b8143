package handlers

import (
	"time"

	"github.com/coreastra/coreastra/internal/config"
	"github.com/coreastra/coreastra/internal/models"
	"github.com/coreastra/coreastra/internal/services"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

var startTime = time.Now()
var Version = "1.0.0"

type SystemHandler struct {
	db       *gorm.DB
	cfg      *config.Config
	registry *services.Registry
}

func NewSystemHandler(db *gorm.DB, cfg *config.Config, registry *services.Registry) *SystemHandler {
	return &SystemHandler{db: db, cfg: cfg, registry: registry}
}

func (h *SystemHandler) Health(c *fiber.Ctx) error {
	dbStatus := "disabled"
	statusCode := fiber.StatusOK

	if h.db != nil {
		dbStatus = "ok"
		sqlDB, err := h.db.DB()
		if err != nil {
			dbStatus = "error: " + err.Error()
			statusCode = fiber.StatusServiceUnavailable
		} else if err := sqlDB.Ping(); err != nil {
			dbStatus = "unreachable: " + err.Error()
			statusCode = fiber.StatusServiceUnavailable
		}
	}

	overall := "ok"
	if statusCode != fiber.StatusOK {
		overall = "degraded"
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":  overall,
		"service": "coreastra",
		"version": Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"uptime":  time.Since(startTime).String(),
		"db":      dbStatus,
	})
}

func (h *SystemHandler) Info(c *fiber.Ctx) error {
	var commandCount, auditCount int64
	if h.db != nil {
		h.db.Model(&models.CommandRecord{}).Count(&commandCount)
		h.db.Model(&models.AuditLog{}).Count(&auditCount)
	}

	return c.JSON(fiber.Map{
		"version":           Version,
		"uptime":            time.Since(startTime).String(),
		"active_sessions":   len(h.registry.List()),
		"session_capacity":  h.cfg.SessionCapacity,
		"commands_executed": commandCount,
		"audit_entries":     auditCount,
	})
}
