package handlers

import (
	"strconv"

	"github.com/coreastra/coreastra/internal/models"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type AuditHandler struct {
	db *gorm.DB
}

func NewAuditHandler(db *gorm.DB) *AuditHandler {
	return &AuditHandler{db: db}
}

// ListAuditLogs returns paginated audit logs, filterable by action and
// risk level.
func (h *AuditHandler) ListAuditLogs(c *fiber.Ctx) error {
	if h.db == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   true,
			"message": "Audit log requires a database",
		})
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	perPage, _ := strconv.Atoi(c.Query("per_page", "50"))
	action := c.Query("action", "")
	riskLevel := c.Query("risk_level", "")

	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	query := h.db.Model(&models.AuditLog{})
	if action != "" {
		query = query.Where("action = ?", action)
	}
	if riskLevel != "" {
		query = query.Where("risk_level = ?", riskLevel)
	}

	var total int64
	query.Count(&total)

	var logs []models.AuditLog
	if err := query.Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&logs).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list audit logs",
		})
	}

	return c.JSON(fiber.Map{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}
