package handlers

import (
	"errors"

	"github.com/coreastra/coreastra/internal/services"
	"github.com/gofiber/fiber/v2"
)

type BackupHandler struct {
	store *services.BackupStore
}

func NewBackupHandler(store *services.BackupStore) *BackupHandler {
	return &BackupHandler{store: store}
}

func (h *BackupHandler) ListBackups(c *fiber.Ctx) error {
	backups, err := h.store.List()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list backups",
		})
	}
	return c.JSON(fiber.Map{"backups": backups})
}

func (h *BackupHandler) CreateBackup(c *fiber.Ctx) error {
	var req struct {
		Path string `json:"path"`
	}
	if err := c.BodyParser(&req); err != nil || req.Path == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Path is required",
		})
	}

	record, err := h.store.Snapshot(req.Path)
	if err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, services.ErrBackupNotFound) {
			status = fiber.StatusNotFound
		} else if errors.Is(err, services.ErrBackupTooLarge) {
			status = fiber.StatusRequestEntityTooLarge
		}
		return c.Status(status).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"backup": fiber.Map{
			"original_path": record.SourcePath,
			"backup_path":   record.BackupPath,
			"size":          record.Size,
			"created_at":    record.CreatedAt,
		},
	})
}

func (h *BackupHandler) RestoreBackup(c *fiber.Ctx) error {
	var req struct {
		BackupPath   string `json:"backup_path"`
		OriginalPath string `json:"original_path"`
	}
	if err := c.BodyParser(&req); err != nil || req.BackupPath == "" || req.OriginalPath == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "backup_path and original_path are required",
		})
	}

	if err := h.store.Restore(req.BackupPath, req.OriginalPath); err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, services.ErrBackupMissing) {
			status = fiber.StatusNotFound
		}
		return c.Status(status).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message":  "Backup restored",
		"restored": req.OriginalPath,
	})
}
