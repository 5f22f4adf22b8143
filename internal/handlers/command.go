package handlers

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/coreastra/coreastra/internal/models"
	"github.com/coreastra/coreastra/internal/services"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type CommandHandler struct {
	executor *services.Executor
	db       *gorm.DB
}

func NewCommandHandler(executor *services.Executor, db *gorm.DB) *CommandHandler {
	return &CommandHandler{executor: executor, db: db}
}

// Analyze classifies a command without running it.
func (h *CommandHandler) Analyze(c *fiber.Ctx) error {
	var req struct {
		Command string `json:"command"`
	}
	if err := c.BodyParser(&req); err != nil || req.Command == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Command is required",
		})
	}
	return c.JSON(h.executor.Analyze(req.Command))
}

// Execute runs a command and returns the aggregated result once it
// finishes. Streaming consumers use the WebSocket endpoint instead.
func (h *CommandHandler) Execute(c *fiber.Ctx) error {
	var req struct {
		Command       string `json:"command"`
		Confirmed     bool   `json:"confirmed"`
		DisableBackup bool   `json:"disable_backup"`
	}
	if err := c.BodyParser(&req); err != nil || req.Command == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Command is required",
		})
	}

	start := time.Now()
	var final services.ExecEvent
	var backups []services.BackupRef
	for ev := range h.executor.Execute(c.UserContext(), services.ExecRequest{
		Command:       req.Command,
		Confirmed:     req.Confirmed,
		DisableBackup: req.DisableBackup,
	}) {
		if ev.Type == services.EventExecutionStart {
			backups = ev.Backups
			continue
		}
		if ev.Type != services.EventOutput {
			final = ev
		}
	}

	switch final.Type {
	case services.EventConfirmationRequired:
		return c.Status(fiber.StatusPreconditionRequired).JSON(fiber.Map{
			"error":      true,
			"message":    final.Message,
			"assessment": final.Assessment,
		})
	case services.EventError:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": final.Message,
		})
	}

	h.persist(req.Command, req.Confirmed, final, start)

	return c.JSON(fiber.Map{
		"command":     req.Command,
		"stdout":      final.Stdout,
		"stderr":      final.Stderr,
		"exit_code":   final.ExitCode,
		"success":     final.Success,
		"backups":     backups,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// UpgradeCheck gates the streaming endpoint to WebSocket upgrades.
func (h *CommandHandler) UpgradeCheck() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// HandleStream serves the interactive execution channel. Each inbound
// message is one submission; its events stream back as JSON until the
// terminal event. A command halted for confirmation is simply resent
// with confirmed set.
func (h *CommandHandler) HandleStream() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		for {
			var req struct {
				Command       string `json:"command"`
				Confirmed     bool   `json:"confirmed"`
				DisableBackup bool   `json:"disable_backup"`
			}
			if err := c.ReadJSON(&req); err != nil {
				return
			}
			if req.Command == "" {
				c.WriteJSON(services.ExecEvent{
					Type:    services.EventError,
					Message: "Command is required",
				})
				continue
			}

			start := time.Now()
			for ev := range h.executor.Execute(ctx, services.ExecRequest{
				Command:       req.Command,
				Confirmed:     req.Confirmed,
				DisableBackup: req.DisableBackup,
			}) {
				if err := c.WriteJSON(ev); err != nil {
					cancel()
					return
				}
				if ev.Type == services.EventExecutionComplete {
					h.persist(req.Command, req.Confirmed, ev, start)
				}
			}
		}
	})
}

func (h *CommandHandler) persist(command string, confirmed bool, final services.ExecEvent, start time.Time) {
	if h.db == nil {
		return
	}
	record := models.CommandRecord{
		Command:    command,
		RiskLevel:  string(h.executor.Analyze(command).RiskLevel),
		Confirmed:  confirmed,
		ExitCode:   final.ExitCode,
		Success:    final.Success,
		ExecutedAt: start,
		DurationMs: int(time.Since(start).Milliseconds()),
	}
	if err := h.db.Create(&record).Error; err != nil {
		slog.Warn("Command history write failed", "error", err)
	}
}

func (h *CommandHandler) GetHistory(c *fiber.Ctx) error {
	if h.db == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   true,
			"message": "Command history requires a database",
		})
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	perPage, _ := strconv.Atoi(c.Query("per_page", "50"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 50
	}

	query := h.db.Model(&models.CommandRecord{})
	if risk := c.Query("risk_level", ""); risk != "" {
		query = query.Where("risk_level = ?", risk)
	}

	var total int64
	query.Count(&total)

	var history []models.CommandRecord
	query.Order("executed_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&history)

	return c.JSON(fiber.Map{
		"history":  history,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

// Cwd reports the executor working directory.
func (h *CommandHandler) Cwd(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"cwd": h.executor.Getwd()})
}

// ChangeDir moves the executor working directory.
func (h *CommandHandler) ChangeDir(c *fiber.Ctx) error {
	var req struct {
		Path string `json:"path"`
	}
	if err := c.BodyParser(&req); err != nil || req.Path == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Path is required",
		})
	}
	cwd, err := h.executor.ChangeDir(req.Path)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"cwd": cwd})
}

// SetEnv sets an environment variable for subsequent executions.
func (h *CommandHandler) SetEnv(c *fiber.Ctx) error {
	var req struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := c.BodyParser(&req); err != nil || req.Key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Key is required",
		})
	}
	h.executor.Setenv(req.Key, req.Value)
	return c.JSON(fiber.Map{"message": "Environment updated"})
}
