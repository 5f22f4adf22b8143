package routes

import (
	"github.com/coreastra/coreastra/internal/handlers"
	"github.com/gofiber/fiber/v2"
)

func Setup(
	app *fiber.App,
	sessionHandler *handlers.SessionHandler,
	commandHandler *handlers.CommandHandler,
	backupHandler *handlers.BackupHandler,
	auditHandler *handlers.AuditHandler,
	systemHandler *handlers.SystemHandler,
) {
	app.Get("/api/health", systemHandler.Health)

	api := app.Group("/api")

	// System
	api.Get("/system/info", systemHandler.Info)

	// Local command execution
	api.Post("/commands/analyze", commandHandler.Analyze)
	api.Post("/commands/execute", commandHandler.Execute)
	api.Get("/commands/history", commandHandler.GetHistory)

	// Streaming execution (WebSocket)
	api.Use("/commands/stream", commandHandler.UpgradeCheck())
	api.Get("/commands/stream", commandHandler.HandleStream())

	// Executor workspace
	api.Get("/workspace/cwd", commandHandler.Cwd)
	api.Post("/workspace/cd", commandHandler.ChangeDir)
	api.Post("/workspace/env", commandHandler.SetEnv)

	// Remote sessions
	api.Post("/sessions/ssh", sessionHandler.ConnectSSH)
	api.Post("/sessions/ftp", sessionHandler.ConnectFTP)
	api.Get("/sessions", sessionHandler.ListSessions)
	api.Get("/sessions/:id", sessionHandler.GetSession)
	api.Delete("/sessions/:id", sessionHandler.Disconnect)
	api.Get("/sessions/:id/files", sessionHandler.ListFiles)
	api.Get("/sessions/:id/download", sessionHandler.DownloadFile)
	api.Post("/sessions/:id/upload", sessionHandler.UploadFile)
	api.Post("/sessions/:id/exec", sessionHandler.RemoteExec)

	// Backups
	api.Get("/backups", backupHandler.ListBackups)
	api.Post("/backups", backupHandler.CreateBackup)
	api.Post("/backups/restore", backupHandler.RestoreBackup)

	// Audit trail
	api.Get("/audit", auditHandler.ListAuditLogs)
}
