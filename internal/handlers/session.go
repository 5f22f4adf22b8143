package handlers

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/coreastra/coreastra/internal/audit"
	"github.com/coreastra/coreastra/internal/config"
	"github.com/coreastra/coreastra/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type SessionHandler struct {
	registry *services.Registry
	cfg      *config.Config
	recorder audit.Recorder
}

func NewSessionHandler(registry *services.Registry, cfg *config.Config, recorder audit.Recorder) *SessionHandler {
	return &SessionHandler{registry: registry, cfg: cfg, recorder: recorder}
}

// statusFor maps core errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrSessionExpired):
		return fiber.StatusGone
	case errors.Is(err, services.ErrCapacityExceeded):
		return fiber.StatusTooManyRequests
	case errors.Is(err, services.ErrUnsupported):
		return fiber.StatusNotImplemented
	case errors.Is(err, services.ErrConnectTimeout), errors.Is(err, services.ErrExecTimeout):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

func coreError(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

func (h *SessionHandler) ConnectSSH(c *fiber.Ctx) error {
	var req struct {
		Host            string `json:"host"`
		Port            int    `json:"port"`
		Username        string `json:"username"`
		Password        string `json:"password"`
		PrivateKey      string `json:"private_key"`
		DurationMinutes int    `json:"duration_minutes"`
	}
	if err := c.BodyParser(&req); err != nil || req.Host == "" || req.Username == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Host and username are required",
		})
	}
	if req.Port == 0 {
		req.Port = 22
	}

	session, err := h.registry.Open(c.UserContext(), services.OpenRequest{
		Kind:     services.KindSSH,
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		Duration: time.Duration(req.DurationMinutes) * time.Minute,
	}, func(ctx context.Context) (services.RemoteHandle, error) {
		return services.DialSSH(ctx, services.SSHConnectParams{
			Host:       req.Host,
			Port:       req.Port,
			Username:   req.Username,
			Password:   req.Password,
			PrivateKey: req.PrivateKey,
			Timeout:    h.cfg.ConnectTimeout,
		})
	})
	if err != nil {
		if errors.Is(err, services.ErrCapacityExceeded) {
			return coreError(c, err)
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   true,
			"message": "SSH connection failed: " + err.Error(),
		})
	}

	info, err := h.registry.Info(session.ID)
	if err != nil {
		return coreError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"session": info})
}

func (h *SessionHandler) ConnectFTP(c *fiber.Ctx) error {
	var req struct {
		Host            string `json:"host"`
		Port            int    `json:"port"`
		Username        string `json:"username"`
		Password        string `json:"password"`
		UseTLS          bool   `json:"use_tls"`
		DurationMinutes int    `json:"duration_minutes"`
	}
	if err := c.BodyParser(&req); err != nil || req.Host == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Host is required",
		})
	}
	if req.Port == 0 {
		req.Port = 21
	}
	if req.Username == "" {
		req.Username = "anonymous"
	}

	session, err := h.registry.Open(c.UserContext(), services.OpenRequest{
		Kind:     services.KindFTP,
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		Duration: time.Duration(req.DurationMinutes) * time.Minute,
	}, func(ctx context.Context) (services.RemoteHandle, error) {
		return services.DialFTP(ctx, services.FTPConnectParams{
			Host:     req.Host,
			Port:     req.Port,
			Username: req.Username,
			Password: req.Password,
			UseTLS:   req.UseTLS,
			Timeout:  h.cfg.ConnectTimeout,
		})
	})
	if err != nil {
		if errors.Is(err, services.ErrCapacityExceeded) {
			return coreError(c, err)
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   true,
			"message": "FTP connection failed: " + err.Error(),
		})
	}

	info, err := h.registry.Info(session.ID)
	if err != nil {
		return coreError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"session": info})
}

func (h *SessionHandler) ListSessions(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"sessions": h.registry.List()})
}

func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid session ID",
		})
	}
	info, err := h.registry.Info(id)
	if err != nil {
		return coreError(c, err)
	}
	return c.JSON(fiber.Map{"session": info})
}

func (h *SessionHandler) Disconnect(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid session ID",
		})
	}
	if err := h.registry.Close(id, "User disconnect"); err != nil {
		return coreError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Session closed"})
}

// resolve looks up a live session from the :id path parameter. On
// failure it writes the error response and returns a nil session.
func (h *SessionHandler) resolve(c *fiber.Ctx) (*services.Session, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid session ID",
		})
	}
	session, err := h.registry.Get(id)
	if err != nil {
		return nil, coreError(c, err)
	}
	return session, nil
}

func (h *SessionHandler) ListFiles(c *fiber.Ctx) error {
	session, err := h.resolve(c)
	if session == nil {
		return err
	}

	dir := c.Query("path", session.CurrentPath)
	entries, err := session.Handle().List(c.UserContext(), dir)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   true,
			"message": "Listing failed: " + err.Error(),
		})
	}

	h.registry.Touch(session.ID)
	h.registry.SetPath(session.ID, dir)

	return c.JSON(fiber.Map{
		"path":    dir,
		"entries": entries,
	})
}

func (h *SessionHandler) DownloadFile(c *fiber.Ctx) error {
	session, err := h.resolve(c)
	if session == nil {
		return err
	}

	remotePath := c.Query("path")
	if remotePath == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "path query parameter is required",
		})
	}

	localPath := filepath.Join(session.Scratch, path.Base(remotePath))
	n, checksum, err := session.Handle().Download(c.UserContext(), remotePath, localPath)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   true,
			"message": "Download failed: " + err.Error(),
		})
	}

	h.registry.RecordTransfer(session.ID, n, 1)
	h.recorder.Record(audit.Event{
		Action: "file_download",
		Details: map[string]any{
			"session_id": session.ID.String(),
			"host":       session.Host,
			"path":       remotePath,
			"bytes":      n,
			"checksum":   checksum,
		},
	})
	c.Set("X-Checksum-SHA256", checksum)
	return c.Download(localPath, path.Base(remotePath))
}

func (h *SessionHandler) UploadFile(c *fiber.Ctx) error {
	session, err := h.resolve(c)
	if session == nil {
		return err
	}

	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "file form field is required",
		})
	}

	remoteDir := c.FormValue("path", session.CurrentPath)
	remotePath := path.Join(remoteDir, file.Filename)

	localPath := filepath.Join(session.Scratch, file.Filename)
	if err := c.SaveFile(file, localPath); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to stage upload: " + err.Error(),
		})
	}
	defer os.Remove(localPath)

	// Round-trip verification is only possible where the remote can
	// hash the file; the FTP adapter skips it.
	verify := session.Kind == services.KindSSH
	checksum, err := session.Handle().Upload(c.UserContext(), localPath, remotePath, verify)
	if err != nil {
		if errors.Is(err, services.ErrChecksumMismatch) {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   true,
			"message": "Upload failed: " + err.Error(),
		})
	}

	h.registry.RecordTransfer(session.ID, file.Size, 1)
	h.recorder.Record(audit.Event{
		Action: "file_upload",
		Details: map[string]any{
			"session_id": session.ID.String(),
			"host":       session.Host,
			"path":       remotePath,
			"bytes":      file.Size,
			"checksum":   checksum,
			"verified":   verify,
		},
	})

	return c.JSON(fiber.Map{
		"message":  "Upload complete",
		"path":     remotePath,
		"size":     file.Size,
		"checksum": checksum,
		"verified": verify,
	})
}

func (h *SessionHandler) RemoteExec(c *fiber.Ctx) error {
	session, err := h.resolve(c)
	if session == nil {
		return err
	}

	var req struct {
		Command        string `json:"command"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := c.BodyParser(&req); err != nil || req.Command == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Command is required",
		})
	}

	timeout := h.cfg.ExecTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	start := time.Now()
	stdout, stderr, exitCode, err := session.Handle().Exec(c.UserContext(), req.Command, timeout)
	if err != nil {
		return coreError(c, err)
	}

	h.registry.Touch(session.ID)
	h.recorder.Record(audit.Event{
		Action: "remote_command",
		Details: map[string]any{
			"session_id": session.ID.String(),
			"host":       session.Host,
			"command":    req.Command,
			"exit_code":  exitCode,
		},
	})

	return c.JSON(fiber.Map{
		"command":     req.Command,
		"stdout":      stdout,
		"stderr":      stderr,
		"exit_code":   exitCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}
