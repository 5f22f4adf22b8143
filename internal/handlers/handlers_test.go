package handlers_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coreastra/coreastra/internal/audit"
	"github.com/coreastra/coreastra/internal/config"
	"github.com/coreastra/coreastra/internal/handlers"
	"github.com/coreastra/coreastra/internal/models"
	"github.com/coreastra/coreastra/internal/routes"
	"github.com/coreastra/coreastra/internal/services"
	"github.com/gofiber/fiber/v2"
)

type memorySink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *memorySink) Record(ev audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *memorySink) find(action string) (audit.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.Action == action {
			return ev, true
		}
	}
	return audit.Event{}, false
}

func newTestApp(t *testing.T) (*fiber.App, *services.Registry, *memorySink) {
	t.Helper()

	cfg := &config.Config{
		SessionDefaultDuration: 30 * time.Minute,
		SessionMaxDuration:     120 * time.Minute,
		SessionIdleTimeout:     10 * time.Minute,
		SessionCapacity:        5,
		MaxBackupSize:          10 * 1024 * 1024,
		AutoBackup:             true,
		RequireConfirm:         true,
		ConnectTimeout:         5 * time.Second,
		ExecTimeout:            5 * time.Second,
	}

	recorder := &memorySink{}
	store, err := services.NewBackupStore(t.TempDir(), cfg.MaxBackupSize, recorder)
	if err != nil {
		t.Fatal(err)
	}
	classifier := services.NewRiskClassifier(nil, cfg.RequireConfirm, cfg.AutoBackup)
	executor := services.NewExecutor(classifier, store, recorder)
	registry, err := services.NewRegistry(services.RegistryConfig{
		Capacity:        cfg.SessionCapacity,
		DefaultDuration: cfg.SessionDefaultDuration,
		MaxDuration:     cfg.SessionMaxDuration,
		IdleTimeout:     cfg.SessionIdleTimeout,
	}, recorder)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(registry.Shutdown)

	app := fiber.New()
	routes.Setup(app,
		handlers.NewSessionHandler(registry, cfg, recorder),
		handlers.NewCommandHandler(executor, nil),
		handlers.NewBackupHandler(store),
		handlers.NewAuditHandler(nil),
		handlers.NewSystemHandler(nil, cfg, registry),
	)
	return app, registry, recorder
}

type fakeRemote struct{}

func (fakeRemote) List(ctx context.Context, path string) ([]models.RemoteEntry, error) {
	return []models.RemoteEntry{{Name: "motd", Size: 4}}, nil
}

func (fakeRemote) Download(ctx context.Context, remotePath, localPath string) (int64, string, error) {
	data := []byte("remote payload\n")
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return 0, "", err
	}
	sum := sha256.Sum256(data)
	return int64(len(data)), hex.EncodeToString(sum[:]), nil
}

func (fakeRemote) Upload(ctx context.Context, localPath, remotePath string, verify bool) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (fakeRemote) Exec(ctx context.Context, command string, timeout time.Duration) (string, string, int, error) {
	return "fake output\n", "", 0, nil
}

func (fakeRemote) WorkingDir() string { return "/home/fake" }

func (fakeRemote) Close() error { return nil }

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, 10000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}

	var parsed map[string]any
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if len(raw) > 0 {
		json.Unmarshal(raw, &parsed)
	}
	return resp, parsed
}

func TestHealthWithoutDatabase(t *testing.T) {
	app, _, _ := newTestApp(t)
	resp, body := doJSON(t, app, "GET", "/api/health", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["db"] != "disabled" {
		t.Errorf("db = %v, want disabled", body["db"])
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
}

func TestAnalyzeCommand(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, body := doJSON(t, app, "POST", "/api/commands/analyze",
		fiber.Map{"command": "sudo systemctl restart nginx"})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["risk_level"] != "high" {
		t.Errorf("risk_level = %v, want high", body["risk_level"])
	}
	if body["requires_confirmation"] != true {
		t.Errorf("requires_confirmation = %v", body["requires_confirmation"])
	}

	resp, _ = doJSON(t, app, "POST", "/api/commands/analyze", fiber.Map{})
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("empty command status = %d, want 400", resp.StatusCode)
	}
}

func TestExecuteSafeCommandOverREST(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, body := doJSON(t, app, "POST", "/api/commands/execute",
		fiber.Map{"command": "echo rest"})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
	if body["stdout"] != "rest\n" {
		t.Errorf("stdout = %v", body["stdout"])
	}
	if body["success"] != true {
		t.Errorf("success = %v", body["success"])
	}
}

func TestExecuteRiskyRequiresConfirmation(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, body := doJSON(t, app, "POST", "/api/commands/execute",
		fiber.Map{"command": "rm -rf /tmp/whatever"})
	if resp.StatusCode != fiber.StatusPreconditionRequired {
		t.Fatalf("status = %d, want 428", resp.StatusCode)
	}
	assessment, ok := body["assessment"].(map[string]any)
	if !ok {
		t.Fatalf("assessment missing: %v", body)
	}
	if assessment["risk_level"] != "critical" {
		t.Errorf("risk_level = %v", assessment["risk_level"])
	}

	// Same command with confirmed set runs.
	target := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	resp, body = doJSON(t, app, "POST", "/api/commands/execute",
		fiber.Map{"command": "rm -rf " + target, "confirmed": true})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("confirmed status = %d body = %v", resp.StatusCode, body)
	}
	backups, ok := body["backups"].([]any)
	if !ok || len(backups) != 1 {
		t.Errorf("backups = %v, want one entry", body["backups"])
	}
}

func TestWorkspaceEndpoints(t *testing.T) {
	app, _, _ := newTestApp(t)
	dir := t.TempDir()

	resp, body := doJSON(t, app, "POST", "/api/workspace/cd", fiber.Map{"path": dir})
	if resp.StatusCode != fiber.StatusOK || body["cwd"] != dir {
		t.Fatalf("cd status = %d cwd = %v", resp.StatusCode, body["cwd"])
	}

	resp, body = doJSON(t, app, "GET", "/api/workspace/cwd", nil)
	if resp.StatusCode != fiber.StatusOK || body["cwd"] != dir {
		t.Errorf("cwd = %v, want %s", body["cwd"], dir)
	}

	resp, _ = doJSON(t, app, "POST", "/api/workspace/cd", fiber.Map{"path": "/no/such/place"})
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("missing dir status = %d, want 400", resp.StatusCode)
	}
}

func TestBackupEndpoints(t *testing.T) {
	app, _, _ := newTestApp(t)

	src := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(src, []byte("a: 1"), 0o644); err != nil {
		t.Fatal(err)
	}

	resp, body := doJSON(t, app, "POST", "/api/backups", fiber.Map{"path": src})
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("create status = %d body = %v", resp.StatusCode, body)
	}
	backup := body["backup"].(map[string]any)
	backupPath := backup["backup_path"].(string)

	resp, body = doJSON(t, app, "GET", "/api/backups", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	if list, ok := body["backups"].([]any); !ok || len(list) != 1 {
		t.Errorf("backups = %v, want one entry", body["backups"])
	}

	if err := os.WriteFile(src, []byte("a: 2"), 0o644); err != nil {
		t.Fatal(err)
	}
	resp, _ = doJSON(t, app, "POST", "/api/backups/restore",
		fiber.Map{"backup_path": backupPath, "original_path": src})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("restore status = %d", resp.StatusCode)
	}
	data, err := os.ReadFile(src)
	if err != nil || string(data) != "a: 1" {
		t.Errorf("restored content = %q err = %v", data, err)
	}

	resp, _ = doJSON(t, app, "POST", "/api/backups", fiber.Map{"path": "/does/not/exist"})
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("missing path status = %d, want 404", resp.StatusCode)
	}
}

func TestSessionEndpointsWithoutConnections(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, body := doJSON(t, app, "GET", "/api/sessions", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	if list, ok := body["sessions"].([]any); !ok || len(list) != 0 {
		t.Errorf("sessions = %v, want empty list", body["sessions"])
	}

	resp, _ = doJSON(t, app, "GET", "/api/sessions/not-a-uuid", nil)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", resp.StatusCode)
	}

	resp, _ = doJSON(t, app, "GET",
		fmt.Sprintf("/api/sessions/%s", "11111111-2222-3333-4444-555555555555"), nil)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", resp.StatusCode)
	}

	resp, _ = doJSON(t, app, "DELETE",
		fmt.Sprintf("/api/sessions/%s", "11111111-2222-3333-4444-555555555555"), nil)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("disconnect unknown id status = %d, want 404", resp.StatusCode)
	}
}

func TestHistoryUnavailableWithoutDatabase(t *testing.T) {
	app, _, _ := newTestApp(t)
	resp, _ := doJSON(t, app, "GET", "/api/commands/history", nil)
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestAuditUnavailableWithoutDatabase(t *testing.T) {
	app, _, _ := newTestApp(t)
	resp, _ := doJSON(t, app, "GET", "/api/audit", nil)
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestRemoteOperationAuditTrail(t *testing.T) {
	app, registry, sink := newTestApp(t)

	session, err := registry.Open(context.Background(), services.OpenRequest{
		Kind: services.KindSSH, Host: "host", Port: 22, Username: "user",
	}, func(ctx context.Context) (services.RemoteHandle, error) {
		return fakeRemote{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	base := "/api/sessions/" + session.ID.String()

	resp, _ := doJSON(t, app, "GET", base+"/download?path=/srv/data.bin", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("download status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Checksum-SHA256") == "" {
		t.Error("download response missing checksum header")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("uploaded content"))
	mw.WriteField("path", "/srv")
	mw.Close()
	req, err := http.NewRequest("POST", base+"/upload", &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	upResp, err := app.Test(req, 10000)
	if err != nil {
		t.Fatal(err)
	}
	upResp.Body.Close()
	if upResp.StatusCode != fiber.StatusOK {
		t.Fatalf("upload status = %d", upResp.StatusCode)
	}

	resp, body := doJSON(t, app, "POST", base+"/exec", fiber.Map{"command": "uname -a"})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("exec status = %d body = %v", resp.StatusCode, body)
	}

	download, ok := sink.find("file_download")
	if !ok {
		t.Fatal("no file_download audit event recorded")
	}
	if download.Details["path"] != "/srv/data.bin" {
		t.Errorf("download path = %v", download.Details["path"])
	}
	if download.Details["session_id"] != session.ID.String() {
		t.Errorf("download session_id = %v", download.Details["session_id"])
	}

	upload, ok := sink.find("file_upload")
	if !ok {
		t.Fatal("no file_upload audit event recorded")
	}
	if upload.Details["path"] != "/srv/notes.txt" {
		t.Errorf("upload path = %v", upload.Details["path"])
	}

	remote, ok := sink.find("remote_command")
	if !ok {
		t.Fatal("no remote_command audit event recorded")
	}
	if remote.Details["command"] != "uname -a" {
		t.Errorf("remote command = %v", remote.Details["command"])
	}
	if remote.Details["exit_code"] != 0 {
		t.Errorf("remote exit_code = %v", remote.Details["exit_code"])
	}
}
