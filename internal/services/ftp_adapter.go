package services

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	gopath "path"
	"time"

	"github.com/coreastra/coreastra/internal/models"
	"github.com/jlaffaye/ftp"
)

// FTPConnectParams carries everything needed to dial an FTP server.
type FTPConnectParams struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool // explicit FTPS
	Timeout  time.Duration
}

type ftpHandle struct {
	conn *ftp.ServerConn
	cwd  string
}

// DialFTP establishes an FTP (or explicit-TLS FTPS) connection.
func DialFTP(ctx context.Context, p FTPConnectParams) (RemoteHandle, error) {
	addr := net.JoinHostPort(p.Host, fmt.Sprintf("%d", p.Port))

	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(p.Timeout),
	}
	if p.UseTLS {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: p.Host}))
	}

	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	if err := conn.Login(p.Username, p.Password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp login failed: %w", err)
	}

	cwd, err := conn.CurrentDir()
	if err != nil || cwd == "" {
		cwd = "/"
	}

	slog.Info("FTP connection established", "host", addr, "user", p.Username, "tls", p.UseTLS)
	return &ftpHandle{conn: conn, cwd: cwd}, nil
}

func (h *ftpHandle) WorkingDir() string { return h.cwd }

// List prefers the machine-parsable listing (MLSD when the server
// supports it). When that fails it falls back to a bare name list,
// losing directory/size metadata.
func (h *ftpHandle) List(ctx context.Context, path string) ([]models.RemoteEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ftpEntries, err := h.conn.List(path)
	if err == nil {
		entries := make([]models.RemoteEntry, 0, len(ftpEntries))
		for _, e := range ftpEntries {
			if e.Name == "." || e.Name == ".." {
				continue
			}
			modified := e.Time
			entries = append(entries, models.RemoteEntry{
				Path:        gopath.Join(path, e.Name),
				Name:        e.Name,
				IsDirectory: e.Type == ftp.EntryTypeFolder,
				Size:        int64(e.Size),
				Modified:    &modified,
			})
		}
		sortEntries(entries)
		return entries, nil
	}

	names, nlstErr := h.conn.NameList(path)
	if nlstErr != nil {
		return nil, fmt.Errorf("ftp list %s: %w", path, nlstErr)
	}

	entries := make([]models.RemoteEntry, 0, len(names))
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		entries = append(entries, models.RemoteEntry{
			Path: gopath.Join(path, name),
			Name: gopath.Base(name),
		})
	}
	sortEntries(entries)
	return entries, nil
}

func (h *ftpHandle) Download(ctx context.Context, remotePath, localPath string) (int64, string, error) {
	if err := ctx.Err(); err != nil {
		return 0, "", err
	}

	resp, err := h.conn.Retr(remotePath)
	if err != nil {
		return 0, "", fmt.Errorf("ftp retrieve %s: %w", remotePath, err)
	}
	defer resp.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return 0, "", fmt.Errorf("create local file: %w", err)
	}
	defer dst.Close()

	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(dst, hash), resp)
	if err != nil {
		return n, "", fmt.Errorf("ftp download %s: %w", remotePath, err)
	}

	return n, hex.EncodeToString(hash.Sum(nil)), nil
}

// Upload stores a local file at remotePath. FTP offers no remote digest
// command, so verification is skipped regardless of verify; the local
// checksum is still returned for the caller's records.
func (h *ftpHandle) Upload(ctx context.Context, localPath, remotePath string, verify bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open local file: %w", err)
	}
	defer src.Close()

	hash := sha256.New()
	if err := h.conn.Stor(remotePath, io.TeeReader(src, hash)); err != nil {
		return "", fmt.Errorf("ftp store %s: %w", remotePath, err)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

func (h *ftpHandle) Exec(ctx context.Context, command string, timeout time.Duration) (string, string, int, error) {
	return "", "", -1, fmt.Errorf("%w: ftp exec", ErrUnsupported)
}

func (h *ftpHandle) Close() error {
	return h.conn.Quit()
}
