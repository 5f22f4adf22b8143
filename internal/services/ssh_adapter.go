package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	gopath "path"
	"sort"
	"strings"
	"time"

	"github.com/coreastra/coreastra/internal/models"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SSHConnectParams carries everything needed to dial an SSH host.
// PrivateKey takes precedence over Password when both are set.
type SSHConnectParams struct {
	Host       string
	Port       int
	Username   string
	Password   string
	PrivateKey string // PEM-encoded key material
	Timeout    time.Duration
}

// sshHandle binds an SSH client and its SFTP channel to one session.
type sshHandle struct {
	client *ssh.Client
	sftp   *sftp.Client
	cwd    string
}

// DialSSH establishes an SSH connection and opens an SFTP channel on it.
func DialSSH(ctx context.Context, p SSHConnectParams) (RemoteHandle, error) {
	var authMethods []ssh.AuthMethod
	if p.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(p.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	} else {
		authMethods = append(authMethods, ssh.Password(p.Password))
	}

	config := &ssh.ClientConfig{
		User:            p.Username,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         p.Timeout,
	}

	addr := net.JoinHostPort(p.Host, fmt.Sprintf("%d", p.Port))

	var client *ssh.Client
	var dialErr error
	dialDone := make(chan struct{})
	go func() {
		defer close(dialDone)
		client, dialErr = ssh.Dial("tcp", addr, config)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s", ErrConnectTimeout, addr)
	case <-dialDone:
		if dialErr != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", addr, dialErr)
		}
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to open sftp channel: %w", err)
	}

	cwd, err := sftpClient.Getwd()
	if err != nil || cwd == "" {
		cwd = "/"
	}

	slog.Info("SSH connection established", "host", addr, "user", p.Username)
	return &sshHandle{client: client, sftp: sftpClient, cwd: cwd}, nil
}

func (h *sshHandle) WorkingDir() string { return h.cwd }

func (h *sshHandle) List(ctx context.Context, path string) ([]models.RemoteEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := h.sftp.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("sftp list %s: %w", path, err)
	}

	entries := make([]models.RemoteEntry, 0, len(infos))
	for _, info := range infos {
		modified := info.ModTime()
		entries = append(entries, models.RemoteEntry{
			Path:        gopath.Join(path, info.Name()),
			Name:        info.Name(),
			IsDirectory: info.IsDir(),
			Size:        info.Size(),
			Modified:    &modified,
			Permissions: permString(info.Mode(), info.IsDir()),
		})
	}

	sortEntries(entries)
	return entries, nil
}

func (h *sshHandle) Download(ctx context.Context, remotePath, localPath string) (int64, string, error) {
	if err := ctx.Err(); err != nil {
		return 0, "", err
	}

	src, err := h.sftp.Open(remotePath)
	if err != nil {
		return 0, "", fmt.Errorf("sftp open %s: %w", remotePath, err)
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return 0, "", fmt.Errorf("create local file: %w", err)
	}
	defer dst.Close()

	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(dst, hash), src)
	if err != nil {
		return n, "", fmt.Errorf("sftp download %s: %w", remotePath, err)
	}

	return n, hex.EncodeToString(hash.Sum(nil)), nil
}

func (h *sshHandle) Upload(ctx context.Context, localPath, remotePath string, verify bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open local file: %w", err)
	}
	defer src.Close()

	dst, err := h.sftp.Create(remotePath)
	if err != nil {
		return "", fmt.Errorf("sftp create %s: %w", remotePath, err)
	}

	hash := sha256.New()
	if _, err := io.Copy(dst, io.TeeReader(src, hash)); err != nil {
		dst.Close()
		return "", fmt.Errorf("sftp upload %s: %w", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("sftp close %s: %w", remotePath, err)
	}

	localSum := hex.EncodeToString(hash.Sum(nil))

	if verify {
		stdout, _, _, err := h.Exec(ctx, "sha256sum "+shellQuote(remotePath), 30*time.Second)
		if err != nil {
			return localSum, fmt.Errorf("remote checksum failed: %w", err)
		}
		fields := strings.Fields(stdout)
		if len(fields) == 0 || fields[0] != localSum {
			return localSum, ErrChecksumMismatch
		}
	}

	return localSum, nil
}

func (h *sshHandle) Exec(ctx context.Context, command string, timeout time.Duration) (string, string, int, error) {
	session, err := h.client.NewSession()
	if err != nil {
		return "", "", -1, fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		session.Close()
		return "", "", -1, ctx.Err()
	case <-timer.C:
		session.Close()
		return "", "", -1, fmt.Errorf("%w after %s", ErrExecTimeout, timeout)
	case err := <-done:
		exitCode := 0
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				exitCode = exitErr.ExitStatus()
			} else {
				return stdout.String(), stderr.String(), -1, fmt.Errorf("remote command failed: %w", err)
			}
		}
		return stdout.String(), stderr.String(), exitCode, nil
	}
}

func (h *sshHandle) Close() error {
	if err := h.sftp.Close(); err != nil {
		slog.Debug("SFTP close failed", "error", err)
	}
	return h.client.Close()
}

// permString renders mode bits as the conventional 10-character form:
// a d/- type marker followed by r/w/x triplets for owner, group, other.
func permString(mode os.FileMode, isDir bool) string {
	var b [10]byte
	b[0] = '-'
	if isDir {
		b[0] = 'd'
	}
	bits := []struct {
		mask os.FileMode
		ch   byte
	}{
		{0o400, 'r'}, {0o200, 'w'}, {0o100, 'x'},
		{0o040, 'r'}, {0o020, 'w'}, {0o010, 'x'},
		{0o004, 'r'}, {0o002, 'w'}, {0o001, 'x'},
	}
	for i, bit := range bits {
		if mode&bit.mask != 0 {
			b[i+1] = bit.ch
		} else {
			b[i+1] = '-'
		}
	}
	return string(b[:])
}

// sortEntries orders a listing directories-first, then by name.
func sortEntries(entries []models.RemoteEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDirectory != entries[j].IsDirectory {
			return entries[i].IsDirectory
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
}

// shellQuote wraps s in single quotes, escaping embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
