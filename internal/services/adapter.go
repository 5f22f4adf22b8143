package services

import (
	"context"
	"time"

	"github.com/coreastra/coreastra/internal/models"
)

// RemoteHandle is the protocol-independent capability surface consumed
// by the registry and handlers. Exactly one live handle is bound per
// session. Close is best-effort; the registry removes its entry
// regardless of the result.
type RemoteHandle interface {
	// List returns the entries of a remote directory.
	List(ctx context.Context, path string) ([]models.RemoteEntry, error)

	// Download copies a remote file to localPath and returns the bytes
	// written together with the sha256 of the downloaded content.
	Download(ctx context.Context, remotePath, localPath string) (int64, string, error)

	// Upload copies a local file to remotePath, returning the local
	// sha256. When verify is true and the transport supports it, the
	// remote digest is compared and a mismatch is an error.
	Upload(ctx context.Context, localPath, remotePath string, verify bool) (string, error)

	// Exec runs a command on the remote host. FTP handles report
	// ErrUnsupported.
	Exec(ctx context.Context, command string, timeout time.Duration) (stdout, stderr string, exitCode int, err error)

	// WorkingDir reports the remote working directory at connect time.
	WorkingDir() string

	// Close tears down the underlying connection.
	Close() error
}

// ConnectFunc produces a live handle. The registry invokes it under
// admission control; on error no session is created.
type ConnectFunc func(ctx context.Context) (RemoteHandle, error)
