package services

import "errors"

// Error taxonomy surfaced by the core. Handlers map these onto HTTP
// statuses; adapter-internal failures are wrapped, never leaked raw.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionExpired   = errors.New("session expired")
	ErrCapacityExceeded = errors.New("maximum sessions reached")
	ErrUnsupported      = errors.New("operation not supported for this protocol")
	ErrBackupNotFound   = errors.New("path does not exist")
	ErrBackupTooLarge   = errors.New("file too large for backup")
	ErrBackupMissing    = errors.New("backup not found")
	ErrChecksumMismatch = errors.New("checksum mismatch - upload may be corrupted")
	ErrConnectTimeout   = errors.New("connection timed out")
	ErrExecTimeout      = errors.New("remote command timed out")
)
