package models

import "time"

// RemoteEntry describes one item of a remote directory listing. Entries
// are produced fresh per listing and never persisted.
type RemoteEntry struct {
	Path        string     `json:"path"`
	Name        string     `json:"name"`
	IsDirectory bool       `json:"is_directory"`
	Size        int64      `json:"size"`
	Modified    *time.Time `json:"modified"`
	Permissions string     `json:"permissions"`
}

// SessionInfo is the wire form of a registry session.
type SessionInfo struct {
	ID                   string    `json:"id"`
	Kind                 string    `json:"kind"`
	Host                 string    `json:"host"`
	Port                 int       `json:"port"`
	Username             string    `json:"username"`
	Status               string    `json:"status"`
	CreatedAt            time.Time `json:"created_at"`
	ExpiresAt            time.Time `json:"expires_at"`
	LastActivity         time.Time `json:"last_activity"`
	BytesTransferred     int64     `json:"bytes_transferred"`
	FilesTransferred     int       `json:"files_transferred"`
	CurrentPath          string    `json:"current_path"`
	TimeRemainingSeconds int       `json:"time_remaining_seconds"`
}

// BackupInfo is the wire form of one entry in the backup listing.
type BackupInfo struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
	IsDirectory bool      `json:"is_directory"`
}
