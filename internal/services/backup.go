package services

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/coreastra/coreastra/internal/audit"
	"github.com/coreastra/coreastra/internal/models"
)

// BackupRecord describes one snapshot taken by the store. Immutable
// once created except for the Restored flag.
type BackupRecord struct {
	SourcePath string    `json:"source_path"`
	BackupPath string    `json:"backup_path"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
	Restored   bool      `json:"restored"`
}

// BackupStore takes content-preserving snapshots of filesystem paths
// before risky mutations and restores them on demand.
//
// Snapshot names embed a second-resolution timestamp, so a snapshot
// never overwrites an earlier one; two snapshots of the same source
// within the same second collide, which is an accepted edge case.
type BackupStore struct {
	dir      string
	maxBytes int64
	recorder audit.Recorder
}

func NewBackupStore(dir string, maxBytes int64, recorder audit.Recorder) (*BackupStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &BackupStore{dir: dir, maxBytes: maxBytes, recorder: recorder}, nil
}

// Snapshot copies path into the backup directory under a timestamped
// name. Files above the configured ceiling are refused; directories
// are snapshotted regardless of size (documented limitation, kept
// intentionally unbounded pending a product decision).
func (s *BackupStore) Snapshot(path string) (*BackupRecord, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrBackupNotFound, path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	timestamp := time.Now().Format("20060102_150405")
	backupPath := filepath.Join(s.dir, fmt.Sprintf("%s_%s", filepath.Base(path), timestamp))

	var size int64
	if info.IsDir() {
		if err := copyTree(path, backupPath); err != nil {
			return nil, fmt.Errorf("backup directory %s: %w", path, err)
		}
		size = treeSize(backupPath)
	} else {
		if info.Size() > s.maxBytes {
			return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrBackupTooLarge, info.Size(), s.maxBytes)
		}
		if err := copyFile(path, backupPath); err != nil {
			return nil, fmt.Errorf("backup file %s: %w", path, err)
		}
		size = info.Size()
	}

	record := &BackupRecord{
		SourcePath: path,
		BackupPath: backupPath,
		Size:       size,
		CreatedAt:  time.Now(),
	}

	s.recorder.Record(audit.Event{
		Action: "backup_created",
		Details: map[string]any{
			"original": path,
			"backup":   backupPath,
			"size":     size,
		},
	})
	slog.Info("Backup created", "source", path, "backup", backupPath)

	return record, nil
}

// Restore copies a backup over originalPath. The current on-disk state
// is first preserved under a "_pre_restore" sibling so a failed restore
// cannot destroy data irrecoverably. Restoring a directory replaces the
// target wholesale, which loses anything added after the backup was
// taken; that trade-off is deliberate.
func (s *BackupStore) Restore(backupPath, originalPath string) error {
	backupInfo, err := os.Stat(backupPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrBackupMissing, backupPath)
		}
		return fmt.Errorf("stat backup %s: %w", backupPath, err)
	}

	if current, err := os.Stat(originalPath); err == nil {
		preRestore := originalPath + "_pre_restore"
		if current.IsDir() {
			err = copyTree(originalPath, preRestore)
		} else {
			err = copyFile(originalPath, preRestore)
		}
		if err != nil {
			return fmt.Errorf("preserve current state of %s: %w", originalPath, err)
		}
	}

	if backupInfo.IsDir() {
		if err := os.RemoveAll(originalPath); err != nil {
			return fmt.Errorf("clear restore target %s: %w", originalPath, err)
		}
		if err := copyTree(backupPath, originalPath); err != nil {
			return fmt.Errorf("restore directory %s: %w", originalPath, err)
		}
	} else {
		if err := copyFile(backupPath, originalPath); err != nil {
			return fmt.Errorf("restore file %s: %w", originalPath, err)
		}
	}

	s.recorder.Record(audit.Event{
		Action: "backup_restored",
		Details: map[string]any{
			"backup":      backupPath,
			"restored_to": originalPath,
		},
	})
	slog.Info("Backup restored", "backup", backupPath, "target", originalPath)

	return nil
}

// List returns all backups, newest first.
func (s *BackupStore) List() ([]models.BackupInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	backups := make([]models.BackupInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		size := info.Size()
		if entry.IsDir() {
			size = treeSize(filepath.Join(s.dir, entry.Name()))
		}
		backups = append(backups, models.BackupInfo{
			Name:        entry.Name(),
			Path:        filepath.Join(s.dir, entry.Name()),
			Size:        size,
			CreatedAt:   info.ModTime(),
			IsDirectory: entry.IsDir(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		return copyFile(path, target)
	})
}

func treeSize(root string) int64 {
	var total int64
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}
