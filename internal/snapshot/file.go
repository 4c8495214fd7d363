package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Tyrowin/anonychat/internal/chat"
)

const snapshotExt = ".json"

// FileBackend keeps each room in its own JSON file. File names are the
// hex SHA-256 of the room code, so every code maps to a short, safe name; the
// code itself is read back from the file contents.
type FileBackend struct {
	dir    string
	logger *slog.Logger
}

// NewFileBackend creates dir if needed.
func NewFileBackend(dir string, logger *slog.Logger) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("file backend: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileBackend{dir: dir, logger: logger}, nil
}

func (b *FileBackend) path(code string) string {
	sum := sha256.Sum256([]byte(code))
	return filepath.Join(b.dir, hex.EncodeToString(sum[:])+snapshotExt)
}

// Save writes the snapshot to a temp file and renames it into place.
func (b *FileBackend) Save(_ context.Context, snap chat.RoomSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", snap.Code, err)
	}

	target := b.path(snap.Code)
	tmp := target + ".tmp"

	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace snapshot %s: %w", snap.Code, err)
	}
	return nil
}

// Delete removes the room's file. A missing file is not an error.
func (b *FileBackend) Delete(_ context.Context, code string) error {
	if err := os.Remove(b.path(code)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete snapshot %s: %w", code, err)
	}
	return nil
}

// LoadAll reads every snapshot in the directory. Corrupt files are skipped.
func (b *FileBackend) LoadAll(ctx context.Context) ([]chat.RoomSnapshot, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("read snapshot dir: %w", err)
	}

	var snaps []chat.RoomSnapshot
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, snapshotExt) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(b.dir, name))
		if err != nil {
			b.logger.Warn("skipping unreadable snapshot", "file", name, "error", err)
			continue
		}
		var snap chat.RoomSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			b.logger.Warn("skipping corrupt snapshot", "file", name, "error", err)
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Close is a no-op.
func (b *FileBackend) Close() error {
	return nil
}
