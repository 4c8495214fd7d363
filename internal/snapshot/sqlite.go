package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Tyrowin/anonychat/internal/chat"
)

// roomRecord is one row of room_snapshots. Messages hold the JSON-encoded log.
type roomRecord struct {
	Code         string `gorm:"primaryKey"`
	DisplayName  string
	MaxMembers   int
	CreatedAt    time.Time
	LastActiveAt time.Time
	Messages     string `gorm:"type:text"`
}

func (roomRecord) TableName() string {
	return "room_snapshots"
}

// SQLiteBackend stores snapshots in a SQLite database through gorm.
type SQLiteBackend struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewSQLiteBackend opens (or creates) the database at path and migrates it.
func NewSQLiteBackend(path string, log *slog.Logger) (*SQLiteBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite backend: path is required")
	}
	if log == nil {
		log = slog.Default()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&roomRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info("sqlite snapshot store ready", "path", path)
	return &SQLiteBackend{db: db, logger: log}, nil
}

// Save upserts the room's row.
func (b *SQLiteBackend) Save(ctx context.Context, snap chat.RoomSnapshot) error {
	msgs, err := json.Marshal(snap.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages %s: %w", snap.Code, err)
	}

	rec := roomRecord{
		Code:         snap.Code,
		DisplayName:  snap.DisplayName,
		MaxMembers:   snap.MaxMembers,
		CreatedAt:    snap.CreatedAt,
		LastActiveAt: snap.LastActiveAt,
		Messages:     string(msgs),
	}

	err = b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "max_members", "created_at", "last_active_at", "messages"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.Code, err)
	}
	return nil
}

// Delete removes the room's row.
func (b *SQLiteBackend) Delete(ctx context.Context, code string) error {
	if err := b.db.WithContext(ctx).Delete(&roomRecord{}, "code = ?", code).Error; err != nil {
		return fmt.Errorf("delete snapshot %s: %w", code, err)
	}
	return nil
}

// LoadAll returns every stored room ordered by code.
func (b *SQLiteBackend) LoadAll(ctx context.Context) ([]chat.RoomSnapshot, error) {
	var recs []roomRecord
	if err := b.db.WithContext(ctx).Order("code").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}

	snaps := make([]chat.RoomSnapshot, 0, len(recs))
	for _, rec := range recs {
		var msgs []chat.Message
		if rec.Messages != "" {
			if err := json.Unmarshal([]byte(rec.Messages), &msgs); err != nil {
				b.logger.Warn("skipping corrupt snapshot", "room", rec.Code, "error", err)
				continue
			}
		}
		snaps = append(snaps, chat.RoomSnapshot{
			Code:         rec.Code,
			DisplayName:  rec.DisplayName,
			MaxMembers:   rec.MaxMembers,
			CreatedAt:    rec.CreatedAt,
			LastActiveAt: rec.LastActiveAt,
			Messages:     msgs,
		})
	}
	return snaps, nil
}

// Close closes the underlying connection pool.
func (b *SQLiteBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
