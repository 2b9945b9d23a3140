package journey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"
)

// stateRecord is the gorm model behind SQLiteRepository.
type stateRecord struct {
	StorageKey string `gorm:"primaryKey;column:storage_key"`
	State      string `gorm:"column:state;not null"`
	UpdatedAt  time.Time
}

func (stateRecord) TableName() string { return "journey_state" }

// SQLiteRepository keeps the state in an embedded SQLite database through gorm.
type SQLiteRepository struct {
	db  *gorm.DB
	key string
}

// OpenSQLite opens (or creates) the database at path and migrates the schema.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.AutoMigrate(&stateRecord{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return db, nil
}

func NewSQLiteRepository(db *gorm.DB, key string) *SQLiteRepository {
	return &SQLiteRepository{db: db, key: key}
}

func (r *SQLiteRepository) Load(ctx context.Context) (JourneyState, error) {
	var rec stateRecord
	err := r.db.WithContext(ctx).Where("storage_key = ?", r.key).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return JourneyState{}, ErrNotFound
	}
	if err != nil {
		return JourneyState{}, fmt.Errorf("select journey state: %w", err)
	}
	return decodeState([]byte(rec.State))
}

func (r *SQLiteRepository) Save(ctx context.Context, s JourneyState) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode journey state: %w", err)
	}
	rec := stateRecord{StorageKey: r.key, State: string(raw), UpdatedAt: time.Now().UTC()}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "storage_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("upsert journey state: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	err := r.db.WithContext(ctx).Where("storage_key = ?", r.key).Delete(&stateRecord{}).Error
	if err != nil {
		return fmt.Errorf("delete journey state: %w", err)
	}
	return nil
}
