package identitycache

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// KVEntry is a row of the kv_entries table.
type KVEntry struct {
	Namespace string `gorm:"primaryKey;size:255"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (KVEntry) TableName() string {
	return "kv_entries"
}

// GormStore keeps payloads in a SQL table through GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens (creating if needed) a SQLite database at path.
func NewGormStore(path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return NewGormStoreFromDB(db)
}

// NewGormStoreFromDB uses an existing connection and migrates the table.
func NewGormStoreFromDB(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if err := db.AutoMigrate(&KVEntry{}); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (g *GormStore) Get(namespace string) (string, bool, error) {
	var e KVEntry
	err := g.db.Where("namespace = ?", namespace).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load entry: %w", err)
	}
	return e.Value, true, nil
}

func (g *GormStore) Set(namespace, value string) error {
	e := KVEntry{Namespace: namespace, Value: value, UpdatedAt: time.Now().UTC()}
	err := g.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}
	return nil
}

func (g *GormStore) Remove(namespace string) error {
	if err := g.db.Where("namespace = ?", namespace).Delete(&KVEntry{}).Error; err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
