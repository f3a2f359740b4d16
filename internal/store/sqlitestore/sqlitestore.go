// Package sqlitestore persists store snapshots in a SQLite database.
package sqlitestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/danmuck/minijira/internal/auth"
	"github.com/danmuck/minijira/internal/permission"
	"github.com/danmuck/minijira/internal/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

type taskRow struct {
	ID                int64 `gorm:"primaryKey;autoIncrement:false"`
	Completed         bool
	Title             string
	Description       string
	Priority          int32
	DeadlineMS        int64
	DateCreatedMS     int64
	MasterTaskID      int64
	CreatedBy         int64
	AssignedEmployees []int64 `gorm:"serializer:json"`
	Boards            []int64 `gorm:"serializer:json"`
}

func (taskRow) TableName() string { return "tasks" }

type userRow struct {
	ID           int64  `gorm:"primaryKey;autoIncrement:false"`
	Name         string `gorm:"uniqueIndex"`
	Email        string
	LastOnlineMS int64
	Friends      []int64                    `gorm:"serializer:json"`
	Rights       map[int64]permission.Level `gorm:"serializer:json"`
	Credential   auth.Credential            `gorm:"serializer:json"`
}

func (userRow) TableName() string { return "users" }

type boardRow struct {
	ID   int64 `gorm:"primaryKey;autoIncrement:false"`
	Name string
}

func (boardRow) TableName() string { return "boards" }

// Backend stores each snapshot as the full contents of three tables.
type Backend struct {
	db *gorm.DB
}

// Open creates the database file and schema if needed.
func Open(path string) (*Backend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := db.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
		return nil, err
	}
	if err := db.Exec(`PRAGMA busy_timeout=5000;`).Error; err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&taskRow{}, &userRow{}, &boardRow{}); err != nil {
		return nil, fmt.Errorf("sqlitestore: migrate: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return &Backend{db: db}, nil
}

func (b *Backend) Load(ctx context.Context) (store.Snapshot, error) {
	db := b.db.WithContext(ctx)
	var tasks []taskRow
	if err := db.Order("id").Find(&tasks).Error; err != nil {
		return store.Snapshot{}, fmt.Errorf("sqlitestore: load tasks: %w", err)
	}
	var users []userRow
	if err := db.Order("id").Find(&users).Error; err != nil {
		return store.Snapshot{}, fmt.Errorf("sqlitestore: load users: %w", err)
	}
	var boards []boardRow
	if err := db.Order("id").Find(&boards).Error; err != nil {
		return store.Snapshot{}, fmt.Errorf("sqlitestore: load boards: %w", err)
	}

	var snap store.Snapshot
	for _, r := range tasks {
		snap.Tasks = append(snap.Tasks, store.Task(r))
	}
	for _, r := range users {
		snap.Users = append(snap.Users, store.User(r))
	}
	for _, r := range boards {
		snap.Boards = append(snap.Boards, store.Board(r))
	}
	return snap, nil
}

// Save replaces all rows with snap in one transaction.
func (b *Backend) Save(ctx context.Context, snap store.Snapshot) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&taskRow{}, &userRow{}, &boardRow{}} {
			if err := tx.Where("1 = 1").Delete(model).Error; err != nil {
				return fmt.Errorf("sqlitestore: clear: %w", err)
			}
		}
		if len(snap.Tasks) > 0 {
			rows := make([]taskRow, 0, len(snap.Tasks))
			for _, t := range snap.Tasks {
				rows = append(rows, taskRow(t))
			}
			if err := tx.CreateInBatches(rows, 200).Error; err != nil {
				return fmt.Errorf("sqlitestore: save tasks: %w", err)
			}
		}
		if len(snap.Users) > 0 {
			rows := make([]userRow, 0, len(snap.Users))
			for _, u := range snap.Users {
				rows = append(rows, userRow(u))
			}
			if err := tx.CreateInBatches(rows, 200).Error; err != nil {
				return fmt.Errorf("sqlitestore: save users: %w", err)
			}
		}
		if len(snap.Boards) > 0 {
			rows := make([]boardRow, 0, len(snap.Boards))
			for _, bd := range snap.Boards {
				rows = append(rows, boardRow(bd))
			}
			if err := tx.CreateInBatches(rows, 200).Error; err != nil {
				return fmt.Errorf("sqlitestore: save boards: %w", err)
			}
		}
		return nil
	})
}

func (b *Backend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ store.Backend = (*Backend)(nil)
