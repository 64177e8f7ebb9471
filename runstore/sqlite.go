// Package runstore persists pipeline runs. The SQLite store is the
// durable implementation used by the CLI; MemoryStore backs tests and
// embedded use.
package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/sciflow/types"
	"github.com/BaSui01/sciflow/workflow"
)

type runRecord struct {
	RunID     string `gorm:"primaryKey;column:run_id"`
	Status    string `gorm:"index"`
	Stage     string
	State     []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (runRecord) TableName() string { return "runs" }

// SQLiteStore keeps runs in a SQLite database via gorm.
type SQLiteStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenSQLite opens (creating if absent) the database at path and
// migrates the runs table. Use ":memory:" for an ephemeral store.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	if err := db.AutoMigrate(&runRecord{}); err != nil {
		return nil, fmt.Errorf("migrate run store: %w", err)
	}
	return &SQLiteStore{
		db:     db,
		logger: logger.With(zap.String("component", "runstore")),
	}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, state *workflow.PipelineState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", state.RunID, err)
	}
	rec := runRecord{
		RunID:     state.RunID,
		Status:    string(state.Status),
		Stage:     string(state.Stage),
		State:     raw,
		CreatedAt: state.CreatedAt,
		UpdatedAt: state.UpdatedAt,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			UpdateAll: true,
		}).
		Create(&rec).Error
}

func (s *SQLiteStore) Load(ctx context.Context, runID string) (*workflow.PipelineState, error) {
	var rec runRecord
	err := s.db.WithContext(ctx).First(&rec, "run_id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrRunNotFound, fmt.Sprintf("run %s not found", runID))
	}
	if err != nil {
		return nil, err
	}
	var state workflow.PipelineState
	if err := json.Unmarshal(rec.State, &state); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &state, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&runRecord{}).
		Order("created_at DESC").
		Pluck("run_id", &ids).Error
	return ids, err
}

func (s *SQLiteStore) Delete(ctx context.Context, runID string) error {
	return s.db.WithContext(ctx).Delete(&runRecord{}, "run_id = ?", runID).Error
}
