package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"craftworker/model"
)

// JobRepository reads and writes the job ledger.
type JobRepository interface {
	Record(ctx context.Context, snap model.JobSnapshot) error
	GetByID(ctx context.Context, jobID string) (*model.JobRecord, error)
	ListRecent(ctx context.Context, limit int) ([]*model.JobRecord, error)
}

// gormJobRepository is the GORM-backed ledger.
type gormJobRepository struct {
	db *gorm.DB
}

// NewGormJobRepository creates a ledger over db.
func NewGormJobRepository(db *gorm.DB) JobRepository {
	return &gormJobRepository{db: db}
}

// Record upserts the ledger row of snap.
func (r *gormJobRepository) Record(ctx context.Context, snap model.JobSnapshot) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "craft_id", "error_name", "finished_at", "updated_at"}),
		}).
		Create(RecordFromSnapshot(snap)).Error
}

// GetByID returns the ledger row of jobID, or nil when there is none.
func (r *gormJobRepository) GetByID(ctx context.Context, jobID string) (*model.JobRecord, error) {
	var rec model.JobRecord
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// ListRecent returns the latest jobs, newest first.
func (r *gormJobRepository) ListRecent(ctx context.Context, limit int) ([]*model.JobRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var recs []*model.JobRecord
	err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// RecordFromSnapshot maps a state snapshot onto its ledger row.
func RecordFromSnapshot(snap model.JobSnapshot) *model.JobRecord {
	rec := &model.JobRecord{
		JobID:     snap.JobID,
		Name:      snap.Name,
		State:     snap.State,
		FileCount: snap.FileCount,
		CraftID:   snap.CraftID,
		ErrorName: snap.ErrorName,
		StartedAt: snap.StartedAt,
		UpdatedAt: snap.UpdatedAt,
	}
	if snap.State.Terminal() {
		finished := snap.UpdatedAt
		rec.FinishedAt = &finished
	}
	return rec
}
