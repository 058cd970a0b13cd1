package model

import "time"

// JobRecord is the ledger row kept for every job the worker accepted.
type JobRecord struct {
	JobID      string     `gorm:"column:job_id;primaryKey;size:36" json:"jobId"`
	Name       string     `gorm:"column:name;size:255" json:"name"`
	State      JobState   `gorm:"column:state;size:32;index" json:"state"`
	FileCount  int        `gorm:"column:file_count" json:"fileCount"`
	CraftID    string     `gorm:"column:craft_id;size:64" json:"craftId,omitempty"`
	ErrorName  string     `gorm:"column:error_name;size:64" json:"errorName,omitempty"`
	StartedAt  time.Time  `gorm:"column:started_at" json:"startedAt"`
	FinishedAt *time.Time `gorm:"column:finished_at" json:"finishedAt,omitempty"`
	UpdatedAt  time.Time  `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName pins the ledger table name.
func (JobRecord) TableName() string {
	return "transcode_jobs"
}
