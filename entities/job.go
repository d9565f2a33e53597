package entities

import (
	"github.com/google/uuid"
	"interview-orchestrator/constant"
	"time"
)

// Job is the bookkeeping record for one asynchronous unit of work. There is at
// most one row per (entity, kind); regenerating bumps Generation instead of
// inserting a new row.
type Job struct {
	ID          uuid.UUID        `json:"id" gorm:"type:uuid;primaryKey"`
	EntityID    uuid.UUID        `json:"entity_id" gorm:"type:uuid;not null;uniqueIndex:idx_jobs_entity_kind"`
	Kind        constant.JobKind `json:"kind" gorm:"type:varchar(20);not null;uniqueIndex:idx_jobs_entity_kind"`
	Status      string           `json:"status" gorm:"type:varchar(20);not null;index:idx_jobs_status"`
	ExternalRef *string          `json:"external_ref" gorm:"type:varchar(255)"`
	Attempts    int              `json:"attempts" gorm:"not null;default:0"`
	NextRetryAt *time.Time       `json:"next_retry_at"`
	PolledAt    *time.Time       `json:"polled_at"`
	Generation  int64            `json:"generation" gorm:"not null;default:1"`
	LastError   *string          `json:"last_error" gorm:"type:text"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func (Job) TableName() string {
	return "jobs"
}

// Key identifies the single-writer slot a job belongs to.
func (j Job) Key() JobKey {
	return JobKey{EntityID: j.EntityID, Kind: j.Kind}
}

type JobKey struct {
	EntityID uuid.UUID
	Kind     constant.JobKind
}

func (k JobKey) String() string {
	return string(k.Kind) + ":" + k.EntityID.String()
}

func NewJob(entityID uuid.UUID, kind constant.JobKind, status string) *Job {
	return &Job{
		ID:         uuid.New(),
		EntityID:   entityID,
		Kind:       kind,
		Status:     status,
		Generation: 1,
	}
}
