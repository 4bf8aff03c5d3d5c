package entity

import (
	"time"

	"gorm.io/datatypes"
)

// Sync operations
const (
	SyncOpCreate = "create"
	SyncOpStatus = "status"
)

// SyncFailure is a dead-lettered sync event whose retries were exhausted.
type SyncFailure struct {
	ID          string         `json:"id" gorm:"primaryKey;size:32"`
	Module      string         `json:"module" gorm:"size:32;not null;index"`
	Operation   string         `json:"operation" gorm:"size:16;not null"`
	ReferenceID string         `json:"reference_id" gorm:"size:64;not null"`
	Payload     datatypes.JSON `json:"payload"`
	Attempts    int            `json:"attempts" gorm:"not null;default:0"`
	LastError   string         `json:"last_error" gorm:"type:text"`
	CreatedAt   time.Time      `json:"created_at"`
	ReplayedAt  *time.Time     `json:"replayed_at" gorm:"index"`
}

func (SyncFailure) TableName() string {
	return "sync_failures"
}

// AllModels lists every ops table for AutoMigrate.
func AllModels() []interface{} {
	return []interface{}{
		&WorkUnit{},
		&WorkUnitDependency{},
		&DependencyBlueprint{},
		&BlueprintStep{},
		&RiskEvent{},
		&ResourceCapacity{},
		&SyncFailure{},
	}
}
