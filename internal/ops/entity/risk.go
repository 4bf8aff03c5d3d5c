package entity

import (
	"time"

	"gorm.io/datatypes"
)

// Risk types
const (
	RiskTypeDelay      = "DELAY"
	RiskTypeBottleneck = "BOTTLENECK"
	RiskTypeDependency = "DEPENDENCY"
	RiskTypeOverload   = "OVERLOAD"
)

// Risk severities
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// Severities is ordered from most to least severe.
var Severities = []string{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// SeverityRank orders severities; higher is worse.
func SeverityRank(s string) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// RiskSubject is a structured reference to a work unit named by a risk.
type RiskSubject struct {
	WorkUnitID string `json:"work_unit_id"`
	Type       string `json:"type"`
	Role       string `json:"role,omitempty"`
}

// Subject roles
const (
	SubjectRoleTrigger  = "trigger"
	SubjectRoleAffected = "affected"
)

// RiskEvent is a detected, deduplicated risk condition. Active while ResolvedAt is nil.
type RiskEvent struct {
	ID                  string                           `json:"id" gorm:"primaryKey;size:32"`
	Type                string                           `json:"type" gorm:"size:16;not null;index"`
	Severity            string                           `json:"severity" gorm:"size:16;not null;index"`
	ProjectID           string                           `json:"project_id" gorm:"size:32;index"`
	Fingerprint         string                           `json:"fingerprint" gorm:"size:64;not null;index"`
	TriggerWorkUnitID   string                           `json:"trigger_work_unit_id,omitempty" gorm:"size:32"`
	Reason              string                           `json:"reason" gorm:"type:text;not null"`
	RecommendedAction   string                           `json:"recommended_action" gorm:"type:text"`
	AffectedWorkUnitIDs datatypes.JSONSlice[string]      `json:"affected_work_unit_ids"`
	AffectedProjectIDs  datatypes.JSONSlice[string]      `json:"affected_project_ids"`
	Subjects            datatypes.JSONSlice[RiskSubject] `json:"subjects"`
	Metadata            datatypes.JSONMap                `json:"metadata,omitempty"`
	DetectedAt          time.Time                        `json:"detected_at" gorm:"not null"`
	LastEvaluatedAt     time.Time                        `json:"last_evaluated_at" gorm:"not null"`
	ResolvedAt          *time.Time                       `json:"resolved_at" gorm:"index"`
	ResolvedBy          string                           `json:"resolved_by,omitempty" gorm:"size:64"`
	ResolutionNote      string                           `json:"resolution_note,omitempty" gorm:"type:text"`
	CreatedAt           time.Time                        `json:"created_at"`
	UpdatedAt           time.Time                        `json:"updated_at"`
}

func (RiskEvent) TableName() string {
	return "risk_events"
}

// IsActive reports whether the event is unresolved.
func (r *RiskEvent) IsActive() bool {
	return r.ResolvedAt == nil
}

// Resolver identities
const (
	ResolvedBySystem = "system"
)
