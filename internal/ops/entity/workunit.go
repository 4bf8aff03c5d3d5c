package entity

import (
	"time"

	"github.com/google/uuid"
)

// WorkUnit types
const (
	WorkUnitTypeDesign        = "DESIGN"
	WorkUnitTypeProcurement   = "PROCUREMENT"
	WorkUnitTypeProduction    = "PRODUCTION"
	WorkUnitTypeQC            = "QC"
	WorkUnitTypeDocumentation = "DOCUMENTATION"
)

// WorkUnit statuses
const (
	WorkUnitStatusNotStarted = "NOT_STARTED"
	WorkUnitStatusInProgress = "IN_PROGRESS"
	WorkUnitStatusBlocked    = "BLOCKED"
	WorkUnitStatusCompleted  = "COMPLETED"
)

// Source modules
const (
	ModuleTask               = "Task"
	ModuleWorkOrder          = "WorkOrder"
	ModuleRFIRequest         = "RFIRequest"
	ModuleDocumentSubmission = "DocumentSubmission"
	ModuleAssemblyPart       = "AssemblyPart"
)

// WorkUnitTypes lists the known types in pipeline order.
var WorkUnitTypes = []string{
	WorkUnitTypeDesign,
	WorkUnitTypeProcurement,
	WorkUnitTypeProduction,
	WorkUnitTypeQC,
	WorkUnitTypeDocumentation,
}

// WorkUnitStatuses lists the canonical statuses.
var WorkUnitStatuses = []string{
	WorkUnitStatusNotStarted,
	WorkUnitStatusInProgress,
	WorkUnitStatusBlocked,
	WorkUnitStatusCompleted,
}

// WorkUnit is the module-agnostic representation of a trackable piece of work.
type WorkUnit struct {
	ID              string     `json:"id" gorm:"primaryKey;size:32"`
	ProjectID       string     `json:"project_id" gorm:"size:32;not null;index"`
	Type            string     `json:"type" gorm:"size:32;not null;index"`
	ReferenceModule string     `json:"reference_module" gorm:"size:32;not null;uniqueIndex:idx_work_unit_reference"`
	ReferenceID     string     `json:"reference_id" gorm:"size:64;not null;uniqueIndex:idx_work_unit_reference"`
	Status          string     `json:"status" gorm:"size:16;not null;default:NOT_STARTED;index"`
	PlannedStart    time.Time  `json:"planned_start" gorm:"not null"`
	PlannedEnd      time.Time  `json:"planned_end" gorm:"not null"`
	ActualStart     *time.Time `json:"actual_start"`
	ActualEnd       *time.Time `json:"actual_end"`
	Quantity        *float64   `json:"quantity"`
	Weight          *float64   `json:"weight"`
	OwnerID         string     `json:"owner_id" gorm:"size:64"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (WorkUnit) TableName() string {
	return "work_units"
}

// IsCompleted reports whether the unit reached COMPLETED.
func (w *WorkUnit) IsCompleted() bool {
	return w.Status == WorkUnitStatusCompleted
}

// IsValidWorkUnitType reports whether t is a known type.
func IsValidWorkUnitType(t string) bool {
	for _, v := range WorkUnitTypes {
		if v == t {
			return true
		}
	}
	return false
}

// IsValidWorkUnitStatus reports whether s is a canonical status.
func IsValidWorkUnitStatus(s string) bool {
	for _, v := range WorkUnitStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsValidModule reports whether m names a supported source module.
func IsValidModule(m string) bool {
	switch m {
	case ModuleTask, ModuleWorkOrder, ModuleRFIRequest, ModuleDocumentSubmission, ModuleAssemblyPart:
		return true
	}
	return false
}

// NewID returns a 32 character identifier used for all ops tables.
func NewID() string {
	return uuid.New().String()[:32]
}
