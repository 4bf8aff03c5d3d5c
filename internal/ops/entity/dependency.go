package entity

import "time"

// Dependency types
const (
	DependencyFinishToStart  = "FS"
	DependencyStartToStart   = "SS"
	DependencyFinishToFinish = "FF"
)

// IsValidDependencyType reports whether t is FS, SS or FF.
func IsValidDependencyType(t string) bool {
	switch t {
	case DependencyFinishToStart, DependencyStartToStart, DependencyFinishToFinish:
		return true
	}
	return false
}

// WorkUnitDependency is a directed precedence edge between two work units of one project.
type WorkUnitDependency struct {
	ID             string    `json:"id" gorm:"primaryKey;size:32"`
	ProjectID      string    `json:"project_id" gorm:"size:32;not null;index"`
	FromWorkUnitID string    `json:"from_work_unit_id" gorm:"size:32;not null;uniqueIndex:idx_dependency_pair;index"`
	ToWorkUnitID   string    `json:"to_work_unit_id" gorm:"size:32;not null;uniqueIndex:idx_dependency_pair;index"`
	DependencyType string    `json:"dependency_type" gorm:"size:2;not null;default:FS"`
	LagDays        int       `json:"lag_days" gorm:"not null;default:0"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	From *WorkUnit `json:"from,omitempty" gorm:"foreignKey:FromWorkUnitID"`
	To   *WorkUnit `json:"to,omitempty" gorm:"foreignKey:ToWorkUnitID"`
}

func (WorkUnitDependency) TableName() string {
	return "work_unit_dependencies"
}
