package entity

import "time"

// DependencyBlueprint is a reusable template of dependency rules between work unit types.
// An empty StructureType marks the generic scope.
type DependencyBlueprint struct {
	ID            string    `json:"id" gorm:"primaryKey;size:32"`
	Name          string    `json:"name" gorm:"size:128;not null;uniqueIndex"`
	Description   string    `json:"description" gorm:"type:text"`
	StructureType string    `json:"structure_type" gorm:"size:64;index"`
	IsDefault     bool      `json:"is_default" gorm:"not null;default:false"`
	IsActive      bool      `json:"is_active" gorm:"not null"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	Steps []BlueprintStep `json:"steps,omitempty" gorm:"foreignKey:BlueprintID;constraint:OnDelete:CASCADE"`
}

func (DependencyBlueprint) TableName() string {
	return "dependency_blueprints"
}

// BlueprintStep maps a (from type, to type) pair to a precedence relation.
// The optional module filters restrict a step to units from one source module.
type BlueprintStep struct {
	ID                  string    `json:"id" gorm:"primaryKey;size:32"`
	BlueprintID         string    `json:"blueprint_id" gorm:"size:32;not null;index"`
	FromType            string    `json:"from_type" gorm:"size:32;not null"`
	ToType              string    `json:"to_type" gorm:"size:32;not null"`
	DependencyType      string    `json:"dependency_type" gorm:"size:2;not null;default:FS"`
	LagDays             int       `json:"lag_days" gorm:"not null;default:0"`
	SequenceOrder       int       `json:"sequence_order" gorm:"not null;default:0"`
	FromReferenceModule string    `json:"from_reference_module,omitempty" gorm:"size:32"`
	ToReferenceModule   string    `json:"to_reference_module,omitempty" gorm:"size:32"`
	CreatedAt           time.Time `json:"created_at"`
}

func (BlueprintStep) TableName() string {
	return "blueprint_steps"
}

// MatchesFrom reports whether u satisfies the step's upstream side.
func (s *BlueprintStep) MatchesFrom(u *WorkUnit) bool {
	return u.Type == s.FromType && (s.FromReferenceModule == "" || s.FromReferenceModule == u.ReferenceModule)
}

// MatchesTo reports whether u satisfies the step's downstream side.
func (s *BlueprintStep) MatchesTo(u *WorkUnit) bool {
	return u.Type == s.ToType && (s.ToReferenceModule == "" || s.ToReferenceModule == u.ReferenceModule)
}
