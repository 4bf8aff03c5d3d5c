package entity

import "time"

// Resource types
const (
	ResourceDesigner    = "DESIGNER"
	ResourceProcurement = "PROCUREMENT"
	ResourceWelder      = "WELDER"
	ResourceQC          = "QC"
)

// Capacity units
const (
	UnitDrawings = "DRAWINGS"
	UnitHours    = "HOURS"
	UnitTons     = "TONS"
)

// HoursPerWorkingDay converts a duration in working days into HOURS load.
const HoursPerWorkingDay = 8

// ResourceCapacity is the configured throughput of one resource type.
type ResourceCapacity struct {
	ID                 string    `json:"id" gorm:"primaryKey;size:32"`
	ResourceType       string    `json:"resource_type" gorm:"size:32;not null;uniqueIndex"`
	ResourceName       string    `json:"resource_name" gorm:"size:128"`
	CapacityPerDay     float64   `json:"capacity_per_day" gorm:"not null"`
	Unit               string    `json:"unit" gorm:"size:16;not null"`
	WorkingDaysPerWeek int       `json:"working_days_per_week" gorm:"not null;default:5"`
	IsActive           bool      `json:"is_active" gorm:"not null"`
	Notes              string    `json:"notes" gorm:"type:text"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (ResourceCapacity) TableName() string {
	return "resource_capacities"
}

// WeeklyCapacity returns capacity per day times working days per week.
func (c *ResourceCapacity) WeeklyCapacity() float64 {
	return c.CapacityPerDay * float64(c.WorkingDaysPerWeek)
}

// ResourceMapping is the resource and unit a work unit type consumes.
type ResourceMapping struct {
	ResourceType string `json:"resource_type"`
	Unit         string `json:"unit"`
}

var resourceTable = map[string]ResourceMapping{
	WorkUnitTypeDesign:        {ResourceType: ResourceDesigner, Unit: UnitDrawings},
	WorkUnitTypeProcurement:   {ResourceType: ResourceProcurement, Unit: UnitHours},
	WorkUnitTypeProduction:    {ResourceType: ResourceWelder, Unit: UnitTons},
	WorkUnitTypeQC:            {ResourceType: ResourceQC, Unit: UnitHours},
	WorkUnitTypeDocumentation: {ResourceType: ResourceDesigner, Unit: UnitDrawings},
}

// ResourceFor returns the resource mapping for a work unit type.
func ResourceFor(workUnitType string) (ResourceMapping, bool) {
	m, ok := resourceTable[workUnitType]
	return m, ok
}

// WorkUnitTypesFor returns the work unit types that consume a resource.
func WorkUnitTypesFor(resourceType string) []string {
	var types []string
	for _, t := range WorkUnitTypes {
		if resourceTable[t].ResourceType == resourceType {
			types = append(types, t)
		}
	}
	return types
}

// IsValidResourceType reports whether r is a known resource type.
func IsValidResourceType(r string) bool {
	switch r {
	case ResourceDesigner, ResourceProcurement, ResourceWelder, ResourceQC:
		return true
	}
	return false
}

// IsValidUnit reports whether u is a known capacity unit.
func IsValidUnit(u string) bool {
	switch u {
	case UnitDrawings, UnitHours, UnitTons:
		return true
	}
	return false
}
