package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/refedo/OTS-sub007/internal/ops/entity"
	"github.com/refedo/OTS-sub007/internal/ops/repository"
)

// WeekBounds returns Monday 00:00 and Sunday 23:59:59.999999999 (UTC) of the week containing t.
func WeekBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -offset)
	return start, start.AddDate(0, 0, 7).Add(-time.Nanosecond)
}

// WorkingDays counts the calendar days from start to end (inclusive) that fall on one of the
// first perWeek weekdays starting Monday. Never less than one.
func WorkingDays(start, end time.Time, perWeek int) int {
	if n := countWorkingDays(start, end, perWeek); n > 0 {
		return n
	}
	return 1
}

func countWorkingDays(start, end time.Time, perWeek int) int {
	if perWeek <= 0 || perWeek > 7 {
		perWeek = 5
	}
	start, end = start.UTC(), end.UTC()
	d := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	n := 0
	for !d.After(last) {
		if (int(d.Weekday())+6)%7 < perWeek {
			n++
		}
		d = d.AddDate(0, 0, 1)
	}
	return n
}

// overlapDays returns the unit's working days inside [from, to] and in its whole window. A unit
// with no working day at all counts as one day, all of it inside any window it touches.
func overlapDays(u *entity.WorkUnit, perWeek int, from, to time.Time) (overlap, total int) {
	start, end := u.PlannedStart, u.PlannedEnd
	if start.Before(from) {
		start = from
	}
	if end.After(to) {
		end = to
	}
	if end.Before(start) {
		return 0, WorkingDays(u.PlannedStart, u.PlannedEnd, perWeek)
	}
	total = countWorkingDays(u.PlannedStart, u.PlannedEnd, perWeek)
	if total == 0 {
		return 1, 1
	}
	return countWorkingDays(start, end, perWeek), total
}

// UnitLoad is the part of a work unit's load that falls inside [from, to], measured in unit.
// Weight (TONS) and quantity (DRAWINGS) are spread evenly over the unit's working days; HOURS
// is eight per working day inside the window.
func UnitLoad(u *entity.WorkUnit, unit string, workingDaysPerWeek int, from, to time.Time) float64 {
	overlap, total := overlapDays(u, workingDaysPerWeek, from, to)
	if overlap == 0 {
		return 0
	}
	switch unit {
	case entity.UnitTons:
		if u.Weight != nil {
			return *u.Weight * float64(overlap) / float64(total)
		}
	case entity.UnitDrawings:
		if u.Quantity != nil {
			return *u.Quantity * float64(overlap) / float64(total)
		}
	case entity.UnitHours:
		return float64(overlap * entity.HoursPerWorkingDay)
	}
	return 0
}

// Utilization returns load as a percentage of capacity rounded to two decimals.
func Utilization(load, capacity float64) float64 {
	if capacity <= 0 {
		return 0
	}
	return round2(load * 100 / capacity)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// CapacityService manages resource capacities and the weekly load analysis.
type CapacityService struct {
	repo  *repository.CapacityRepository
	units *repository.WorkUnitRepository
	now   func() time.Time
}

func NewCapacityService(repo *repository.CapacityRepository, units *repository.WorkUnitRepository) *CapacityService {
	return &CapacityService{repo: repo, units: units, now: time.Now}
}

// SetClock overrides the time source.
func (s *CapacityService) SetClock(now func() time.Time) {
	s.now = now
}

// CapacityInput describes a capacity to create or update.
type CapacityInput struct {
	ResourceType       string  `json:"resource_type" binding:"required"`
	ResourceName       string  `json:"resource_name"`
	CapacityPerDay     float64 `json:"capacity_per_day" binding:"required"`
	Unit               string  `json:"unit" binding:"required"`
	WorkingDaysPerWeek int     `json:"working_days_per_week"`
	IsActive           *bool   `json:"is_active"`
	Notes              string  `json:"notes"`
}

func (in *CapacityInput) validate() error {
	if !entity.IsValidResourceType(in.ResourceType) {
		return fmt.Errorf("%w: unknown resource type %q", ErrInvalidInput, in.ResourceType)
	}
	if !entity.IsValidUnit(in.Unit) {
		return fmt.Errorf("%w: unknown unit %q", ErrInvalidInput, in.Unit)
	}
	if in.CapacityPerDay <= 0 {
		return fmt.Errorf("%w: capacity per day must be positive", ErrInvalidInput)
	}
	if in.WorkingDaysPerWeek == 0 {
		in.WorkingDaysPerWeek = 5
	}
	if in.WorkingDaysPerWeek < 1 || in.WorkingDaysPerWeek > 7 {
		return fmt.Errorf("%w: working days per week must be between 1 and 7", ErrInvalidInput)
	}
	return nil
}

func (s *CapacityService) List(ctx context.Context, activeOnly bool) ([]entity.ResourceCapacity, error) {
	return s.repo.List(ctx, activeOnly)
}

func (s *CapacityService) Get(ctx context.Context, id string) (*entity.ResourceCapacity, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *CapacityService) Create(ctx context.Context, in *CapacityInput) (*entity.ResourceCapacity, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	c := &entity.ResourceCapacity{
		ID:                 entity.NewID(),
		ResourceType:       in.ResourceType,
		ResourceName:       in.ResourceName,
		CapacityPerDay:     in.CapacityPerDay,
		Unit:               in.Unit,
		WorkingDaysPerWeek: in.WorkingDaysPerWeek,
		IsActive:           in.IsActive == nil || *in.IsActive,
		Notes:              in.Notes,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("%w: resource type %s", ErrDuplicateName, in.ResourceType)
		}
		return nil, err
	}
	return c, nil
}

func (s *CapacityService) Update(ctx context.Context, id string, in *CapacityInput) (*entity.ResourceCapacity, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.ResourceType = in.ResourceType
	c.ResourceName = in.ResourceName
	c.CapacityPerDay = in.CapacityPerDay
	c.Unit = in.Unit
	c.WorkingDaysPerWeek = in.WorkingDaysPerWeek
	if in.IsActive != nil {
		c.IsActive = *in.IsActive
	}
	c.Notes = in.Notes
	c.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, c); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("%w: resource type %s", ErrDuplicateName, in.ResourceType)
		}
		return nil, err
	}
	return c, nil
}

func (s *CapacityService) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// WeekLoad is a resource's load over one week.
type WeekLoad struct {
	WeekStart   time.Time `json:"week_start"`
	WeekEnd     time.Time `json:"week_end"`
	Load        float64   `json:"load"`
	Capacity    float64   `json:"capacity"`
	Utilization float64   `json:"utilization"`
	Overloaded  bool      `json:"overloaded"`
	UnitCount   int       `json:"unit_count"`
}

// CapacityAnalysis compares a capacity with the planned load of the coming weeks.
type CapacityAnalysis struct {
	Capacity entity.ResourceCapacity `json:"capacity"`
	Weeks    []WeekLoad              `json:"weeks"`
}

// LoadForWeek sums the share of load that open units consuming the capacity's resource put on
// the week containing at. Units with no working day in the week are left out.
func (s *CapacityService) LoadForWeek(ctx context.Context, c *entity.ResourceCapacity, at time.Time) (WeekLoad, []entity.WorkUnit, error) {
	start, end := WeekBounds(at)
	candidates, err := s.units.ListOpenInWindow(ctx, entity.WorkUnitTypesFor(c.ResourceType), start, end)
	if err != nil {
		return WeekLoad{}, nil, err
	}
	wl := WeekLoad{WeekStart: start, WeekEnd: end, Capacity: c.WeeklyCapacity()}
	units := make([]entity.WorkUnit, 0, len(candidates))
	for i := range candidates {
		if overlap, _ := overlapDays(&candidates[i], c.WorkingDaysPerWeek, start, end); overlap == 0 {
			continue
		}
		units = append(units, candidates[i])
		wl.Load += UnitLoad(&candidates[i], c.Unit, c.WorkingDaysPerWeek, start, end)
	}
	wl.UnitCount = len(units)
	wl.Load = round2(wl.Load)
	wl.Utilization = Utilization(wl.Load, wl.Capacity)
	wl.Overloaded = wl.Utilization > 100
	return wl, units, nil
}

// Analyze reports the weekly load of a capacity for the current and following weeks.
func (s *CapacityService) Analyze(ctx context.Context, id string, weeks int) (*CapacityAnalysis, error) {
	if weeks <= 0 {
		weeks = 4
	}
	if weeks > 26 {
		weeks = 26
	}
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	analysis := &CapacityAnalysis{Capacity: *c, Weeks: make([]WeekLoad, 0, weeks)}
	at := s.now()
	for i := 0; i < weeks; i++ {
		wl, _, err := s.LoadForWeek(ctx, c, at.AddDate(0, 0, 7*i))
		if err != nil {
			return nil, err
		}
		analysis.Weeks = append(analysis.Weeks, wl)
	}
	return analysis, nil
}
