package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/refedo/OTS-sub007/internal/ops/entity"
	"github.com/refedo/OTS-sub007/internal/ops/graph"
)

// detection is a risk condition found by one evaluation, before deduplication.
type detection struct {
	Type              string
	Severity          string
	ProjectID         string
	TriggerWorkUnitID string
	Reason            string
	Action            string
	Affected          []string
	AffectedProjects  []string
	Subjects          []entity.RiskSubject
	Metadata          map[string]interface{}
}

// Fingerprint identifies a risk condition: type, project and the sorted affected unit ids.
func Fingerprint(riskType, projectID string, affected []string) string {
	ids := append([]string(nil), affected...)
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(riskType + "|" + projectID + "|" + strings.Join(ids, ",")))
	return hex.EncodeToString(sum[:])
}

func (d *detection) fingerprint() string {
	return Fingerprint(d.Type, d.ProjectID, d.Affected)
}

// ruleConfig holds the thresholds of the project-scoped rules.
type ruleConfig struct {
	OverdueCriticalDays  int
	BottleneckThreshold  int
	CascadeLookaheadDays int
	Limits               graph.Limits
}

// projectSnapshot is the data of one project read once per evaluation.
type projectSnapshot struct {
	ProjectID string
	Units     []entity.WorkUnit
	byID      map[string]*entity.WorkUnit
	graph     *graph.Graph
	windows   map[string]graph.Window
}

func newProjectSnapshot(projectID string, units []entity.WorkUnit, deps []entity.WorkUnitDependency) *projectSnapshot {
	snap := &projectSnapshot{
		ProjectID: projectID,
		Units:     units,
		byID:      make(map[string]*entity.WorkUnit, len(units)),
		graph:     graph.New(toGraphEdges(deps)),
		windows:   make(map[string]graph.Window, len(units)),
	}
	for i := range units {
		u := &units[i]
		snap.byID[u.ID] = u
		snap.graph.AddNode(u.ID)
		snap.windows[u.ID] = graph.Window{Start: u.PlannedStart, End: u.PlannedEnd}
	}
	return snap
}

func describe(u *entity.WorkUnit) string {
	return fmt.Sprintf("%s %s %s", u.Type, u.ReferenceModule, u.ReferenceID)
}

// delayInfo is the DELAY state of one unit.
type delayInfo struct {
	unit          *entity.WorkUnit
	overdue       bool
	daysOverdue   int
	lateStart     bool
	daysLateStart int
}

// slipDays is the delay pushed onto downstream work.
func (d delayInfo) slipDays() int {
	if d.daysOverdue > d.daysLateStart {
		return d.daysOverdue
	}
	if d.daysLateStart > 0 {
		return d.daysLateStart
	}
	return 1
}

// detectProject runs DELAY, BOTTLENECK and DEPENDENCY over a snapshot.
func detectProject(snap *projectSnapshot, now time.Time, cfg ruleConfig) ([]detection, error) {
	var delays []delayInfo
	for i := range snap.Units {
		u := &snap.Units[i]
		if u.IsCompleted() {
			continue
		}
		info := delayInfo{unit: u}
		if u.PlannedEnd.Before(now) {
			info.overdue = true
			info.daysOverdue = graph.DaysBetween(u.PlannedEnd, now)
		}
		if u.PlannedStart.Before(now) && u.ActualStart == nil {
			info.lateStart = true
			info.daysLateStart = graph.DaysBetween(u.PlannedStart, now)
		}
		if info.overdue || info.lateStart {
			delays = append(delays, info)
		}
	}

	var out []detection
	for _, d := range delays {
		out = append(out, delayDetection(snap, d, cfg))
	}
	for _, d := range delays {
		reach, err := snap.graph.Reachable(d.unit.ID, graph.Downstream, cfg.Limits)
		if err != nil {
			return nil, fmt.Errorf("project %s: %w", snap.ProjectID, err)
		}
		open := openUnits(snap, reach)
		if det, ok := bottleneckDetection(snap, d, open, cfg); ok {
			out = append(out, det)
		}
		det, ok, err := cascadeDetection(snap, d, open, now, cfg)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, det)
		}
	}
	return out, nil
}

func openUnits(snap *projectSnapshot, ids []string) []*entity.WorkUnit {
	open := make([]*entity.WorkUnit, 0, len(ids))
	for _, id := range ids {
		if u, ok := snap.byID[id]; ok && !u.IsCompleted() {
			open = append(open, u)
		}
	}
	return open
}

func delayDetection(snap *projectSnapshot, d delayInfo, cfg ruleConfig) detection {
	u := d.unit
	dependents := len(snap.graph.Successors(u.ID))

	var severity, reason, action string
	switch {
	case d.overdue && (d.daysOverdue > cfg.OverdueCriticalDays || dependents > 0):
		severity = entity.SeverityCritical
	case d.overdue:
		severity = entity.SeverityHigh
	default:
		severity = entity.SeverityMedium
	}
	if d.overdue {
		reason = fmt.Sprintf("%s is past its planned end (%s)", describe(u), u.PlannedEnd.Format("2006-01-02"))
		action = "Expedite completion or re-plan the end date and notify downstream owners"
	} else {
		reason = fmt.Sprintf("%s has not started (planned start %s)", describe(u), u.PlannedStart.Format("2006-01-02"))
		action = "Start the work or re-plan its window"
	}

	return detection{
		Type:              entity.RiskTypeDelay,
		Severity:          severity,
		ProjectID:         snap.ProjectID,
		TriggerWorkUnitID: u.ID,
		Reason:            reason,
		Action:            action,
		Affected:          []string{u.ID},
		AffectedProjects:  []string{snap.ProjectID},
		Subjects:          []entity.RiskSubject{{WorkUnitID: u.ID, Type: u.Type, Role: entity.SubjectRoleTrigger}},
		Metadata: map[string]interface{}{
			"days_overdue":     d.daysOverdue,
			"days_late_start":  d.daysLateStart,
			"downstream_count": dependents,
			"planned_start":    u.PlannedStart,
			"planned_end":      u.PlannedEnd,
		},
	}
}

func bottleneckDetection(snap *projectSnapshot, d delayInfo, open []*entity.WorkUnit, cfg ruleConfig) (detection, bool) {
	threshold := cfg.BottleneckThreshold
	if len(open) <= threshold {
		return detection{}, false
	}
	severity := entity.SeverityMedium
	switch {
	case len(open) > 3*threshold:
		severity = entity.SeverityCritical
	case len(open) > 2*threshold:
		severity = entity.SeverityHigh
	}

	u := d.unit
	downstream := make([]string, len(open))
	for i, o := range open {
		downstream[i] = o.ID
	}
	return detection{
		Type:              entity.RiskTypeBottleneck,
		Severity:          severity,
		ProjectID:         snap.ProjectID,
		TriggerWorkUnitID: u.ID,
		Reason:            fmt.Sprintf("Delayed %s blocks %d downstream work units", describe(u), len(open)),
		Action:            "Prioritize this work unit and add resources to clear the bottleneck",
		Affected:          []string{u.ID},
		AffectedProjects:  []string{snap.ProjectID},
		Subjects:          []entity.RiskSubject{{WorkUnitID: u.ID, Type: u.Type, Role: entity.SubjectRoleTrigger}},
		Metadata: map[string]interface{}{
			"downstream_count": len(open),
			"downstream_ids":   downstream,
			"threshold":        threshold,
		},
	}, true
}

func cascadeDetection(snap *projectSnapshot, d delayInfo, open []*entity.WorkUnit, now time.Time, cfg ruleConfig) (detection, bool, error) {
	horizon := now.AddDate(0, 0, cfg.CascadeLookaheadDays)
	var affected []*entity.WorkUnit
	for _, o := range open {
		if !o.PlannedStart.After(horizon) {
			affected = append(affected, o)
		}
	}
	if len(affected) == 0 {
		return detection{}, false, nil
	}
	sort.Slice(affected, func(i, j int) bool {
		if !affected[i].PlannedStart.Equal(affected[j].PlannedStart) {
			return affected[i].PlannedStart.Before(affected[j].PlannedStart)
		}
		return affected[i].ID < affected[j].ID
	})

	soonest := affected[0].PlannedStart
	daysUntil := graph.DaysBetween(now, soonest)
	severity := entity.SeverityMedium
	switch {
	case daysUntil <= 2:
		severity = entity.SeverityCritical
	case daysUntil <= 4:
		severity = entity.SeverityHigh
	}

	slip, err := snap.graph.PropagateSlip(d.unit.ID, d.slipDays(), snap.windows, cfg.Limits)
	if err != nil {
		return detection{}, false, fmt.Errorf("project %s: %w", snap.ProjectID, err)
	}

	u := d.unit
	ids := []string{u.ID}
	subjects := []entity.RiskSubject{{WorkUnitID: u.ID, Type: u.Type, Role: entity.SubjectRoleTrigger}}
	projected := make(map[string]interface{}, len(affected))
	for _, a := range affected {
		ids = append(ids, a.ID)
		subjects = append(subjects, entity.RiskSubject{WorkUnitID: a.ID, Type: a.Type, Role: entity.SubjectRoleAffected})
		projected[a.ID] = slip[a.ID]
	}

	return detection{
		Type:              entity.RiskTypeDependency,
		Severity:          severity,
		ProjectID:         snap.ProjectID,
		TriggerWorkUnitID: u.ID,
		Reason: fmt.Sprintf("Delay of %s cascades to %d work units starting within %d days",
			describe(u), len(affected), cfg.CascadeLookaheadDays),
		Action:           "Re-sequence the affected work or recover the upstream delay before they start",
		Affected:         ids,
		AffectedProjects: []string{snap.ProjectID},
		Subjects:         subjects,
		Metadata: map[string]interface{}{
			"soonest_start":            soonest,
			"days_until_soonest_start": daysUntil,
			"lookahead_days":           cfg.CascadeLookaheadDays,
			"trigger_delay_days":       d.slipDays(),
			"projected_slip_days":      projected,
		},
	}, true, nil
}

// overloadDetection reports a capacity whose week load exceeds 100%.
func overloadDetection(c *entity.ResourceCapacity, wl WeekLoad, units []entity.WorkUnit) (detection, bool) {
	if !wl.Overloaded {
		return detection{}, false
	}
	severity := entity.SeverityHigh
	if wl.Utilization > 130 {
		severity = entity.SeverityCritical
	}

	ids := make([]string, len(units))
	subjects := make([]entity.RiskSubject, len(units))
	projects := map[string]bool{}
	var projectIDs []string
	for i, u := range units {
		ids[i] = u.ID
		subjects[i] = entity.RiskSubject{WorkUnitID: u.ID, Type: u.Type, Role: entity.SubjectRoleAffected}
		if !projects[u.ProjectID] {
			projects[u.ProjectID] = true
			projectIDs = append(projectIDs, u.ProjectID)
		}
	}
	sort.Strings(projectIDs)

	return detection{
		Type:     entity.RiskTypeOverload,
		Severity: severity,
		Reason: fmt.Sprintf("%s capacity overloaded: %.2f %s planned against %.2f weekly capacity",
			c.ResourceType, wl.Load, c.Unit, wl.Capacity),
		Action:           "Level the load by moving work to later weeks or add capacity",
		Affected:         ids,
		AffectedProjects: projectIDs,
		Subjects:         subjects,
		Metadata: map[string]interface{}{
			"resource_type": c.ResourceType,
			"unit":          c.Unit,
			"load":          wl.Load,
			"capacity":      wl.Capacity,
			"utilization":   wl.Utilization,
			"week_start":    wl.WeekStart,
			"week_end":      wl.WeekEnd,
		},
	}, true
}
