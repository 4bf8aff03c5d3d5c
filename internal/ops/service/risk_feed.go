package service

import (
	"context"
	"fmt"
	"time"

	"github.com/refedo/OTS-sub007/internal/ops/entity"
	"github.com/refedo/OTS-sub007/internal/ops/repository"
	"go.uber.org/zap"
)

// NameResolver turns work unit ids into display labels for the digest.
type NameResolver interface {
	ResolveNames(ctx context.Context, workUnitIDs []string) (map[string]string, error)
}

// RegistryResolver labels units as "<Module> <reference id>" from the registry.
type RegistryResolver struct {
	units *repository.WorkUnitRepository
}

func NewRegistryResolver(units *repository.WorkUnitRepository) *RegistryResolver {
	return &RegistryResolver{units: units}
}

func (r *RegistryResolver) ResolveNames(ctx context.Context, ids []string) (map[string]string, error) {
	units, err := r.units.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(units))
	for i := range units {
		names[units[i].ID] = unitLabel(&units[i])
	}
	return names, nil
}

// ListActive lists active risks, most severe first.
func (e *RiskEngine) ListActive(ctx context.Context, filters map[string]interface{}) ([]entity.RiskEvent, error) {
	return e.risks.ListActive(ctx, filters)
}

// List lists risks including resolved ones.
func (e *RiskEngine) List(ctx context.Context, filters map[string]interface{}, page, pageSize int) ([]entity.RiskEvent, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}
	return e.risks.List(ctx, filters, page, pageSize)
}

func (e *RiskEngine) Get(ctx context.Context, id string) (*entity.RiskEvent, error) {
	return e.risks.FindByID(ctx, id)
}

// Resolve resolves an active risk by hand. Resolving a resolved risk returns it unchanged.
// If the condition persists the next evaluation opens a new event.
func (e *RiskEngine) Resolve(ctx context.Context, id, by, note string) (*entity.RiskEvent, error) {
	ev, err := e.risks.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ev.IsActive() {
		return ev, nil
	}
	if by == "" {
		return nil, fmt.Errorf("%w: resolver is required", ErrInvalidInput)
	}
	now := e.now().UTC()
	if _, err := e.risks.Resolve(ctx, []string{id}, now, by, note); err != nil {
		return nil, err
	}
	ev, err = e.risks.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordRiskResolved(ev.Type, 1)
	e.logger.Info("risk resolved manually", zap.String("id", id), zap.String("by", by))
	e.notify(ctx, []RiskChange{{Kind: RiskChangeResolved, Event: *ev}})
	return ev, nil
}

// RiskSummary aggregates the feed.
type RiskSummary struct {
	TotalActive      int64            `json:"total_active"`
	ActiveBySeverity map[string]int64 `json:"active_by_severity"`
	ActiveByType     map[string]int64 `json:"active_by_type"`
	ResolvedLast7d   int64            `json:"resolved_last_7d"`
}

func (e *RiskEngine) Summary(ctx context.Context) (*RiskSummary, error) {
	bySeverity, err := e.risks.CountActiveBy(ctx, "severity")
	if err != nil {
		return nil, err
	}
	byType, err := e.risks.CountActiveBy(ctx, "type")
	if err != nil {
		return nil, err
	}
	resolved, err := e.risks.CountResolvedSince(ctx, e.now().UTC().AddDate(0, 0, -7))
	if err != nil {
		return nil, err
	}

	s := &RiskSummary{
		ActiveBySeverity: map[string]int64{},
		ActiveByType:     map[string]int64{},
		ResolvedLast7d:   resolved,
	}
	for _, sev := range entity.Severities {
		s.ActiveBySeverity[sev] = 0
	}
	for _, t := range []string{entity.RiskTypeDelay, entity.RiskTypeBottleneck, entity.RiskTypeDependency, entity.RiskTypeOverload} {
		s.ActiveByType[t] = 0
	}
	for _, r := range bySeverity {
		s.ActiveBySeverity[r.Name] = r.Count
		s.TotalActive += r.Count
	}
	for _, r := range byType {
		s.ActiveByType[r.Name] = r.Count
	}
	return s, nil
}

// DigestSubject is a work unit named by a digest item.
type DigestSubject struct {
	WorkUnitID string `json:"work_unit_id"`
	Type       string `json:"type"`
	Role       string `json:"role,omitempty"`
	Label      string `json:"label"`
}

// DigestItem is one active risk in the digest.
type DigestItem struct {
	ID                string          `json:"id"`
	Type              string          `json:"type"`
	Severity          string          `json:"severity"`
	ProjectID         string          `json:"project_id"`
	Reason            string          `json:"reason"`
	RecommendedAction string          `json:"recommended_action"`
	DetectedAt        time.Time       `json:"detected_at"`
	Subjects          []DigestSubject `json:"subjects"`
}

// DigestGroup holds the items of one severity.
type DigestGroup struct {
	Severity string       `json:"severity"`
	Count    int          `json:"count"`
	Items    []DigestItem `json:"items"`
}

// Digest is the active risk feed grouped by severity.
type Digest struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Total       int           `json:"total"`
	Groups      []DigestGroup `json:"groups"`
}

// Digest groups active risks by severity with best-effort subject labels. A resolver failure
// leaves labels empty.
func (e *RiskEngine) Digest(ctx context.Context, filters map[string]interface{}) (*Digest, error) {
	events, err := e.risks.ListActive(ctx, filters)
	if err != nil {
		return nil, err
	}

	var ids []string
	seen := map[string]bool{}
	for _, ev := range events {
		for _, s := range ev.Subjects {
			if !seen[s.WorkUnitID] {
				seen[s.WorkUnitID] = true
				ids = append(ids, s.WorkUnitID)
			}
		}
	}
	names := map[string]string{}
	if e.resolver != nil && len(ids) > 0 {
		resolved, err := e.resolver.ResolveNames(ctx, ids)
		if err != nil {
			e.logger.Warn("digest name resolution failed", zap.Error(err))
		} else {
			names = resolved
		}
	}

	groups := make(map[string]*DigestGroup, len(entity.Severities))
	digest := &Digest{GeneratedAt: e.now().UTC(), Total: len(events), Groups: make([]DigestGroup, 0, len(entity.Severities))}
	for _, sev := range entity.Severities {
		groups[sev] = &DigestGroup{Severity: sev, Items: []DigestItem{}}
	}
	for _, ev := range events {
		g, ok := groups[ev.Severity]
		if !ok {
			continue
		}
		item := DigestItem{
			ID:                ev.ID,
			Type:              ev.Type,
			Severity:          ev.Severity,
			ProjectID:         ev.ProjectID,
			Reason:            ev.Reason,
			RecommendedAction: ev.RecommendedAction,
			DetectedAt:        ev.DetectedAt,
			Subjects:          make([]DigestSubject, 0, len(ev.Subjects)),
		}
		for _, s := range ev.Subjects {
			item.Subjects = append(item.Subjects, DigestSubject{
				WorkUnitID: s.WorkUnitID,
				Type:       s.Type,
				Role:       s.Role,
				Label:      names[s.WorkUnitID],
			})
		}
		g.Items = append(g.Items, item)
		g.Count++
	}
	for _, sev := range entity.Severities {
		digest.Groups = append(digest.Groups, *groups[sev])
	}
	return digest, nil
}
