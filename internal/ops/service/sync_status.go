package service

import (
	"strings"

	"github.com/refedo/OTS-sub007/internal/ops/entity"
)

// StatusTable maps a source module's status labels onto canonical work unit statuses.
// Lookups ignore case and surrounding space.
type StatusTable struct {
	entries  map[string]string
	fallback string
}

// NewStatusTable builds a table; unknown labels map to fallback.
func NewStatusTable(fallback string, entries map[string]string) StatusTable {
	t := StatusTable{entries: make(map[string]string, len(entries)), fallback: fallback}
	for k, v := range entries {
		t.entries[normalizeStatus(k)] = v
	}
	return t
}

func normalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Map returns the canonical status for a source label.
func (t StatusTable) Map(label string) string {
	if v, ok := t.entries[normalizeStatus(label)]; ok {
		return v
	}
	return t.fallback
}

var (
	TaskStatuses = NewStatusTable(entity.WorkUnitStatusNotStarted, map[string]string{
		"Pending":              entity.WorkUnitStatusNotStarted,
		"In Progress":          entity.WorkUnitStatusInProgress,
		"Waiting for Approval": entity.WorkUnitStatusInProgress,
		"Completed":            entity.WorkUnitStatusCompleted,
		"On Hold":              entity.WorkUnitStatusBlocked,
		"Blocked":              entity.WorkUnitStatusBlocked,
	})

	// Anything short of approval is still being worked on.
	DocumentSubmissionStatuses = NewStatusTable(entity.WorkUnitStatusInProgress, map[string]string{
		"Client Approved":        entity.WorkUnitStatusCompleted,
		"Approved":               entity.WorkUnitStatusCompleted,
		"Approved with Comments": entity.WorkUnitStatusCompleted,
		"Released":               entity.WorkUnitStatusCompleted,
	})

	WorkOrderStatuses = NewStatusTable(entity.WorkUnitStatusNotStarted, map[string]string{
		"Pending":     entity.WorkUnitStatusNotStarted,
		"Planned":     entity.WorkUnitStatusNotStarted,
		"In Progress": entity.WorkUnitStatusInProgress,
		"Started":     entity.WorkUnitStatusInProgress,
		"On Hold":     entity.WorkUnitStatusBlocked,
		"Completed":   entity.WorkUnitStatusCompleted,
		"Closed":      entity.WorkUnitStatusCompleted,
	})

	RFIStatuses = NewStatusTable(entity.WorkUnitStatusNotStarted, map[string]string{
		"Pending":          entity.WorkUnitStatusNotStarted,
		"Submitted":        entity.WorkUnitStatusNotStarted,
		"Open":             entity.WorkUnitStatusNotStarted,
		"In Progress":      entity.WorkUnitStatusInProgress,
		"Under Inspection": entity.WorkUnitStatusInProgress,
		"Rejected":         entity.WorkUnitStatusBlocked,
		"Not Approved":     entity.WorkUnitStatusBlocked,
		"Approved":         entity.WorkUnitStatusCompleted,
		"Closed":           entity.WorkUnitStatusCompleted,
		"Completed":        entity.WorkUnitStatusCompleted,
	})
)

// AssemblyPartStatus derives a status from processed versus total quantity.
func AssemblyPartStatus(processed, total float64) string {
	switch {
	case total > 0 && processed >= total:
		return entity.WorkUnitStatusCompleted
	case processed > 0:
		return entity.WorkUnitStatusInProgress
	}
	return entity.WorkUnitStatusNotStarted
}
