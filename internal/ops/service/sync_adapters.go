package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/refedo/OTS-sub007/internal/ops/entity"
	"go.uber.org/zap"
)

// ========== Task ==========

// TaskRecord is a project task as published by the task module.
type TaskRecord struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id"`
	Title         string     `json:"title"`
	Department    string     `json:"department"`
	Status        string     `json:"status"`
	AssigneeID    string     `json:"assignee_id"`
	StartDate     *time.Time `json:"start_date"`
	DueDate       *time.Time `json:"due_date"`
	StructureType string     `json:"structure_type"`
}

// TaskAdapter mirrors tasks. The work unit type follows the owning department.
type TaskAdapter struct {
	s *SyncService
}

// TaskWorkUnitType maps a department name to a work unit type.
func TaskWorkUnitType(department string) string {
	d := strings.ToLower(department)
	switch {
	case containsAny(d, "procurement", "purchasing"):
		return entity.WorkUnitTypeProcurement
	case containsAny(d, "document", "control"):
		return entity.WorkUnitTypeDocumentation
	case containsAny(d, "qc", "quality"):
		return entity.WorkUnitTypeQC
	case containsAny(d, "production", "fabrication"):
		return entity.WorkUnitTypeProduction
	}
	return entity.WorkUnitTypeDesign
}

var drawingEstimates = []struct {
	keyword  string
	drawings float64
}{
	{"shop drawing", 10},
	{"detail", 8},
	{"general arrangement", 3},
	{"connection", 6},
	{"anchor bolt", 4},
	{"erection", 5},
}

// EstimateTaskQuantity estimates the drawing count of a design task from its title; other
// types count as one unit of work.
func EstimateTaskQuantity(unitType, title string) float64 {
	if unitType != entity.WorkUnitTypeDesign {
		return 1
	}
	t := strings.ToLower(title)
	for _, e := range drawingEstimates {
		if strings.Contains(t, e.keyword) {
			return e.drawings
		}
	}
	return 5
}

// OnCreate registers a task. Tasks without a project are ignored.
func (a *TaskAdapter) OnCreate(ctx context.Context, rec *TaskRecord) (*entity.WorkUnit, error) {
	if rec.ProjectID == "" {
		a.s.logger.Debug("task without project skipped", zap.String("task_id", rec.ID))
		return nil, nil
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: task id is required", ErrInvalidInput)
	}
	unitType := TaskWorkUnitType(rec.Department)
	start, end := a.s.window(rec.StartDate, rec.DueDate, defaultWindowDays)
	qty := EstimateTaskQuantity(unitType, rec.Title)
	return a.s.register(ctx, UpsertWorkUnitInput{
		ProjectID:       rec.ProjectID,
		Type:            unitType,
		ReferenceModule: entity.ModuleTask,
		ReferenceID:     rec.ID,
		InitialStatus:   TaskStatuses.Map(rec.Status),
		PlannedStart:    start,
		PlannedEnd:      end,
		Quantity:        &qty,
		OwnerID:         rec.AssigneeID,
	}, rec.StructureType)
}

func (a *TaskAdapter) OnStatusChange(ctx context.Context, taskID, status string) (*entity.WorkUnit, error) {
	return a.s.transition(ctx, entity.ModuleTask, taskID, TaskStatuses.Map(status))
}

// ========== DocumentSubmission ==========

// DocumentSubmissionRecord is a document sent to the client for review.
type DocumentSubmissionRecord struct {
	ID             string     `json:"id"`
	ProjectID      string     `json:"project_id"`
	Title          string     `json:"title"`
	Status         string     `json:"status"`
	HandledBy      string     `json:"handled_by"`
	SubmissionDate *time.Time `json:"submission_date"`
	ReviewDueDate  *time.Time `json:"review_due_date"`
	StructureType  string     `json:"structure_type"`
}

type DocumentSubmissionAdapter struct {
	s *SyncService
}

func (a *DocumentSubmissionAdapter) OnCreate(ctx context.Context, rec *DocumentSubmissionRecord) (*entity.WorkUnit, error) {
	if rec.ID == "" || rec.ProjectID == "" {
		return nil, fmt.Errorf("%w: document submission id and project id are required", ErrInvalidInput)
	}
	start, end := a.s.window(rec.SubmissionDate, rec.ReviewDueDate, defaultWindowDays)
	qty := 1.0
	return a.s.register(ctx, UpsertWorkUnitInput{
		ProjectID:       rec.ProjectID,
		Type:            entity.WorkUnitTypeDocumentation,
		ReferenceModule: entity.ModuleDocumentSubmission,
		ReferenceID:     rec.ID,
		InitialStatus:   DocumentSubmissionStatuses.Map(rec.Status),
		PlannedStart:    start,
		PlannedEnd:      end,
		Quantity:        &qty,
		OwnerID:         rec.HandledBy,
	}, rec.StructureType)
}

func (a *DocumentSubmissionAdapter) OnStatusChange(ctx context.Context, submissionID, status string) (*entity.WorkUnit, error) {
	return a.s.transition(ctx, entity.ModuleDocumentSubmission, submissionID, DocumentSubmissionStatuses.Map(status))
}

// ========== WorkOrder ==========

// WorkOrderRecord is a production work order, optionally raised from a task.
type WorkOrderRecord struct {
	ID               string     `json:"id"`
	ProjectID        string     `json:"project_id"`
	TaskID           string     `json:"task_id"`
	Status           string     `json:"status"`
	AssignedTo       string     `json:"assigned_to"`
	PlannedStartDate *time.Time `json:"planned_start_date"`
	PlannedEndDate   *time.Time `json:"planned_end_date"`
	TotalWeight      *float64   `json:"total_weight"`
	StructureType    string     `json:"structure_type"`
}

type WorkOrderAdapter struct {
	s *SyncService
}

func (a *WorkOrderAdapter) OnCreate(ctx context.Context, rec *WorkOrderRecord) (*entity.WorkUnit, error) {
	if rec.ID == "" || rec.ProjectID == "" {
		return nil, fmt.Errorf("%w: work order id and project id are required", ErrInvalidInput)
	}
	start, end := a.s.window(rec.PlannedStartDate, rec.PlannedEndDate, defaultWindowDays)
	qty := 1.0
	return a.s.register(ctx, UpsertWorkUnitInput{
		ProjectID:       rec.ProjectID,
		Type:            entity.WorkUnitTypeProduction,
		ReferenceModule: entity.ModuleWorkOrder,
		ReferenceID:     rec.ID,
		InitialStatus:   WorkOrderStatuses.Map(rec.Status),
		PlannedStart:    start,
		PlannedEnd:      end,
		Quantity:        &qty,
		Weight:          rec.TotalWeight,
		OwnerID:         rec.AssignedTo,
	}, rec.StructureType, explicitLink{module: entity.ModuleTask, referenceID: rec.TaskID})
}

func (a *WorkOrderAdapter) OnStatusChange(ctx context.Context, workOrderID, status string) (*entity.WorkUnit, error) {
	return a.s.transition(ctx, entity.ModuleWorkOrder, workOrderID, WorkOrderStatuses.Map(status))
}

// ========== RFIRequest ==========

const rfiWindowDays = 2

// RFIRecord is an inspection request, optionally tied to a work order.
type RFIRecord struct {
	ID             string     `json:"id"`
	ProjectID      string     `json:"project_id"`
	WorkOrderID    string     `json:"work_order_id"`
	InspectionType string     `json:"inspection_type"`
	Status         string     `json:"status"`
	RequestedBy    string     `json:"requested_by"`
	RequestDate    *time.Time `json:"request_date"`
	WorkUnitType   string     `json:"work_unit_type"`
	StructureType  string     `json:"structure_type"`
}

type RFIAdapter struct {
	s *SyncService
}

// OnCreate registers an inspection request as QC unless the record asks for PROCUREMENT.
func (a *RFIAdapter) OnCreate(ctx context.Context, rec *RFIRecord) (*entity.WorkUnit, error) {
	if rec.ID == "" || rec.ProjectID == "" {
		return nil, fmt.Errorf("%w: rfi id and project id are required", ErrInvalidInput)
	}
	unitType := entity.WorkUnitTypeQC
	if strings.EqualFold(rec.WorkUnitType, entity.WorkUnitTypeProcurement) {
		unitType = entity.WorkUnitTypeProcurement
	}
	start, end := a.s.window(rec.RequestDate, nil, rfiWindowDays)
	qty := 1.0
	return a.s.register(ctx, UpsertWorkUnitInput{
		ProjectID:       rec.ProjectID,
		Type:            unitType,
		ReferenceModule: entity.ModuleRFIRequest,
		ReferenceID:     rec.ID,
		InitialStatus:   RFIStatuses.Map(rec.Status),
		PlannedStart:    start,
		PlannedEnd:      end,
		Quantity:        &qty,
		OwnerID:         rec.RequestedBy,
	}, rec.StructureType, explicitLink{module: entity.ModuleWorkOrder, referenceID: rec.WorkOrderID})
}

func (a *RFIAdapter) OnStatusChange(ctx context.Context, rfiID, status string) (*entity.WorkUnit, error) {
	return a.s.transition(ctx, entity.ModuleRFIRequest, rfiID, RFIStatuses.Map(status))
}

// ========== AssemblyPart ==========

// AssemblyPartRecord is one process step of an assembly part.
type AssemblyPartRecord struct {
	PartID            string     `json:"part_id"`
	ProjectID         string     `json:"project_id"`
	ProcessType       string     `json:"process_type"`
	TotalQuantity     float64    `json:"total_quantity"`
	ProcessedQuantity float64    `json:"processed_quantity"`
	Weight            *float64   `json:"weight"`
	PlannedStart      *time.Time `json:"planned_start"`
	PlannedEnd        *time.Time `json:"planned_end"`
	StructureType     string     `json:"structure_type"`
}

// AssemblyPartReference is the reference id of a part's process step.
func AssemblyPartReference(partID, processType string) string {
	return partID + ":" + strings.ToLower(strings.TrimSpace(processType))
}

// AssemblyPartWorkUnitType maps a process type to a work unit type.
func AssemblyPartWorkUnitType(processType string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(processType)) {
	case "production", "fabrication":
		return entity.WorkUnitTypeProduction, true
	case "qc", "inspection":
		return entity.WorkUnitTypeQC, true
	}
	return "", false
}

type AssemblyPartAdapter struct {
	s *SyncService
}

func (a *AssemblyPartAdapter) OnCreate(ctx context.Context, rec *AssemblyPartRecord) (*entity.WorkUnit, error) {
	if rec.PartID == "" || rec.ProjectID == "" {
		return nil, fmt.Errorf("%w: part id and project id are required", ErrInvalidInput)
	}
	unitType, ok := AssemblyPartWorkUnitType(rec.ProcessType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown process type %q", ErrInvalidInput, rec.ProcessType)
	}
	start, end := a.s.window(rec.PlannedStart, rec.PlannedEnd, defaultWindowDays)
	qty := rec.TotalQuantity
	return a.s.register(ctx, UpsertWorkUnitInput{
		ProjectID:       rec.ProjectID,
		Type:            unitType,
		ReferenceModule: entity.ModuleAssemblyPart,
		ReferenceID:     AssemblyPartReference(rec.PartID, rec.ProcessType),
		InitialStatus:   AssemblyPartStatus(rec.ProcessedQuantity, rec.TotalQuantity),
		PlannedStart:    start,
		PlannedEnd:      end,
		Quantity:        &qty,
		Weight:          rec.Weight,
	}, rec.StructureType)
}

// OnStatusChange applies an already-canonical status to the part step referenceID
// ("partId:process").
func (a *AssemblyPartAdapter) OnStatusChange(ctx context.Context, referenceID, status string) (*entity.WorkUnit, error) {
	if !entity.IsValidWorkUnitStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return a.s.transition(ctx, entity.ModuleAssemblyPart, referenceID, status)
}

// OnProgress derives the status from processed quantities.
func (a *AssemblyPartAdapter) OnProgress(ctx context.Context, referenceID string, processed, total float64) (*entity.WorkUnit, error) {
	return a.OnStatusChange(ctx, referenceID, AssemblyPartStatus(processed, total))
}
