package service

import (
	"errors"

	"github.com/refedo/OTS-sub007/internal/ops/repository"
)

// Errors returned by the ops services. Callers match them with errors.Is.
var (
	ErrNotFound              = repository.ErrNotFound
	ErrDuplicateEdge         = errors.New("dependency already exists, update it instead")
	ErrSelfLoop              = errors.New("a work unit cannot depend on itself")
	ErrCycle                 = errors.New("dependency would create a cycle")
	ErrCrossProject          = errors.New("work units belong to different projects")
	ErrNoBlueprint           = errors.New("no active dependency blueprint")
	ErrCapacityNotConfigured = errors.New("no capacity configured for resource")
	ErrInvalidInput          = errors.New("invalid input")
	ErrDuplicateName         = errors.New("name already in use")
)
