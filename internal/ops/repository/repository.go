package repository

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Errors
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// IsDuplicate reports whether err is a unique-constraint violation from any supported driver.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicate) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// translate maps driver errors onto repository sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if IsDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

// Repositories groups the ops repositories.
type Repositories struct {
	db          *gorm.DB
	WorkUnit    *WorkUnitRepository
	Dependency  *DependencyRepository
	Blueprint   *BlueprintRepository
	Risk        *RiskRepository
	Capacity    *CapacityRepository
	SyncFailure *SyncFailureRepository
}

// NewRepositories builds all repositories over one connection.
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:          db,
		WorkUnit:    NewWorkUnitRepository(db),
		Dependency:  NewDependencyRepository(db),
		Blueprint:   NewBlueprintRepository(db),
		Risk:        NewRiskRepository(db),
		Capacity:    NewCapacityRepository(db),
		SyncFailure: NewSyncFailureRepository(db),
	}
}

// DB returns the underlying connection.
func (r *Repositories) DB() *gorm.DB {
	return r.db
}
