package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/refedo/OTS-sub007/internal/middleware"
	"github.com/refedo/OTS-sub007/internal/ops/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const JWTSecret = "ots-ops-test-secret"

var dbSeq int64

// TestEnv holds test environment resources
type TestEnv struct {
	DB     *gorm.DB
	Router *gin.Engine
	T      *testing.T
}

// SetupTestDB opens an isolated in-memory SQLite database migrated with the ops tables.
// The database lives until the test finishes.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := fmt.Sprintf("ots_test_%d_%d", time.Now().UnixNano(), atomic.AddInt64(&dbSeq, 1))
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", name)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	// one connection keeps the in-memory database alive and serializes writers
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(entity.AllModels()...); err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

// SetupRouter creates a gin test router
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// AuthGroup creates an API group with JWT auth middleware for testing
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret))
}

// GenerateTestToken creates a valid JWT token for testing
func GenerateTestToken(userID, name, email string, roles []string) string {
	if roles == nil {
		roles = []string{}
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"uid":   userID,
		"name":  name,
		"email": email,
		"roles": roles,
		"iss":   "ots",
		"iat":   now.Unix(),
		"exp":   now.Add(24 * time.Hour).Unix(),
		"jti":   fmt.Sprintf("test-jti-%d", now.UnixNano()),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(JWTSecret))
	return tokenString
}

// DefaultTestToken returns a token for a default planner test user
func DefaultTestToken() string {
	return GenerateTestToken("test-user-001", "Test Planner", "planner@test.com", []string{"planner"})
}

// DoRequest executes an HTTP request against the test router
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse parses the JSON response body into a handler.Response-like map
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// SeedWorkUnit inserts a work unit with the given window in UTC.
func SeedWorkUnit(t *testing.T, db *gorm.DB, projectID, unitType, module, refID, status string, start, end time.Time) *entity.WorkUnit {
	t.Helper()
	unit := &entity.WorkUnit{
		ID:              entity.NewID(),
		ProjectID:       projectID,
		Type:            unitType,
		ReferenceModule: module,
		ReferenceID:     refID,
		Status:          status,
		PlannedStart:    start.UTC(),
		PlannedEnd:      end.UTC(),
	}
	if err := db.Create(unit).Error; err != nil {
		t.Fatalf("Failed to seed work unit: %v", err)
	}
	return unit
}

// SeedDependency inserts an edge without validation.
func SeedDependency(t *testing.T, db *gorm.DB, from, to *entity.WorkUnit, depType string, lag int) *entity.WorkUnitDependency {
	t.Helper()
	dep := &entity.WorkUnitDependency{
		ID:             entity.NewID(),
		ProjectID:      from.ProjectID,
		FromWorkUnitID: from.ID,
		ToWorkUnitID:   to.ID,
		DependencyType: depType,
		LagDays:        lag,
	}
	if err := db.Create(dep).Error; err != nil {
		t.Fatalf("Failed to seed dependency: %v", err)
	}
	return dep
}

// SeedCapacity inserts an active capacity.
func SeedCapacity(t *testing.T, db *gorm.DB, resourceType, unit string, perDay float64, days int) *entity.ResourceCapacity {
	t.Helper()
	c := &entity.ResourceCapacity{
		ID:                 entity.NewID(),
		ResourceType:       resourceType,
		ResourceName:       resourceType,
		CapacityPerDay:     perDay,
		Unit:               unit,
		WorkingDaysPerWeek: days,
		IsActive:           true,
	}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("Failed to seed capacity: %v", err)
	}
	return c
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
