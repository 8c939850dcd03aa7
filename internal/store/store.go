package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// UpsertResult counts the outcome of one UpsertNutrientValues call.
type UpsertResult struct {
	Written int `json:"written"`
	// SkippedVerified counts rows left alone because a human verified them.
	SkippedVerified int `json:"skippedVerified"`
}

// Store is the catalog storage contract of the nutrient engine.
type Store interface {
	// Catalog
	ListCatalogProducts(ctx context.Context, organizationID string) ([]model.CatalogProduct, error)
	GetCatalogProduct(ctx context.Context, productID string) (*model.CatalogProduct, error)
	NutrientDefinitions(ctx context.Context) ([]model.NutrientDefinition, error)

	// UpsertNutrientValues writes all values for one product in a single
	// transaction, keyed on (product, nutrient definition). VERIFIED rows
	// are never overwritten.
	UpsertNutrientValues(ctx context.Context, values []model.NutrientValue) (UpsertResult, error)

	// Verification tasks
	FindOpenTask(ctx context.Context, organizationID, productID string) (*model.VerificationTask, error)
	EnsureOpenTask(ctx context.Context, task model.VerificationTask) (bool, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the store for driver ("postgres" or "sqlite").
func Open(ctx context.Context, driver, dsn string, maxConns int32) (Store, error) {
	switch driver {
	case "postgres":
		return NewPostgres(ctx, dsn, &PoolConfig{MaxConns: maxConns})
	case "sqlite":
		if dsn == "" {
			dsn = "nutrient-autopilot.db"
		}
		return NewSQLite(dsn)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

// DefaultCreatedBy is recorded on rows the engine creates.
const DefaultCreatedBy = "agent"

func withTaskDefaults(t model.VerificationTask) model.VerificationTask {
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.TaskType == "" {
		t.TaskType = model.TaskSourceRetrieval
	}
	if t.Status == "" {
		t.Status = model.TaskOpen
	}
	if t.CreatedBy == "" {
		t.CreatedBy = DefaultCreatedBy
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	if t.Version == 0 {
		t.Version = model.InitialVersion
	}
	if len(t.Payload) == 0 {
		t.Payload = []byte(`{}`)
	}
	return t
}
