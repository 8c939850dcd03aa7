package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/db"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/model"
)

// PostgresStore implements Store against the catalog application's Postgres
// database. Table and column names follow the application's schema.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(5)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// The catalog schema is owned by the application; the engine only adds the
// indexes its idempotent writes rely on.
const postgresMigration = `
CREATE UNIQUE INDEX IF NOT EXISTS "ProductNutrientValue_productId_nutrientDefinitionId_key"
	ON "ProductNutrientValue" ("productId", "nutrientDefinitionId");

CREATE UNIQUE INDEX IF NOT EXISTS "VerificationTask_open_source_retrieval_product_key"
	ON "VerificationTask" ("organizationId", (payload->>'productId'))
	WHERE "taskType" = 'SOURCE_RETRIEVAL' AND status = 'OPEN';
`

const pgProductColumns = `
	p.id, p."organizationId", p.name, coalesce(p.brand, ''), p.upc,
	coalesce(i."canonicalKey", ''), coalesce(i.name, '')
FROM "ProductCatalog" p
LEFT JOIN "IngredientCatalog" i ON i.id = p."ingredientId"`

var (
	pgUpsertValueSQL = mustBuild(db.BuildUpsert(db.Postgres, db.UpsertConfig{
		Table: "ProductNutrientValue",
		Columns: []string{
			"id", "productId", "nutrientDefinitionId", "valuePer100g", "sourceType", "sourceRef",
			"confidenceScore", "evidenceGrade", "historicalException", "verificationStatus",
			"retrievalRunId", "retrievedAt", "createdBy", "createdAt", "updatedAt", "version",
		},
		ConflictKeys: []string{"productId", "nutrientDefinitionId"},
		UpdateCols: []string{
			"valuePer100g", "sourceType", "sourceRef", "confidenceScore", "evidenceGrade",
			"historicalException", "retrievalRunId", "retrievedAt", "updatedAt",
		},
		Literals:  []db.Assignment{{Column: "verificationStatus", Expr: "'NEEDS_REVIEW'"}},
		Increment: []string{"version"},
		Where:     `"ProductNutrientValue"."verificationStatus" <> 'VERIFIED'`,
	}))

	pgInsertTaskSQL = mustBuild(db.BuildInsertIgnore(db.Postgres, "VerificationTask", []string{
		"id", "organizationId", "taskType", "severity", "status", "title", "description",
		"payload", "createdBy", "createdAt", "updatedAt", "version",
	}))
)

func mustBuild(sql string, err error) string {
	if err != nil {
		panic(err)
	}
	return sql
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ListCatalogProducts(ctx context.Context, organizationID string) ([]model.CatalogProduct, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT`+pgProductColumns+`
WHERE p."organizationId" = $1 AND p.active = true
ORDER BY i."canonicalKey", p.name`,
		organizationID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list products")
	}
	defer rows.Close()

	var products []model.CatalogProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate products")
	}

	if err := s.attachNutrients(ctx, products); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *PostgresStore) GetCatalogProduct(ctx context.Context, productID string) (*model.CatalogProduct, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, `SELECT`+pgProductColumns+`
WHERE p.id = $1`, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: product %s", productID)
	}
	if err != nil {
		return nil, err
	}

	products := []model.CatalogProduct{*p}
	if err := s.attachNutrients(ctx, products); err != nil {
		return nil, err
	}
	return &products[0], nil
}

func scanProduct(row pgx.Row) (*model.CatalogProduct, error) {
	var p model.CatalogProduct
	if err := row.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.Brand, &p.Barcode, &p.IngredientKey, &p.IngredientName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan product")
	}
	return &p, nil
}

// attachNutrients loads the stored nutrient rows for products in one query.
func (s *PostgresStore) attachNutrients(ctx context.Context, products []model.CatalogProduct) error {
	if len(products) == 0 {
		return nil
	}
	ids := make([]string, len(products))
	index := make(map[string]int, len(products))
	for i, p := range products {
		ids[i] = p.ID
		index[p.ID] = i
	}

	rows, err := s.pool.Query(ctx, `
SELECT v."productId", nd.key, v."valuePer100g", v."verificationStatus"
FROM "ProductNutrientValue" v
JOIN "NutrientDefinition" nd ON nd.id = v."nutrientDefinitionId"
WHERE v."productId" = any($1)`, ids)
	if err != nil {
		return eris.Wrap(err, "postgres: load nutrients")
	}
	defer rows.Close()

	for rows.Next() {
		var productID, key string
		var value *float64
		var status model.VerificationStatus
		if err := rows.Scan(&productID, &key, &value, &status); err != nil {
			return eris.Wrap(err, "postgres: scan nutrient")
		}
		i, ok := index[productID]
		if !ok {
			continue
		}
		if products[i].Nutrients == nil {
			products[i].Nutrients = make(map[string]model.ExistingNutrient)
		}
		products[i].Nutrients[key] = model.ExistingNutrient{Value: value, VerificationStatus: status}
	}
	return eris.Wrap(rows.Err(), "postgres: iterate nutrients")
}

func (s *PostgresStore) NutrientDefinitions(ctx context.Context) ([]model.NutrientDefinition, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, key, unit FROM "NutrientDefinition" ORDER BY key`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list nutrient definitions")
	}
	defer rows.Close()

	var defs []model.NutrientDefinition
	for rows.Next() {
		var d model.NutrientDefinition
		if err := rows.Scan(&d.ID, &d.Key, &d.Unit); err != nil {
			return nil, eris.Wrap(err, "postgres: scan nutrient definition")
		}
		defs = append(defs, d)
	}
	return defs, eris.Wrap(rows.Err(), "postgres: iterate nutrient definitions")
}

func (s *PostgresStore) UpsertNutrientValues(ctx context.Context, values []model.NutrientValue) (UpsertResult, error) {
	var res UpsertResult
	if len(values) == 0 {
		return res, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, eris.Wrap(err, "postgres: begin upsert nutrients")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	for _, v := range values {
		tag, err := tx.Exec(ctx, pgUpsertValueSQL,
			uuid.New().String(), v.ProductID, v.NutrientDefinitionID, v.ValuePer100g,
			string(v.SourceType), v.SourceRef, v.ConfidenceScore, string(v.EvidenceGrade),
			v.HistoricalException, string(model.StatusNeedsReview),
			v.RetrievalRunID, v.RetrievedAt, DefaultCreatedBy, now, now, model.InitialVersion,
		)
		if err != nil {
			return UpsertResult{}, eris.Wrapf(err, "postgres: upsert %s/%s", v.ProductID, v.NutrientKey)
		}
		if tag.RowsAffected() == 0 {
			res.SkippedVerified++
			continue
		}
		res.Written++
	}

	if err := tx.Commit(ctx); err != nil {
		return UpsertResult{}, eris.Wrap(err, "postgres: commit upsert nutrients")
	}
	return res, nil
}

func (s *PostgresStore) FindOpenTask(ctx context.Context, organizationID, productID string) (*model.VerificationTask, error) {
	var t model.VerificationTask
	var payload []byte
	err := s.pool.QueryRow(ctx, `
SELECT id, "organizationId", "taskType", severity, status, title, description, payload,
	"createdBy", "createdAt", "updatedAt", version
FROM "VerificationTask"
WHERE "organizationId" = $1
	AND "taskType" = 'SOURCE_RETRIEVAL'
	AND status = 'OPEN'
	AND payload->>'productId' = $2
LIMIT 1`, organizationID, productID).Scan(
		&t.ID, &t.OrganizationID, &t.TaskType, &t.Severity, &t.Status, &t.Title, &t.Description,
		&payload, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt, &t.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find open task for %s", productID)
	}
	t.ProductID = productID
	t.Payload = json.RawMessage(payload)
	return &t, nil
}

func (s *PostgresStore) EnsureOpenTask(ctx context.Context, task model.VerificationTask) (bool, error) {
	existing, err := s.FindOpenTask(ctx, task.OrganizationID, task.ProductID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	task = withTaskDefaults(task)
	tag, err := s.pool.Exec(ctx, pgInsertTaskSQL,
		task.ID, task.OrganizationID, string(task.TaskType), string(task.Severity), string(task.Status),
		task.Title, task.Description, string(task.Payload), task.CreatedBy,
		task.CreatedAt, task.UpdatedAt, task.Version,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert task for %s", task.ProductID)
	}
	return tag.RowsAffected() == 1, nil
}
