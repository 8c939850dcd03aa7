package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/db"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/model"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/nutrient"
)

// SQLiteStore implements Store on a local modernc.org/sqlite database. It
// carries its own minimal catalog schema for local runs and tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// Foreign keys are enabled on every pooled connection.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	conn, err := sql.Open("sqlite", dsn+sep+"_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: conn}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS catalog_products (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	name            TEXT NOT NULL,
	brand           TEXT NOT NULL DEFAULT '',
	barcode         TEXT,
	ingredient_key  TEXT NOT NULL DEFAULT '',
	ingredient_name TEXT NOT NULL DEFAULT '',
	active          INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS nutrient_definitions (
	id   TEXT PRIMARY KEY,
	key  TEXT NOT NULL UNIQUE,
	unit TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS nutrient_values (
	id                     TEXT PRIMARY KEY,
	product_id             TEXT NOT NULL REFERENCES catalog_products(id),
	nutrient_definition_id TEXT NOT NULL REFERENCES nutrient_definitions(id),
	value_per_100g         REAL,
	source_type            TEXT NOT NULL,
	source_ref             TEXT NOT NULL DEFAULT '',
	confidence_score       REAL NOT NULL DEFAULT 0,
	evidence_grade         TEXT NOT NULL DEFAULT '',
	historical_exception   INTEGER NOT NULL DEFAULT 0,
	verification_status    TEXT NOT NULL DEFAULT 'NEEDS_REVIEW',
	retrieval_run_id       TEXT NOT NULL DEFAULT '',
	retrieved_at           DATETIME,
	created_by             TEXT NOT NULL DEFAULT 'agent',
	created_at             DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at             DATETIME NOT NULL DEFAULT (datetime('now')),
	version                INTEGER NOT NULL DEFAULT 1,
	UNIQUE (product_id, nutrient_definition_id)
);

CREATE TABLE IF NOT EXISTS verification_tasks (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	product_id      TEXT NOT NULL,
	task_type       TEXT NOT NULL,
	severity        TEXT NOT NULL,
	status          TEXT NOT NULL,
	title           TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	payload         TEXT NOT NULL DEFAULT '{}',
	created_by      TEXT NOT NULL,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL,
	version         INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_catalog_products_org ON catalog_products(organization_id);
CREATE INDEX IF NOT EXISTS idx_nutrient_values_product ON nutrient_values(product_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_verification_tasks_open_product
	ON verification_tasks(organization_id, task_type, product_id) WHERE status = 'OPEN';
`

var (
	sqliteUpsertValueSQL = mustBuild(db.BuildUpsert(db.SQLite, db.UpsertConfig{
		Table: "nutrient_values",
		Columns: []string{
			"id", "product_id", "nutrient_definition_id", "value_per_100g", "source_type", "source_ref",
			"confidence_score", "evidence_grade", "historical_exception", "verification_status",
			"retrieval_run_id", "retrieved_at", "created_by", "created_at", "updated_at", "version",
		},
		ConflictKeys: []string{"product_id", "nutrient_definition_id"},
		UpdateCols: []string{
			"value_per_100g", "source_type", "source_ref", "confidence_score", "evidence_grade",
			"historical_exception", "retrieval_run_id", "retrieved_at", "updated_at",
		},
		Literals:  []db.Assignment{{Column: "verification_status", Expr: "'NEEDS_REVIEW'"}},
		Increment: []string{"version"},
		Where:     `"nutrient_values"."verification_status" <> 'VERIFIED'`,
	}))

	sqliteInsertTaskSQL = mustBuild(db.BuildInsertIgnore(db.SQLite, "verification_tasks", []string{
		"id", "organization_id", "product_id", "task_type", "severity", "status", "title",
		"description", "payload", "created_by", "created_at", "updated_at", "version",
	}))

	sqliteUpsertProductSQL = mustBuild(db.BuildUpsert(db.SQLite, db.UpsertConfig{
		Table: "catalog_products",
		Columns: []string{
			"id", "organization_id", "name", "brand", "barcode", "ingredient_key", "ingredient_name",
		},
		ConflictKeys: []string{"id"},
	}))
)

const sqliteProductColumns = `id, organization_id, name, brand, barcode, ingredient_key, ingredient_name FROM catalog_products`

// Migrate creates the schema and seeds the canonical nutrient definitions.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	for _, key := range nutrient.Keys() {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO nutrient_definitions (id, key, unit) VALUES (?, ?, ?)`,
			"nd_"+key, key, nutrient.Unit(key),
		); err != nil {
			return eris.Wrapf(err, "sqlite: seed definition %s", key)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertCatalogProduct inserts or replaces a catalog product. It exists for
// local fixtures; the catalog application owns products in production.
func (s *SQLiteStore) UpsertCatalogProduct(ctx context.Context, p model.CatalogProduct) error {
	_, err := s.db.ExecContext(ctx, sqliteUpsertProductSQL,
		p.ID, p.OrganizationID, p.Name, p.Brand, p.Barcode, p.IngredientKey, p.IngredientName,
	)
	return eris.Wrapf(err, "sqlite: upsert product %s", p.ID)
}

func (s *SQLiteStore) ListCatalogProducts(ctx context.Context, organizationID string) ([]model.CatalogProduct, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteProductColumns+` WHERE organization_id = ? AND active = 1 ORDER BY ingredient_key, name`,
		organizationID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list products")
	}
	defer rows.Close()

	var products []model.CatalogProduct
	for rows.Next() {
		p, err := scanSQLiteProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate products")
	}

	err = s.attachNutrients(ctx, products, `
SELECT v.product_id, d.key, v.value_per_100g, v.verification_status
FROM nutrient_values v
JOIN nutrient_definitions d ON d.id = v.nutrient_definition_id
JOIN catalog_products p ON p.id = v.product_id
WHERE p.organization_id = ?`, organizationID)
	if err != nil {
		return nil, err
	}
	return products, nil
}

func (s *SQLiteStore) GetCatalogProduct(ctx context.Context, productID string) (*model.CatalogProduct, error) {
	p, err := scanSQLiteProduct(s.db.QueryRowContext(ctx, `SELECT `+sqliteProductColumns+` WHERE id = ?`, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: product %s", productID)
	}
	if err != nil {
		return nil, err
	}

	products := []model.CatalogProduct{*p}
	err = s.attachNutrients(ctx, products, `
SELECT v.product_id, d.key, v.value_per_100g, v.verification_status
FROM nutrient_values v
JOIN nutrient_definitions d ON d.id = v.nutrient_definition_id
WHERE v.product_id = ?`, productID)
	if err != nil {
		return nil, err
	}
	return &products[0], nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteProduct(row scannable) (*model.CatalogProduct, error) {
	var p model.CatalogProduct
	var barcode sql.NullString
	if err := row.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.Brand, &barcode, &p.IngredientKey, &p.IngredientName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan product")
	}
	if barcode.Valid {
		p.Barcode = &barcode.String
	}
	return &p, nil
}

func (s *SQLiteStore) attachNutrients(ctx context.Context, products []model.CatalogProduct, query string, arg any) error {
	if len(products) == 0 {
		return nil
	}
	index := make(map[string]int, len(products))
	for i, p := range products {
		index[p.ID] = i
	}

	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return eris.Wrap(err, "sqlite: load nutrients")
	}
	defer rows.Close()

	for rows.Next() {
		var productID, key, status string
		var value sql.NullFloat64
		if err := rows.Scan(&productID, &key, &value, &status); err != nil {
			return eris.Wrap(err, "sqlite: scan nutrient")
		}
		i, ok := index[productID]
		if !ok {
			continue
		}
		n := model.ExistingNutrient{VerificationStatus: model.VerificationStatus(status)}
		if value.Valid {
			v := value.Float64
			n.Value = &v
		}
		if products[i].Nutrients == nil {
			products[i].Nutrients = make(map[string]model.ExistingNutrient)
		}
		products[i].Nutrients[key] = n
	}
	return eris.Wrap(rows.Err(), "sqlite: iterate nutrients")
}

func (s *SQLiteStore) NutrientDefinitions(ctx context.Context) ([]model.NutrientDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, key, unit FROM nutrient_definitions ORDER BY key`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list nutrient definitions")
	}
	defer rows.Close()

	var defs []model.NutrientDefinition
	for rows.Next() {
		var d model.NutrientDefinition
		if err := rows.Scan(&d.ID, &d.Key, &d.Unit); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan nutrient definition")
		}
		defs = append(defs, d)
	}
	return defs, eris.Wrap(rows.Err(), "sqlite: iterate nutrient definitions")
}

func (s *SQLiteStore) UpsertNutrientValues(ctx context.Context, values []model.NutrientValue) (UpsertResult, error) {
	var res UpsertResult
	if len(values) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, eris.Wrap(err, "sqlite: begin upsert nutrients")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, v := range values {
		r, err := tx.ExecContext(ctx, sqliteUpsertValueSQL,
			uuid.New().String(), v.ProductID, v.NutrientDefinitionID, v.ValuePer100g,
			string(v.SourceType), v.SourceRef, v.ConfidenceScore, string(v.EvidenceGrade),
			v.HistoricalException, string(model.StatusNeedsReview),
			v.RetrievalRunID, v.RetrievedAt, DefaultCreatedBy, now, now, model.InitialVersion,
		)
		if err != nil {
			return UpsertResult{}, eris.Wrapf(err, "sqlite: upsert %s/%s", v.ProductID, v.NutrientKey)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return UpsertResult{}, eris.Wrap(err, "sqlite: rows affected")
		}
		if n == 0 {
			res.SkippedVerified++
			continue
		}
		res.Written++
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, eris.Wrap(err, "sqlite: commit upsert nutrients")
	}
	return res, nil
}

// NutrientValue returns the stored row for (productID, key).
func (s *SQLiteStore) NutrientValue(ctx context.Context, productID, key string) (*model.NutrientValue, error) {
	var v model.NutrientValue
	var value sql.NullFloat64
	var retrievedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
SELECT v.product_id, v.nutrient_definition_id, d.key, v.value_per_100g, v.source_type, v.source_ref,
	v.confidence_score, v.evidence_grade, v.historical_exception, v.verification_status,
	v.version, v.retrieval_run_id, v.retrieved_at
FROM nutrient_values v
JOIN nutrient_definitions d ON d.id = v.nutrient_definition_id
WHERE v.product_id = ? AND d.key = ?`, productID, key).Scan(
		&v.ProductID, &v.NutrientDefinitionID, &v.NutrientKey, &value, &v.SourceType, &v.SourceRef,
		&v.ConfidenceScore, &v.EvidenceGrade, &v.HistoricalException, &v.VerificationStatus,
		&v.Version, &v.RetrievalRunID, &retrievedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: nutrient %s/%s", productID, key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get nutrient %s/%s", productID, key)
	}
	v.ValuePer100g = value.Float64
	v.RetrievedAt = retrievedAt.Time
	return &v, nil
}

func (s *SQLiteStore) FindOpenTask(ctx context.Context, organizationID, productID string) (*model.VerificationTask, error) {
	var t model.VerificationTask
	var payload string
	err := s.db.QueryRowContext(ctx, `
SELECT id, organization_id, product_id, task_type, severity, status, title, description, payload,
	created_by, created_at, updated_at, version
FROM verification_tasks
WHERE organization_id = ? AND task_type = ? AND status = ? AND product_id = ?
LIMIT 1`, organizationID, string(model.TaskSourceRetrieval), string(model.TaskOpen), productID).Scan(
		&t.ID, &t.OrganizationID, &t.ProductID, &t.TaskType, &t.Severity, &t.Status, &t.Title,
		&t.Description, &payload, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt, &t.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find open task for %s", productID)
	}
	t.Payload = json.RawMessage(payload)
	return &t, nil
}

func (s *SQLiteStore) EnsureOpenTask(ctx context.Context, task model.VerificationTask) (bool, error) {
	existing, err := s.FindOpenTask(ctx, task.OrganizationID, task.ProductID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	task = withTaskDefaults(task)
	res, err := s.db.ExecContext(ctx, sqliteInsertTaskSQL,
		task.ID, task.OrganizationID, task.ProductID, string(task.TaskType), string(task.Severity),
		string(task.Status), task.Title, task.Description, string(task.Payload), task.CreatedBy,
		task.CreatedAt, task.UpdatedAt, task.Version,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert task for %s", task.ProductID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

// CloseTask marks a task CLOSED.
func (s *SQLiteStore) CloseTask(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE verification_tasks SET status = ?, updated_at = ?, version = version + 1 WHERE id = ?`,
		string(model.TaskClosed), time.Now().UTC(), taskID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: close task %s", taskID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: task %s", taskID)
	}
	return nil
}
