package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/model"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/nutrient"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedProduct(t *testing.T, st *SQLiteStore, p model.CatalogProduct) {
	t.Helper()
	require.NoError(t, st.UpsertCatalogProduct(context.Background(), p))
}

func value(productID, key string, v float64) model.NutrientValue {
	return model.NutrientValue{
		ProductID:            productID,
		NutrientDefinitionID: "nd_" + key,
		NutrientKey:          key,
		ValuePer100g:         v,
		SourceType:           model.SourceDerived,
		SourceRef:            "fallback:quinoa_cooked|fdc:168917",
		ConfidenceScore:      0.85,
		EvidenceGrade:        model.GradeGovernmentGeneric,
		RetrievalRunID:       "sweep-20260301T120000Z",
		RetrievedAt:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSQLite_MigrateSeedsDefinitions(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	defs, err := st.NutrientDefinitions(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, len(nutrient.Keys()))
	for _, d := range defs {
		assert.Equal(t, nutrient.Unit(d.Key), d.Unit, d.Key)
	}

	require.NoError(t, st.Migrate(ctx), "migrate is idempotent")
	defs, err = st.NutrientDefinitions(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, len(nutrient.Keys()))
}

func TestSQLite_ListCatalogProducts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedProduct(t, st, model.CatalogProduct{ID: "p1", OrganizationID: "org-1", Name: "Quinoa", IngredientKey: "quinoa_cooked"})
	seedProduct(t, st, model.CatalogProduct{ID: "p2", OrganizationID: "org-1", Name: "Oats", Barcode: ptr("0123456789012"), IngredientKey: "oats_rolled_dry"})
	seedProduct(t, st, model.CatalogProduct{ID: "p3", OrganizationID: "org-2", Name: "Other org"})

	_, err := st.UpsertNutrientValues(ctx, []model.NutrientValue{value("p2", "kcal", 379)})
	require.NoError(t, err)

	products, err := st.ListCatalogProducts(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, products, 2)

	assert.Equal(t, "p2", products[0].ID, "ordered by ingredient key")
	assert.Equal(t, "0123456789012", products[0].BarcodeValue())
	assert.True(t, products[0].HasValue("kcal"))
	assert.Equal(t, []string{"protein_g", "carb_g", "fat_g"}, products[0].MissingCore())

	assert.Nil(t, products[1].Barcode)
	assert.Len(t, products[1].MissingCore(), 4)
}

func TestSQLite_GetCatalogProduct(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedProduct(t, st, model.CatalogProduct{ID: "p1", OrganizationID: "org-1", Name: "Quinoa", IngredientName: "Quinoa"})

	p, err := st.GetCatalogProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Quinoa", p.IngredientName)

	_, err = st.GetCatalogProduct(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_UpsertNutrientValues_InsertThenUpdate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedProduct(t, st, model.CatalogProduct{ID: "p1", OrganizationID: "org-1", Name: "Quinoa"})

	res, err := st.UpsertNutrientValues(ctx, []model.NutrientValue{value("p1", "kcal", 120), value("p1", "protein_g", 4.4)})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Written: 2}, res)

	got, err := st.NutrientValue(ctx, "p1", "kcal")
	require.NoError(t, err)
	assert.Equal(t, 120.0, got.ValuePer100g)
	assert.Equal(t, model.InitialVersion, got.Version)
	assert.Equal(t, model.StatusNeedsReview, got.VerificationStatus)
	assert.Equal(t, model.GradeGovernmentGeneric, got.EvidenceGrade)

	updated := value("p1", "kcal", 125)
	updated.HistoricalException = true
	updated.RetrievalRunID = "sweep-20260302T120000Z"
	res, err = st.UpsertNutrientValues(ctx, []model.NutrientValue{updated})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Written: 1}, res)

	got, err = st.NutrientValue(ctx, "p1", "kcal")
	require.NoError(t, err)
	assert.Equal(t, 125.0, got.ValuePer100g)
	assert.Equal(t, 2, got.Version)
	assert.True(t, got.HistoricalException)
	assert.Equal(t, "sweep-20260302T120000Z", got.RetrievalRunID)
}

func TestSQLite_UpsertNutrientValues_ResetsRejectedToNeedsReview(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedProduct(t, st, model.CatalogProduct{ID: "p1", OrganizationID: "org-1", Name: "Quinoa"})

	_, err := st.UpsertNutrientValues(ctx, []model.NutrientValue{value("p1", "kcal", 120)})
	require.NoError(t, err)
	_, err = st.db.ExecContext(ctx, `UPDATE nutrient_values SET verification_status = 'REJECTED'`)
	require.NoError(t, err)

	_, err = st.UpsertNutrientValues(ctx, []model.NutrientValue{value("p1", "kcal", 121)})
	require.NoError(t, err)

	got, err := st.NutrientValue(ctx, "p1", "kcal")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNeedsReview, got.VerificationStatus)
}

func TestSQLite_UpsertNutrientValues_KeepsVerified(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedProduct(t, st, model.CatalogProduct{ID: "p1", OrganizationID: "org-1", Name: "Quinoa"})

	_, err := st.UpsertNutrientValues(ctx, []model.NutrientValue{value("p1", "kcal", 120)})
	require.NoError(t, err)
	_, err = st.db.ExecContext(ctx, `UPDATE nutrient_values SET verification_status = 'VERIFIED'`)
	require.NoError(t, err)

	res, err := st.UpsertNutrientValues(ctx, []model.NutrientValue{value("p1", "kcal", 999), value("p1", "fat_g", 1.9)})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Written: 1, SkippedVerified: 1}, res)

	got, err := st.NutrientValue(ctx, "p1", "kcal")
	require.NoError(t, err)
	assert.Equal(t, 120.0, got.ValuePer100g)
	assert.Equal(t, model.StatusVerified, got.VerificationStatus)
	assert.Equal(t, 1, got.Version)
}

func TestSQLite_UpsertNutrientValues_AtomicPerProduct(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedProduct(t, st, model.CatalogProduct{ID: "p1", OrganizationID: "org-1", Name: "Quinoa"})

	bad := value("p1", "kcal", 120)
	bad.NutrientDefinitionID = "nd_does_not_exist"
	_, err := st.UpsertNutrientValues(ctx, []model.NutrientValue{value("p1", "protein_g", 4.4), bad})
	require.Error(t, err)

	_, err = st.NutrientValue(ctx, "p1", "protein_g")
	assert.True(t, errors.Is(err, ErrNotFound), "first write rolled back")
}

func TestSQLite_EnsureOpenTask(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	task := model.VerificationTask{
		OrganizationID: "org-1",
		ProductID:      "p1",
		Severity:       model.SeverityHigh,
		Title:          "Review autofilled nutrients: Quinoa",
		Payload:        []byte(`{"productId":"p1"}`),
	}

	created, err := st.EnsureOpenTask(ctx, task)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = st.EnsureOpenTask(ctx, task)
	require.NoError(t, err)
	assert.False(t, created, "one open task per product")

	open, err := st.FindOpenTask(ctx, "org-1", "p1")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, model.TaskSourceRetrieval, open.TaskType)
	assert.Equal(t, model.TaskOpen, open.Status)
	assert.Equal(t, DefaultCreatedBy, open.CreatedBy)
	assert.JSONEq(t, `{"productId":"p1"}`, string(open.Payload))

	other, err := st.FindOpenTask(ctx, "org-2", "p1")
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, st.CloseTask(ctx, open.ID))
	created, err = st.EnsureOpenTask(ctx, task)
	require.NoError(t, err)
	assert.True(t, created, "closed tasks do not block a new one")
}

func TestSQLite_OpenTaskUniqueIndex(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	task := withTaskDefaults(model.VerificationTask{
		OrganizationID: "org-1", ProductID: "p1", Severity: model.SeverityHigh, Title: "t",
	})
	insert := func(id string) int64 {
		res, err := st.db.ExecContext(ctx, sqliteInsertTaskSQL,
			id, task.OrganizationID, task.ProductID, string(task.TaskType), string(task.Severity),
			string(task.Status), task.Title, task.Description, string(task.Payload), task.CreatedBy,
			task.CreatedAt, task.UpdatedAt, task.Version,
		)
		require.NoError(t, err)
		n, err := res.RowsAffected()
		require.NoError(t, err)
		return n
	}
	assert.EqualValues(t, 1, insert("a"))
	assert.EqualValues(t, 0, insert("b"), "partial unique index ignores the duplicate")
}

func TestSQLite_CloseTask_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.CloseTask(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestOpen_SQLite(t *testing.T) {
	s, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "open.db"), 0)
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
}
