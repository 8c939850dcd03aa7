package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUpsert_Postgres(t *testing.T) {
	sql, err := BuildUpsert(Postgres, UpsertConfig{
		Table:        "ProductNutrientValue",
		Columns:      []string{"id", "productId", "nutrientDefinitionId", "valuePer100g"},
		ConflictKeys: []string{"productId", "nutrientDefinitionId"},
		UpdateCols:   []string{"valuePer100g"},
		Literals:     []Assignment{{Column: "verificationStatus", Expr: "'NEEDS_REVIEW'"}},
		Increment:    []string{"version"},
		Where:        `"ProductNutrientValue"."verificationStatus" <> 'VERIFIED'`,
	})
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "ProductNutrientValue" ("id", "productId", "nutrientDefinitionId", "valuePer100g") `+
			`VALUES ($1, $2, $3, $4) ON CONFLICT ("productId", "nutrientDefinitionId") DO UPDATE SET `+
			`"valuePer100g" = excluded."valuePer100g", "verificationStatus" = 'NEEDS_REVIEW', `+
			`"version" = "ProductNutrientValue"."version" + 1 `+
			`WHERE "ProductNutrientValue"."verificationStatus" <> 'VERIFIED'`,
		sql)
}

func TestBuildUpsert_SQLiteDefaultsUpdateCols(t *testing.T) {
	sql, err := BuildUpsert(SQLite, UpsertConfig{
		Table:        "nutrient_values",
		Columns:      []string{"product_id", "key", "value"},
		ConflictKeys: []string{"product_id", "key"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "nutrient_values" ("product_id", "key", "value") VALUES (?, ?, ?) `+
			`ON CONFLICT ("product_id", "key") DO UPDATE SET "value" = excluded."value"`,
		sql)
}

func TestBuildUpsert_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  UpsertConfig
		want string
	}{
		{"no columns", UpsertConfig{Table: "t", ConflictKeys: []string{"id"}}, "no columns specified"},
		{"no conflict keys", UpsertConfig{Table: "t", Columns: []string{"id"}}, "no conflict keys specified"},
		{"nothing to update", UpsertConfig{Table: "t", Columns: []string{"id"}, ConflictKeys: []string{"id"}}, "nothing to update"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildUpsert(Postgres, tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBuildInsertIgnore(t *testing.T) {
	pg, err := BuildInsertIgnore(Postgres, "VerificationTask", []string{"id", "title"})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "VerificationTask" ("id", "title") VALUES ($1, $2) ON CONFLICT DO NOTHING`, pg)

	lite, err := BuildInsertIgnore(SQLite, "verification_tasks", []string{"id", "title"})
	require.NoError(t, err)
	assert.Equal(t, `INSERT OR IGNORE INTO "verification_tasks" ("id", "title") VALUES (?, ?)`, lite)

	_, err = BuildInsertIgnore(SQLite, "t", nil)
	assert.Error(t, err)
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"public.ProductCatalog", `"public"."ProductCatalog"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"id", "name", "value"})
	assert.Equal(t, `"id", "name", "value"`, result)
}

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "$3", Postgres.Placeholder(3))
	assert.Equal(t, "?", SQLite.Placeholder(3))
}
