package source

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/model"
	"github.com/zemo2003/nutrition-autopilot-sub001/pkg/fdc"
)

type mockMatcher struct {
	mock.Mock
}

func (m *mockMatcher) SearchAndGetBestMatch(ctx context.Context, query string) (*fdc.Match, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fdc.Match), args.Error(1)
}

func (m *mockMatcher) MatchByUPC(ctx context.Context, upc string) (*fdc.Match, error) {
	args := m.Called(ctx, upc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fdc.Match), args.Error(1)
}

func (m *mockMatcher) Reset() {
	m.Called()
}

func TestGovernmentSource_Gather(t *testing.T) {
	full := map[string]float64{"kcal": 120, "protein_g": 4.4, "carb_g": 21.3, "fat_g": 1.92}

	tests := []struct {
		name      string
		match     *fdc.Match
		err       error
		wantNil   bool
		wantErr   bool
		wantConf  float64
		wantGrade model.EvidenceGrade
	}{
		{
			name:      "generic",
			match:     &fdc.Match{FDCID: 168917, DataType: fdc.DataTypeSRLegacy, Nutrients: full},
			wantConf:  ConfidenceGovernmentGeneric,
			wantGrade: model.GradeGovernmentGeneric,
		},
		{
			name:      "foundation",
			match:     &fdc.Match{FDCID: 168917, DataType: fdc.DataTypeFoundation, Nutrients: full},
			wantConf:  ConfidenceGovernmentGeneric,
			wantGrade: model.GradeGovernmentGeneric,
		},
		{
			name:      "branded",
			match:     &fdc.Match{FDCID: 168917, DataType: fdc.DataTypeBranded, Nutrients: full},
			wantConf:  ConfidenceGovernmentBranded,
			wantGrade: model.GradeGovernmentBranded,
		},
		{
			name: "three core macros pass the gate",
			match: &fdc.Match{FDCID: 168917, DataType: fdc.DataTypeSRLegacy,
				Nutrients: map[string]float64{"kcal": 120, "protein_g": 4.4, "fat_g": 1.92}},
			wantConf:  ConfidenceGovernmentGeneric,
			wantGrade: model.GradeGovernmentGeneric,
		},
		{
			name: "two core macros fail the gate",
			match: &fdc.Match{FDCID: 168917, DataType: fdc.DataTypeSRLegacy,
				Nutrients: map[string]float64{"kcal": 120, "protein_g": 4.4, "sodium_mg": 7}},
			wantNil: true,
		},
		{name: "no hits", wantNil: true},
		{name: "upstream error", err: errors.New("boom"), wantNil: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockMatcher{}
			m.On("SearchAndGetBestMatch", mock.Anything, "Quinoa, cooked").Return(tt.match, tt.err)

			c, err := NewGovernmentSource(m, 0).Gather(context.Background(), model.CatalogProduct{ID: "p1", Name: " Quinoa, cooked "})
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			if tt.wantNil {
				assert.Nil(t, c)
				return
			}
			require.NotNil(t, c)
			assert.Equal(t, MethodGovernment, c.Method)
			assert.Equal(t, model.SourceDerived, c.SourceType)
			assert.Equal(t, tt.wantConf, c.Confidence)
			assert.Equal(t, tt.wantGrade, c.EvidenceGrade)
			assert.Equal(t, "https://fdc.nal.usda.gov/fdc-app.html#/food-details/168917/nutrients", c.SourceRef)
			m.AssertExpectations(t)
		})
	}
}

func TestGovernmentSource_EmptyNameAndReset(t *testing.T) {
	m := &mockMatcher{}
	m.On("Reset").Return()
	src := NewGovernmentSource(m, 0)

	c, err := src.Gather(context.Background(), model.CatalogProduct{ID: "p1", Name: "  "})
	require.NoError(t, err)
	assert.Nil(t, c)
	m.AssertNotCalled(t, "SearchAndGetBestMatch", mock.Anything, mock.Anything)

	src.Reset()
	m.AssertCalled(t, "Reset")
}

func TestGovernmentSource_BarcodeFirst(t *testing.T) {
	branded := &fdc.Match{FDCID: 2345678, DataType: fdc.DataTypeBranded,
		Nutrients: map[string]float64{"kcal": 380, "protein_g": 13, "carb_g": 68, "fat_g": 7}}
	barcode := "0 12345-67890 5"
	p := model.CatalogProduct{ID: "p1", Name: "Old Fashioned Oats", Brand: "Acme", Barcode: &barcode}

	m := &mockMatcher{}
	m.On("MatchByUPC", mock.Anything, "012345678905").Return(branded, nil)

	c, err := NewGovernmentSource(m, 0).Gather(context.Background(), p)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, model.GradeGovernmentBranded, c.EvidenceGrade)
	assert.Equal(t, "https://fdc.nal.usda.gov/fdc-app.html#/food-details/2345678/nutrients", c.SourceRef)
	m.AssertNotCalled(t, "SearchAndGetBestMatch", mock.Anything, mock.Anything)
}

func TestGovernmentSource_BarcodeMissFallsBackToName(t *testing.T) {
	generic := &fdc.Match{FDCID: 173904, DataType: fdc.DataTypeSRLegacy,
		Nutrients: map[string]float64{"kcal": 379, "protein_g": 13.2, "carb_g": 67.7, "fat_g": 6.5}}
	barcode := "012345678905"
	p := model.CatalogProduct{ID: "p1", Name: "Old Fashioned Oats", Brand: "Acme",
		IngredientName: "Rolled oats", Barcode: &barcode}

	m := &mockMatcher{}
	m.On("MatchByUPC", mock.Anything, "012345678905").Return(nil, nil)
	m.On("SearchAndGetBestMatch", mock.Anything, "Rolled oats Acme Old Fashioned Oats").Return(generic, nil)

	c, err := NewGovernmentSource(m, 0).Gather(context.Background(), p)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, ConfidenceGovernmentGeneric, c.Confidence)
	m.AssertExpectations(t)
}

func TestGovernmentSource_BarcodeError(t *testing.T) {
	barcode := "012345678905"
	m := &mockMatcher{}
	m.On("MatchByUPC", mock.Anything, "012345678905").Return(nil, errors.New("circuit open"))

	c, err := NewGovernmentSource(m, 0).Gather(context.Background(), model.CatalogProduct{ID: "p1", Name: "Oats", Barcode: &barcode})
	require.Error(t, err)
	assert.Nil(t, c)
	m.AssertNotCalled(t, "SearchAndGetBestMatch", mock.Anything, mock.Anything)
}

func TestGovernmentQuery(t *testing.T) {
	tests := []struct {
		name string
		p    model.CatalogProduct
		want string
	}{
		{"name only", model.CatalogProduct{Name: " Quinoa, cooked "}, "Quinoa, cooked"},
		{"all parts", model.CatalogProduct{IngredientName: "quinoa", Brand: "Acme", Name: "Tri-color quinoa"}, "quinoa Acme Tri-color quinoa"},
		{"repeated part", model.CatalogProduct{IngredientName: "Quinoa", Name: "quinoa"}, "Quinoa"},
		{"empty", model.CatalogProduct{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GovernmentQuery(tt.p))
		})
	}
}
