package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchPresets(t *testing.T) {
	presets := []MappingPreset{
		{Name: "partial", Headers: []string{"Kod", "Nazwa", "Cena", "Opis"}},
		{Name: "exact", Headers: []string{"KOD", "nazwa", "Cena"}},
		{Name: "other", Headers: []string{"SKU", "Title"}},
		{Name: "empty"},
	}

	matches := MatchPresets([]string{"Kod", "Nazwa", "Cena"}, presets)

	require.Len(t, matches, 2)
	assert.Equal(t, "exact", matches[0].Preset.Name)
	assert.Equal(t, 1.0, matches[0].Score)
	assert.Equal(t, "partial", matches[1].Preset.Name)
	assert.InDelta(t, 0.75, matches[1].Score, 1e-9)
}

func TestApplyPreset(t *testing.T) {
	p := MappingPreset{
		Headers: []string{"Kod", "Nazwa", "Stary"},
		Mapping: ColumnMapping{"Kod": FieldSKU, "Nazwa": FieldName, "Stary": FieldDescription},
	}

	m := ApplyPreset(p, []string{"KOD", "nazwa", "Uwagi"})

	assert.Equal(t, ColumnMapping{"KOD": FieldSKU, "nazwa": FieldName, "Uwagi": IgnoreField}, m)
}

func TestService_SavePreset(t *testing.T) {
	s, store := newTestService(t, Options{})
	ctx := context.Background()
	headers := []string{"Kod", "Nazwa"}

	_, err := s.SavePreset(ctx, " ", headers, ColumnMapping{"Kod": FieldSKU})
	assert.ErrorContains(t, err, "name is required")
	assert.True(t, IsInvalidInput(err))

	_, err = s.SavePreset(ctx, "bad", headers, ColumnMapping{"Nazwa": FieldName})
	assert.ErrorContains(t, err, "invalid column mapping")
	assert.True(t, IsInvalidInput(err))

	p, err := s.SavePreset(ctx, " Hurtownia ", headers, ColumnMapping{"Kod": FieldSKU, "Nazwa": FieldName})
	require.NoError(t, err)
	assert.Equal(t, "Hurtownia", p.Name)

	list, err := s.ListPresets(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)
	assert.Len(t, store.presets, 1)
}
