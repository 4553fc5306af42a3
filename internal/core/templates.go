package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PresetMatchThreshold is the minimum header overlap for a preset to be
// offered for a file.
const PresetMatchThreshold = 0.7

// MappingPreset is a saved, user-confirmed column mapping that can be
// reapplied to files from the same source.
type MappingPreset struct {
	ID        uuid.UUID     `json:"id"`
	Name      string        `json:"name"`
	Headers   []string      `json:"headers"`
	Mapping   ColumnMapping `json:"mapping"`
	CreatedAt time.Time     `json:"created_at"`
}

// PresetMatch is a preset with its overlap score for a file.
type PresetMatch struct {
	Preset MappingPreset `json:"preset"`
	Score  float64       `json:"score"`
}

// SavePreset validates and stores a mapping preset.
func (s *Service) SavePreset(ctx context.Context, name string, headers []string, mapping ColumnMapping) (*MappingPreset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalidInputf("preset name is required")
	}
	if errs := ValidateMapping(mapping, headers); len(errs) > 0 {
		return nil, &MappingValidationError{Errors: errs}
	}

	p := &MappingPreset{
		ID:        uuid.New(),
		Name:      name,
		Headers:   headers,
		Mapping:   mapping,
		CreatedAt: time.Now(),
	}
	if err := s.store.SavePreset(ctx, p); err != nil {
		return nil, fmt.Errorf("save preset: %w", err)
	}
	return p, nil
}

// ListPresets returns all saved presets.
func (s *Service) ListPresets(ctx context.Context) ([]MappingPreset, error) {
	presets, err := s.store.ListPresets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}
	return presets, nil
}

// MatchPresets returns the presets whose headers overlap headers by at
// least PresetMatchThreshold, best first.
func MatchPresets(headers []string, presets []MappingPreset) []PresetMatch {
	var matches []PresetMatch
	for _, p := range presets {
		score := matchPresetHeaders(headers, p.Headers)
		if score >= PresetMatchThreshold {
			matches = append(matches, PresetMatch{Preset: p, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

// matchPresetHeaders is the share of preset headers present in the file.
func matchPresetHeaders(fileHeaders, presetHeaders []string) float64 {
	if len(presetHeaders) == 0 {
		return 0
	}

	set := make(map[string]bool, len(fileHeaders))
	for _, h := range fileHeaders {
		set[NormalizeHeader(h)] = true
	}

	matched := 0
	for _, h := range presetHeaders {
		if set[NormalizeHeader(h)] {
			matched++
		}
	}
	return float64(matched) / float64(len(presetHeaders))
}

// ApplyPreset adapts a preset to the exact header spelling of a file.
// Preset columns missing from the file are left out.
func ApplyPreset(p MappingPreset, headers []string) ColumnMapping {
	byNorm := make(map[string]string, len(p.Mapping))
	for h, field := range p.Mapping {
		byNorm[NormalizeHeader(h)] = field
	}

	m := make(ColumnMapping, len(headers))
	for _, h := range headers {
		if field, ok := byNorm[NormalizeHeader(h)]; ok {
			m[h] = field
		} else {
			m[h] = IgnoreField
		}
	}
	return m
}
