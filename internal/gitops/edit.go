package gitops

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gasops/gasd/internal/gas"
	"github.com/gasops/gasd/internal/types"
	"github.com/gasops/gasd/internal/wrap"
)

// Limits on edit batches, enforced before any I/O.
const (
	MaxEdits          = 20
	MaxSearchTextLen  = 1000
	DefaultSimilarity = 0.8
)

// Edit is one exact find/replace instruction.
type Edit struct {
	SearchText  string `json:"searchText"`
	ReplaceText string `json:"replaceText"`
}

// FuzzyEdit is one similarity-matched instruction for aider.
type FuzzyEdit struct {
	SearchText          string  `json:"searchText"`
	ReplaceText         string  `json:"replaceText"`
	SimilarityThreshold float64 `json:"similarityThreshold,omitempty"`
}

// EditStrategy applies exact-match edits to a single file.
type EditStrategy struct {
	base
	Path         string
	Edits        []Edit
	ExpectedHash string
	Force        bool

	editsApplied int
}

// NewEditStrategy builds the edit strategy after validating limits.
func NewEditStrategy(remote gas.Client, scriptID, path string, edits []Edit, expectedHash string, force bool) (*EditStrategy, error) {
	if err := validateEditCount(len(edits)); err != nil {
		return nil, err
	}
	for i, e := range edits {
		if len(e.SearchText) == 0 {
			return nil, types.NewError(types.CodeValidation, fmt.Sprintf("edits[%d].searchText is empty", i))
		}
		if len(e.SearchText) > MaxSearchTextLen {
			return nil, types.NewError(types.CodeValidation,
				fmt.Sprintf("edits[%d].searchText exceeds %d characters", i, MaxSearchTextLen))
		}
	}
	return &EditStrategy{
		base: newBase(remote, scriptID), Path: path, Edits: edits,
		ExpectedHash: expectedHash, Force: force,
	}, nil
}

// Name implements Strategy.
func (s *EditStrategy) Name() string { return "edit" }

// EditsApplied reports how many edits landed, for the tool response.
func (s *EditStrategy) EditsApplied() int { return s.editsApplied }

// ComputeChanges implements Strategy: exact substring replacement with
// overlap detection across the batch.
func (s *EditStrategy) ComputeChanges(ctx context.Context) (map[string]string, error) {
	if err := s.fetch(ctx); err != nil {
		return nil, err
	}
	name := types.StripExtension(s.Path)
	f := s.find(name)
	if f == nil {
		return nil, types.NewError(types.CodeNotFound, fmt.Sprintf("file not found: %s", s.Path))
	}
	if err := s.checkConflict("edit", s.Path, s.ExpectedHash, "", s.Force); err != nil {
		return nil, err
	}

	text, _ := wrap.UnwrapFile(name, f.Kind, f.Source)

	type span struct {
		start, end int
		replace    string
	}
	spans := make([]span, 0, len(s.Edits))
	for i, e := range s.Edits {
		idx := strings.Index(text, e.SearchText)
		if idx < 0 {
			return nil, types.NewError(types.CodeValidation,
				fmt.Sprintf("edits[%d]: search text not found in %s", i, s.Path))
		}
		spans = append(spans, span{idx, idx + len(e.SearchText), e.ReplaceText})
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			return nil, types.NewError(types.CodeValidation,
				fmt.Sprintf("overlap detected: edit ranges [%d,%d) and [%d,%d) intersect",
					spans[i-1].start, spans[i-1].end, spans[i].start, spans[i].end))
		}
	}

	// Apply back-to-front so earlier offsets stay valid.
	out := text
	for i := len(spans) - 1; i >= 0; i-- {
		out = out[:spans[i].start] + spans[i].replace + out[spans[i].end:]
	}
	s.editsApplied = len(spans)
	return map[string]string{s.Path: out}, nil
}

// ApplyChanges implements Strategy.
func (s *EditStrategy) ApplyChanges(ctx context.Context, validated map[string]string) (map[string]string, error) {
	return s.applyList(ctx, validated)
}

// AiderStrategy applies fuzzy (Levenshtein-similarity) edits.
type AiderStrategy struct {
	base
	Path         string
	Edits        []FuzzyEdit
	ExpectedHash string
	Force        bool

	editsApplied int
}

// NewAiderStrategy builds the aider strategy after validating limits.
func NewAiderStrategy(remote gas.Client, scriptID, path string, edits []FuzzyEdit, expectedHash string, force bool) (*AiderStrategy, error) {
	if err := validateEditCount(len(edits)); err != nil {
		return nil, err
	}
	for i, e := range edits {
		if len(e.SearchText) == 0 {
			return nil, types.NewError(types.CodeValidation, fmt.Sprintf("edits[%d].searchText is empty", i))
		}
		if len(e.SearchText) > MaxSearchTextLen {
			return nil, types.NewError(types.CodeValidation,
				fmt.Sprintf("edits[%d].searchText exceeds %d characters", i, MaxSearchTextLen))
		}
		if e.SimilarityThreshold < 0 || e.SimilarityThreshold > 1 {
			return nil, types.NewError(types.CodeValidation,
				fmt.Sprintf("edits[%d].similarityThreshold must be within [0,1]", i))
		}
	}
	return &AiderStrategy{
		base: newBase(remote, scriptID), Path: path, Edits: edits,
		ExpectedHash: expectedHash, Force: force,
	}, nil
}

// Name implements Strategy.
func (s *AiderStrategy) Name() string { return "aider" }

// EditsApplied reports how many edits landed.
func (s *AiderStrategy) EditsApplied() int { return s.editsApplied }

// ComputeChanges implements Strategy: each edit replaces its best
// fuzzy match, applied sequentially so later edits see earlier results.
func (s *AiderStrategy) ComputeChanges(ctx context.Context) (map[string]string, error) {
	if err := s.fetch(ctx); err != nil {
		return nil, err
	}
	name := types.StripExtension(s.Path)
	f := s.find(name)
	if f == nil {
		return nil, types.NewError(types.CodeNotFound, fmt.Sprintf("file not found: %s", s.Path))
	}
	if err := s.checkConflict("aider", s.Path, s.ExpectedHash, "", s.Force); err != nil {
		return nil, err
	}

	text, _ := wrap.UnwrapFile(name, f.Kind, f.Source)
	for i, e := range s.Edits {
		threshold := e.SimilarityThreshold
		if threshold == 0 {
			threshold = DefaultSimilarity
		}
		start, end, sim, ok := fuzzyMatch(text, e.SearchText)
		if !ok || sim < threshold {
			return nil, types.NewError(types.CodeValidation,
				fmt.Sprintf("edits[%d]: no match above threshold %.2f (best %.2f)", i, threshold, sim),
				"lower similarityThreshold or adjust searchText to match the file")
		}
		text = text[:start] + e.ReplaceText + text[end:]
		s.editsApplied++
	}
	return map[string]string{s.Path: text}, nil
}

// ApplyChanges implements Strategy.
func (s *AiderStrategy) ApplyChanges(ctx context.Context, validated map[string]string) (map[string]string, error) {
	return s.applyList(ctx, validated)
}

func validateEditCount(n int) error {
	if n == 0 {
		return types.NewError(types.CodeValidation, "edits[] must not be empty")
	}
	if n > MaxEdits {
		return types.NewError(types.CodeValidation, fmt.Sprintf("edits[] exceeds the maximum of %d", MaxEdits))
	}
	return nil
}
