package gitops

import (
	"context"
	"fmt"

	"github.com/gasops/gasd/internal/gas"
	"github.com/gasops/gasd/internal/types"
	"github.com/gasops/gasd/internal/wrap"
)

// WriteStrategy replaces or creates a single file's full content.
type WriteStrategy struct {
	base
	Path         string
	Content      string
	ExpectedHash string
	Force        bool
}

// NewWriteStrategy builds the write strategy.
func NewWriteStrategy(remote gas.Client, scriptID, path, content, expectedHash string, force bool) (*WriteStrategy, error) {
	if path == "" {
		return nil, types.NewError(types.CodeValidation, "path is required")
	}
	return &WriteStrategy{
		base: newBase(remote, scriptID), Path: path, Content: content,
		ExpectedHash: expectedHash, Force: force,
	}, nil
}

// Name implements Strategy.
func (s *WriteStrategy) Name() string { return "write" }

// ComputeChanges implements Strategy.
func (s *WriteStrategy) ComputeChanges(ctx context.Context) (map[string]string, error) {
	if err := s.fetch(ctx); err != nil {
		return nil, err
	}
	if err := s.checkConflict("write", s.Path, s.ExpectedHash, s.Content, s.Force); err != nil {
		return nil, err
	}
	return map[string]string{s.Path: s.Content}, nil
}

// ApplyChanges implements Strategy.
func (s *WriteStrategy) ApplyChanges(ctx context.Context, validated map[string]string) (map[string]string, error) {
	return s.applyList(ctx, validated)
}

// MoveStrategy renames a file. A pre-existing destination is an error.
type MoveStrategy struct {
	base
	From string
	To   string
}

// NewMoveStrategy builds the move strategy.
func NewMoveStrategy(remote gas.Client, scriptID, from, to string) (*MoveStrategy, error) {
	if from == "" || to == "" {
		return nil, types.NewError(types.CodeValidation, "mv requires both from and to")
	}
	return &MoveStrategy{base: newBase(remote, scriptID), From: from, To: to}, nil
}

// Name implements Strategy.
func (s *MoveStrategy) Name() string { return "move" }

// ComputeChanges implements Strategy.
func (s *MoveStrategy) ComputeChanges(ctx context.Context) (map[string]string, error) {
	if err := s.fetch(ctx); err != nil {
		return nil, err
	}
	text, err := s.sourceText(s.From)
	if err != nil {
		return nil, err
	}
	if existing := s.find(types.StripExtension(s.To)); existing != nil {
		return nil, types.NewError(types.CodeValidation,
			fmt.Sprintf("mv destination already exists: %s", s.To),
			"delete the destination first if you mean to overwrite it")
	}
	return map[string]string{s.From: "", s.To: text}, nil
}

// ApplyChanges implements Strategy.
func (s *MoveStrategy) ApplyChanges(ctx context.Context, validated map[string]string) (map[string]string, error) {
	return s.applyList(ctx, validated)
}

// CopyStrategy duplicates a file.
type CopyStrategy struct {
	base
	From string
	To   string
}

// NewCopyStrategy builds the copy strategy.
func NewCopyStrategy(remote gas.Client, scriptID, from, to string) (*CopyStrategy, error) {
	if from == "" || to == "" {
		return nil, types.NewError(types.CodeValidation, "cp requires both from and to")
	}
	return &CopyStrategy{base: newBase(remote, scriptID), From: from, To: to}, nil
}

// Name implements Strategy.
func (s *CopyStrategy) Name() string { return "copy" }

// ComputeChanges implements Strategy.
func (s *CopyStrategy) ComputeChanges(ctx context.Context) (map[string]string, error) {
	if err := s.fetch(ctx); err != nil {
		return nil, err
	}
	text, err := s.sourceText(s.From)
	if err != nil {
		return nil, err
	}
	if existing := s.find(types.StripExtension(s.To)); existing != nil {
		return nil, types.NewError(types.CodeValidation,
			fmt.Sprintf("cp destination already exists: %s", s.To))
	}
	return map[string]string{s.To: text}, nil
}

// ApplyChanges implements Strategy.
func (s *CopyStrategy) ApplyChanges(ctx context.Context, validated map[string]string) (map[string]string, error) {
	return s.applyList(ctx, validated)
}

// DeleteStrategy removes a file from the project.
type DeleteStrategy struct {
	base
	Path string
}

// NewDeleteStrategy builds the delete strategy.
func NewDeleteStrategy(remote gas.Client, scriptID, path string) (*DeleteStrategy, error) {
	if path == "" {
		return nil, types.NewError(types.CodeValidation, "rm requires a path")
	}
	return &DeleteStrategy{base: newBase(remote, scriptID), Path: path}, nil
}

// Name implements Strategy.
func (s *DeleteStrategy) Name() string { return "delete" }

// ComputeChanges implements Strategy.
func (s *DeleteStrategy) ComputeChanges(ctx context.Context) (map[string]string, error) {
	if err := s.fetch(ctx); err != nil {
		return nil, err
	}
	if s.find(types.StripExtension(s.Path)) == nil {
		return nil, types.NewError(types.CodeNotFound, fmt.Sprintf("file not found: %s", s.Path))
	}
	return map[string]string{s.Path: ""}, nil
}

// ApplyChanges implements Strategy.
func (s *DeleteStrategy) ApplyChanges(ctx context.Context, validated map[string]string) (map[string]string, error) {
	return s.applyList(ctx, validated)
}

// sourceText returns the unwrapped user text of an existing file.
func (b *base) sourceText(path string) (string, error) {
	name := types.StripExtension(path)
	f := b.find(name)
	if f == nil {
		return "", types.NewError(types.CodeNotFound, fmt.Sprintf("file not found: %s", path))
	}
	text, _ := wrap.UnwrapFile(name, f.Kind, f.Source)
	return text, nil
}
