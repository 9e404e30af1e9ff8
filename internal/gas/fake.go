package gas

import (
	"context"
	"sync"

	"github.com/gasops/gasd/internal/types"
)

// Fake is an in-memory Client for tests: a flat file list per project,
// optional failure injection, and call counters for ordering
// assertions.
type Fake struct {
	mu       sync.Mutex
	projects map[string][]types.File

	// FailNextUpdate makes the next UpdateProjectContent return err.
	FailNextUpdate error

	GetCalls    int
	UpdateCalls int
}

// NewFake creates an empty fake Remote.
func NewFake() *Fake {
	return &Fake{projects: make(map[string][]types.File)}
}

// Seed replaces a project's file list outside the Client interface.
func (f *Fake) Seed(scriptID string, files []types.File) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[scriptID] = cloneFiles(files)
}

// Files returns a copy of the project's current file list.
func (f *Fake) Files(scriptID string) []types.File {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneFiles(f.projects[scriptID])
}

// GetProjectContent implements Client.
func (f *Fake) GetProjectContent(ctx context.Context, scriptID string) ([]types.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetCalls++
	return cloneFiles(f.projects[scriptID]), nil
}

// UpdateProjectContent implements Client.
func (f *Fake) UpdateProjectContent(ctx context.Context, scriptID string, files []types.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UpdateCalls++
	if err := f.FailNextUpdate; err != nil {
		f.FailNextUpdate = nil
		return err
	}
	f.projects[scriptID] = cloneFiles(files)
	return nil
}

// ListDeployments implements Client.
func (f *Fake) ListDeployments(ctx context.Context, scriptID string) ([]Deployment, error) {
	return nil, nil
}

// UpdateDeployment implements Client.
func (f *Fake) UpdateDeployment(ctx context.Context, scriptID string, dep Deployment) error {
	return nil
}

func cloneFiles(files []types.File) []types.File {
	out := make([]types.File, len(files))
	copy(out, files)
	return out
}
