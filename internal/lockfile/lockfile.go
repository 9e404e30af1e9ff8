// Package lockfile implements the per-script write lock: an advisory
// filesystem mutex that serializes writers across processes and hosts.
// Each lock is a JSON record in <lockDir>/<scriptId>.lock created with
// O_EXCL; liveness is judged by PID probe locally and by timestamp age
// for foreign hosts.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gasops/gasd/internal/debug"
	"github.com/gasops/gasd/internal/types"
)

// ErrLockBusy indicates another live process holds the lock.
var ErrLockBusy = errors.New("script lock already held by another process")

// LockRecord is the JSON body of a lock file.
type LockRecord struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	ScriptID  string    `json:"scriptId"`
}

// Status reports lock state without blocking.
type Status struct {
	Locked bool        `json:"locked"`
	Holder *LockRecord `json:"holder,omitempty"`
}

// Metrics are cumulative counters for the manager's lifetime.
type Metrics struct {
	CurrentlyHeld int64 `json:"currentlyHeld"`
	StaleRemoved  int64 `json:"staleRemoved"`
	Contentions   int64 `json:"contentions"`
	Timeouts      int64 `json:"timeouts"`
}

const (
	// DefaultTimeout bounds a single acquire attempt.
	DefaultTimeout = 30 * time.Second
	// DefaultStaleAfter is how old a foreign-host lock must be before
	// it is presumed abandoned.
	DefaultStaleAfter = 5 * time.Minute

	backoffInitial = 100 * time.Millisecond
	backoffMax     = 2 * time.Second
)

// Manager coordinates exclusive write access per scriptId. One Manager
// per process; in-process callers queue on a per-key semaphore before
// touching the filesystem.
type Manager struct {
	lockDir    string
	hostname   string
	staleAfter time.Duration

	mu   sync.Mutex
	keys map[string]chan struct{} // per-script in-process semaphore
	held map[string]bool          // scripts this process currently holds

	currentlyHeld atomic.Int64
	staleRemoved  atomic.Int64
	contentions   atomic.Int64
	timeouts      atomic.Int64
}

// NewManager creates a lock manager rooted at lockDir. The directory is
// created 0700 on first use.
func NewManager(lockDir string) *Manager {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown-host"
	}
	return &Manager{
		lockDir:    lockDir,
		hostname:   hostname,
		staleAfter: DefaultStaleAfter,
		keys:       make(map[string]chan struct{}),
		held:       make(map[string]bool),
	}
}

// SetStaleAfter overrides the foreign-host staleness window.
func (m *Manager) SetStaleAfter(d time.Duration) {
	if d > 0 {
		m.staleAfter = d
	}
}

func (m *Manager) lockPath(scriptID string) string {
	return filepath.Join(m.lockDir, scriptID+".lock")
}

func (m *Manager) keySem(scriptID string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	sem, ok := m.keys[scriptID]
	if !ok {
		sem = make(chan struct{}, 1)
		m.keys[scriptID] = sem
	}
	return sem
}

// Acquire takes the exclusive write lock for scriptID, waiting up to
// timeout (DefaultTimeout when zero). On timeout it returns a
// LOCK_TIMEOUT error carrying the current holder.
func (m *Manager) Acquire(ctx context.Context, scriptID, operation string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	// Intra-process serialization first: one goroutine per script gets
	// to contend for the file at a time.
	sem := m.keySem(scriptID)
	select {
	case sem <- struct{}{}:
	default:
		m.contentions.Add(1)
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			m.timeouts.Add(1)
			return m.timeoutError(scriptID)
		}
	}

	if err := m.acquireFile(ctx, scriptID, operation); err != nil {
		<-sem
		return err
	}

	m.mu.Lock()
	m.held[scriptID] = true
	m.mu.Unlock()
	m.currentlyHeld.Add(1)
	debug.Logf("lock acquired: %s (%s)", scriptID, operation)
	return nil
}

// acquireFile performs the cross-process acquisition loop: atomic
// exclusive create, stale classification on collision, bounded backoff
// until the context deadline.
func (m *Manager) acquireFile(ctx context.Context, scriptID, operation string) error {
	if err := os.MkdirAll(m.lockDir, 0o700); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	wait := backoffInitial
	contended := false
	for {
		err := m.tryCreate(scriptID, operation)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrLockBusy) {
			return err
		}
		if !contended {
			contended = true
			m.contentions.Add(1)
		}

		if m.removeIfStale(scriptID) {
			continue // retry immediately, slot just opened
		}

		select {
		case <-time.After(wait):
			wait *= 2
			if wait > backoffMax {
				wait = backoffMax
			}
		case <-ctx.Done():
			m.timeouts.Add(1)
			return m.timeoutError(scriptID)
		}
	}
}

// tryCreate attempts the O_EXCL create of the lock file.
func (m *Manager) tryCreate(scriptID, operation string) error {
	f, err := os.OpenFile(m.lockPath(scriptID), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return ErrLockBusy
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	rec := LockRecord{
		PID:       os.Getpid(),
		Hostname:  m.hostname,
		Timestamp: time.Now().UTC(),
		Operation: operation,
		ScriptID:  scriptID,
	}
	data, err := json.Marshal(&rec)
	if err != nil {
		os.Remove(m.lockPath(scriptID))
		return fmt.Errorf("failed to marshal lock record: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		os.Remove(m.lockPath(scriptID))
		return fmt.Errorf("failed to write lock record: %w", err)
	}
	return nil
}

// removeIfStale reads the current holder and unlinks the lock when the
// holder is provably dead. Read or classification errors fall back to
// "assume live" so we keep waiting rather than stealing a lock.
func (m *Manager) removeIfStale(scriptID string) bool {
	rec, err := m.readRecord(scriptID)
	if err != nil {
		if os.IsNotExist(err) {
			return true // holder released between our attempts
		}
		debug.Logf("lock stale check failed for %s, assuming live: %v", scriptID, err)
		return false
	}
	if !m.isStale(rec) {
		return false
	}
	if err := os.Remove(m.lockPath(scriptID)); err != nil && !os.IsNotExist(err) {
		debug.Logf("failed to remove stale lock %s: %v", scriptID, err)
		return false
	}
	m.staleRemoved.Add(1)
	debug.Logf("removed stale lock: %s (pid %d on %s)", scriptID, rec.PID, rec.Hostname)
	return true
}

// isStale classifies a lock record. Local: stale when the PID is gone.
// Foreign host: stale when older than the staleness window (we cannot
// probe a remote PID).
func (m *Manager) isStale(rec *LockRecord) bool {
	if rec.Hostname == m.hostname {
		return !isProcessRunning(rec.PID)
	}
	return time.Since(rec.Timestamp) > m.staleAfter
}

func (m *Manager) readRecord(scriptID string) (*LockRecord, error) {
	data, err := os.ReadFile(m.lockPath(scriptID))
	if err != nil {
		return nil, err
	}
	var rec LockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("malformed lock record: %w", err)
	}
	return &rec, nil
}

func (m *Manager) timeoutError(scriptID string) error {
	e := &types.Error{
		Code:    types.CodeLockTimeout,
		Message: fmt.Sprintf("timed out waiting for write lock on %s", scriptID),
		Hints:   []string{"another writer holds this project; retry shortly or check `status`"},
	}
	if rec, err := m.readRecord(scriptID); err == nil {
		e.Details = types.LockHolderDetails{
			ScriptID:  rec.ScriptID,
			PID:       rec.PID,
			Hostname:  rec.Hostname,
			Operation: rec.Operation,
			HeldSince: rec.Timestamp.Format(time.RFC3339),
		}
	}
	return e
}

// Release drops the lock for scriptID. The lock file is removed only if
// this process owns it.
func (m *Manager) Release(scriptID string) error {
	m.mu.Lock()
	owned := m.held[scriptID]
	delete(m.held, scriptID)
	sem := m.keys[scriptID]
	m.mu.Unlock()

	if !owned {
		return nil
	}
	defer func() {
		m.currentlyHeld.Add(-1)
		if sem != nil {
			select {
			case <-sem:
			default:
			}
		}
	}()

	rec, err := m.readRecord(scriptID)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if rec.PID != os.Getpid() || rec.Hostname != m.hostname {
		// Someone stole the lock (stale removal on another host);
		// never unlink a record we do not own.
		debug.Warnf("lock for %s no longer owned by this process, not removing", scriptID)
		return nil
	}
	if err := os.Remove(m.lockPath(scriptID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	debug.Logf("lock released: %s", scriptID)
	return nil
}

// ReleaseAll drops every lock this process holds. Called on shutdown
// and from signal handlers.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.held))
	for id := range m.held {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		if err := m.Release(id); err != nil {
			debug.Warnf("release %s: %v", id, err)
		}
	}
}

// StatusFor reports whether scriptID is locked and by whom, without
// blocking.
func (m *Manager) StatusFor(scriptID string) Status {
	rec, err := m.readRecord(scriptID)
	if err != nil {
		return Status{Locked: false}
	}
	return Status{Locked: true, Holder: rec}
}

// CleanupStale scans the lock directory and removes every provably
// stale record. Returns the number removed.
func (m *Manager) CleanupStale() (int, error) {
	entries, err := os.ReadDir(m.lockDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lock") {
			continue
		}
		scriptID := strings.TrimSuffix(entry.Name(), ".lock")
		rec, err := m.readRecord(scriptID)
		if err != nil {
			continue
		}
		if m.isStale(rec) {
			if err := os.Remove(m.lockPath(scriptID)); err == nil {
				m.staleRemoved.Add(1)
				removed++
			}
		}
	}
	return removed, nil
}

// Snapshot returns current metric values.
func (m *Manager) Snapshot() Metrics {
	return Metrics{
		CurrentlyHeld: m.currentlyHeld.Load(),
		StaleRemoved:  m.staleRemoved.Load(),
		Contentions:   m.contentions.Load(),
		Timeouts:      m.timeouts.Load(),
	}
}
