package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gasops/gasd/internal/types"
)

const testScriptID = "1aBcDeFgHiJkLmNoPqRsTuVwXyZ012345"

func TestAcquireRelease(t *testing.T) {
	m := NewManager(t.TempDir())

	if err := m.Acquire(context.Background(), testScriptID, "write", time.Second); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	st := m.StatusFor(testScriptID)
	if !st.Locked {
		t.Fatal("expected locked status")
	}
	if st.Holder.PID != os.Getpid() {
		t.Errorf("holder PID = %d, want %d", st.Holder.PID, os.Getpid())
	}
	if st.Holder.Operation != "write" {
		t.Errorf("holder operation = %q, want %q", st.Holder.Operation, "write")
	}

	if err := m.Release(testScriptID); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if m.StatusFor(testScriptID).Locked {
		t.Error("expected unlocked after release")
	}
}

func TestLockFilePermissions(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Join(dir, "locks"))
	if err := m.Acquire(context.Background(), testScriptID, "write", time.Second); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer m.Release(testScriptID)

	info, err := os.Stat(filepath.Join(dir, "locks", testScriptID+".lock"))
	if err != nil {
		t.Fatalf("stat lock file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("lock file perm = %o, want 600", perm)
	}
	dirInfo, err := os.Stat(filepath.Join(dir, "locks"))
	if err != nil {
		t.Fatalf("stat lock dir: %v", err)
	}
	if perm := dirInfo.Mode().Perm(); perm != 0o700 {
		t.Errorf("lock dir perm = %o, want 700", perm)
	}
}

func TestTimeoutCarriesHolder(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	// Plant a live foreign-looking lock held by this process under a
	// different manager, so it is never classified stale.
	other := NewManager(dir)
	if err := other.Acquire(context.Background(), testScriptID, "rsync", time.Second); err != nil {
		t.Fatalf("setup acquire failed: %v", err)
	}
	defer other.Release(testScriptID)

	err := m.Acquire(context.Background(), testScriptID, "write", 300*time.Millisecond)
	if err == nil {
		t.Fatal("expected LockTimeout")
	}
	var se *types.Error
	if !errors.As(err, &se) {
		t.Fatalf("expected structured error, got %T: %v", err, err)
	}
	if se.Code != types.CodeLockTimeout {
		t.Errorf("code = %s, want %s", se.Code, types.CodeLockTimeout)
	}
	details, ok := se.Details.(types.LockHolderDetails)
	if !ok {
		t.Fatalf("expected holder details, got %T", se.Details)
	}
	if details.Operation != "rsync" {
		t.Errorf("holder operation = %q, want rsync", details.Operation)
	}
	if m.Snapshot().Timeouts == 0 {
		t.Error("timeout metric not incremented")
	}
}

func TestStaleLocalLockRemoved(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	// Dead-PID lock from this host.
	rec := LockRecord{
		PID:       999999999,
		Hostname:  m.hostname,
		Timestamp: time.Now().UTC(),
		Operation: "write",
		ScriptID:  testScriptID,
	}
	writeRecord(t, dir, testScriptID, rec)

	if err := m.Acquire(context.Background(), testScriptID, "write", 2*time.Second); err != nil {
		t.Fatalf("Acquire over stale lock failed: %v", err)
	}
	defer m.Release(testScriptID)

	if m.Snapshot().StaleRemoved != 1 {
		t.Errorf("staleRemoved = %d, want 1", m.Snapshot().StaleRemoved)
	}
}

func TestForeignHostStaleness(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	// Fresh foreign lock: must be honored.
	writeRecord(t, dir, testScriptID, LockRecord{
		PID: 1, Hostname: "elsewhere", Timestamp: time.Now().UTC(),
		Operation: "write", ScriptID: testScriptID,
	})
	err := m.Acquire(context.Background(), testScriptID, "write", 300*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout against fresh foreign lock")
	}

	// Old foreign lock: removed on the next acquire.
	os.Remove(filepath.Join(dir, testScriptID+".lock"))
	writeRecord(t, dir, testScriptID, LockRecord{
		PID: 1, Hostname: "elsewhere", Timestamp: time.Now().UTC().Add(-10 * time.Minute),
		Operation: "write", ScriptID: testScriptID,
	})
	if err := m.Acquire(context.Background(), testScriptID, "write", 2*time.Second); err != nil {
		t.Fatalf("Acquire over old foreign lock failed: %v", err)
	}
	m.Release(testScriptID)
}

func TestMutualExclusionInProcess(t *testing.T) {
	m := NewManager(t.TempDir())

	const goroutines = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Acquire(context.Background(), testScriptID, "write", 10*time.Second); err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			if err := m.Release(testScriptID); err != nil {
				t.Errorf("Release: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("observed %d concurrent holders, want 1", maxSeen)
	}
}

func TestCleanupStale(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	writeRecord(t, dir, testScriptID, LockRecord{
		PID: 999999999, Hostname: m.hostname, Timestamp: time.Now().UTC(),
		Operation: "write", ScriptID: testScriptID,
	})
	writeRecord(t, dir, "2aBcDeFgHiJkLmNoPqRsTuVwXyZ01234", LockRecord{
		PID: os.Getpid(), Hostname: m.hostname, Timestamp: time.Now().UTC(),
		Operation: "write", ScriptID: "2aBcDeFgHiJkLmNoPqRsTuVwXyZ01234",
	})

	removed, err := m.CleanupStale()
	if err != nil {
		t.Fatalf("CleanupStale: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}

func TestReleaseAll(t *testing.T) {
	m := NewManager(t.TempDir())
	ids := []string{testScriptID, "2aBcDeFgHiJkLmNoPqRsTuVwXyZ01234"}
	for _, id := range ids {
		if err := m.Acquire(context.Background(), id, "write", time.Second); err != nil {
			t.Fatalf("Acquire %s: %v", id, err)
		}
	}
	m.ReleaseAll()
	for _, id := range ids {
		if m.StatusFor(id).Locked {
			t.Errorf("%s still locked after ReleaseAll", id)
		}
	}
	if held := m.Snapshot().CurrentlyHeld; held != 0 {
		t.Errorf("currentlyHeld = %d, want 0", held)
	}
}

func writeRecord(t *testing.T, dir, scriptID string, rec LockRecord) {
	t.Helper()
	data, err := json.Marshal(&rec)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, scriptID+".lock"), data, 0o600); err != nil {
		t.Fatalf("write record: %v", err)
	}
}
