package registry

import (
	"sort"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestRegistry() *Registry {
	return New(zap.NewNop())
}

// ageSession backdates a session's creation time so sweep tests can exercise
// the age threshold without a real clock.
func ageSession(r *Registry, sessionID string, age time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.CreatedAt = s.CreatedAt.Add(-age)
	}
}

func TestCreateAndGet(t *testing.T) {
	r := newTestRegistry()

	if err := r.Create("ABC123", "p1"); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	info, ok := r.Get("ABC123")
	if !ok {
		t.Fatal("Get() did not find created session")
	}
	if info.StreamerID != "p1" {
		t.Errorf("StreamerID = %q, want %q", info.StreamerID, "p1")
	}
	if info.ViewerCount != 0 {
		t.Errorf("ViewerCount = %d, want 0", info.ViewerCount)
	}
	if info.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestCreateDuplicateRejected(t *testing.T) {
	r := newTestRegistry()

	if err := r.Create("ABC123", "p1"); err != nil {
		t.Fatalf("first Create() failed: %v", err)
	}
	if err := r.Create("ABC123", "p2"); err != ErrSessionExists {
		t.Fatalf("second Create() = %v, want ErrSessionExists", err)
	}

	// The losing create must not have mutated anything.
	info, _ := r.Get("ABC123")
	if info.StreamerID != "p1" {
		t.Errorf("StreamerID = %q, want %q (original streamer)", info.StreamerID, "p1")
	}
}

func TestSessionIDCaseSensitive(t *testing.T) {
	r := newTestRegistry()

	if err := r.Create("abc", "p1"); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := r.Create("ABC", "p2"); err != nil {
		t.Fatalf("Create() with different case failed: %v", err)
	}
}

func TestAddViewerIdempotent(t *testing.T) {
	r := newTestRegistry()
	r.Create("s", "p1")

	streamerID, count, err := r.AddViewer("s", "p2")
	if err != nil {
		t.Fatalf("AddViewer() failed: %v", err)
	}
	if streamerID != "p1" || count != 1 {
		t.Fatalf("AddViewer() = (%q, %d), want (p1, 1)", streamerID, count)
	}

	// Re-adding the same viewer is a no-op, not an error.
	_, count, err = r.AddViewer("s", "p2")
	if err != nil {
		t.Fatalf("second AddViewer() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("ViewerCount after re-add = %d, want 1", count)
	}

	_, count, _ = r.AddViewer("s", "p3")
	if count != 2 {
		t.Errorf("ViewerCount = %d, want 2", count)
	}
}

func TestAddViewerNotFound(t *testing.T) {
	r := newTestRegistry()

	_, _, err := r.AddViewer("missing", "p2")
	if err != ErrSessionNotFound {
		t.Fatalf("AddViewer() = %v, want ErrSessionNotFound", err)
	}
	if r.Count() != 0 {
		t.Errorf("Count() = %d after failed join, want 0", r.Count())
	}
}

func TestAddViewerOwnSession(t *testing.T) {
	r := newTestRegistry()
	r.Create("s", "p1")

	_, _, err := r.AddViewer("s", "p1")
	if err != ErrOwnSession {
		t.Fatalf("AddViewer(streamer) = %v, want ErrOwnSession", err)
	}

	info, _ := r.Get("s")
	if info.ViewerCount != 0 {
		t.Errorf("ViewerCount = %d, want 0", info.ViewerCount)
	}
}

func TestRemoveViewer(t *testing.T) {
	r := newTestRegistry()
	r.Create("s", "p1")
	r.AddViewer("s", "p2")

	streamerID, count, removed := r.RemoveViewer("s", "p2")
	if !removed {
		t.Fatal("RemoveViewer() did not report removal")
	}
	if streamerID != "p1" || count != 0 {
		t.Errorf("RemoveViewer() = (%q, %d), want (p1, 0)", streamerID, count)
	}

	// Re-removing is a silent no-op; so is removing from a missing session.
	if _, _, removed := r.RemoveViewer("s", "p2"); removed {
		t.Error("second RemoveViewer() reported removal")
	}
	if _, _, removed := r.RemoveViewer("missing", "p2"); removed {
		t.Error("RemoveViewer() on missing session reported removal")
	}

	// Session persists at zero viewers and can be joined again.
	if _, ok := r.Get("s"); !ok {
		t.Fatal("session gone after last viewer left")
	}
	if _, count, err := r.AddViewer("s", "p2"); err != nil || count != 1 {
		t.Errorf("re-join = (count %d, err %v), want (1, nil)", count, err)
	}
}

func TestViewerCountMatchesDistinctViewers(t *testing.T) {
	r := newTestRegistry()
	r.Create("s", "p1")

	r.AddViewer("s", "a")
	r.AddViewer("s", "b")
	r.AddViewer("s", "a") // duplicate
	r.RemoveViewer("s", "b")
	r.RemoveViewer("s", "b") // duplicate leave
	r.AddViewer("s", "c")

	info, _ := r.Get("s")
	if info.ViewerCount != 2 { // a, c
		t.Errorf("ViewerCount = %d, want 2", info.ViewerCount)
	}
}

func TestDestroyIfStreamer(t *testing.T) {
	r := newTestRegistry()
	r.Create("s", "p1")
	r.AddViewer("s", "p2")
	r.AddViewer("s", "p3")

	removed := r.DestroyIfStreamer("p1")
	if len(removed) != 1 {
		t.Fatalf("DestroyIfStreamer() removed %d sessions, want 1", len(removed))
	}

	viewers := removed[0].Viewers
	sort.Strings(viewers)
	if len(viewers) != 2 || viewers[0] != "p2" || viewers[1] != "p3" {
		t.Errorf("Viewers = %v, want [p2 p3]", viewers)
	}

	if _, ok := r.Get("s"); ok {
		t.Error("Get() found session after DestroyIfStreamer")
	}

	// Not a streamer of anything: no-op.
	if removed := r.DestroyIfStreamer("p2"); len(removed) != 0 {
		t.Errorf("DestroyIfStreamer(viewer) removed %d sessions, want 0", len(removed))
	}
}

func TestDestroy(t *testing.T) {
	r := newTestRegistry()
	r.Create("s", "p1")
	r.AddViewer("s", "p2")

	gone, ok := r.Destroy("s")
	if !ok {
		t.Fatal("Destroy() did not find session")
	}
	if gone.StreamerID != "p1" || len(gone.Viewers) != 1 {
		t.Errorf("Destroy() = %+v, want streamer p1 with 1 viewer", gone)
	}

	if _, ok := r.Destroy("s"); ok {
		t.Error("second Destroy() reported removal")
	}
}

func TestSessionIDReuseAfterDestroy(t *testing.T) {
	r := newTestRegistry()
	r.Create("s", "p1")
	r.DestroyIfStreamer("p1")

	if err := r.Create("s", "p2"); err != nil {
		t.Fatalf("Create() after destroy failed: %v", err)
	}
	info, _ := r.Get("s")
	if info.StreamerID != "p2" {
		t.Errorf("StreamerID = %q, want p2", info.StreamerID)
	}
}

func TestRemoveParticipantEverywhere(t *testing.T) {
	r := newTestRegistry()
	r.Create("a", "s1")
	r.Create("b", "s2")
	r.Create("c", "s3")
	r.AddViewer("a", "p")
	r.AddViewer("b", "p")
	r.AddViewer("b", "other")

	removals := r.RemoveParticipantEverywhere("p")
	if len(removals) != 2 {
		t.Fatalf("RemoveParticipantEverywhere() = %d removals, want 2", len(removals))
	}

	byID := make(map[string]Removal)
	for _, rm := range removals {
		byID[rm.SessionID] = rm
	}
	if rm := byID["a"]; rm.StreamerID != "s1" || rm.ViewerCount != 0 {
		t.Errorf("removal for a = %+v, want streamer s1 count 0", rm)
	}
	if rm := byID["b"]; rm.StreamerID != "s2" || rm.ViewerCount != 1 {
		t.Errorf("removal for b = %+v, want streamer s2 count 1", rm)
	}

	// All three sessions survive viewer removal.
	if r.Count() != 3 {
		t.Errorf("Count() = %d, want 3", r.Count())
	}

	// Unknown participant: no-op.
	if removals := r.RemoveParticipantEverywhere("nobody"); len(removals) != 0 {
		t.Errorf("RemoveParticipantEverywhere(nobody) = %d removals, want 0", len(removals))
	}
}

func TestDualRoleCleanup(t *testing.T) {
	r := newTestRegistry()
	r.Create("a", "p1")
	r.Create("b", "p2")
	r.AddViewer("a", "p3")
	r.AddViewer("b", "p1") // p1 streams a, watches b

	ended := r.DestroyIfStreamer("p1")
	removals := r.RemoveParticipantEverywhere("p1")

	if len(ended) != 1 || ended[0].ID != "a" {
		t.Fatalf("ended = %+v, want session a only", ended)
	}
	if len(removals) != 1 || removals[0].SessionID != "b" || removals[0].ViewerCount != 0 {
		t.Fatalf("removals = %+v, want session b at count 0", removals)
	}
	if _, ok := r.Get("b"); !ok {
		t.Error("session b did not survive")
	}
}

func TestSweepExpired(t *testing.T) {
	r := newTestRegistry()
	r.Create("old", "p1")
	r.Create("older", "p2")
	r.Create("young", "p3")
	ageSession(r, "old", 2*time.Hour+time.Minute)
	ageSession(r, "older", 5*time.Hour)
	ageSession(r, "young", time.Hour)

	expired := r.SweepExpired(2*time.Hour, time.Now())
	if len(expired) != 2 {
		t.Fatalf("SweepExpired() removed %d sessions, want 2", len(expired))
	}
	if _, ok := r.Get("young"); !ok {
		t.Error("young session was swept")
	}
	if _, ok := r.Get("old"); ok {
		t.Error("old session survived sweep")
	}

	// Sweeping again removes nothing, regardless of invocation frequency.
	if expired := r.SweepExpired(2*time.Hour, time.Now()); len(expired) != 0 {
		t.Errorf("second SweepExpired() removed %d sessions, want 0", len(expired))
	}
}

func TestSweepExpiredExactAgeSurvives(t *testing.T) {
	r := newTestRegistry()
	r.Create("edge", "p1")

	// A session exactly at the threshold is not yet over it.
	r.mu.Lock()
	createdAt := r.sessions["edge"].CreatedAt
	r.mu.Unlock()

	if expired := r.SweepExpired(2*time.Hour, createdAt.Add(2*time.Hour)); len(expired) != 0 {
		t.Errorf("SweepExpired() at exact max age removed %d sessions, want 0", len(expired))
	}
	if expired := r.SweepExpired(2*time.Hour, createdAt.Add(2*time.Hour+time.Nanosecond)); len(expired) != 1 {
		t.Errorf("SweepExpired() just past max age removed %d sessions, want 1", len(expired))
	}
}

func TestSnapshotAndSessionIDs(t *testing.T) {
	r := newTestRegistry()
	r.Create("a", "p1")
	r.Create("b", "p2")
	r.AddViewer("a", "v")

	ids := r.SessionIDs()
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("SessionIDs() = %v, want [a b]", ids)
	}

	infos := r.Snapshot()
	if len(infos) != 2 {
		t.Fatalf("Snapshot() = %d sessions, want 2", len(infos))
	}
	for _, info := range infos {
		if info.ID == "a" && info.ViewerCount != 1 {
			t.Errorf("snapshot of a has ViewerCount %d, want 1", info.ViewerCount)
		}
	}
}
