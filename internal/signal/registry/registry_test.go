package registry

import (
	"errors"
	"testing"
)

func TestClaimBroadcasterMutualExclusion(t *testing.T) {
	r := New()

	if _, err := r.ClaimBroadcaster("conn-a", "555", "Alice"); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if _, err := r.ClaimBroadcaster("conn-b", "555", "Bob"); !errors.Is(err, ErrKeyInUse) {
		t.Fatalf("second claim of same key: got %v, want ErrKeyInUse", err)
	}

	// Key is claimable again once released.
	r.ReleaseConnection("conn-a")
	if _, err := r.ClaimBroadcaster("conn-b", "555", "Bob"); err != nil {
		t.Fatalf("claim after release failed: %v", err)
	}
}

func TestClaimBroadcasterEmptyKey(t *testing.T) {
	r := New()
	if _, err := r.ClaimBroadcaster("conn-a", "", "Alice"); !errors.Is(err, ErrKeyRequired) {
		t.Fatalf("got %v, want ErrKeyRequired", err)
	}
	if len(r.ListSessions()) != 0 {
		t.Fatal("rejected claim must not create a session")
	}
}

func TestReclaimPreservesViewers(t *testing.T) {
	r := New()
	if _, err := r.ClaimBroadcaster("conn-a", "555", "Alice"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := r.ClaimViewer("conn-v", "555"); err != nil {
		t.Fatal(err)
	}

	ack, err := r.ClaimBroadcaster("conn-a", "555", "Alice Renamed")
	if err != nil {
		t.Fatalf("re-claim by owner failed: %v", err)
	}
	if ack.ViewerCount != 1 {
		t.Fatalf("viewer count after re-claim: got %d, want 1", ack.ViewerCount)
	}
	if ack.DisplayName != "Alice Renamed" {
		t.Fatalf("display name not updated: %q", ack.DisplayName)
	}
}

func TestDefaultDisplayName(t *testing.T) {
	r := New()
	ack, err := r.ClaimBroadcaster("0123456789abcdef", "555", "")
	if err != nil {
		t.Fatal(err)
	}
	if ack.DisplayName != "Broadcaster 01234567" {
		t.Fatalf("default name: got %q", ack.DisplayName)
	}
}

func TestClaimViewerUnknownKey(t *testing.T) {
	r := New()
	if _, _, err := r.ClaimViewer("conn-v", "999"); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("got %v, want ErrUnknownKey", err)
	}
	if _, ok := r.BroadcasterOf("conn-v"); ok {
		t.Fatal("failed claim must not create a subscription")
	}
}

func TestClaimViewerReplacesPriorSubscription(t *testing.T) {
	r := New()
	if _, err := r.ClaimBroadcaster("conn-a", "555", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ClaimBroadcaster("conn-b", "777", ""); err != nil {
		t.Fatal(err)
	}
	if _, _, err := r.ClaimViewer("conn-v", "555"); err != nil {
		t.Fatal(err)
	}
	bid, n, err := r.ClaimViewer("conn-v", "777")
	if err != nil {
		t.Fatal(err)
	}
	if bid != "conn-b" || n != 1 {
		t.Fatalf("got broadcaster %q count %d, want conn-b 1", bid, n)
	}
	if r.ViewerCount("conn-a") != 0 {
		t.Fatal("old subscription not removed on re-claim under another session")
	}
}

func TestReleaseBroadcasterReturnsViewerSnapshot(t *testing.T) {
	r := New()
	if _, err := r.ClaimBroadcaster("conn-a", "555", ""); err != nil {
		t.Fatal(err)
	}
	for _, v := range []string{"v1", "v2", "v3"} {
		if _, _, err := r.ClaimViewer(v, "555"); err != nil {
			t.Fatal(err)
		}
	}

	rel := r.ReleaseConnection("conn-a")
	if rel.Role != ReleasedBroadcaster {
		t.Fatalf("role tag: got %v, want ReleasedBroadcaster", rel.Role)
	}
	if rel.PublishKey != "555" {
		t.Fatalf("freed key: got %q", rel.PublishKey)
	}
	seen := make(map[string]int)
	for _, id := range rel.ViewerIDs {
		seen[id]++
	}
	for _, v := range []string{"v1", "v2", "v3"} {
		if seen[v] != 1 {
			t.Fatalf("viewer %s appears %d times in release snapshot", v, seen[v])
		}
	}

	// The released viewers no longer resolve to any broadcaster.
	if _, ok := r.BroadcasterOf("v1"); ok {
		t.Fatal("viewer index must be cleared on broadcaster release")
	}
}

func TestReleaseViewer(t *testing.T) {
	r := New()
	if _, err := r.ClaimBroadcaster("conn-a", "555", ""); err != nil {
		t.Fatal(err)
	}
	if _, _, err := r.ClaimViewer("v1", "555"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := r.ClaimViewer("v2", "555"); err != nil {
		t.Fatal(err)
	}

	rel := r.ReleaseConnection("v1")
	if rel.Role != ReleasedViewer {
		t.Fatalf("role tag: got %v, want ReleasedViewer", rel.Role)
	}
	if rel.BroadcasterID != "conn-a" || rel.Remaining != 1 {
		t.Fatalf("got broadcaster %q remaining %d, want conn-a 1", rel.BroadcasterID, rel.Remaining)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	r := New()
	if _, err := r.ClaimBroadcaster("conn-a", "555", ""); err != nil {
		t.Fatal(err)
	}

	first := r.ReleaseConnection("conn-a")
	if first.Role != ReleasedBroadcaster {
		t.Fatalf("first release: got %v", first.Role)
	}
	second := r.ReleaseConnection("conn-a")
	if second.Role != ReleasedNone {
		t.Fatalf("second release must be a no-op, got %v", second.Role)
	}

	if r.ReleaseConnection("never-seen").Role != ReleasedNone {
		t.Fatal("releasing an unknown id must be a no-op")
	}
}

func TestPruneDeadViewer(t *testing.T) {
	r := New()
	if _, err := r.ClaimBroadcaster("conn-a", "555", ""); err != nil {
		t.Fatal(err)
	}
	if _, _, err := r.ClaimViewer("v1", "555"); err != nil {
		t.Fatal(err)
	}

	bid, remaining, ok := r.PruneDeadViewer("v1")
	if !ok || bid != "conn-a" || remaining != 0 {
		t.Fatalf("prune: got %q %d %v", bid, remaining, ok)
	}
	if _, _, ok := r.PruneDeadViewer("v1"); ok {
		t.Fatal("pruning an already-pruned viewer must report not found")
	}
}

func TestDiscoveryLookups(t *testing.T) {
	r := New()
	if _, err := r.ClaimBroadcaster("conn-a", "555", "Alice"); err != nil {
		t.Fatal(err)
	}

	info, bid, ok := r.FindSessionByKey("555")
	if !ok || bid != "conn-a" || info.DisplayName != "Alice" {
		t.Fatalf("find by key: got %+v %q %v", info, bid, ok)
	}
	if _, _, ok := r.FindSessionByKey("999"); ok {
		t.Fatal("unknown key must not resolve")
	}

	list := r.ListSessions()
	if len(list) != 1 || list[0].PublishKey != "555" {
		t.Fatalf("list: got %+v", list)
	}

	latest, ok := r.LatestSession()
	if !ok || latest.PublishKey != "555" {
		t.Fatalf("latest: got %+v %v", latest, ok)
	}
}

func TestDiscoveryFollowsClaimOrder(t *testing.T) {
	r := New()
	if _, err := r.ClaimBroadcaster("conn-a", "555", "Alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ClaimBroadcaster("conn-b", "777", "Bob"); err != nil {
		t.Fatal(err)
	}

	list := r.ListSessions()
	if len(list) != 2 || list[0].PublishKey != "555" || list[1].PublishKey != "777" {
		t.Fatalf("list out of claim order: %+v", list)
	}

	latest, ok := r.LatestSession()
	if !ok || latest.PublishKey != "555" {
		t.Fatalf("latest before release: got %+v %v, want 555", latest, ok)
	}

	r.ReleaseConnection("conn-a")

	latest, ok = r.LatestSession()
	if !ok || latest.PublishKey != "777" {
		t.Fatalf("latest after release: got %+v %v, want 777", latest, ok)
	}
	if list := r.ListSessions(); len(list) != 1 || list[0].PublishKey != "777" {
		t.Fatalf("list after release: %+v", list)
	}
}
