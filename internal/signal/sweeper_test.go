package signal

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/swifthub/beacon/internal/signal/registry"
)

func TestSweepPrunesDeadViewers(t *testing.T) {
	reg := registry.New()
	if _, err := reg.ClaimBroadcaster("conn-a", "555", ""); err != nil {
		t.Fatal(err)
	}
	for _, v := range []string{"v1", "v2", "v3"} {
		if _, _, err := reg.ClaimViewer(v, "555"); err != nil {
			t.Fatal(err)
		}
	}

	live := map[string]bool{"conn-a": true, "v2": true}
	var notified []struct {
		bid   string
		count int
	}

	sw := &sweeper{
		reg:      reg,
		interval: time.Second,
		logger:   zerolog.Nop(),
		alive:    func(id string) bool { return live[id] },
		notify: func(bid string, count int) {
			notified = append(notified, struct {
				bid   string
				count int
			}{bid, count})
		},
	}

	sw.sweep()

	// Two removals, one coalesced notification with the final count.
	if len(notified) != 1 {
		t.Fatalf("notifications: got %d, want 1", len(notified))
	}
	if notified[0].bid != "conn-a" || notified[0].count != 1 {
		t.Fatalf("notification: %+v", notified[0])
	}
	if reg.ViewerCount("conn-a") != 1 {
		t.Fatalf("remaining viewers: got %d, want 1", reg.ViewerCount("conn-a"))
	}
	if _, ok := reg.BroadcasterOf("v1"); ok {
		t.Fatal("dead viewer v1 still indexed")
	}
}

func TestSweepIsQuietWhenAllAlive(t *testing.T) {
	reg := registry.New()
	if _, err := reg.ClaimBroadcaster("conn-a", "555", ""); err != nil {
		t.Fatal(err)
	}
	if _, _, err := reg.ClaimViewer("v1", "555"); err != nil {
		t.Fatal(err)
	}

	sw := &sweeper{
		reg:      reg,
		interval: time.Second,
		logger:   zerolog.Nop(),
		alive:    func(string) bool { return true },
		notify: func(string, int) {
			t.Fatal("no notification expected when nothing was pruned")
		},
	}
	sw.sweep()

	if reg.ViewerCount("conn-a") != 1 {
		t.Fatal("live viewer must survive the sweep")
	}
}
