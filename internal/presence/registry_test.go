package presence

import (
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

type fakeChannel struct{ sent int }

func (f *fakeChannel) Send(v any) error { f.sent++; return nil }

func TestSetOnlineUpsertsAndQueryFilters(t *testing.T) {
	r := NewRegistry()
	r.SetOnline("d1", &models.Coord{Lat: 1, Lng: 1}, models.ClassCompact, 4.2)
	r.SetOnline("d2", &models.Coord{Lat: 2, Lng: 2}, models.ClassComfort, 4.8)
	r.SetOnline("d3", nil, models.ClassCompact, 4.0) // no location yet

	// comfort request: only d2 qualifies (d1 is a lower class)
	got := r.Query(models.ClassComfort)
	if len(got) != 1 || got[0].DriverID != "d2" {
		t.Fatalf("expected only d2, got %+v", got)
	}
	// compact request: d1 and the higher-class d2 serve it; d3 has no location
	if got = r.Query(models.ClassCompact); len(got) != 2 {
		t.Fatalf("expected d1+d2, got %+v", got)
	}
}

func TestSetOnlineKeepsKnownFieldsOnHeartbeat(t *testing.T) {
	r := NewRegistry()
	r.SetOnline("d1", &models.Coord{Lat: 1, Lng: 1}, models.ClassPremium, 4.9)
	s := r.SetOnline("d1", nil, "", 0) // bare heartbeat
	if s.VehicleClass != models.ClassPremium || s.Rating != 4.9 || s.Location == nil {
		t.Fatalf("heartbeat erased fields: %+v", s)
	}
}

func TestUpdateLocationIgnoresOfflineDriver(t *testing.T) {
	r := NewRegistry()
	r.SetOnline("d1", &models.Coord{Lat: 1, Lng: 1}, models.ClassCompact, 4.0)
	r.SetOffline("d1")
	r.UpdateLocation("d1", models.Coord{Lat: 9, Lng: 9})
	if got := r.Query(models.ClassCompact); len(got) != 0 {
		t.Fatalf("offline driver resurrected: %+v", got)
	}
	// unknown driver is a no-op, not a panic
	r.UpdateLocation("ghost", models.Coord{Lat: 1, Lng: 1})
}

func TestAttachImpliesOnline(t *testing.T) {
	r := NewRegistry()
	ch := &fakeChannel{}
	r.Attach("d1", ch)
	if r.ChannelFor("d1") != ch {
		t.Fatal("channel not attached")
	}
	if r.OnlineCount() != 1 {
		t.Fatal("attach should mark driver online")
	}
}

func TestDetachOnlyForSameChannel(t *testing.T) {
	r := NewRegistry()
	old := &fakeChannel{}
	cur := &fakeChannel{}
	r.Attach("d1", old)
	r.Attach("d1", cur) // reconnect supersedes
	r.Detach("d1", old) // stale close must not knock out the new session
	if r.ChannelFor("d1") != cur {
		t.Fatal("stale detach removed current channel")
	}
	r.Detach("d1", cur)
	if r.ChannelFor("d1") != nil {
		t.Fatal("expected channel cleared")
	}
}

func TestSweepCollectsIdleEntries(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.now = func() time.Time { return now }
	r.SetOnline("idle", &models.Coord{Lat: 1, Lng: 1}, models.ClassCompact, 4.0)
	r.SetOffline("idle")

	r.now = func() time.Time { return now.Add(time.Hour) }
	r.Attach("fresh", &fakeChannel{})

	if n := r.Sweep(10 * time.Minute); n != 1 {
		t.Fatalf("expected 1 swept, got %d", n)
	}
	if r.ChannelFor("fresh") == nil {
		t.Fatal("connected driver must survive sweep")
	}
}
