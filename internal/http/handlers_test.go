package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/scorer"
	"github.com/example/ride-dispatch/internal/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, *presence.Registry) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := presence.NewRegistry()
	rank := scorer.New(scorer.DefaultConfig(), reg, nil)
	store := storage.NewMemoryStore()
	hub := dispatch.NewHub(reg, log)
	mgr := lifecycle.NewManager(store, hub, nil, log)
	coord := dispatch.NewCoordinator(dispatch.DefaultConfig(), rank, hub, store, mgr, log)
	mgr.SetDispatcher(coord)
	srv := NewServer(Deps{
		Registry: reg,
		Scorer:   rank,
		Rides:    mgr,
		Coord:    coord,
		Hub:      hub,
		Logger:   log,
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, reg
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestRideRequestValidation(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/api/v1/rides/request", map[string]any{
		"rider_id":      "",
		"vehicle_class": "hovercraft",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRequestAcceptConflictFlow(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/rides/request", models.RideRequest{
		RiderID:      "rider-1",
		Pickup:       models.Coord{Lat: 0, Lng: 0},
		Dropoff:      models.Coord{Lat: 0.05, Lng: 0},
		VehicleClass: models.ClassCompact,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("request: expected 202, got %d", resp.StatusCode)
	}
	created := decode[map[string]any](t, resp)
	rideID := created["ride_id"].(string)
	if created["estimated_fare"].(float64) <= 0 {
		t.Fatalf("fare not estimated: %+v", created)
	}

	resp = postJSON(t, ts.URL+"/api/v1/rides/"+rideID+"/accept", map[string]string{"driver_id": "d1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d", resp.StatusCode)
	}
	ride := decode[models.Ride](t, resp)
	if ride.Status != models.StatusAccepted || ride.DriverID != "d1" {
		t.Fatalf("bad ride after accept: %+v", ride)
	}

	// second driver loses the race
	resp = postJSON(t, ts.URL+"/api/v1/rides/"+rideID+"/accept", map[string]string{"driver_id": "d2"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second accept: expected 409, got %d", resp.StatusCode)
	}
	body := decode[map[string]string](t, resp)
	if !strings.Contains(body["error"], "no longer available") {
		t.Fatalf("unexpected conflict body: %v", body)
	}

	// accepted rides can start, complete
	if resp = postJSON(t, ts.URL+"/api/v1/rides/"+rideID+"/start", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	if resp = postJSON(t, ts.URL+"/api/v1/rides/"+rideID+"/complete", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// terminal: cancel now conflicts
	if resp = postJSON(t, ts.URL+"/api/v1/rides/"+rideID+"/cancel", map[string]string{"reason": "test"}); resp.StatusCode != http.StatusConflict {
		t.Fatalf("cancel on completed: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestPresenceReportUpdatesRegistry(t *testing.T) {
	ts, reg := newTestServer(t)
	resp := postJSON(t, ts.URL+"/internal/driver/presence", models.PresenceReport{
		DriverID:     "d1",
		Online:       true,
		Location:     &models.Coord{Lat: 1, Lng: 1},
		VehicleClass: models.ClassComfort,
		Rating:       4.7,
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	if got := reg.Query(models.ClassComfort); len(got) != 1 || got[0].DriverID != "d1" {
		t.Fatalf("driver not registered: %+v", got)
	}

	resp = postJSON(t, ts.URL+"/internal/driver/presence", models.PresenceReport{DriverID: "d1", Online: false})
	resp.Body.Close()
	if got := reg.Query(models.ClassComfort); len(got) != 0 {
		t.Fatalf("driver still online: %+v", got)
	}
}

func TestDriverWebsocketReceivesRideRequest(t *testing.T) {
	ts, reg := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/driver/d1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// the connection brings the driver online; the report fills in class+position
	resp := postJSON(t, ts.URL+"/internal/driver/presence", models.PresenceReport{
		DriverID:     "d1",
		Online:       true,
		Location:     &models.Coord{Lat: 0, Lng: 0},
		VehicleClass: models.ClassCompact,
		Rating:       4.6,
	})
	resp.Body.Close()
	if reg.ChannelFor("d1") == nil {
		t.Fatal("driver channel not attached")
	}

	resp = postJSON(t, ts.URL+"/api/v1/rides/request", models.RideRequest{
		RiderID:      "rider-1",
		Pickup:       models.Coord{Lat: 0.001, Lng: 0},
		Dropoff:      models.Coord{Lat: 0.05, Lng: 0},
		VehicleClass: models.ClassCompact,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("request: expected 202, got %d", resp.StatusCode)
	}
	created := decode[map[string]any](t, resp)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env struct {
		Event string                    `json:"event"`
		Data  models.RideRequestPayload `json:"data"`
	}
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read push: %v", err)
	}
	if env.Event != models.EventRideRequest || env.Data.RideID != created["ride_id"].(string) {
		t.Fatalf("unexpected push: %+v", env)
	}
	if env.Data.DistanceKm > 5 {
		t.Fatalf("push beyond initial radius: %+v", env.Data)
	}
}
