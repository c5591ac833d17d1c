package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func seedRide(t *testing.T, m *MemoryStore) *models.Ride {
	t.Helper()
	r := &models.Ride{
		ID:          "r1",
		RiderID:     "rider",
		Status:      models.StatusPending,
		RequestedAt: time.Now(),
	}
	if err := m.CreateRide(context.Background(), r); err != nil {
		t.Fatalf("create: %v", err)
	}
	return r
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	m := NewMemoryStore()
	seedRide(t, m)
	got, err := m.GetRide(context.Background(), "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Status = models.StatusCompleted // must not leak into the store
	again, _ := m.GetRide(context.Background(), "r1")
	if again.Status != models.StatusPending {
		t.Fatal("store handed out a shared pointer")
	}
}

func TestUpdateRideStatusCAS(t *testing.T) {
	m := NewMemoryStore()
	seedRide(t, m)

	upd := StatusUpdate{NewStatus: models.StatusAccepted, DriverID: "d1"}
	got, err := m.UpdateRideStatus(context.Background(), "r1", models.StatusPending, upd)
	if err != nil {
		t.Fatalf("cas: %v", err)
	}
	if got.Status != models.StatusAccepted || got.DriverID != "d1" || got.AcceptedAt == nil {
		t.Fatalf("bad ride after cas: %+v", got)
	}

	// the precondition no longer holds
	if _, err := m.UpdateRideStatus(context.Background(), "r1", models.StatusPending, upd); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}
	if _, err := m.UpdateRideStatus(context.Background(), "missing", models.StatusPending, upd); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateRideStatusStampsTransitionTime(t *testing.T) {
	m := NewMemoryStore()
	seedRide(t, m)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got, err := m.UpdateRideStatus(context.Background(), "r1", models.StatusPending, StatusUpdate{
		NewStatus:    models.StatusCancelled,
		CancelReason: "no driver available",
		At:           at,
	})
	if err != nil {
		t.Fatalf("cas: %v", err)
	}
	if got.CancelledAt == nil || !got.CancelledAt.Equal(at) {
		t.Fatalf("cancelled_at not stamped: %+v", got)
	}
	if got.CancelReason != "no driver available" {
		t.Fatalf("reason not recorded: %+v", got)
	}
}
