package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	ErrNotFound = errors.New("ride not found")
	// ErrStatusConflict is returned when the compare-and-set precondition
	// fails: the ride's status was not the expected one at update time.
	ErrStatusConflict = errors.New("ride status conflict")
)

// StatusUpdate carries the fields a status transition writes. Empty string
// fields are left untouched.
type StatusUpdate struct {
	NewStatus    models.RideStatus
	DriverID     string
	CancelReason string
	At           time.Time
}

// RideStore persists rides. UpdateRideStatus is the atomic claim primitive:
// implementations must guarantee the status check and the write happen as
// one step, so two concurrent claims can never both succeed.
type RideStore interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	UpdateRideStatus(ctx context.Context, id string, expected models.RideStatus, upd StatusUpdate) (*models.Ride, error)
}

// MemoryStore is the in-process store used in tests and single-node runs.
type MemoryStore struct {
	mu    sync.Mutex
	rides map[string]*models.Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]*models.Ride)}
}

func (m *MemoryStore) CreateRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) UpdateRideStatus(ctx context.Context, id string, expected models.RideStatus, upd StatusUpdate) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != expected {
		return nil, ErrStatusConflict
	}
	applyUpdate(r, upd)
	cp := *r
	return &cp, nil
}

func applyUpdate(r *models.Ride, upd StatusUpdate) {
	r.Status = upd.NewStatus
	if upd.DriverID != "" {
		r.DriverID = upd.DriverID
	}
	if upd.CancelReason != "" {
		r.CancelReason = upd.CancelReason
	}
	at := upd.At
	if at.IsZero() {
		at = time.Now()
	}
	switch upd.NewStatus {
	case models.StatusAccepted:
		r.AcceptedAt = &at
	case models.StatusInProgress:
		r.StartedAt = &at
	case models.StatusCompleted:
		r.CompletedAt = &at
	case models.StatusCancelled:
		r.CancelledAt = &at
	}
}
