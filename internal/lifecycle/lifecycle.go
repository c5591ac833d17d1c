package lifecycle

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/storage"
)

// ErrAlreadyResolved is returned to a claimant that lost the race: the ride
// was accepted by someone else, cancelled, or timed out first.
var ErrAlreadyResolved = errors.New("ride already resolved")

// InvalidTransitionError reports an illegal state change attempt.
type InvalidTransitionError struct {
	From models.RideStatus
	To   models.RideStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid ride transition %s -> %s", e.From, e.To)
}

// Broadcaster publishes status events to observers (riders, admin consoles).
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Dispatcher tears down a ride's live dispatch session. Wired after
// construction because the coordinator also depends on the manager.
type Dispatcher interface {
	Teardown(rideID string)
}

// Manager is the authoritative state machine for ride status. Every
// mutation goes through the store's compare-and-set primitive; the manager
// itself holds no per-ride locks.
type Manager struct {
	store     storage.RideStore
	broadcast Broadcaster         // optional
	fares     payments.FareHolder // optional
	log       *slog.Logger

	mu         sync.Mutex
	dispatcher Dispatcher
	holds      map[string]string // rideID -> fare hold id

	Currency string
	now      func() time.Time
}

func NewManager(store storage.RideStore, broadcast Broadcaster, fares payments.FareHolder, log *slog.Logger) *Manager {
	return &Manager{
		store:     store,
		broadcast: broadcast,
		fares:     fares,
		log:       log,
		holds:     make(map[string]string),
		Currency:  "usd",
		now:       time.Now,
	}
}

// SetDispatcher wires the dispatch coordinator in after both sides exist.
func (m *Manager) SetDispatcher(d Dispatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatcher = d
}

// Create persists a new pending ride.
func (m *Manager) Create(ctx context.Context, req models.RideRequest, estimatedFare float64) (*models.Ride, error) {
	r := &models.Ride{
		ID:            newID(),
		RiderID:       req.RiderID,
		Pickup:        req.Pickup,
		Dropoff:       req.Dropoff,
		VehicleClass:  req.VehicleClass,
		EstimatedFare: estimatedFare,
		Status:        models.StatusPending,
		RequestedAt:   m.now(),
	}
	if err := m.store.CreateRide(ctx, r); err != nil {
		return nil, err
	}
	observability.RidesRequestedTotal.Inc()
	return r, nil
}

func (m *Manager) Get(ctx context.Context, rideID string) (*models.Ride, error) {
	return m.store.GetRide(ctx, rideID)
}

// Claim binds the driver's acceptance to the ride. It succeeds only if the
// ride is still pending at the instant of the store's compare-and-set; a
// loser gets ErrAlreadyResolved and no side effect. Success tears down the
// dispatch session so no further candidates are notified.
func (m *Manager) Claim(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	r, err := m.store.UpdateRideStatus(ctx, rideID, models.StatusPending, storage.StatusUpdate{
		NewStatus: models.StatusAccepted,
		DriverID:  driverID,
		At:        m.now(),
	})
	if err != nil {
		if errors.Is(err, storage.ErrStatusConflict) || errors.Is(err, storage.ErrNotFound) {
			observability.ClaimsTotal.WithLabelValues("lost").Inc()
			return nil, ErrAlreadyResolved
		}
		return nil, err
	}
	observability.ClaimsTotal.WithLabelValues("won").Inc()
	m.teardown(rideID)
	if m.broadcast != nil {
		m.broadcast.Broadcast(models.EventRideAccepted, models.RideAcceptedPayload{RideID: rideID, DriverID: driverID})
	}
	m.holdFare(ctx, r)
	return r, nil
}

// Start moves an accepted ride into progress.
func (m *Manager) Start(ctx context.Context, rideID string) (*models.Ride, error) {
	r, err := m.store.UpdateRideStatus(ctx, rideID, models.StatusAccepted, storage.StatusUpdate{
		NewStatus: models.StatusInProgress,
		At:        m.now(),
	})
	if err != nil {
		return nil, m.transitionErr(ctx, rideID, models.StatusInProgress, err)
	}
	return r, nil
}

// Complete finishes an in-progress ride and captures any fare hold.
func (m *Manager) Complete(ctx context.Context, rideID string) (*models.Ride, error) {
	r, err := m.store.UpdateRideStatus(ctx, rideID, models.StatusInProgress, storage.StatusUpdate{
		NewStatus: models.StatusCompleted,
		At:        m.now(),
	})
	if err != nil {
		return nil, m.transitionErr(ctx, rideID, models.StatusCompleted, err)
	}
	if holdID := m.takeHold(rideID); holdID != "" && m.fares != nil {
		if err := m.fares.Capture(ctx, holdID); err != nil {
			m.log.Warn("fare capture failed", "ride_id", rideID, "error", err)
		}
	}
	return r, nil
}

// Cancel moves a pending or accepted ride to cancelled, tears down any live
// dispatch session, and releases the fare hold if one was placed.
func (m *Manager) Cancel(ctx context.Context, rideID, reason string) (*models.Ride, error) {
	upd := storage.StatusUpdate{
		NewStatus:    models.StatusCancelled,
		CancelReason: reason,
		At:           m.now(),
	}
	r, err := m.store.UpdateRideStatus(ctx, rideID, models.StatusPending, upd)
	if errors.Is(err, storage.ErrStatusConflict) {
		r, err = m.store.UpdateRideStatus(ctx, rideID, models.StatusAccepted, upd)
	}
	if err != nil {
		return nil, m.transitionErr(ctx, rideID, models.StatusCancelled, err)
	}
	m.teardown(rideID)
	if holdID := m.takeHold(rideID); holdID != "" && m.fares != nil {
		if err := m.fares.Release(ctx, holdID); err != nil {
			m.log.Warn("fare release failed", "ride_id", rideID, "error", err)
		}
	}
	return r, nil
}

func (m *Manager) teardown(rideID string) {
	m.mu.Lock()
	d := m.dispatcher
	m.mu.Unlock()
	if d != nil {
		d.Teardown(rideID)
	}
}

func (m *Manager) holdFare(ctx context.Context, r *models.Ride) {
	if m.fares == nil || r.EstimatedFare <= 0 {
		return
	}
	holdID, err := m.fares.Hold(ctx, int64(math.Round(r.EstimatedFare*100)), m.Currency, r.RiderID)
	if err != nil {
		m.log.Warn("fare hold failed", "ride_id", r.ID, "error", err)
		return
	}
	m.mu.Lock()
	m.holds[r.ID] = holdID
	m.mu.Unlock()
}

func (m *Manager) takeHold(rideID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	holdID := m.holds[rideID]
	delete(m.holds, rideID)
	return holdID
}

// transitionErr turns a CAS conflict into a typed InvalidTransitionError
// naming the ride's actual current status.
func (m *Manager) transitionErr(ctx context.Context, rideID string, to models.RideStatus, err error) error {
	if !errors.Is(err, storage.ErrStatusConflict) {
		return err
	}
	cur, getErr := m.store.GetRide(ctx, rideID)
	if getErr != nil {
		return err
	}
	return &InvalidTransitionError{From: cur.Status, To: to}
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
