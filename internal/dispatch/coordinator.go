package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// ErrChannelUnavailable marks a push that failed because the driver's
// connection is gone. The coordinator skips the driver and moves on.
var ErrChannelUnavailable = errors.New("driver channel unavailable")

// Notifier is the live-channel contract the coordinator drives: push one
// message to a connected driver, or broadcast a status event to observers.
// Pushes are fire-and-forget; delivery is never awaited.
type Notifier interface {
	PushToDriver(driverID, event string, payload any) error
	Broadcast(event string, payload any)
}

// Ranker produces scored dispatch candidates around a pickup point.
type Ranker interface {
	Rank(pickup models.Coord, class models.VehicleClass, radiusKm float64) []models.DispatchCandidate
}

// StatusReader re-checks ride status when a phase timer fires, so a stale
// timer can never act on a resolved ride.
type StatusReader interface {
	GetRide(ctx context.Context, id string) (*models.Ride, error)
}

// RideCanceller performs the final timeout cancellation through the
// lifecycle manager's transition API, never a direct status write.
type RideCanceller interface {
	Cancel(ctx context.Context, rideID, reason string) (*models.Ride, error)
}

type Phase string

const (
	PhaseInitial  Phase = "initial"
	PhaseExpanded Phase = "expanded"
	PhaseExpired  Phase = "expired"
)

type Config struct {
	InitialRadiusKm  float64
	ExpandedRadiusKm float64
	PhaseTimeout     time.Duration
	BatchSize        int
	DriverSpeedMps   float64
}

func DefaultConfig() Config {
	return Config{
		InitialRadiusKm:  5,
		ExpandedRadiusKm: 7,
		PhaseTimeout:     30 * time.Second,
		BatchSize:        3,
		DriverSpeedMps:   10,
	}
}

// session is the ephemeral per-ride dispatch state. It exists only while
// the ride is pending and is destroyed on claim, rider cancel, or final
// timeout.
type session struct {
	rideID string
	ride   models.Ride

	mu       sync.Mutex
	phase    Phase
	radiusKm float64
	notified map[string]struct{}
	timer    *time.Timer
	done     bool
}

// Coordinator drives the notify/wait/escalate/timeout protocol, one
// independent session per in-flight ride.
type Coordinator struct {
	cfg      Config
	ranker   Ranker
	notifier Notifier
	reader   StatusReader
	rides    RideCanceller
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

func NewCoordinator(cfg Config, ranker Ranker, notifier Notifier, reader StatusReader, rides RideCanceller, log *slog.Logger) *Coordinator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 3
	}
	if cfg.PhaseTimeout <= 0 {
		cfg.PhaseTimeout = 30 * time.Second
	}
	return &Coordinator{
		cfg:      cfg,
		ranker:   ranker,
		notifier: notifier,
		reader:   reader,
		rides:    rides,
		log:      log,
		sessions: make(map[string]*session),
	}
}

// Begin starts dispatch for a freshly created pending ride.
func (c *Coordinator) Begin(ride *models.Ride) {
	if ride.Status != models.StatusPending {
		return
	}
	s := &session{
		rideID:   ride.ID,
		ride:     *ride,
		phase:    PhaseInitial,
		notified: make(map[string]struct{}),
	}
	c.mu.Lock()
	c.sessions[ride.ID] = s
	c.mu.Unlock()
	// a claim racing ride creation can resolve the ride before the session
	// existed to tear down; re-read now that it is registered
	if cur, err := c.reader.GetRide(context.Background(), ride.ID); err == nil && cur.Status != models.StatusPending {
		c.Teardown(ride.ID)
		return
	}
	c.runPhase(s, PhaseInitial, c.cfg.InitialRadiusKm)
}

// Teardown cancels the session's outstanding timer and discards it.
// Idempotent; safe to race with a firing timer, whose callback re-checks
// ride status before acting.
func (c *Coordinator) Teardown(rideID string) {
	c.mu.Lock()
	s, ok := c.sessions[rideID]
	if ok {
		delete(c.sessions, rideID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.done = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
}

// Active reports the number of in-flight dispatch sessions.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// runPhase ranks candidates at the given radius, pushes the request to a
// batch of not-yet-notified drivers, announces the phase to observers, and
// arms the phase timer. An empty candidate list is not an error; the timer
// still runs and escalation or timeout follows.
func (c *Coordinator) runPhase(s *session, phase Phase, radiusKm float64) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.phase = phase
	s.radiusKm = radiusKm
	s.mu.Unlock()

	cands := c.ranker.Rank(s.ride.Pickup, s.ride.VehicleClass, radiusKm)
	batch := make([]models.DispatchCandidate, 0, c.cfg.BatchSize)
	s.mu.Lock()
	for _, cand := range cands {
		if len(batch) == c.cfg.BatchSize {
			break
		}
		if _, seen := s.notified[cand.DriverID]; seen {
			continue
		}
		batch = append(batch, cand)
	}
	s.mu.Unlock()

	for _, cand := range batch {
		payload := models.RideRequestPayload{
			RideID:        s.rideID,
			Pickup:        s.ride.Pickup,
			Dropoff:       s.ride.Dropoff,
			VehicleClass:  s.ride.VehicleClass,
			EstimatedFare: s.ride.EstimatedFare,
			DistanceKm:    cand.DistanceKm,
			ETASeconds:    etaSeconds(cand.DistanceKm, c.cfg.DriverSpeedMps),
		}
		if err := c.notifier.PushToDriver(cand.DriverID, models.EventRideRequest, payload); err != nil {
			// a missed push just reduces coverage for this phase
			observability.PushFailuresTotal.Inc()
			c.log.Warn("driver push skipped", "ride_id", s.rideID, "driver_id", cand.DriverID, "error", err)
			continue
		}
		observability.DriversNotifiedTotal.Inc()
		s.mu.Lock()
		s.notified[cand.DriverID] = struct{}{}
		s.mu.Unlock()
	}

	observability.DispatchPhasesTotal.WithLabelValues(string(phase)).Inc()
	c.notifier.Broadcast(models.EventMatchingUpdate, models.MatchingUpdatePayload{
		RideID:   s.rideID,
		Phase:    string(phase),
		RadiusKm: radiusKm,
	})
	c.log.Info("dispatch phase started", "ride_id", s.rideID, "phase", phase, "radius_km", radiusKm, "notified", len(batch))

	s.mu.Lock()
	if !s.done {
		s.timer = time.AfterFunc(c.cfg.PhaseTimeout, func() { c.onTimeout(s) })
	}
	s.mu.Unlock()
}

func (c *Coordinator) onTimeout(s *session) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	phase := s.phase
	s.mu.Unlock()

	// the ride may have been claimed or cancelled while the timer was armed.
	// The re-check is only a shortcut: the lifecycle CAS already rejects a
	// cancel on a resolved ride, so a failed read must not strand the
	// session; carry on with the phase instead.
	ride, err := c.reader.GetRide(context.Background(), s.rideID)
	if err != nil {
		c.log.Warn("status re-check failed", "ride_id", s.rideID, "error", err)
	} else if ride.Status != models.StatusPending {
		c.Teardown(s.rideID)
		return
	}

	switch phase {
	case PhaseInitial:
		c.runPhase(s, PhaseExpanded, c.cfg.ExpandedRadiusKm)
	case PhaseExpanded:
		s.mu.Lock()
		s.phase = PhaseExpired
		s.mu.Unlock()
		if _, err := c.rides.Cancel(context.Background(), s.rideID, "no driver available"); err != nil {
			// lost a last-instant race against a claim; nothing to do
			c.log.Info("timeout cancel skipped", "ride_id", s.rideID, "error", err)
			c.Teardown(s.rideID)
			return
		}
		observability.DispatchTimeoutsTotal.Inc()
		c.notifier.Broadcast(models.EventRideTimeout, models.RideTimeoutPayload{RideID: s.rideID})
		c.log.Info("dispatch expired", "ride_id", s.rideID)
		c.Teardown(s.rideID)
	}
}

func etaSeconds(distanceKm, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = 8.0
	}
	return distanceKm * 1000 / speedMps
}
