package presence

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Channel is a live connection handle capable of pushing one message to a
// driver. It is attached by the websocket layer while the driver is
// connected.
type Channel interface {
	Send(v any) error
}

type entry struct {
	driverID     string
	online       bool
	location     *models.Coord
	vehicleClass models.VehicleClass
	rating       float64
	channel      Channel
	lastUpdated  time.Time
}

// Snapshot is an immutable copy of one registry entry, safe to hand to
// concurrent scoring calls.
type Snapshot struct {
	DriverID     string
	Online       bool
	Location     *models.Coord
	VehicleClass models.VehicleClass
	Rating       float64
	LastUpdated  time.Time
}

// Registry is the in-memory index of currently-connected drivers. All
// operations are total: unknown driver ids degrade to no-ops or empty
// results, never errors.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]*entry
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]*entry), now: time.Now}
}

// SetOnline upserts the driver's entry and marks it online. Zero-value
// class/rating arguments leave any previously known values in place, so a
// bare heartbeat cannot erase what an earlier full report established.
func (r *Registry) SetOnline(driverID string, loc *models.Coord, class models.VehicleClass, rating float64) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.drivers[driverID]
	if !ok {
		e = &entry{driverID: driverID}
		r.drivers[driverID] = e
	}
	e.online = true
	if loc != nil {
		c := *loc
		e.location = &c
	}
	if class != "" {
		e.vehicleClass = class
	}
	if rating > 0 {
		e.rating = rating
	}
	e.lastUpdated = r.now()
	return snapshotOf(e)
}

// SetOffline marks the entry offline and detaches its channel. The entry is
// retained for diagnostics until the sweeper collects it. No-op for unknown
// drivers.
func (r *Registry) SetOffline(driverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.drivers[driverID]
	if !ok {
		return
	}
	e.online = false
	e.channel = nil
	e.lastUpdated = r.now()
}

// UpdateLocation records a new position for an online driver. Reports for
// offline or unknown drivers are dropped so a stale stream cannot resurrect
// an entry.
func (r *Registry) UpdateLocation(driverID string, loc models.Coord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.drivers[driverID]
	if !ok || !e.online {
		return
	}
	c := loc
	e.location = &c
	e.lastUpdated = r.now()
}

// Attach binds a live channel to the driver, marking it online (a channel
// implies presence).
func (r *Registry) Attach(driverID string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.drivers[driverID]
	if !ok {
		e = &entry{driverID: driverID}
		r.drivers[driverID] = e
	}
	e.online = true
	e.channel = ch
	e.lastUpdated = r.now()
}

// Detach clears the channel if it is still the one given. The driver stays
// online only if the detach came from a superseded connection.
func (r *Registry) Detach(driverID string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.drivers[driverID]
	if !ok || e.channel != ch {
		return
	}
	e.channel = nil
	e.online = false
	e.lastUpdated = r.now()
}

// ChannelFor returns the driver's live channel, or nil when disconnected.
func (r *Registry) ChannelFor(driverID string) Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.drivers[driverID]; ok {
		return e.channel
	}
	return nil
}

// Query returns snapshots of all online drivers with a known location whose
// class can serve the requested one. Plain O(n) scan; the registry holds one
// entry per connected driver, not the whole fleet.
func (r *Registry) Query(class models.VehicleClass) []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.drivers))
	for _, e := range r.drivers {
		if !e.online || e.location == nil || !e.vehicleClass.Serves(class) {
			continue
		}
		out = append(out, snapshotOf(e))
	}
	return out
}

// OnlineCount reports the number of online entries.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.drivers {
		if e.online {
			n++
		}
	}
	return n
}

// Sweep removes entries idle for longer than ttl and returns how many were
// collected. Online entries with a live channel are never collected.
func (r *Registry) Sweep(ttl time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-ttl)
	removed := 0
	for id, e := range r.drivers {
		if e.channel != nil {
			continue
		}
		if e.lastUpdated.Before(cutoff) {
			delete(r.drivers, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context, interval, ttl time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				r.Sweep(ttl)
			}
		}
	}()
}

func snapshotOf(e *entry) Snapshot {
	s := Snapshot{
		DriverID:     e.driverID,
		Online:       e.online,
		VehicleClass: e.vehicleClass,
		Rating:       e.rating,
		LastUpdated:  e.lastUpdated,
	}
	if e.location != nil {
		c := *e.location
		s.Location = &c
	}
	return s
}
