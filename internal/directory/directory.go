package directory

import (
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// Profile is the slice of a driver's record the dispatch engine cares about.
type Profile struct {
	DriverID     string
	Name         string
	Rating       float64
	VehicleClass models.VehicleClass
	TotalRides   int
}

// Directory resolves driver ids to profile attributes. Lookups are
// best-effort: a missing driver is (zero, false), never an error.
type Directory interface {
	Profile(driverID string) (Profile, bool)
}

// Static is a fixed in-memory directory used in tests and single-process
// deployments without a database.
type Static struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewStatic() *Static {
	return &Static{profiles: make(map[string]Profile)}
}

func (s *Static) Put(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.DriverID] = p
}

func (s *Static) Profile(driverID string) (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[driverID]
	return p, ok
}
