package scorer

import (
	"math"
	"sort"

	"github.com/example/ride-dispatch/internal/directory"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
)

// Weights control the blend of the four scoring components. They should sum
// to 1 but the scorer does not enforce it.
type Weights struct {
	Distance   float64
	Rating     float64
	Completion float64
	Comfort    float64
}

type Config struct {
	Weights            Weights
	FallbackRating     float64
	FallbackCompletion float64
	TopN               int
	DefaultSpeedMps    float64
	FareBase           float64
	FarePerKm          float64
}

func DefaultConfig() Config {
	return Config{
		Weights:            Weights{Distance: 0.6, Rating: 0.2, Completion: 0.1, Comfort: 0.1},
		FallbackRating:     4.5,
		FallbackCompletion: 0.85,
		TopN:               10,
		DefaultSpeedMps:    10,
		FareBase:           2.5,
		FarePerKm:          1.2,
	}
}

type Scorer struct {
	cfg       Config
	registry  *presence.Registry
	directory directory.Directory // optional
}

func New(cfg Config, reg *presence.Registry, dir directory.Directory) *Scorer {
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	return &Scorer{cfg: cfg, registry: reg, directory: dir}
}

// Rank filters online drivers of the requested class within radiusKm of the
// pickup point and returns them scored, best first, capped at TopN. An empty
// slice means no reachable drivers; the caller decides whether to escalate.
func (s *Scorer) Rank(pickup models.Coord, class models.VehicleClass, radiusKm float64) []models.DispatchCandidate {
	entries := s.registry.Query(class)
	cands := make([]models.DispatchCandidate, 0, len(entries))
	for _, e := range entries {
		d := geo.DistanceKm(pickup, *e.Location)
		if d > radiusKm {
			continue
		}
		rating, completion := s.resolveHistory(e)
		score := s.cfg.Weights.Distance*distanceScore(d, radiusKm) +
			s.cfg.Weights.Rating*clamp01(rating/5) +
			s.cfg.Weights.Completion*clamp01(completion) +
			s.cfg.Weights.Comfort*comfortScore(e.VehicleClass)
		cands = append(cands, models.DispatchCandidate{
			DriverID:     e.DriverID,
			DistanceKm:   d,
			Score:        score,
			VehicleClass: e.VehicleClass,
			Rating:       rating,
		})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		if cands[i].DistanceKm != cands[j].DistanceKm {
			return cands[i].DistanceKm < cands[j].DistanceKm
		}
		return cands[i].DriverID < cands[j].DriverID
	})
	if len(cands) > s.cfg.TopN {
		cands = cands[:s.cfg.TopN]
	}
	return cands
}

// resolveHistory prefers the directory's authoritative rating over the
// presence snapshot, falling back to configured defaults when neither is
// known. Completion rate saturates with ride count so veterans rank above
// unknowns without extra storage.
func (s *Scorer) resolveHistory(e presence.Snapshot) (rating, completion float64) {
	rating = e.Rating
	completion = s.cfg.FallbackCompletion
	if s.directory != nil {
		if p, ok := s.directory.Profile(e.DriverID); ok {
			if p.Rating > 0 {
				rating = p.Rating
			}
			cr := float64(p.TotalRides) / float64(p.TotalRides+20)
			completion = math.Max(cr, s.cfg.FallbackCompletion)
		}
	}
	if rating <= 0 {
		rating = s.cfg.FallbackRating
	}
	return rating, completion
}

// EstimateETASeconds is a naive straight-line pickup ETA at the configured
// average speed; good enough for the request payload, not for routing.
func (s *Scorer) EstimateETASeconds(from, to models.Coord) float64 {
	speed := s.cfg.DefaultSpeedMps
	if speed <= 0 {
		speed = 8.0
	}
	return geo.DistanceKm(from, to) * 1000 / speed
}

// EstimateFare is a placeholder distance-linear estimate with a per-class
// multiplier. Real pricing lives outside this engine.
func (s *Scorer) EstimateFare(pickup, dropoff models.Coord, class models.VehicleClass) float64 {
	fare := s.cfg.FareBase + s.cfg.FarePerKm*geo.DistanceKm(pickup, dropoff)
	switch class {
	case models.ClassComfort:
		fare *= 1.25
	case models.ClassPremium:
		fare *= 1.6
	}
	return math.Round(fare*100) / 100
}

func distanceScore(d, radius float64) float64 {
	if radius <= 0 {
		return 0
	}
	return math.Max(0, 1-d/radius)
}

func comfortScore(class models.VehicleClass) float64 {
	switch class {
	case models.ClassPremium:
		return 1.0
	case models.ClassComfort:
		return 0.8
	default:
		return 0.6
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
