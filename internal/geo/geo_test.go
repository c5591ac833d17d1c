package geo

import (
	"math"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func TestDistanceKmZero(t *testing.T) {
	d := DistanceKm(models.Coord{Lat: 51.5, Lng: -0.1}, models.Coord{Lat: 51.5, Lng: -0.1})
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestDistanceKmOneDegreeLat(t *testing.T) {
	// one degree of latitude is ~111.19 km
	d := DistanceKm(models.Coord{Lat: 0, Lng: 0}, models.Coord{Lat: 1, Lng: 0})
	if math.Abs(d-111.19) > 0.1 {
		t.Fatalf("expected ~111.19km, got %f", d)
	}
}

func TestDistanceKmSymmetric(t *testing.T) {
	a := models.Coord{Lat: 40.7128, Lng: -74.0060}
	b := models.Coord{Lat: 40.7484, Lng: -73.9857}
	if d1, d2 := DistanceKm(a, b), DistanceKm(b, a); math.Abs(d1-d2) > 1e-9 {
		t.Fatalf("not symmetric: %f vs %f", d1, d2)
	}
}
