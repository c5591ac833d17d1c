package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// VehicleClass is the rider-facing vehicle category.
type VehicleClass string

const (
	ClassCompact VehicleClass = "compact"
	ClassComfort VehicleClass = "comfort"
	ClassPremium VehicleClass = "premium"
)

func (v VehicleClass) Valid() bool {
	switch v {
	case ClassCompact, ClassComfort, ClassPremium:
		return true
	}
	return false
}

// Ordinal orders classes by rider-perceived quality. A driver of a higher
// class can serve a request for a lower one.
func (v VehicleClass) Ordinal() int {
	switch v {
	case ClassPremium:
		return 3
	case ClassComfort:
		return 2
	case ClassCompact:
		return 1
	}
	return 0
}

// Serves reports whether a driver of class v can take a request for class c.
func (v VehicleClass) Serves(c VehicleClass) bool {
	return v.Ordinal() >= c.Ordinal()
}

type RideStatus string

const (
	StatusPending    RideStatus = "pending"
	StatusAccepted   RideStatus = "accepted"
	StatusInProgress RideStatus = "in_progress"
	StatusCompleted  RideStatus = "completed"
	StatusCancelled  RideStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type RideRequest struct {
	RiderID      string       `json:"rider_id"`
	Pickup       Coord        `json:"pickup"`
	Dropoff      Coord        `json:"dropoff"`
	VehicleClass VehicleClass `json:"vehicle_class"`
}

type Ride struct {
	ID            string       `json:"id"`
	RiderID       string       `json:"rider_id"`
	DriverID      string       `json:"driver_id,omitempty"`
	Pickup        Coord        `json:"pickup"`
	Dropoff       Coord        `json:"dropoff"`
	VehicleClass  VehicleClass `json:"vehicle_class"`
	EstimatedFare float64      `json:"estimated_fare"`
	Status        RideStatus   `json:"status"`
	CancelReason  string       `json:"cancel_reason,omitempty"`
	RequestedAt   time.Time    `json:"requested_at"`
	AcceptedAt    *time.Time   `json:"accepted_at,omitempty"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
	CancelledAt   *time.Time   `json:"cancelled_at,omitempty"`
}

// PresenceReport is the wire shape drivers (or their app backend) send to
// announce availability and position. The same shape is the Kafka message
// body on the presence topic.
type PresenceReport struct {
	DriverID     string       `json:"driver_id"`
	Online       bool         `json:"online"`
	Location     *Coord       `json:"location,omitempty"`
	VehicleClass VehicleClass `json:"vehicle_class,omitempty"`
	Rating       float64      `json:"rating,omitempty"`
	ReportedAt   time.Time    `json:"reported_at,omitempty"`
}

// DispatchCandidate is a scored driver considered for one dispatch phase.
// Derived at ranking time, never persisted.
type DispatchCandidate struct {
	DriverID     string       `json:"driver_id"`
	DistanceKm   float64      `json:"distance_km"`
	Score        float64      `json:"score"`
	VehicleClass VehicleClass `json:"vehicle_class"`
	Rating       float64      `json:"rating"`
}

// Event names pushed over the notification channel.
const (
	EventRideRequest    = "ride_request"
	EventMatchingUpdate = "matching_update"
	EventRideTimeout    = "ride_timeout"
	EventRideAccepted   = "ride_accepted"
)

type RideRequestPayload struct {
	RideID        string       `json:"ride_id"`
	Pickup        Coord        `json:"pickup"`
	Dropoff       Coord        `json:"dropoff"`
	VehicleClass  VehicleClass `json:"vehicle_class"`
	EstimatedFare float64      `json:"estimated_fare"`
	DistanceKm    float64      `json:"distance_km"`
	ETASeconds    float64      `json:"eta_seconds"`
}

type MatchingUpdatePayload struct {
	RideID   string  `json:"ride_id"`
	Phase    string  `json:"phase"`
	RadiusKm float64 `json:"radius_km"`
}

type RideTimeoutPayload struct {
	RideID string `json:"ride_id"`
}

type RideAcceptedPayload struct {
	RideID   string `json:"ride_id"`
	DriverID string `json:"driver_id"`
}
