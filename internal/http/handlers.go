package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/scorer"
)

type Server struct {
	registry *presence.Registry
	scorer   *scorer.Scorer
	rides    *lifecycle.Manager
	coord    *dispatch.Coordinator
	hub      *dispatch.Hub
	kafka    *ingest.KafkaProducer // optional
	logger   *slog.Logger
	mux      *mux.Router
}

type Deps struct {
	Registry *presence.Registry
	Scorer   *scorer.Scorer
	Rides    *lifecycle.Manager
	Coord    *dispatch.Coordinator
	Hub      *dispatch.Hub
	Kafka    *ingest.KafkaProducer
	Logger   *slog.Logger
}

func NewServer(d Deps) *Server {
	s := &Server{
		registry: d.Registry,
		scorer:   d.Scorer,
		rides:    d.Rides,
		coord:    d.Coord,
		hub:      d.Hub,
		kafka:    d.Kafka,
		logger:   d.Logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/rides/request", s.handleRideRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}", s.handleGetRide).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/accept", s.handleAccept).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/start", s.handleStart).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/complete", s.handleComplete).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/cancel", s.handleCancel).Methods("POST")
	s.mux.HandleFunc("/internal/driver/presence", s.handlePresenceReport).Methods("POST")
	s.mux.HandleFunc("/ws/driver/{driver_id}", s.handleDriverWS)
	s.mux.HandleFunc("/ws/events", s.handleEventsWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	var req models.RideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RiderID == "" || !req.VehicleClass.Valid() {
		writeError(w, http.StatusBadRequest, "rider_id and a valid vehicle_class are required")
		return
	}
	fare := s.scorer.EstimateFare(req.Pickup, req.Dropoff, req.VehicleClass)
	ride, err := s.rides.Create(r.Context(), req, fare)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not create ride")
		s.logger.Error("ride create failed", "error", err)
		return
	}
	s.coord.Begin(ride)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"ride_id":          ride.ID,
		"status":           ride.Status,
		"estimated_fare":   ride.EstimatedFare,
		"trip_eta_seconds": s.scorer.EstimateETASeconds(req.Pickup, req.Dropoff),
	})
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.rides.Get(r.Context(), mux.Vars(r)["ride_id"])
	if err != nil {
		writeError(w, http.StatusNotFound, "ride not found")
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DriverID string `json:"driver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DriverID == "" {
		writeError(w, http.StatusBadRequest, "driver_id is required")
		return
	}
	ride, err := s.rides.Claim(r.Context(), mux.Vars(r)["ride_id"], body.DriverID)
	if err != nil {
		if errors.Is(err, lifecycle.ErrAlreadyResolved) {
			writeError(w, http.StatusConflict, "ride no longer available")
			return
		}
		writeError(w, http.StatusInternalServerError, "claim failed")
		s.logger.Error("claim failed", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func() (*models.Ride, error) {
		return s.rides.Start(r.Context(), mux.Vars(r)["ride_id"])
	})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func() (*models.Ride, error) {
		return s.rides.Complete(r.Context(), mux.Vars(r)["ride_id"])
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Reason == "" {
		body.Reason = "cancelled by rider"
	}
	s.transition(w, r, func() (*models.Ride, error) {
		return s.rides.Cancel(r.Context(), mux.Vars(r)["ride_id"], body.Reason)
	})
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, op func() (*models.Ride, error)) {
	ride, err := op()
	if err != nil {
		var invalid *lifecycle.InvalidTransitionError
		switch {
		case errors.As(err, &invalid):
			writeError(w, http.StatusConflict, invalid.Error())
		case errors.Is(err, lifecycle.ErrAlreadyResolved):
			writeError(w, http.StatusConflict, "ride no longer available")
		default:
			writeError(w, http.StatusNotFound, "ride not found")
		}
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handlePresenceReport(w http.ResponseWriter, r *http.Request) {
	var rep models.PresenceReport
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if rep.DriverID == "" {
		writeError(w, http.StatusBadRequest, "driver_id is required")
		return
	}
	if rep.ReportedAt.IsZero() {
		rep.ReportedAt = time.Now()
	}
	if rep.Online {
		s.registry.SetOnline(rep.DriverID, rep.Location, rep.VehicleClass, rep.Rating)
	} else {
		s.registry.SetOffline(rep.DriverID)
	}
	if s.kafka != nil {
		if err := s.kafka.PublishPresence(rep); err != nil {
			s.logger.Warn("presence publish failed", "driver_id", rep.DriverID, "error", err)
		}
	}
	observability.DriversOnline.Set(float64(s.registry.OnlineCount()))
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

// driverFrame is what a connected driver sends upstream: periodic location
// pings, or an explicit go-offline.
type driverFrame struct {
	Type     string       `json:"type"`
	Location models.Coord `json:"location"`
}

func (s *Server) handleDriverWS(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	dc := s.hub.ConnectDriver(driverID, conn)
	observability.DriversOnline.Set(float64(s.registry.OnlineCount()))

	go func() {
		defer func() {
			dc.Close()
			observability.DriversOnline.Set(float64(s.registry.OnlineCount()))
		}()
		for {
			var f driverFrame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			switch f.Type {
			case "location":
				s.registry.UpdateLocation(driverID, f.Location)
			case "offline":
				s.registry.SetOffline(driverID)
				return
			}
		}
	}()
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	remove := s.hub.AddObserver(conn)
	go func() {
		defer remove()
		for {
			// observers only listen; the read loop just detects the close
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
