package directory

import (
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

// Postgres reads driver profiles from the drivers table. Errors degrade to
// a miss; the scorer falls back to its configured defaults.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Profile(driverID string) (Profile, bool) {
	var prof Profile
	var class string
	row := p.db.QueryRow(
		`SELECT id, name, rating, vehicle_class, total_rides FROM drivers WHERE id=$1`,
		driverID,
	)
	if err := row.Scan(&prof.DriverID, &prof.Name, &prof.Rating, &class, &prof.TotalRides); err != nil {
		return Profile{}, false
	}
	prof.VehicleClass = models.VehicleClass(class)
	return prof, true
}
