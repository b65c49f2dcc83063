package models

import "time"

// Session capacity bounds enforced on create and update.
const (
	SessionMinCapacity = 1
	SessionMaxCapacity = 50
)

// Session is a time-bounded registration window a professor opens for
// supervision requests. Windows are half-open [start_date, end_date).
type Session struct {
	ID          string    `db:"id" json:"id"`
	ProfessorID string    `db:"professor_id" json:"professor_id"`
	Title       string    `db:"title" json:"title"`
	StartDate   time.Time `db:"start_date" json:"start_date"`
	EndDate     time.Time `db:"end_date" json:"end_date"`
	MaxStudents int       `db:"max_students" json:"max_students"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// SessionAvailability annotates a session with its remaining capacity.
type SessionAvailability struct {
	Session
	ProfessorName  string `db:"professor_name" json:"professor_name"`
	ApprovedCount  int    `db:"approved_count" json:"approved_count"`
	AvailableSpots int    `db:"-" json:"available_spots"`
}

// SessionTallies annotates a session with per-status request counts,
// returned to the owning professor.
type SessionTallies struct {
	Session
	PendingCount  int `db:"pending_count" json:"pending_count"`
	ApprovedCount int `db:"approved_count" json:"approved_count"`
	RejectedCount int `db:"rejected_count" json:"rejected_count"`
}
