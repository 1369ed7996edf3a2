package schedule

import "time"

type Class struct {
	ID          string    `db:"id" json:"id"`
	TenantID    string    `db:"tenant_id" json:"tenant_id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	Capacity    int       `db:"capacity" json:"capacity"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Session is one scheduled occurrence of a class. Capacity is copied from the
// class unless overridden at creation.
type Session struct {
	ID        string    `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	ClassID   string    `db:"class_id" json:"class_id"`
	StartsAt  time.Time `db:"starts_at" json:"starts_at"`
	EndsAt    time.Time `db:"ends_at" json:"ends_at"`
	Capacity  int       `db:"capacity" json:"capacity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type SessionWithAvailability struct {
	Session
	Confirmed  int  `json:"confirmed"`
	Waitlisted int  `json:"waitlisted"`
	Available  int  `json:"available"`
	IsFull     bool `json:"is_full"`
}

type CreateClassRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Capacity    int    `json:"capacity" binding:"required,min=1"`
}

type CreateSessionRequest struct {
	StartsAt string `json:"starts_at" binding:"required"`
	EndsAt   string `json:"ends_at" binding:"required"`
	Capacity *int   `json:"capacity,omitempty" binding:"omitempty,min=1"`
}

type statusCount struct {
	SessionID string `db:"session_id"`
	Status    string `db:"status"`
	N         int    `db:"n"`
}
