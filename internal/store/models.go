package store

import "time"

// Session binds one browser session to the bearer token issued at login.
type Session struct {
	ID        string
	Token     string
	Email     string
	CreatedAt time.Time
	LastSeen  time.Time
}
