package models

import "time"

// Session groups a named conversation thread with its own chat log and
// persona association.
type Session struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Created      time.Time `json:"created"`
	LastUpdated  time.Time `json:"lastUpdated"`
	MessageCount int       `json:"messageCount"`
	PersonaID    string    `json:"personaId"`
}

// SessionSummary is what the session list presents: the session record plus a
// derived flag for the currently selected session.
type SessionSummary struct {
	Session
	Active bool `json:"active"`
}
