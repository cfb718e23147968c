package models

import "time"

// APILog is one inbound API request.
type APILog struct {
	ID        int64     `json:"id"`
	IP        string    `json:"ip"`
	Country   string    `json:"country,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Path      string    `json:"path"`
	Method    string    `json:"method"`
	CreatedAt time.Time `json:"created_at"`
}
