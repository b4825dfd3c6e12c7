/*
2019 © Postgres.ai
*/

// Package models provides domain entities shared by the server and its clients.
package models

// AnalysisRequest represents a lock analysis request.
type AnalysisRequest struct {
	Query    string  `json:"query"`
	Schema   *string `json:"schema,omitempty"`
	Relation *string `json:"relation,omitempty"`
}

// ErrorResponse represents an error returned by the server.
type ErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// HealthResponse represents a response for heath-check requests.
type HealthResponse struct {
	Version string `json:"version"`
	Pairs   int    `json:"pairs"`
	Started string `json:"started"`
	Uptime  string `json:"uptime"`
}
