package http

import (
	"github.com/fyrsmithlabs/assistd/internal/runs"
	"github.com/fyrsmithlabs/assistd/internal/tools"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// RunRequest is the request body for POST /api/v1/runs and
// POST /api/v1/runs/stream.
type RunRequest struct {
	Question string `json:"question"`
	ModelID  string `json:"model_id,omitempty"`
}

// RunResponse is returned when a run is accepted or cancelled.
type RunResponse struct {
	ID     string      `json:"id"`
	Status runs.Status `json:"status"`
}

// RunListResponse is the response body for GET /api/v1/runs.
type RunListResponse struct {
	Runs  []runs.Summary `json:"runs"`
	Count int            `json:"count"`
}

// ToolInfo describes one registered tool.
type ToolInfo struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Parameters  tools.Schema `json:"parameters"`
}

// ToolListResponse is the response body for GET /api/v1/tools.
type ToolListResponse struct {
	Tools []ToolInfo `json:"tools"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Message string `json:"message"`
}
