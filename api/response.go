package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/medocr/docflow/workflow"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// RunRequest is the body of POST /v1/workflows/{workflowId}/run.
type RunRequest struct {
	DocumentID string `json:"documentId"`
}

// RunResponse carries a run result, the error that ended the run, or both.
type RunResponse struct {
	Result *workflow.RunResult `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// ListRunsResponse is the body of GET /v1/runs.
type ListRunsResponse struct {
	Runs []*workflow.RunResult `json:"runs"`
}

// StepType describes a registered step type.
type StepType struct {
	Type        string `json:"type"`
	External    bool   `json:"external"`
	Timeout     string `json:"timeout,omitempty"`
	Description string `json:"description,omitempty"`
}

// ListStepsResponse is the body of GET /v1/steps.
type ListStepsResponse struct {
	Steps []StepType `json:"steps"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func formatTimeout(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.String()
}

// listLimit parses a limit query value, clamped to maxListLimit.
func listLimit(raw string) (int, bool) {
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return min(n, maxListLimit), true
}
