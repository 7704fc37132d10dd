package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/medocr/docflow"
	"github.com/medocr/docflow/id"
	"github.com/medocr/docflow/scope"
	"github.com/medocr/docflow/workflow"
)

const maxRequestBody = 1 << 20

func (a *API) runWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("workflowId")

	var req RunRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.DocumentID = strings.TrimSpace(req.DocumentID)
	if req.DocumentID == "" {
		writeError(w, http.StatusBadRequest, "documentId is required")
		return
	}

	res, err := a.exec.Execute(r.Context(), workflowID, req.DocumentID)
	status := docflow.HTTPStatus(err)
	if err != nil {
		a.logger.Warn("run request failed",
			slog.String("workflow_id", workflowID),
			slog.String("document_id", req.DocumentID),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, RunResponse{Result: res, Error: err.Error()})
		return
	}
	writeJSON(w, status, RunResponse{Result: res})
}

func (a *API) processDocument(w http.ResponseWriter, r *http.Request) {
	documentID := strings.TrimSpace(r.PathValue("documentId"))
	if documentID == "" {
		writeError(w, http.StatusBadRequest, "documentId is required")
		return
	}

	res, err := a.exec.Process(r.Context(), documentID)
	status := docflow.HTTPStatus(err)
	if err != nil {
		a.logger.Warn("process request failed",
			slog.String("document_id", documentID),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, RunResponse{Result: res, Error: err.Error()})
		return
	}
	writeJSON(w, status, RunResponse{Result: res})
}

func (a *API) getRun(w http.ResponseWriter, r *http.Request) {
	runID, err := id.ParseRunID(r.PathValue("runId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run ID: "+err.Error())
		return
	}

	res, err := a.exec.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, docflow.HTTPStatus(err), err.Error())
		return
	}
	if org, ok := scope.OrgFrom(r.Context()); ok && org != res.OrgID {
		writeError(w, http.StatusNotFound, docflow.ErrRunNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := listLimit(q.Get("limit"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	var offset int
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		offset = n
	}

	runs, err := a.exec.ListRuns(r.Context(), workflow.ListOpts{
		WorkflowID: q.Get("workflowId"),
		DocumentID: q.Get("documentId"),
		Outcome:    workflow.RunOutcome(q.Get("outcome")),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		writeError(w, docflow.HTTPStatus(err), err.Error())
		return
	}

	// Runs of other organizations are dropped after paging.
	out := make([]*workflow.RunResult, 0, len(runs))
	org, scoped := scope.OrgFrom(r.Context())
	for _, run := range runs {
		if scoped && run.OrgID != org {
			continue
		}
		out = append(out, run)
	}
	writeJSON(w, http.StatusOK, ListRunsResponse{Runs: out})
}

func (a *API) listSteps(w http.ResponseWriter, _ *http.Request) {
	entries := a.exec.Registry().Entries()
	out := make([]StepType, len(entries))
	for i, e := range entries {
		out[i] = StepType{
			Type:        e.Type,
			External:    e.External,
			Timeout:     formatTimeout(e.Timeout),
			Description: e.Description,
		}
	}
	writeJSON(w, http.StatusOK, ListStepsResponse{Steps: out})
}
