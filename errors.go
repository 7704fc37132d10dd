package docflow

import (
	"context"
	"errors"
	"net/http"
)

var (
	// Lookup errors.
	ErrWorkflowNotFound = errors.New("docflow: workflow not found")
	ErrDocumentNotFound = errors.New("docflow: document not found")
	ErrRunNotFound      = errors.New("docflow: run not found")

	// Configuration errors. Every error in this group wraps
	// ErrStepConfiguration so callers can test for the class.
	ErrStepConfiguration = errors.New("docflow: step configuration error")
	ErrUnknownStepType   = configError("docflow: unknown step type")
	ErrDanglingBranch    = configError("docflow: branch label has no successor")
	ErrUnknownSuccessor  = configError("docflow: successor step does not exist")
	ErrCycleLimit        = configError("docflow: workflow loops back to a visited step")

	// Authorization errors.
	ErrCrossTenant = errors.New("docflow: workflow and document belong to different organizations")

	// Admission errors.
	ErrRunRejected = errors.New("docflow: run rejected by admission limits")

	// Run termination errors.
	ErrRunTimeout  = errors.New("docflow: run deadline exceeded")
	ErrRunCanceled = errors.New("docflow: run canceled by caller")

	// Invariant violations.
	ErrDuplicateStepResult = errors.New("docflow: step result already recorded")
	ErrRegistryFrozen      = errors.New("docflow: step registry is frozen")
)

type classified struct {
	msg   string
	class error
}

func configError(msg string) error { return &classified{msg: msg, class: ErrStepConfiguration} }

func (e *classified) Error() string { return e.msg }
func (e *classified) Unwrap() error { return e.class }

// IsConfiguration reports whether err is a configuration-class error:
// a missing workflow or document, or a defect in the workflow definition.
// These are never retried.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrStepConfiguration) ||
		errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrDocumentNotFound)
}

// IsAuthorization reports whether err is a tenant mismatch.
func IsAuthorization(err error) bool { return errors.Is(err, ErrCrossTenant) }

// IsTimeout reports whether the run stopped because its deadline passed.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrRunTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// HTTPStatus maps an Execute error to the status code a request handler
// should answer with. A nil error maps to 200.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrWorkflowNotFound), errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrRunNotFound):
		return http.StatusNotFound
	case IsAuthorization(err):
		return http.StatusForbidden
	case errors.Is(err, ErrStepConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrRunRejected):
		return http.StatusTooManyRequests
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrRunCanceled), errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}
