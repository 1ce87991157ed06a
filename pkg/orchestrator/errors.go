package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/db"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/ledger"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/synthesis"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/templates"
)

// Machine readable failure codes. Clients switch on these; Message is for
// people.
const (
	CodeNotFound        = "not_found"
	CodeBuildFailed     = "build_failed"
	CodeStillProcessing = "still_processing"
	CodeMissingArtifact = "missing_artifact_queued_for_rebuild"
	CodeTimeout         = "generation_timeout"
	CodeProvider        = "provider_failure"
	CodeSynthesis       = "synthesis_failed"
	CodeConflict        = "edit_conflict"
	CodeInvalidRequest  = "invalid_request"
	CodeNothingToRevert = "nothing_to_revert"
	CodeInternal        = "internal"
)

// TurnError is a failed operation as the client sees it.
type TurnError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Err       error  `json:"-"`
}

func (e *TurnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *TurnError) Unwrap() error { return e.Err }

func invalid(format string, args ...any) *TurnError {
	return &TurnError{Code: CodeInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// classify maps a pipeline error onto the code and message a client gets.
func classify(err error) *TurnError {
	var te *TurnError
	if errors.As(err, &te) {
		return te
	}
	switch {
	case errors.Is(err, synthesis.ErrGenerationTimeout), errors.Is(err, context.DeadlineExceeded):
		return &TurnError{Code: CodeTimeout, Message: "Generating the scene took too long. Nothing was changed; please try again.", Retryable: true, Err: err}
	case errors.Is(err, synthesis.ErrProviderFailure):
		return &TurnError{Code: CodeProvider, Message: "The code generator is unavailable right now. Nothing was changed; please try again.", Retryable: true, Err: err}
	case errors.Is(err, synthesis.ErrSynthesisFailed):
		return &TurnError{Code: CodeSynthesis, Message: "The generated scene did not pass validation. Try rephrasing the request.", Retryable: true, Err: err}
	case errors.Is(err, db.ErrVersionConflict):
		return &TurnError{Code: CodeConflict, Message: "The scene changed while this request was running. Please retry.", Retryable: true, Err: err}
	case errors.Is(err, db.ErrNotFound), errors.Is(err, templates.ErrUnknownTemplate):
		return &TurnError{Code: CodeNotFound, Message: "The requested scene or record does not exist.", Err: err}
	case errors.Is(err, ledger.ErrNothingToRevert), errors.Is(err, ledger.ErrAlreadyRestored):
		return &TurnError{Code: CodeNothingToRevert, Message: "There is nothing left to revert for that change.", Err: err}
	case errors.Is(err, ledger.ErrInvalidIteration):
		return &TurnError{Code: CodeInvalidRequest, Message: "The change could not be recorded.", Err: err}
	}
	return &TurnError{Code: CodeInternal, Message: "Something went wrong while applying the change.", Err: err}
}
