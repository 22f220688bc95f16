package smoke

import (
	"errors"
	"fmt"

	"github.com/dvloznov/ledgerx-smoke/internal/ledgerclient"
)

// Kind classifies why a step failed.
type Kind string

const (
	KindTransport       Kind = "transport"        // no HTTP response
	KindStatus          Kind = "status"           // unexpected HTTP status
	KindPayload         Kind = "payload"          // malformed or unexpected response body
	KindExportError     Kind = "export_error"     // export reached status "error"
	KindTimeout         Kind = "timeout"          // polling exhausted its attempts
	KindArtifactMissing Kind = "artifact_missing" // export file not found anywhere
	KindStorage         Kind = "storage"          // archive upload failed
	KindCanceled        Kind = "canceled"         // context canceled mid-run
)

// StepError is the error every failing step returns.
type StepError struct {
	Step   string
	Kind   Kind
	Status int // HTTP status when one was received
	Msg    string
	Err    error
}

func (e *StepError) Error() string {
	s := fmt.Sprintf("%s: %s", e.Step, e.Msg)
	if e.Status != 0 {
		s += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// AsStepError extracts the StepError from err, if any.
func AsStepError(err error) (*StepError, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func fail(step string, kind Kind, msg string, err error) *StepError {
	return &StepError{Step: step, Kind: kind, Msg: msg, Err: err}
}

// responseFailure classifies a Result that did not carry an accepted status.
func responseFailure(step, msg string, res ledgerclient.Result) *StepError {
	if res.Failed() {
		return &StepError{Step: step, Kind: KindTransport, Msg: msg, Err: res.Err}
	}
	return &StepError{Step: step, Kind: KindStatus, Status: res.StatusCode, Msg: msg}
}
