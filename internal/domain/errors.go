package domain

import (
	"errors"
	"fmt"
)

// Stage names a pipeline stage for error attribution and progress messages.
type Stage string

const (
	StageCache     Stage = "cache"
	StageDiscovery Stage = "discovery"
	StageScraping  Stage = "scraping"
	StageAnalysis  Stage = "analysis"
	StageScoring   Stage = "scoring"
	StagePromotion Stage = "promotion"
)

type ErrorKind string

const (
	// ErrorKindTransient covers external failures that a user-triggered retry may fix.
	ErrorKindTransient ErrorKind = "transient"
	// ErrorKindPermanent covers bad input and missing configuration.
	ErrorKindPermanent ErrorKind = "permanent"
)

// PipelineError is a stage failure that terminates a job.
type PipelineError struct {
	Stage Stage
	Kind  ErrorKind
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func (e *PipelineError) Retryable() bool {
	return e.Kind == ErrorKindTransient
}

func Transient(stage Stage, err error) error {
	return &PipelineError{Stage: stage, Kind: ErrorKindTransient, Err: err}
}

func Permanent(stage Stage, err error) error {
	return &PipelineError{Stage: stage, Kind: ErrorKindPermanent, Err: err}
}

// AsPipelineError unwraps err into a PipelineError. Unclassified errors are
// treated as transient failures of the given stage.
func AsPipelineError(stage Stage, err error) *PipelineError {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe
	}
	return &PipelineError{Stage: stage, Kind: ErrorKindTransient, Err: err}
}
