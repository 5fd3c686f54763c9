package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMeterNotFound        = errors.New("meter not found")
	ErrKeyUnavailable       = errors.New("signing key unavailable")
	ErrOracleNotInitialized = errors.New("oracle client not initialized")
)

// AcquisitionError means a source adapter could not obtain a value.
type AcquisitionError struct {
	MeterID string
	Cause   error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire reading for meter %s: %v", e.MeterID, e.Cause)
}

func (e *AcquisitionError) Unwrap() error { return e.Cause }

// SigningError means no attestation could be produced. The reading must not
// be submitted.
type SigningError struct {
	MeterID string
	Cause   error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("sign reading for meter %s: %v", e.MeterID, e.Cause)
}

func (e *SigningError) Unwrap() error { return e.Cause }

type SubmissionKind int

const (
	Transient SubmissionKind = iota
	Rejected
	Fatal
)

func (k SubmissionKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Rejected:
		return "rejected"
	case Fatal:
		return "fatal"
	}
	return "unknown"
}

type SubmissionError struct {
	Kind    SubmissionKind
	MeterID string
	// Code is the oracle's rejection code, if it sent one.
	Code  string
	Cause error
}

func (e *SubmissionError) Error() string {
	msg := fmt.Sprintf("submit reading for meter %s (%s)", e.MeterID, e.Kind)
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *SubmissionError) Unwrap() error { return e.Cause }

func submissionKind(err error) (SubmissionKind, bool) {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}

func IsFatal(err error) bool {
	k, ok := submissionKind(err)
	return ok && k == Fatal
}

func IsRejected(err error) bool {
	k, ok := submissionKind(err)
	return ok && k == Rejected
}

func IsTransient(err error) bool {
	k, ok := submissionKind(err)
	return ok && k == Transient
}
