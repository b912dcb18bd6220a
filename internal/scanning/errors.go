package scanning

import (
	"errors"
	"fmt"
)

var (
	// ErrImageConversionFailed means the image could not be decoded or read
	ErrImageConversionFailed = errors.New("could not process image")
	// ErrNoTextFound means the image was readable but contained no text
	ErrNoTextFound = errors.New("no text found")
)

// UnavailableReason explains why a BillExtractor cannot be used
type UnavailableReason int

const (
	ReasonOther UnavailableReason = iota
	ReasonFeatureDisabled
	ReasonDeviceIneligible
	ReasonModelWarmingUp
)

func (r UnavailableReason) String() string {
	switch r {
	case ReasonFeatureDisabled:
		return "feature_disabled"
	case ReasonDeviceIneligible:
		return "device_ineligible"
	case ReasonModelWarmingUp:
		return "model_warming_up"
	default:
		return "other"
	}
}

// ModelUnavailableError is returned when the bill parsing model cannot be used.
// Its message is meant to be shown to the user as is.
type ModelUnavailableError struct {
	Reason UnavailableReason
	// Cause is the underlying error, if any. It is not part of the user message.
	Cause error
}

func (e *ModelUnavailableError) Error() string {
	switch e.Reason {
	case ReasonFeatureDisabled:
		return "Bill parsing is turned off. Configure a parsing model and try again."
	case ReasonDeviceIneligible:
		return "The configured parsing model is not supported on this host."
	case ReasonModelWarmingUp:
		return "The parsing model is not ready yet. Please try again in a moment."
	default:
		return "Bill parsing is not available."
	}
}

func (e *ModelUnavailableError) Unwrap() error {
	return e.Cause
}

// ParsingFailedError is returned when the model ran but its output was unusable
type ParsingFailedError struct {
	Detail string
}

func (e *ParsingFailedError) Error() string {
	return fmt.Sprintf("Could not parse the bill: %s", e.Detail)
}

func unavailable(reason UnavailableReason, cause error) error {
	return &ModelUnavailableError{Reason: reason, Cause: cause}
}

func parsingFailed(format string, args ...any) error {
	return &ParsingFailedError{Detail: fmt.Sprintf(format, args...)}
}
