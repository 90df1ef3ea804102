package ride

import (
	"errors"
	"strings"
)

// Status is a ride status as stored in the `rides` table.
type Status string

const (
	StatusRequested  Status = "REQUESTED"
	StatusOffered    Status = "OFFERED"
	StatusAccepted   Status = "ACCEPTED"
	StatusArriving   Status = "ARRIVING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCanceled   Status = "CANCELED"
)

var ErrInvalidStatus = errors.New("invalid ride status")

// ParseStatus normalizes (uppercases+trims) and validates a status string.
func ParseStatus(in string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(in)))
	if status.Valid() {
		return status, nil
	}
	return "", ErrInvalidStatus
}

// Valid reports whether status is one of the allowed ride status constants.
func (status Status) Valid() bool {
	switch status {
	case StatusRequested, StatusOffered, StatusAccepted, StatusArriving,
		StatusInProgress, StatusCompleted, StatusCanceled:
		return true
	default:
		return false
	}
}

// String returns the string representation of the Status.
func (status Status) String() string {
	return string(status)
}

// CanTransitionTo specifies if the status can transition to the next status.
// The flow is linear except for OFFERED -> REQUESTED: when every offer of a
// ride dies without acceptance the ride goes back into the matching pipeline.
func (status Status) CanTransitionTo(next Status) bool {
	switch status {
	case StatusRequested:
		return next == StatusOffered || next == StatusCanceled

	case StatusOffered:
		return next == StatusAccepted || next == StatusRequested || next == StatusCanceled

	case StatusAccepted:
		return next == StatusArriving || next == StatusCanceled

	case StatusArriving:
		return next == StatusInProgress || next == StatusCanceled

	case StatusInProgress:
		return next == StatusCompleted

	case StatusCompleted, StatusCanceled:
		return false

	default:
		return false
	}
}

// Terminal indicates if the status is in a terminal state.
func (status Status) Terminal() bool {
	return status == StatusCompleted || status == StatusCanceled
}

// Dispatchable reports whether the ride is still inside the dispatch cycle,
// i.e. waiting for offers or waiting for a driver to accept one.
func (status Status) Dispatchable() bool {
	return status == StatusRequested || status == StatusOffered
}
