package offer

import (
	"errors"
	"strings"
	"time"
)

// Status is an offer status as stored in the `ride_offers` table.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusDeclined Status = "DECLINED"
	StatusExpired  Status = "EXPIRED"
)

var ErrInvalidStatus = errors.New("invalid offer status")

// ParseStatus normalizes (uppercases+trims) and validates an offer status string.
func ParseStatus(in string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(in)))
	if status.Valid() {
		return status, nil
	}
	return "", ErrInvalidStatus
}

// Valid reports whether the status is one of the allowed offer status constants.
func (status Status) Valid() bool {
	switch status {
	case StatusPending, StatusAccepted, StatusDeclined, StatusExpired:
		return true
	default:
		return false
	}
}

// String returns the string representation of the Status.
func (status Status) String() string {
	return string(status)
}

// Terminal indicates the offer can no longer be acted on by a driver.
func (status Status) Terminal() bool {
	return status != StatusPending
}

// Offer is a time-boxed proposal of one ride to one specific driver.
// Rows are retained for audit after they terminate; the dispatch core
// never deletes them.
type Offer struct {
	ID          string
	RideID      string
	DriverID    string
	Status      Status
	CreatedAt   time.Time
	RespondedAt *time.Time // set when the driver accepted or declined
	ExpiresAt   time.Time
}

var (
	ErrRideRequired   = errors.New("ride id is required")
	ErrDriverRequired = errors.New("driver id is required")
	ErrExpiryRequired = errors.New("offer expiry must be set")
)

// New creates a PENDING offer for the given ride/driver pair.
func New(rideID, driverID string, expiresAt time.Time) (*Offer, error) {
	if rideID = strings.TrimSpace(rideID); rideID == "" {
		return nil, ErrRideRequired
	}
	if driverID = strings.TrimSpace(driverID); driverID == "" {
		return nil, ErrDriverRequired
	}
	if expiresAt.IsZero() {
		return nil, ErrExpiryRequired
	}

	return &Offer{
		RideID:    rideID,
		DriverID:  driverID,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt.UTC(),
	}, nil
}

// ExpiredAt reports whether the offer deadline has passed at the given instant.
func (offer *Offer) ExpiredAt(now time.Time) bool {
	return now.After(offer.ExpiresAt)
}

// Live reports whether the offer still blocks the ride from being re-offered:
// either a driver can still act on it, or a driver already won with it.
func (offer *Offer) Live() bool {
	return offer.Status == StatusPending || offer.Status == StatusAccepted
}
