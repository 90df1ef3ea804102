package contracts

import "time"

// Envelope adds cross-cutting headers all messages may carry.
type Envelope struct {
	CorrelationID string    `json:"correlation_id,omitempty"` // Correlation for tracing across services
	Producer      string    `json:"producer,omitempty"`       // Producer service name, e.g. "dispatchd"
	SentAt        time.Time `json:"sent_at,omitempty"`        // ISO-8601 send time (UTC)
}

// OfferEventMessage is published on the dispatch topic for every offer
// lifecycle event and mirrored to the driver's websocket.
type OfferEventMessage struct {
	Envelope
	Event     string     `json:"event"` // offer_created, offer_expired, ...
	OfferID   string     `json:"offer_id"`
	RideID    string     `json:"ride_id"`
	DriverID  string     `json:"driver_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// RideStatusMessage is published on every ride status change and mirrored to
// the rider's websocket.
type RideStatusMessage struct {
	Envelope
	RideID    string `json:"ride_id"`
	RiderID   string `json:"rider_id"`
	DriverID  string `json:"driver_id,omitempty"`
	OldStatus string `json:"old_status,omitempty"`
	NewStatus string `json:"new_status"`
	Reason    string `json:"reason,omitempty"`
}

// WSEvent is the uniform frame pushed over driver and rider websockets.
type WSEvent struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}
