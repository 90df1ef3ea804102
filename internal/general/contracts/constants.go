package contracts

// Exchanges
const (
	ExchangeDispatchTopic = "dispatch_topic"
)

// Queues
const (
	QueueOfferEvents      = "offer_events"
	QueueRideStatusEvents = "ride_status_events"
)

// Routing patterns
const (
	RouteOfferPrefix      = "offer."      // offer.{event}.{driver_id}
	RouteRideStatusPrefix = "ride.status." // {status}
)

// Offer event names used in routing keys and WS payloads.
const (
	EventOfferCreated  = "offer_created"
	EventOfferExpired  = "offer_expired"
	EventOfferAccepted = "offer_accepted"
	EventOfferDeclined = "offer_declined"
)

// Ride event names pushed to riders.
const (
	EventRideStatus = "ride_status"
)
