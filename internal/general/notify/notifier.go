package notify

import (
	"context"
	"encoding/json"
	"time"

	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/general/rabbitmq"
	"ride-dispatch/internal/general/websocket"
	"ride-dispatch/internal/ports"

	"github.com/google/uuid"
)

const producerName = "dispatchd"

// Notifier fans dispatch events out to the message broker and to live
// websocket connections. Delivery is best effort: a failed push is logged and
// never fails the transaction that produced the event.
type Notifier struct {
	logger *logger.Logger
	hub    *websocket.Hub
	pub    *rabbitmq.MQPublisher
}

// New constructs a Notifier over the hub and publisher.
func New(log *logger.Logger, hub *websocket.Hub, pub *rabbitmq.MQPublisher) *Notifier {
	return &Notifier{logger: log, hub: hub, pub: pub}
}

var _ ports.Notifier = (*Notifier)(nil)

// NotifyDriver pushes an offer event to one driver over WS and the broker.
func (n *Notifier) NotifyDriver(ctx context.Context, driverID, event string, payload any) {
	n.publish(ctx, contracts.RouteOfferPrefix+event+"."+driverID, payload)

	if err := n.hub.SendToDriver(driverID, contracts.WSEvent{Event: event, Payload: payload}); err != nil {
		n.logger.Debug(ctx, "ws_push_skipped", "Driver not reachable over WebSocket", map[string]any{
			"driver_id": driverID,
			"event":     event,
		})
	}
}

// NotifyRide pushes a ride status event to the rider over WS and the broker.
func (n *Notifier) NotifyRide(ctx context.Context, rideID, riderID, event string, payload any) {
	n.publish(ctx, contracts.RouteRideStatusPrefix+event, payload)

	if err := n.hub.SendToRider(riderID, contracts.WSEvent{Event: contracts.EventRideStatus, Payload: payload}); err != nil {
		n.logger.Debug(ctx, "ws_push_skipped", "Rider not reachable over WebSocket", map[string]any{
			"ride_id":  rideID,
			"rider_id": riderID,
			"event":    event,
		})
	}
}

func (n *Notifier) publish(ctx context.Context, routingKey string, payload any) {
	body, err := json.Marshal(wrap(payload))
	if err != nil {
		n.logger.Error(ctx, "notify_marshal_failed", "Failed to marshal event payload", err, map[string]any{
			"routing_key": routingKey,
		})
		return
	}

	if err := n.pub.Publish(contracts.ExchangeDispatchTopic, routingKey, body); err != nil {
		n.logger.Error(ctx, "notify_publish_failed", "Failed to publish event", err, map[string]any{
			"routing_key": routingKey,
		})
	}
}

// wrap stamps envelope fields when the payload carries one.
func wrap(payload any) any {
	switch msg := payload.(type) {
	case *contracts.OfferEventMessage:
		msg.Envelope = envelope(msg.Envelope)
		return msg
	case *contracts.RideStatusMessage:
		msg.Envelope = envelope(msg.Envelope)
		return msg
	default:
		return payload
	}
}

func envelope(env contracts.Envelope) contracts.Envelope {
	if env.CorrelationID == "" {
		env.CorrelationID = uuid.NewString()
	}
	env.Producer = producerName
	env.SentAt = time.Now().UTC()
	return env
}
