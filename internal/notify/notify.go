// Package notify delivers user and admin notifications over the event bus.
package notify

import (
	"context"
	"expvar"

	"bingo-coordinator/internal/events"

	"github.com/rs/zerolog/log"
)

const (
	EventUser   = "notify_user"
	EventAdmins = "notify_admins"
)

var metricFailed = expvar.NewInt("notify_failed_total")

type Message struct {
	UserID string `json:"userId,omitempty"`
	Kind   string `json:"kind"`
	Data   any    `json:"data,omitempty"`
}

type Dispatcher struct {
	pub events.Publisher
}

func New(pub events.Publisher) *Dispatcher {
	return &Dispatcher{pub: pub}
}

func (d *Dispatcher) NotifyUser(ctx context.Context, userID, kind string, data any) {
	log.Info().Str("user_id", userID).Str("kind", kind).Msg("notify user")
	d.publish(ctx, EventUser, userID, Message{UserID: userID, Kind: kind, Data: data})
}

func (d *Dispatcher) NotifyAdmins(ctx context.Context, kind string, data any) {
	log.Warn().Str("kind", kind).Interface("data", data).Msg("notify admins")
	d.publish(ctx, EventAdmins, kind, Message{Kind: kind, Data: data})
}

// publish never fails the caller; delivery problems are logged and counted.
func (d *Dispatcher) publish(ctx context.Context, eventType, key string, msg Message) {
	if d.pub == nil {
		return
	}
	if err := d.pub.Publish(ctx, eventType, key, msg); err != nil {
		metricFailed.Add(1)
		log.Warn().Err(err).Str("kind", msg.Kind).Msg("notification publish failed")
	}
}
