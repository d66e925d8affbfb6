// events exports session lifecycle to MQTT so other services can observe
// which broadcasts are live without speaking the signaling protocol.
package events

import (
	"context"
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	mqttclient "github.com/swifthub/beacon/pkg/mqttclient"

	"github.com/swifthub/beacon/internal/signal/cfg"
)

// Event types.
const (
	TypeBroadcastStarted = "broadcast_started"
	TypeBroadcastStopped = "broadcast_stopped"
)

// Event is the JSON payload published per lifecycle transition.
type Event struct {
	Type          string `json:"type"`
	PublishKey    string `json:"publishKey"`
	BroadcasterID string `json:"broadcasterId"`
	Name          string `json:"name,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

// Publisher publishes lifecycle events to a configurable topic prefix.
type Publisher struct {
	client mqtt.Client
	logger zerolog.Logger
	config cfg.EventsConfigOptions
}

// NewPublisher builds a Publisher from the MQTT client carried in ctx.
func NewPublisher(ctx context.Context, config cfg.EventsConfigOptions) *Publisher {
	logger := log.Ctx(ctx).With().Str("component", "events").Logger()
	return &Publisher{
		client: mqttclient.FromContext(ctx),
		logger: logger,
		config: config,
	}
}

// BroadcastStarted announces a freshly claimed (or renamed) session.
func (p *Publisher) BroadcastStarted(key, broadcasterID, name string) {
	p.publish(Event{
		Type:          TypeBroadcastStarted,
		PublishKey:    key,
		BroadcasterID: broadcasterID,
		Name:          name,
		Timestamp:     time.Now().UnixMilli(),
	})
}

// BroadcastStopped announces a destroyed session and its freed key.
func (p *Publisher) BroadcastStopped(key, broadcasterID string) {
	p.publish(Event{
		Type:          TypeBroadcastStopped,
		PublishKey:    key,
		BroadcasterID: broadcasterID,
		Timestamp:     time.Now().UnixMilli(),
	})
}

func (p *Publisher) publish(e Event) {
	if p.client == nil {
		p.logger.Warn().Str("type", e.Type).Msg("no MQTT client in context, dropping lifecycle event")
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Err(err).Msg("could not marshal lifecycle event")
		return
	}
	topic := p.config.TopicPrefix + "/" + e.PublishKey
	t := p.client.Publish(topic, byte(p.config.Qos), p.config.Retained, payload)
	// Handle the token in a goroutine so the caller keeps serving messages
	// regardless of delivery status.
	go func() {
		<-t.Done()
		if t.Error() != nil {
			p.logger.Err(t.Error()).Msgf("could not publish to %s", topic)
		}
	}()
}
