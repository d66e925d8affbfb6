// mqttclient is a thin, opinionated wrapper around
// github.com/eclipse/paho.mqtt.golang used by beacon services that export
// events to an MQTT broker. The client is created once per process and carried
// through context to whichever component needs it.
package mqttclient

import (
	"context"
	stdlog "log"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func init() {
	if env := os.Getenv("DEBUG_MQTT_CLIENT"); strings.ToLower(env) == "true" {
		// Paho's internal logging.
		mqtt.ERROR = stdlog.New(os.Stdout, "[ERROR] ", 0)
		mqtt.CRITICAL = stdlog.New(os.Stdout, "[CRITICAL] ", 0)
		mqtt.WARN = stdlog.New(os.Stdout, "[WARN]  ", 0)
		mqtt.DEBUG = stdlog.New(os.Stdout, "[DEBUG] ", 0)
	}
}

type contextKey string

const clientKey = contextKey("mqtt_client")

const (
	writeTimeout = 1 * time.Second
	pingTimeout  = 10 * time.Second
)

var (
	defaultPubHandler mqtt.MessageHandler = func(client mqtt.Client, msg mqtt.Message) {
		log.Info().Str("msg", string(msg.Payload())).Str("topic", msg.Topic()).Msg("received an unrouted message")
	}

	connectHandler mqtt.OnConnectHandler = func(client mqtt.Client) {
		log.Info().Msg("connected to broker")
	}

	connectLostHandler mqtt.ConnectionLostHandler = func(client mqtt.Client, err error) {
		log.Info().Err(err).Msg("connection to broker lost")
	}

	reconnectHandler mqtt.ReconnectHandler = func(mqtt.Client, *mqtt.ClientOptions) {
		log.Info().Msg("reconnecting to broker")
	}
)

// ConfigOptions is config options for an MQTT client.
type ConfigOptions struct {
	Server   string
	ClientID string
	Username string
	Password string
}

// NewClient builds an MQTT client with connection management automated: it
// keeps trying to connect and reconnects when the network drops.
func NewClient(ctx context.Context, config ConfigOptions) mqtt.Client {
	setLogger(ctx)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Server)
	// A random suffix keeps concurrent instances from evicting each other.
	opts.SetClientID(config.ClientID + "-" + uuid.NewString())

	// Ordered delivery is not needed for event export; disabling it avoids
	// paho deadlocks on blocking message handlers.
	opts.SetOrderMatters(false)
	opts.SetCleanSession(false)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetDefaultPublishHandler(defaultPubHandler)
	opts.OnConnectionLost = connectLostHandler
	opts.OnReconnecting = reconnectHandler
	opts.OnConnect = connectHandler

	opts.WriteTimeout = writeTimeout
	opts.PingTimeout = pingTimeout
	opts.ConnectRetry = true

	return mqtt.NewClient(opts)
}

// setLogger scopes the package logger to the caller's context logger.
func setLogger(ctx context.Context) {
	log.Logger = log.Ctx(ctx).With().Str("component", "mqtt-client").Logger()
}

// CheckConnectivity checks MQTT client connectivity with a timeout.
func CheckConnectivity(client mqtt.Client, timeout time.Duration) error {
	if token := client.Connect(); token.WaitTimeout(timeout) && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// WithContext returns a context carrying the provided client.
func WithContext(ctx context.Context, client mqtt.Client) context.Context {
	return context.WithValue(ctx, clientKey, client)
}

// FromContext returns the MQTT client stored in context, or nil.
func FromContext(ctx context.Context) mqtt.Client {
	if client, ok := ctx.Value(clientKey).(mqtt.Client); ok {
		return client
	}
	return nil
}
