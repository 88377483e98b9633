package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/oshokin/alarm-monitor/internal/config"
	"github.com/oshokin/alarm-monitor/internal/logger"
)

const (
	clientIDSuffixLength = 8
	disconnectQuiesce    = 250 // Milliseconds paho waits for in-flight work on disconnect.
	connectRetryInterval = 5 * time.Second
)

// MQTTSource subscribes to the status topic of an MQTT broker.
type MQTTSource struct {
	// cfg holds broker settings.
	cfg *config.MQTTConfig
	// handler receives every payload.
	handler *Handler
	// clientID is generated once per source.
	clientID string
}

// NewMQTTSource creates a source with a fresh client id of the form <prefix>_<8 hex chars>.
func NewMQTTSource(cfg *config.MQTTConfig, handler *Handler) *MQTTSource {
	return &MQTTSource{
		cfg:      cfg,
		handler:  handler,
		clientID: newClientID(cfg.ClientIDPrefix),
	}
}

// ClientID returns the MQTT client id.
func (s *MQTTSource) ClientID() string {
	return s.clientID
}

// Run connects to the broker and processes messages until ctx is cancelled.
// Connection loss is retried by paho and the topic is resubscribed on every connect.
func (s *MQTTSource) Run(ctx context.Context) error {
	ctx = logger.WithKV(logger.WithName(ctx, "mqtt"),
		"broker", s.cfg.BrokerURL,
		"topic", s.cfg.Topic,
		"client_id", s.clientID)

	client := mqtt.NewClient(s.clientOptions(ctx))
	token := client.Connect()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("connect to mqtt broker: %w", err)
		}
	case <-ctx.Done():
		client.Disconnect(disconnectQuiesce)

		return nil
	}

	<-ctx.Done()

	logger.Info(ctx, "Disconnecting from MQTT broker")
	client.Disconnect(disconnectQuiesce)

	return nil
}

func (s *MQTTSource) clientOptions(ctx context.Context) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.BrokerURL).
		SetClientID(s.clientID).
		SetUsername(s.cfg.Username).
		SetPassword(s.cfg.Password).
		SetKeepAlive(s.cfg.KeepAlive).
		SetConnectTimeout(s.cfg.ConnectTimeout).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(connectRetryInterval)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		logger.Info(ctx, "Connected to MQTT broker")

		token := client.Subscribe(s.cfg.Topic, s.cfg.QoS, s.messageHandler(ctx))

		go func() {
			if !token.WaitTimeout(s.cfg.ConnectTimeout) {
				logger.Errorf(ctx, "Subscription to %s timed out", s.cfg.Topic)

				return
			}

			if err := token.Error(); err != nil {
				logger.ErrorKV(ctx, "Failed to subscribe", "error", err)

				return
			}

			logger.InfoKV(ctx, "Subscribed to status topic", "qos", s.cfg.QoS)
		}()
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.WarnKV(ctx, "Lost connection to MQTT broker", "error", err)
	})

	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		logger.Info(ctx, "Reconnecting to MQTT broker")
	})

	return opts
}

// messageHandler is called by paho for one message at a time in arrival order.
func (s *MQTTSource) messageHandler(ctx context.Context) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		//nolint:errcheck // Rejections are logged and counted by the handler.
		_ = s.handler.Handle(ctx, msg.Payload())
	}
}

func newClientID(prefix string) string {
	if prefix == "" {
		prefix = config.DefaultClientIDPrefix
	}

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:clientIDSuffixLength]

	return prefix + "_" + suffix
}
