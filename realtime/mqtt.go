package realtime

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTConfig holds broker connection settings.
type MQTTConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	ClientID string
}

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTClient is a connected paho client.
type MQTTClient struct {
	client mqtt.Client
}

// NewMQTTClient connects to the broker. The client reconnects on its own afterwards.
func NewMQTTClient(cfg MQTTConfig) (*MQTTClient, error) {
	broker := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	cli := mqtt.NewClient(opts)
	token := cli.Connect()
	if ok := token.WaitTimeout(10 * time.Second); !ok {
		return nil, fmt.Errorf("mqtt connect to %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}
	return &MQTTClient{client: cli}, nil
}

func (c *MQTTClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt publish to %s: timeout", topic)
	}
	return token.Error()
}

// Close disconnects from the broker.
func (c *MQTTClient) Close() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
}

// MQTTBridge republishes hub messages. Alerts go to <prefix>/alerts with QoS 1,
// statistics to <prefix>/statistics as a retained message.
type MQTTBridge struct {
	pub    Publisher
	prefix string
	logger *zap.Logger
}

// NewMQTTBridge creates a bridge publishing under prefix.
func NewMQTTBridge(pub Publisher, prefix string, logger *zap.Logger) *MQTTBridge {
	return &MQTTBridge{pub: pub, prefix: prefix, logger: logger.Named("mqtt")}
}

// Run relays hub messages until ctx is done or the hub drops the subscription.
func (b *MQTTBridge) Run(ctx context.Context, hub *Hub) {
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)
	b.logger.Info("mqtt bridge started", zap.String("prefix", b.prefix))
	for {
		msg, ok := sub.Next(ctx)
		if !ok {
			return
		}
		b.forward(msg)
	}
}

func (b *MQTTBridge) forward(msg Message) {
	var (
		qos      byte
		retained bool
	)
	switch msg.Type {
	case TypeAlerts:
		qos = 1
	case TypeStatistics:
		retained = true
	default:
		return
	}
	topic := b.prefix + "/" + msg.Type
	if err := b.pub.Publish(topic, qos, retained, msg.Payload); err != nil {
		b.logger.Warn("mqtt publish failed", zap.String("topic", topic), zap.Error(err))
	}
}
