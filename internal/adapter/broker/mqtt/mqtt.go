// Package mqtt publishes execution events to an MQTT broker.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	clientDisconnectWaitTimeout = 250
	lastWillStatement           = `{"status": "OFFLINE"}`
)

var ErrNoConnection = errors.New("no connection to broker server")

var tokenWaitTimeout = 3 * time.Second

type Broker struct {
	uri      *url.URL
	clientID string
	client   paho.Client
	qos      byte
	logger   *zap.Logger
}

func NewBroker(opts ...Option) (*Broker, error) {
	b := &Broker{qos: 1}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	if b.uri == nil {
		return nil, errors.New("broker url is required")
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	return b, nil
}

func (b *Broker) opts() *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker("tcp://" + b.uri.Host)
	opts.SetUsername(b.uri.User.Username())
	if p, isSet := b.uri.User.Password(); isSet {
		opts.SetPassword(p)
	}
	opts.SetClientID(b.clientID)
	opts.SetCleanSession(false)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(paho.Client) {
		b.logger.Info("connected to broker", zap.String("broker", b.uri.Host))
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		b.logger.Error("connection lost with broker", zap.Error(err))
	}
	opts.OnReconnecting = func(paho.Client, *paho.ClientOptions) {
		b.logger.Warn("trying to reconnect with broker")
	}

	opts.SetWill(b.clientID+"/status", lastWillStatement, 0, false)
	return opts
}

func wait(ctx context.Context, token paho.Token) error {
	for !token.WaitTimeout(tokenWaitTimeout) {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return token.Error()
}

func (b *Broker) Connect(ctx context.Context) error {
	client := paho.NewClient(b.opts())
	if err := wait(ctx, client.Connect()); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	b.client = client
	return nil
}

func (b *Broker) Disconnect() error {
	if b.client == nil {
		return ErrNoConnection
	}
	b.client.Disconnect(clientDisconnectWaitTimeout)
	return nil
}

func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	if b.client == nil {
		return ErrNoConnection
	}
	return wait(ctx, b.client.Publish(topic, b.qos, false, payload))
}

// Subscribe delivers messages on topics to h until the broker disconnects.
func (b *Broker) Subscribe(ctx context.Context, topics []string, h func(topic string, payload []byte)) error {
	if b.client == nil {
		return ErrNoConnection
	}
	if len(topics) == 0 {
		return errors.New("no topics provided")
	}
	filters := make(map[string]byte, len(topics))
	for _, topic := range topics {
		filters[topic] = b.qos
	}
	token := b.client.SubscribeMultiple(filters, func(_ paho.Client, msg paho.Message) {
		h(msg.Topic(), msg.Payload())
	})
	return wait(ctx, token)
}

func (b *Broker) String() string {
	return fmt.Sprintf("Broker [%s]", b.clientID)
}
