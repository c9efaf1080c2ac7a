package sink

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mklimuk/thermohost/config"
)

const disconnectQuiesceMs = 250

type MQTT struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// DialMQTT connects to the broker and returns a publisher writing to
// <topic>/<sensor>.
func DialMQTT(cfg config.MQTT) (*MQTT, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true)
	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("could not connect to mqtt broker %s: %w", cfg.Broker, token.Error())
	}
	return NewMQTT(c, cfg.Topic, cfg.QoS), nil
}

func NewMQTT(client mqtt.Client, topic string, qos byte) *MQTT {
	return &MQTT{client: client, topic: topic, qos: qos}
}

func (m *MQTT) Name() string {
	return "mqtt"
}

func (m *MQTT) Publish(ctx context.Context, key string, payload []byte) error {
	token := m.client.Publish(m.topic+"/"+key, m.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

func (m *MQTT) Close() error {
	m.client.Disconnect(disconnectQuiesceMs)
	return nil
}
