// Package sink provides secondary destinations for recorded points: an MQTT
// broker, a SQL database and Prometheus metrics
package sink

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nasa-jpl/cryosweep/recorder"
	"github.com/pkg/errors"
)

// Publisher is the part of an MQTT client used to publish points
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes every point as JSON
type MQTT struct {
	pub     Publisher
	topic   string
	qos     byte
	timeout time.Duration
}

// NewMQTT returns a sink publishing to topic through pub
func NewMQTT(pub Publisher, topic string, qos byte) *MQTT {
	return &MQTT{pub: pub, topic: topic, qos: qos, timeout: 2 * time.Second}
}

// DialMQTT connects to the broker (host:port) and returns a sink on topic
func DialMQTT(broker, clientID, topic string, qos byte) (*MQTT, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", broker))
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Printf("mqtt: connected to %s", broker)
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("mqtt: lost connection to %s: %v", broker, err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrapf(token.Error(), "connecting to MQTT broker %s", broker)
	}
	return NewMQTT(client, topic, qos), nil
}

// Name returns "mqtt"
func (m *MQTT) Name() string { return "mqtt" }

// Write publishes p and waits for the broker to accept it
func (m *MQTT) Write(p recorder.Point) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "encoding point")
	}
	token := m.pub.Publish(m.topic, m.qos, false, payload)
	if !token.WaitTimeout(m.timeout) {
		return errors.Errorf("publish to %s timed out after %s", m.topic, m.timeout)
	}
	return errors.Wrapf(token.Error(), "publishing to %s", m.topic)
}

// Close disconnects the client if it is an mqtt.Client
func (m *MQTT) Close() error {
	if c, ok := m.pub.(mqtt.Client); ok && c.IsConnected() {
		c.Disconnect(250)
	}
	return nil
}
