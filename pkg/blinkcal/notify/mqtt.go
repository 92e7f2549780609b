// Package notify announces finished calibrations over MQTT.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/himanishpuri/BlinkCal/pkg/models"
)

const DefaultTopicPrefix = "blinkcal"

// publisher is the part of mqtt.Client the publisher needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher sends each record as retained JSON on
// <prefix>/<session>/calibration so late subscribers get the latest one.
type MQTTPublisher struct {
	client publisher
	conn   mqtt.Client
	prefix string
	qos    byte
}

type Option func(*MQTTPublisher)

func WithTopicPrefix(prefix string) Option {
	return func(p *MQTTPublisher) { p.prefix = strings.Trim(prefix, "/") }
}

func WithQoS(qos byte) Option { return func(p *MQTTPublisher) { p.qos = qos } }

// Connect dials broker (e.g. "tcp://localhost:1883") and returns a publisher.
func Connect(broker, clientID string, opts ...Option) (*MQTTPublisher, error) {
	co := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	co.SetKeepAlive(30 * time.Second)
	co.SetPingTimeout(5 * time.Second)
	co.SetConnectTimeout(10 * time.Second)
	co.SetAutoReconnect(true)

	c := mqtt.NewClient(co)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to %s: %w", broker, token.Error())
	}
	p := newPublisher(c, opts...)
	p.conn = c
	return p, nil
}

func newPublisher(c publisher, opts ...Option) *MQTTPublisher {
	p := &MQTTPublisher{client: c, prefix: DefaultTopicPrefix, qos: 1}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Topic is where records for sessionID are published.
func (p *MQTTPublisher) Topic(sessionID string) string {
	return p.prefix + "/" + sessionID + "/calibration"
}

func (p *MQTTPublisher) Publish(ctx context.Context, rec *models.CalibrationRecord) error {
	if rec == nil {
		return errors.New("nil record")
	}
	msg, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	token := p.client.Publish(p.Topic(rec.SessionID), p.qos, true, msg)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects, waiting up to 250ms for in-flight messages.
func (p *MQTTPublisher) Close() error {
	if p.conn != nil {
		p.conn.Disconnect(250)
	}
	return nil
}
