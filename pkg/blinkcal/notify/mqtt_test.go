package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/himanishpuri/BlinkCal/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeClient struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
	err      error
	block    bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.topic, c.qos, c.retained = topic, qos, retained
	c.payload = payload.([]byte)
	tok := &fakeToken{done: make(chan struct{}), err: c.err}
	if !c.block {
		close(tok.done)
	}
	return tok
}

func TestPublish(t *testing.T) {
	fc := &fakeClient{}
	p := newPublisher(fc)

	rec := &models.CalibrationRecord{
		SessionID:         "abc",
		PaperToProjection: []float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
	}
	require.NoError(t, p.Publish(context.Background(), rec))

	assert.Equal(t, "blinkcal/abc/calibration", fc.topic)
	assert.Equal(t, byte(1), fc.qos)
	assert.True(t, fc.retained)

	var got map[string]any
	require.NoError(t, json.Unmarshal(fc.payload, &got))
	assert.Equal(t, "abc", got["sessionId"])
	assert.Len(t, got["paperToProjection"], 9)
	assert.NotContains(t, got, "fftCenters")
}

func TestPublishOptionsAndErrors(t *testing.T) {
	fc := &fakeClient{err: errors.New("broker gone")}
	p := newPublisher(fc, WithTopicPrefix("/lab/"), WithQoS(0))

	err := p.Publish(context.Background(), &models.CalibrationRecord{SessionID: "s"})
	assert.EqualError(t, err, "broker gone")
	assert.Equal(t, "lab/s/calibration", fc.topic)
	assert.Equal(t, byte(0), fc.qos)

	assert.Error(t, p.Publish(context.Background(), nil))
}

func TestPublishHonoursContext(t *testing.T) {
	p := newPublisher(&fakeClient{block: true})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := p.Publish(ctx, &models.CalibrationRecord{SessionID: "s"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
