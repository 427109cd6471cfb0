package bridge

import (
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMQTTClient struct {
	mqtt.Client
	open      bool
	published []string
	retained  []bool
}

func (f *fakeMQTTClient) IsConnectionOpen() bool { return f.open }

func (f *fakeMQTTClient) Publish(topic string, _ byte, retained bool, _ interface{}) mqtt.Token {
	f.published = append(f.published, topic)
	f.retained = append(f.retained, retained)
	return &mqtt.DummyToken{}
}

func TestMQTTPublisherSkipsWhenDisconnected(t *testing.T) {
	client := &fakeMQTTClient{}
	p := &MQTTPublisher{client: client, retain: true}

	err := p.Publish("p/lamp/state", []byte(`{}`))
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, client.published)

	client.open = true
	require.NoError(t, p.Publish("p/lamp/state", []byte(`{}`)))
	assert.Equal(t, []string{"p/lamp/state"}, client.published)
	assert.Equal(t, []bool{true}, client.retained)
}
