// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package publish

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/smastat/internal/config"
	"github.com/Thermoquad/smastat/pkg/smabt"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                       { return !t.timeout }
func (t *fakeToken) WaitTimeout(_ time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                     { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic    string
	payload  any
	retained bool
}

// fakeClient records publishes; methods not overridden panic through the
// nil embedded interface
type fakeClient struct {
	mqtt.Client
	published    []message
	publishToken *fakeToken
	connectToken *fakeToken
	disconnected bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{publishToken: &fakeToken{}, connectToken: &fakeToken{}}
}

func (c *fakeClient) Connect() mqtt.Token { return c.connectToken }
func (c *fakeClient) Disconnect(_ uint)   { c.disconnected = true }

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	c.published = append(c.published, message{topic: topic, payload: payload, retained: retained})
	return c.publishToken
}

var (
	testInverter = smabt.MustParseAddress("00802529EC47")
	testTime     = time.Date(2013, 5, 1, 12, 0, 0, 0, time.UTC)
	testCfg      = config.MQTTConfig{Host: "broker", Port: 1883, BaseTopic: "smastat"}
)

func testElements() smabt.Elements {
	return smabt.Elements{
		smabt.QuantitySpotACPower: {
			Quantity: smabt.QuantitySpotACPower, Raw: 825, Value: smabt.NewValue(825, 0), Timestamp: testTime,
		},
		smabt.QuantityProdToday: {
			Quantity: smabt.QuantityProdToday, Raw: 12345, Value: smabt.NewValue(12345, 3), Timestamp: testTime,
		},
	}
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "smastat/bridge/state", BridgeStateTopic("smastat"))
	assert.Equal(t, "smastat/sensor/00802529ec47_spot_ac_power/state",
		SensorStateTopic("smastat", testInverter, smabt.QuantitySpotACPower))
	assert.Equal(t, "smastat/inverter/00802529ec47/telemetry", TelemetryTopic("smastat", testInverter))
}

func TestTelemetry(t *testing.T) {
	doc, err := Telemetry(testElements())
	require.NoError(t, err)

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(doc, &decoded))
	require.Contains(t, decoded, "prod_today")
	assert.Equal(t, 12.345, decoded["prod_today"]["value"])
	assert.Equal(t, "kWh", decoded["prod_today"]["unit"])
	assert.Equal(t, 825.0, decoded["spot_ac_power"]["value"])
	assert.Equal(t, "2013-05-01T12:00:00Z", decoded["spot_ac_power"]["timestamp"])
}

func TestPublishElements(t *testing.T) {
	client := newFakeClient()
	p := NewMQTTPublisher(client, testCfg, time.Second, nil)

	require.NoError(t, p.PublishElements(testInverter, testElements()))
	require.Len(t, client.published, 3)

	// Sensor states come in quantity order, then the telemetry document
	assert.Equal(t, SensorStateTopic("smastat", testInverter, smabt.QuantityProdToday), client.published[0].topic)
	assert.Equal(t, "12.345", client.published[0].payload)
	assert.Equal(t, SensorStateTopic("smastat", testInverter, smabt.QuantitySpotACPower), client.published[1].topic)
	assert.Equal(t, "825", client.published[1].payload)
	assert.Equal(t, TelemetryTopic("smastat", testInverter), client.published[2].topic)
	for _, m := range client.published {
		assert.True(t, m.retained)
	}
}

func TestPublishElements_Timeout(t *testing.T) {
	client := newFakeClient()
	client.publishToken.timeout = true
	p := NewMQTTPublisher(client, testCfg, time.Millisecond, nil)

	err := p.PublishElements(testInverter, testElements())
	assert.ErrorContains(t, err, "timed out")
}

func TestConnectAndClose(t *testing.T) {
	client := newFakeClient()
	p := NewMQTTPublisher(client, testCfg, time.Second, nil)

	require.NoError(t, p.Connect())
	p.Close()

	require.Len(t, client.published, 2)
	assert.Equal(t, message{topic: "smastat/bridge/state", payload: PayloadOnline, retained: true}, client.published[0])
	assert.Equal(t, message{topic: "smastat/bridge/state", payload: PayloadOffline, retained: true}, client.published[1])
	assert.True(t, client.disconnected)
}

func TestConnect_Error(t *testing.T) {
	client := newFakeClient()
	client.connectToken.err = errors.New("refused")
	p := NewMQTTPublisher(client, testCfg, time.Second, nil)

	assert.ErrorContains(t, p.Connect(), "refused")
	assert.Empty(t, client.published)
}

func TestOptsFromConfig(t *testing.T) {
	opts := OptsFromConfig(config.MQTTConfig{Host: "broker", Port: 1884, Username: "u", Password: "p", BaseTopic: "sma"})

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://broker:1884", opts.Servers[0].String())
	assert.Equal(t, "u", opts.Username)
	assert.True(t, opts.WillEnabled)
	assert.Equal(t, "sma/bridge/state", opts.WillTopic)
	assert.Equal(t, []byte(PayloadOffline), opts.WillPayload)
	assert.True(t, opts.WillRetained)
}
