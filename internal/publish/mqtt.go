// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package publish forwards decoded inverter values to an MQTT broker.
package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/Thermoquad/smastat/internal/config"
	"github.com/Thermoquad/smastat/pkg/smabt"
)

const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Publisher receives decoded elements
type Publisher interface {
	PublishElements(inverter smabt.Address, elements smabt.Elements) error
	Close()
}

// OptsFromConfig builds client options with a retained offline will on the
// bridge state topic
func OptsFromConfig(cfg config.MQTTConfig) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(fmt.Sprintf("smastat_%d", rand.Intn(1000)))
	if cfg.Username != "" && cfg.Password != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetWill(BridgeStateTopic(cfg.BaseTopic), PayloadOffline, 0, true)
	return opts
}

// BridgeStateTopic is where online/offline is announced
func BridgeStateTopic(baseTopic string) string {
	return fmt.Sprintf("%s/bridge/state", baseTopic)
}

// SensorStateTopic is the state topic of one quantity of one inverter
func SensorStateTopic(baseTopic string, inverter smabt.Address, q smabt.Quantity) string {
	return fmt.Sprintf("%s/sensor/%s_%s/state", baseTopic, strings.ToLower(inverter.String()), strings.ToLower(q.String()))
}

// TelemetryTopic carries all elements of a query as one JSON document
func TelemetryTopic(baseTopic string, inverter smabt.Address) string {
	return fmt.Sprintf("%s/inverter/%s/telemetry", baseTopic, strings.ToLower(inverter.String()))
}

type telemetryValue struct {
	Value     smabt.Value `json:"value"`
	Raw       int64       `json:"raw"`
	Unit      string      `json:"unit,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Telemetry renders elements as a JSON object keyed by quantity name
func Telemetry(elements smabt.Elements) ([]byte, error) {
	doc := make(map[string]telemetryValue, len(elements))
	for q, e := range elements {
		doc[strings.ToLower(q.String())] = telemetryValue{
			Value:     e.Value,
			Raw:       e.Raw,
			Unit:      q.Unit(),
			Timestamp: e.Timestamp,
		}
	}
	return json.Marshal(doc)
}

// MQTTPublisher publishes elements as retained sensor states
type MQTTPublisher struct {
	client  mqtt.Client
	cfg     config.MQTTConfig
	timeout time.Duration
	logger  *zap.Logger
}

// NewMQTTPublisher wraps an unconnected paho client
func NewMQTTPublisher(client mqtt.Client, cfg config.MQTTConfig, timeout time.Duration, logger *zap.Logger) *MQTTPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTPublisher{
		client:  client,
		cfg:     cfg,
		timeout: timeout,
		logger:  logger,
	}
}

// Dial connects to the configured broker and announces the bridge online
func Dial(cfg config.MQTTConfig, timeout time.Duration, logger *zap.Logger) (*MQTTPublisher, error) {
	p := NewMQTTPublisher(mqtt.NewClient(OptsFromConfig(cfg)), cfg, timeout, logger)
	if err := p.Connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *MQTTPublisher) wait(token mqtt.Token, op string) error {
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("MQTT %s timed out", op)
	}
	return token.Error()
}

// Connect opens the broker connection and publishes the online state
func (p *MQTTPublisher) Connect() error {
	if err := p.wait(p.client.Connect(), "connect"); err != nil {
		return err
	}
	p.logger.Info("Connected to MQTT broker", zap.String("host", p.cfg.Host), zap.Int("port", p.cfg.Port))
	return p.publish(BridgeStateTopic(p.cfg.BaseTopic), PayloadOnline)
}

func (p *MQTTPublisher) publish(topic string, payload any) error {
	if err := p.wait(p.client.Publish(topic, 0, true, payload), "publish"); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishElements publishes one state per quantity and a telemetry document
func (p *MQTTPublisher) PublishElements(inverter smabt.Address, elements smabt.Elements) error {
	var errs []error
	for _, q := range elements.Quantities() {
		e := elements[q]
		if err := p.publish(SensorStateTopic(p.cfg.BaseTopic, inverter, q), e.Value.String()); err != nil {
			errs = append(errs, err)
		}
	}

	doc, err := Telemetry(elements)
	if err != nil {
		errs = append(errs, err)
	} else if err := p.publish(TelemetryTopic(p.cfg.BaseTopic, inverter), doc); err != nil {
		errs = append(errs, err)
	}

	p.logger.Debug("Published elements", zap.Stringer("inverter", inverter), zap.Int("count", len(elements)))
	return errors.Join(errs...)
}

// Close announces the bridge offline and disconnects
func (p *MQTTPublisher) Close() {
	if err := p.publish(BridgeStateTopic(p.cfg.BaseTopic), PayloadOffline); err != nil {
		p.logger.Warn("Could not publish offline state", zap.Error(err))
	}
	p.client.Disconnect(uint(p.timeout.Milliseconds()))
}
