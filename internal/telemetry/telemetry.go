// Package telemetry mirrors bridge state changes to an MQTT broker so
// external tooling (dashboards, home automation) can observe the link
// without speaking Pro DJ Link.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mrv96/onair-link/internal/config"
	"github.com/mrv96/onair-link/internal/logger"
	"github.com/mrv96/onair-link/internal/prolink"
)

const topicPrefix = "onair-link"

// Publisher is a fire-and-forget MQTT mirror. Publishes never block the
// bridge loop; delivery failures are logged and dropped, matching the
// best-effort nature of the link traffic itself.
type Publisher struct {
	ctx    context.Context
	log    logger.Logger
	cfg    config.TelemetryConf
	client mqtt.Client
}

// NewPublisher builds an unconnected publisher.
func NewPublisher(log logger.Logger, cfg config.TelemetryConf) *Publisher {
	return &Publisher{log: log, cfg: cfg}
}

// Start connects to the broker. The client keeps reconnecting in the
// background after the initial handshake.
func (p *Publisher) Start(ctx context.Context) error {
	p.ctx = ctx

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%s", p.cfg.Host, p.cfg.Port)).
		SetUsername(p.cfg.User).
		SetPassword(p.cfg.Password).
		SetClientID(p.cfg.ClientID).
		SetOnConnectHandler(p.connectHandler).
		SetConnectionLostHandler(p.connectLostHandler).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)

	p.client = mqtt.NewClient(opts)

	token := p.client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	case <-ctx.Done():
		return errors.New("context canceled")
	}

	p.log.With(logger.Fields{"module": "telemetry"}).Infof("connected: %v", p.client.IsConnected())
	return nil
}

// Stop disconnects from the broker.
func (p *Publisher) Stop() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(500)
	}
}

func (p *Publisher) connectHandler(_ mqtt.Client) {
	p.log.With(logger.Fields{"module": "telemetry"}).Info("client connected to broker")
}

func (p *Publisher) connectLostHandler(_ mqtt.Client, err error) {
	p.log.With(logger.Fields{"module": "telemetry"}).Errorf("broker connection lost: %v", err)
}

// PublishOnAir mirrors the on-air slot array, one retained topic per
// player slot.
func (p *Publisher) PublishOnAir(slots [prolink.NumChannels]bool) {
	for i, on := range slots {
		topic := fmt.Sprintf("%s/player/%d/onair", topicPrefix, i+1)
		p.publish(topic, []byte(strconv.FormatBool(on)), true)
	}
}

// PublishFaderStart mirrors a transport command.
func (p *Publisher) PublishFaderStart(player int, start bool) {
	verb := "stop"
	if start {
		verb = "start"
	}
	p.publish(fmt.Sprintf("%s/player/%d/transport", topicPrefix, player), []byte(verb), false)
}

// PublishDevices mirrors the set of live link devices as JSON.
func (p *Publisher) PublishDevices(devices []prolink.Device) {
	type dev struct {
		Number int    `json:"number"`
		Name   string `json:"name"`
		Type   string `json:"type"`
		IP     string `json:"ip"`
	}
	out := make([]dev, 0, len(devices))
	for _, d := range devices {
		out = append(out, dev{Number: d.Number, Name: d.Name, Type: d.Type.String(), IP: d.IP.String()})
	}
	msg, err := json.Marshal(out)
	if err != nil {
		p.log.With(logger.Fields{"module": "telemetry"}).Errorf("marshal devices: %v", err)
		return
	}
	p.publish(topicPrefix+"/devices", msg, true)
}

func (p *Publisher) publish(topic string, payload []byte, retain bool) {
	token := p.client.Publish(topic, 0, retain, payload)
	go func() {
		select {
		case <-p.ctx.Done():
		case <-token.Done():
			if token.Error() != nil {
				p.log.With(logger.Fields{"module": "telemetry"}).Errorf(
					"publish %s failed: %v", topic, token.Error())
			}
		}
	}()
}
