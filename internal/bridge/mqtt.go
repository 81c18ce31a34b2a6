// Package bridge mirrors controller events onto an MQTT broker so
// external consumers can follow the network without linking the stack.
package bridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"zigbee-appd/internal/controller"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// Bridge publishes controller events to <prefix>/event/<type> topics.
type Bridge struct {
	client pahomqtt.Client
	prefix string
	logger *slog.Logger
	unsub  func()
}

// NewBridge connects to the broker and subscribes to all controller
// events.
func NewBridge(ctrl *controller.Controller, cfg Config, logger *slog.Logger) (*Bridge, error) {
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "zigbee-appd"
	}
	b := &Bridge{
		prefix: prefix,
		logger: logger.With("component", "mqtt"),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("zigbee-appd").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(prefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publish(prefix+"/bridge/state", "online", true)
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	b.client = client

	b.unsub = ctrl.Events().OnAll(func(evt controller.Event) {
		payload, err := json.Marshal(evt.Data)
		if err != nil {
			b.logger.Warn("marshal event", "err", err, "type", evt.Type)
			return
		}
		b.publish(fmt.Sprintf("%s/event/%s", b.prefix, evt.Type), string(payload), false)
	})
	return b, nil
}

func (b *Bridge) publish(topic, payload string, retain bool) {
	token := b.client.Publish(topic, 0, retain, payload)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			b.logger.Warn("publish", "err", token.Error(), "topic", topic)
		}
	}()
}

// Close unsubscribes and disconnects.
func (b *Bridge) Close() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publish(b.prefix+"/bridge/state", "offline", true)
	b.client.Disconnect(250)
}
