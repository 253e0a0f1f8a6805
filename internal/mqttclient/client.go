// Package mqttclient maintains the broker connection the wearable
// gateway publishes through. Gateways push NDJSON record batches under
// breath/ingest/<device_id>; the client subscribes to a configurable
// set of topic filters and hands every payload to a single handler.
package mqttclient

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// defaultTopicFilter covers every gateway when no explicit filter is
// configured.
const defaultTopicFilter = "breath/ingest/#"

// reconnectInterval is how often the paho client retries after a lost
// connection.
const reconnectInterval = 5 * time.Second

// MessageHandler receives every payload delivered on a subscribed
// topic. It runs on paho's dispatch goroutines and must not block.
type MessageHandler func(topic string, payload []byte)

// Options configures Connect.
type Options struct {
	BrokerURL string
	ClientID  string
	// Topics is a comma-separated list of MQTT topic filters. Empty
	// means subscribe to the default gateway filter.
	Topics   string
	Username string
	Password string
	Log      zerolog.Logger
}

// Client is a subscriber connection with automatic reconnect. The
// broker resubscribes on every reconnect, so a flaky link costs
// messages but never the subscription itself.
type Client struct {
	conn    mqtt.Client
	filters []string
	log     zerolog.Logger

	up      atomic.Bool
	handler atomic.Pointer[MessageHandler]
}

// Connect dials the broker and blocks until the first connection
// attempt resolves. Later disconnects are retried in the background.
func Connect(opts Options) (*Client, error) {
	c := &Client{
		filters: splitFilters(opts.Topics),
		log:     opts.Log,
	}

	po := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(reconnectInterval).
		SetOrderMatters(false).
		SetOnConnectHandler(c.subscribeAll).
		SetConnectionLostHandler(c.lost).
		SetDefaultPublishHandler(c.dispatch)
	if opts.Username != "" {
		po.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		po.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(po)
	if tok := c.conn.Connect(); tok.Wait() && tok.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.BrokerURL, tok.Error())
	}
	return c, nil
}

// SetMessageHandler installs h for all subsequent deliveries. Messages
// arriving before a handler is set are logged and dropped.
func (c *Client) SetMessageHandler(h MessageHandler) {
	c.handler.Store(&h)
}

// IsConnected reports whether the broker link is currently up.
func (c *Client) IsConnected() bool {
	return c.up.Load()
}

// Close disconnects, allowing up to one second for in-flight work.
func (c *Client) Close() {
	c.log.Info().Msg("disconnecting from mqtt broker")
	c.conn.Disconnect(1000)
}

func (c *Client) subscribeAll(conn mqtt.Client) {
	c.up.Store(true)
	c.log.Info().Strs("filters", c.filters).Msg("mqtt connected")

	for _, f := range c.filters {
		if tok := conn.Subscribe(f, 0, nil); tok.Wait() && tok.Error() != nil {
			c.log.Error().Err(tok.Error()).Str("filter", f).Msg("mqtt subscribe failed")
		}
	}
}

func (c *Client) lost(_ mqtt.Client, err error) {
	c.up.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, reconnecting")
}

func (c *Client) dispatch(_ mqtt.Client, msg mqtt.Message) {
	if h := c.handler.Load(); h != nil {
		(*h)(msg.Topic(), msg.Payload())
		return
	}
	c.log.Debug().
		Str("topic", msg.Topic()).
		Int("bytes", len(msg.Payload())).
		Msg("mqtt message dropped, no handler installed")
}

func splitFilters(raw string) []string {
	var out []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		out = []string{defaultTopicFilter}
	}
	return out
}
