package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const defaultBroker = "tcp://localhost:1883"

type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
}

type Client struct {
	client mqtt.Client

	mu   sync.Mutex
	subs map[string]mqtt.MessageHandler
}

type Message struct {
	mqtt.Message
}

func (m Message) Retained() bool { return m.Message.Retained() }

// normalizeBrokerURL maps the mqtt:// and mqtts:// schemes onto the ones
// paho understands and applies the default broker.
func normalizeBrokerURL(raw string) string {
	url := strings.TrimSpace(raw)
	switch {
	case url == "":
		return defaultBroker
	case strings.HasPrefix(url, "mqtt://"):
		return "tcp://" + strings.TrimPrefix(url, "mqtt://")
	case strings.HasPrefix(url, "mqtts://"):
		return "ssl://" + strings.TrimPrefix(url, "mqtts://")
	case !strings.Contains(url, "://"):
		return "tcp://" + url
	}
	return url
}

func Connect(o Options) (*Client, error) {
	c := &Client{subs: map[string]mqtt.MessageHandler{}}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(normalizeBrokerURL(o.BrokerURL))
	clientID := strings.TrimSpace(o.ClientID)
	if clientID == "" {
		clientID = "telemetry-service-" + time.Now().Format("150405.000")
	}
	opts.SetClientID(clientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost", "error", err)
	}
	// A clean session drops subscriptions on reconnect.
	opts.OnConnect = func(mc mqtt.Client) {
		slog.Info("mqtt connected")
		c.mu.Lock()
		defer c.mu.Unlock()
		for topic, h := range c.subs {
			tok := mc.Subscribe(topic, 1, h)
			if tok.WaitTimeout(10*time.Second) && tok.Error() != nil {
				slog.Error("mqtt resubscribe failed", "topic", topic, "error", tok.Error())
			}
		}
	}

	c.client = mqtt.NewClient(opts)
	tok := c.client.Connect()
	if ok := tok.WaitTimeout(15 * time.Second); !ok {
		return nil, errors.New("mqtt connect timed out")
	}
	if err := tok.Error(); err != nil {
		return nil, err
	}
	return c, nil
}

// Subscribe registers handler on every topic. Subscriptions are replayed
// after a reconnect.
func (c *Client) Subscribe(topics []string, handler func(Message)) error {
	h := func(_ mqtt.Client, msg mqtt.Message) {
		handler(Message{Message: msg})
	}
	for _, topic := range topics {
		c.mu.Lock()
		c.subs[topic] = h
		c.mu.Unlock()
		tok := c.client.Subscribe(topic, 1, h)
		tok.Wait()
		if err := tok.Error(); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	return nil
}

func (c *Client) Close() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Disconnect(1000)
}
