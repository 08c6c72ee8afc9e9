package mqtt

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/spotit-go/internal/errors"
	"github.com/tphakala/spotit-go/internal/logger"
	"github.com/tphakala/spotit-go/internal/privacy"
)

// client implements the Client interface on paho.
type client struct {
	config          Config
	internalClient  paho.Client
	lastConnAttempt time.Time
	mu              sync.Mutex
	recorder        Recorder

	// newPaho is swapped in tests
	newPaho func(*paho.ClientOptions) paho.Client
}

// NewClient creates a new MQTT client with the provided configuration.
func NewClient(cfg Config, recorder Recorder) Client {
	return &client{
		config:   cfg,
		recorder: recorder,
		newPaho:  paho.NewClient,
	}
}

// Connect attempts to establish a connection to the MQTT broker.
// It first resolves the broker's hostname and then attempts to connect.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if since := time.Since(c.lastConnAttempt); since < c.config.ReconnectCooldown {
		return errors.Newf("connection attempt too recent, last attempt was %v ago", since).
			Category(errors.CategoryMQTTConnection).
			Build()
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.config.Broker)
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("broker", privacy.RedactURL(c.config.Broker)).
			Build()
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.New(err).
				Category(errors.CategoryMQTTConnection).
				Context("host", host).
				Build()
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.internalClient = c.newPaho(opts)

	token := c.internalClient.Connect()
	if !waitToken(ctx, token, c.config.ConnectTimeout) {
		return errors.Newf("connection timeout").
			Category(errors.CategoryMQTTConnection).
			Context("broker", privacy.RedactURL(c.config.Broker)).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Category(errors.CategoryMQTTConnection).
			Context("broker", privacy.RedactURL(c.config.Broker)).
			Build()
	}

	c.setConnected(true)
	return nil
}

// Publish sends a message to the specified topic on the MQTT broker.
func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnectedLocked() {
		return errors.Newf("not connected to MQTT broker").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	start := time.Now()
	token := c.internalClient.Publish(topic, c.config.QoS, c.config.Retain, payload)

	var err error
	switch {
	case !waitToken(ctx, token, c.config.PublishTimeout):
		err = errors.Newf("publish timeout").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	case token.Error() != nil:
		err = errors.New(token.Error()).
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	if c.recorder != nil {
		c.recorder.RecordPublish(topic, len(payload), time.Since(start).Seconds(), err)
	}
	if err != nil {
		GetLogger().Warn("publish failed", logger.String("topic", topic), logger.Error(err))
		return err
	}
	GetLogger().Debug("published", logger.String("topic", topic), logger.Int("bytes", len(payload)))
	return nil
}

// waitToken waits for token until timeout or ctx is done
func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultConfig().PublishTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnectedLocked()
}

func (c *client) isConnectedLocked() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		c.setConnected(false)
		GetLogger().Info("disconnected from MQTT broker", logger.String("broker", privacy.RedactURL(c.config.Broker)))
	}
}

func (c *client) setConnected(connected bool) {
	if c.recorder != nil {
		c.recorder.SetConnected(connected)
	}
}

func (c *client) onConnect(paho.Client) {
	GetLogger().Info("connected to MQTT broker", logger.String("broker", privacy.RedactURL(c.config.Broker)))
	c.setConnected(true)
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	GetLogger().Warn("connection to MQTT broker lost",
		logger.String("broker", privacy.RedactURL(c.config.Broker)),
		logger.Error(err))
	c.setConnected(false)
}

func (c *client) onReconnecting(paho.Client, *paho.ClientOptions) {
	if c.recorder != nil {
		c.recorder.RecordReconnect()
	}
	GetLogger().Debug("reconnecting to MQTT broker", logger.String("broker", privacy.RedactURL(c.config.Broker)))
}
