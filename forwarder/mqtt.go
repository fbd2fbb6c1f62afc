package forwarder

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jd3nn1s/meterbridge"
	"github.com/jd3nn1s/meterbridge/teleinfo"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	mqttAppID         = "meterbridge"
	mqttDefaultPrefix = "teleinfo/"
	mqttTimeout       = 5 * time.Second
)

type MQTTConfig struct {
	// Broker is mqtt://[user:password@]host:port[/topic/prefix]
	Broker   string `toml:"broker"`
	ClientID string `toml:"client_id"`
	QoS      byte   `toml:"qos"`
	Retain   bool   `toml:"retain"`
}

type mqttClient interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// to allow testing
var (
	newMQTTClient = func(opts *paho.ClientOptions) mqttClient {
		return paho.NewClient(opts)
	}
	machineID = func() (string, error) {
		return machineid.ProtectedID(mqttAppID)
	}
)

// MQTTForwarder publishes every changed field on its own topic named after
// the teleinfo label.
type MQTTForwarder struct {
	Config *MQTTConfig

	client      mqttClient
	topicPrefix string
	pending     *pendingFields
}

func NewMQTTForwarder(config *MQTTConfig) (*MQTTForwarder, error) {
	opts, topicPrefix, err := clientOptionsFromURL(config.Broker)
	if err != nil {
		return nil, err
	}
	clientID := config.ClientID
	if clientID == "" {
		id, err := machineID()
		if err != nil {
			return nil, errors.Wrap(err, "unable to derive mqtt client id")
		}
		if len(id) > 12 {
			id = id[:12]
		}
		clientID = mqttAppID + "-" + id
	}
	opts.SetClientID(clientID)
	log.WithField("clientID", clientID).
		WithField("topicPrefix", topicPrefix).
		Debug("mqtt forwarder configured")

	return &MQTTForwarder{
		Config:      config,
		client:      newMQTTClient(opts),
		topicPrefix: topicPrefix,
		pending:     newPendingFields(),
	}, nil
}

// clientOptionsFromURL returns client options and the topic prefix held in
// the URL path.
func clientOptionsFromURL(brokerURL string) (*paho.ClientOptions, string, error) {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return nil, "", errors.Wrapf(err, "invalid mqtt broker %q", brokerURL)
	}
	if u.Host == "" {
		return nil, "", errors.Errorf("mqtt broker %q has no host", brokerURL)
	}
	scheme := u.Scheme
	if scheme == "" || scheme == "mqtt" {
		scheme = "tcp"
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(scheme + "://" + u.Host).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pwd, ok := u.User.Password(); ok {
			opts.SetPassword(pwd)
		}
	}

	topicPrefix := strings.TrimPrefix(u.Path, "/")
	if topicPrefix == "" {
		topicPrefix = mqttDefaultPrefix
	} else if !strings.HasSuffix(topicPrefix, "/") {
		topicPrefix += "/"
	}
	return opts, topicPrefix, nil
}

func (m *MQTTForwarder) Forward(newTelemetry *meterbridge.Telemetry, prevTelemetry *meterbridge.Telemetry) error {
	m.pending.add(changedFields(newTelemetry, prevTelemetry))
	return nil
}

// Start connects to the broker and publishes forwarded fields until ctx is
// done.
func (m *MQTTForwarder) Start(ctx context.Context) error {
	if err := waitToken(m.client.Connect()); err != nil {
		return errors.Wrap(err, "unable to connect to mqtt broker")
	}
	defer m.client.Disconnect(250)
	log.Info("connected to mqtt broker")

	for {
		select {
		case <-m.pending.ready:
			m.publish(m.pending.take())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *MQTTForwarder) publish(fields map[string]teleinfo.Value) {
	for label, v := range fields {
		topic := m.topicPrefix + label
		if err := waitToken(m.client.Publish(topic, m.Config.QoS, m.Config.Retain, v.String())); err != nil {
			log.WithField("topic", topic).
				WithField("err", err).
				Error("unable to publish field")
		}
	}
}

func waitToken(token paho.Token) error {
	if !token.WaitTimeout(mqttTimeout) {
		return errors.New("mqtt operation timed out")
	}
	return token.Error()
}
