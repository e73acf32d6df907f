package iot

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"os"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/towerwatch/shm/internal/shmerr"
)

// MQTTConfig carries the connection parameters for the MQTT v3.1.1
// backend.
type MQTTConfig struct {
	Host     string
	Port     int
	ClientID string
	Username string
	Password string

	// TLS mutual-auth material; all three empty means plaintext.
	CACert   string
	CertFile string
	KeyFile  string

	ControlTopic string
}

// MQTTPublisher is the "mqtt" IoT backend: publish at QoS 0 over a
// persistent v3.1.1 connection, with optional mutual TLS.
// It also owns the control-topic subscription that drives a
// StreamGate.
type MQTTPublisher struct {
	client mqtt.Client
	gate   *StreamGate
}

// NewMQTTPublisher dials host:port and, if gate is non-nil, subscribes
// to cfg.ControlTopic to feed gate.HandleControl.
func NewMQTTPublisher(cfg MQTTConfig, gate *StreamGate) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	if cfg.CACert != "" || cfg.CertFile != "" {
		tlsCfg, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	p := &MQTTPublisher{gate: gate}
	if gate != nil && cfg.ControlTopic != "" {
		opts.SetOnConnectHandler(func(c mqtt.Client) {
			c.Subscribe(cfg.ControlTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
				gate.HandleControl(msg.Topic(), msg.Payload())
			})
		})
	}

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()
	if ok := token.WaitTimeout(10 * time.Second); !ok {
		return nil, shmerr.New(shmerr.HardwareUnavailable, "mqtt.connect", token.Error())
	}
	if token.Error() != nil {
		return nil, shmerr.New(shmerr.HardwareUnavailable, "mqtt.connect", token.Error())
	}
	return p, nil
}

func brokerURL(cfg MQTTConfig) string {
	scheme := "tcp"
	if cfg.CACert != "" || cfg.CertFile != "" {
		scheme = "ssl"
	}
	return scheme + "://" + cfg.Host + ":" + portOrDefault(cfg.Port)
}

func portOrDefault(port int) string {
	if port <= 0 {
		port = 1883
	}
	return strconv.Itoa(port)
}

func buildTLSConfig(cfg MQTTConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, shmerr.New(shmerr.ConfigInvalid, "mqtt.tls.ca", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, shmerr.New(shmerr.ConfigInvalid, "mqtt.tls.ca", nil)
		}
		tlsCfg.RootCAs = pool
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, shmerr.New(shmerr.ConfigInvalid, "mqtt.tls.cert", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return tlsCfg, nil
}

// Publish sends payload, JSON-encoded, at QoS 0 to topic.
func (p *MQTTPublisher) Publish(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return shmerr.New(shmerr.PublisherError, "mqtt.publish", err)
	}
	token := p.client.Publish(topic, 0, false, data)
	if ok := token.WaitTimeout(5 * time.Second); !ok {
		return shmerr.New(shmerr.PublisherError, "mqtt.publish", token.Error())
	}
	if token.Error() != nil {
		return shmerr.New(shmerr.PublisherError, "mqtt.publish", token.Error())
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
